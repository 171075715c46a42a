package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/site-crawler/internal/config"
	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/monitoring"
	"github.com/user/site-crawler/internal/report"
	"github.com/user/site-crawler/internal/storage"
	"github.com/user/site-crawler/internal/usecase"
)

type fakeRunner struct {
	runFn     func(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)
	lastRunFn func(ctx context.Context, rawURL string) (*domain.RunStatus, error)
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	return f.runFn(ctx, req)
}

func (f *fakeRunner) LastRun(ctx context.Context, rawURL string) (*domain.RunStatus, error) {
	return f.lastRunFn(ctx, rawURL)
}

type fakePages struct {
	records []domain.PageRecord
	err     error
}

func (f *fakePages) ListPages(context.Context) ([]domain.PageRecord, error) {
	return f.records, f.err
}

func (f *fakePages) GetPage(_ context.Context, url string) (*domain.PageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.records {
		if r.URL == url {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func sampleRecords() []domain.PageRecord {
	seen := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	return []domain.PageRecord{
		{URL: "https://site.test/", StatusCode: intPtr(200), ResponseTime: floatPtr(0.1234), ObservedAt: seen, IsActive: true, Crawled: true},
		{URL: "https://site.test/a", StatusCode: intPtr(404), ResponseTime: floatPtr(0.2), ObservedAt: seen, Crawled: true},
		{URL: "https://site.test/b", ObservedAt: seen, Crawled: true},
	}
}

func newTestServer(t *testing.T, runner *fakeRunner, pages *fakePages, health map[string]Pinger) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	if runner == nil {
		runner = &fakeRunner{}
	}
	if pages == nil {
		pages = &fakePages{records: sampleRecords()}
	}
	srv := NewServer(&config.Config{ServerPort: "0"}, Deps{
		Runner:   runner,
		Pages:    pages,
		Reporter: report.NewAggregator(pages),
		Health:   health,
		Metrics:  monitoring.NewMetrics(reg),
		Gatherer: reg,
	}, zaptest.NewLogger(t))
	return srv, reg
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleCrawlRequest(t *testing.T) {
	t.Parallel()

	t.Run("runs with query parameters", func(t *testing.T) {
		t.Parallel()
		var got domain.RunRequest
		runner := &fakeRunner{runFn: func(_ context.Context, req domain.RunRequest) (*domain.RunResult, error) {
			got = req
			return &domain.RunResult{RunID: "r1", StartURL: req.StartURL, Visited: 7, Records: 9, StopReason: domain.StopFrontierEmpty}, nil
		}}
		srv, _ := newTestServer(t, runner, nil, nil)

		rec := do(t, srv.Handler(), http.MethodGet, "/api/crawl?url=https://site.test/&max_pages=50&max_requeue=0&probes=true", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, "https://site.test/", got.StartURL)
		assert.Equal(t, 50, got.MaxPages)
		require.NotNil(t, got.MaxRequeue)
		assert.Equal(t, 0, *got.MaxRequeue)
		require.NotNil(t, got.Probes)
		assert.True(t, *got.Probes)

		body := decode[map[string]any](t, rec)
		assert.Equal(t, "Crawl completed for https://site.test/", body["message"])
		assert.Equal(t, "r1", body["run_id"])
		assert.EqualValues(t, 7, body["visited"])
	})

	t.Run("accepts a json body on post", func(t *testing.T) {
		t.Parallel()
		var got domain.RunRequest
		runner := &fakeRunner{runFn: func(_ context.Context, req domain.RunRequest) (*domain.RunResult, error) {
			got = req
			return &domain.RunResult{StartURL: req.StartURL}, nil
		}}
		srv, _ := newTestServer(t, runner, nil, nil)

		rec := do(t, srv.Handler(), http.MethodPost, "/api/crawl", `{"url":"https://site.test/","commit_batch":5}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://site.test/", got.StartURL)
		assert.Equal(t, 5, got.CommitBatch)
	})

	tests := []struct {
		name   string
		target string
		runErr error
		code   int
	}{
		{"missing url", "/api/crawl", nil, http.StatusBadRequest},
		{"bad max pages", "/api/crawl?url=https://site.test/&max_pages=-1", nil, http.StatusBadRequest},
		{"bad probes flag", "/api/crawl?url=https://site.test/&probes=maybe", nil, http.StatusBadRequest},
		{"invalid url", "/api/crawl?url=notaurl", usecase.ErrInvalidStartURL, http.StatusBadRequest},
		{"already running", "/api/crawl?url=https://site.test/", usecase.ErrCrawlInProgress, http.StatusConflict},
		{"persistence failure", "/api/crawl?url=https://site.test/", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{runFn: func(context.Context, domain.RunRequest) (*domain.RunResult, error) {
				return nil, tt.runErr
			}}
			srv, _ := newTestServer(t, runner, nil, nil)
			rec := do(t, srv.Handler(), http.MethodPost, tt.target, "")
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestHandleListURLs(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, nil, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/urls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decode[[]domain.PageRecord](t, rec)
	require.Len(t, pages, 3)
	assert.Nil(t, pages[2].StatusCode)

	empty, _ := newTestServer(t, nil, &fakePages{}, nil)
	rec = do(t, empty.Handler(), http.MethodGet, "/api/urls", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	broken, _ := newTestServer(t, nil, &fakePages{err: errors.New("db down")}, nil)
	rec = do(t, broken.Handler(), http.MethodGet, "/api/urls", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleReport(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, nil, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/report", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 3, body["total_urls"])
	assert.EqualValues(t, 1, body["active_urls"])
	assert.EqualValues(t, 2, body["inactive_urls"])
	assert.InDelta(t, 0.108, body["avg_response_time"], 1e-9)
	assert.Equal(t, "66.67%", body["error_rate"])
	assert.NotContains(t, body, "urls")

	rec = do(t, srv.Handler(), http.MethodGet, "/api/report?urls=true", "")
	body = decode[map[string]any](t, rec)
	assert.Len(t, body["urls"], 3)
}

func TestHandleStatusRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/status?url=https://site.test/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.PageRecord](t, rec)
	assert.Equal(t, 404, *page.StatusCode)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/status?url=https://site.test/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLastRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{lastRunFn: func(_ context.Context, rawURL string) (*domain.RunStatus, error) {
		switch rawURL {
		case "https://site.test/":
			return &domain.RunStatus{RunID: "r9", Target: "https://site.test", State: domain.RunCompleted}, nil
		case "bad":
			return nil, usecase.ErrInvalidStartURL
		default:
			return nil, storage.ErrNotFound
		}
	}}
	srv, _ := newTestServer(t, runner, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/runs/last?url=https://site.test/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r9", decode[domain.RunStatus](t, rec).RunID)

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodGet, "/api/runs/last?url=bad", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/api/runs/last?url=https://new.test/", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodGet, "/api/runs/last", "").Code)
}

func TestHandleHealthCheck(t *testing.T) {
	t.Parallel()

	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	srv, _ := newTestServer(t, nil, nil, map[string]Pinger{"postgres": ok, "redis": ok})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"postgres": "healthy", "redis": "healthy"}, decode[map[string]string](t, rec))

	srv, _ = newTestServer(t, nil, nil, map[string]Pinger{"postgres": ok, "redis": down})
	rec = do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[map[string]string](t, rec)["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, reg := newTestServer(t, nil, nil, nil)
	require.NoError(t, reg.Register(report.NewCollector(report.NewAggregator(&fakePages{records: sampleRecords()}), time.Second, false, nil)))

	do(t, srv.Handler(), http.MethodGet, "/api/urls", "")
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "crawler_total_urls 3")
	assert.Contains(t, body, `http_requests_total{method="GET",route="/api/urls",status="200"} 1`)
}
