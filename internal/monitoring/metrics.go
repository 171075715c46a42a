package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	FetchesTotal        *prometheus.CounterVec
	FetchLatency        prometheus.Histogram
	RequeuesTotal       prometheus.Counter
	BatchFlushesTotal   prometheus.Counter
	RecordsFlushedTotal prometheus.Counter
	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Fetch attempts by outcome class.",
		}, []string{"class"}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Latency of fetches that received a response.",
			Buckets: prometheus.DefBuckets,
		}),
		RequeuesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_requeues_total",
			Help: "URLs sent back to the frontier after a transient failure.",
		}),
		BatchFlushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_batch_flushes_total",
			Help: "Committed record batches.",
		}),
		RecordsFlushedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_records_flushed_total",
			Help: "Page records committed to the sink.",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Crawl runs by result.",
		}, []string{"result"}), // completed, failed, rejected
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time of crawl runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveFetch(class string, latency time.Duration) {
	m.FetchesTotal.WithLabelValues(class).Inc()
	if latency > 0 {
		m.FetchLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) ObserveRequeue() {
	m.RequeuesTotal.Inc()
}

func (m *Metrics) ObserveFlush(records int) {
	m.BatchFlushesTotal.Inc()
	m.RecordsFlushedTotal.Add(float64(records))
}

func (m *Metrics) ObserveRun(result string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.RunDuration.Observe(elapsed.Seconds())
	}
}

// Middleware records request count and latency labelled by the chi route
// pattern, which keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
