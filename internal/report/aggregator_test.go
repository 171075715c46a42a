package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/site-crawler/internal/domain"
)

type staticSource struct {
	records []domain.PageRecord
	err     error
}

func (s staticSource) ListPages(context.Context) ([]domain.PageRecord, error) {
	return s.records, s.err
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func sampleRecords() []domain.PageRecord {
	return []domain.PageRecord{
		{URL: "https://site.test/b", StatusCode: intPtr(404), ResponseTime: floatPtr(0.2), ObservedAt: t0, Crawled: true},
		{URL: "https://site.test/", StatusCode: intPtr(200), ResponseTime: floatPtr(0.4), ObservedAt: t0.Add(time.Minute), IsActive: true, Crawled: true},
		{URL: "https://site.test/a", StatusCode: intPtr(200), ResponseTime: floatPtr(0.6), ObservedAt: t0, IsActive: true, Crawled: true},
		{URL: "https://site.test/down", ObservedAt: t0, Crawled: true},
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleRecords())
	assert.Equal(t, 4, s.TotalURLs)
	assert.Equal(t, 2, s.ActiveURLs)
	assert.Equal(t, 2, s.InactiveURLs)
	assert.InDelta(t, 0.3, s.AvgResponseTime, 1e-9)
	assert.InDelta(t, 0.5, s.ErrorRate, 1e-9)
	assert.Equal(t, "50.00%", s.ErrorRatePercent())
	require.NotNil(t, s.LastCrawl)
	assert.True(t, t0.Add(time.Minute).Equal(*s.LastCrawl))
	assert.Equal(t, map[string]int{"200": 2, "404": 1, NoStatus: 1}, s.ByStatus)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil)
	assert.Zero(t, s.TotalURLs)
	assert.Zero(t, s.AvgResponseTime)
	assert.Zero(t, s.ErrorRate)
	assert.Nil(t, s.LastCrawl)
	assert.Equal(t, "0.00%", s.ErrorRatePercent())
}

func TestRound3(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.123, Round3(0.12345))
	assert.Equal(t, 1.0, Round3(0.9996))
}

func TestAggregatorReport(t *testing.T) {
	t.Parallel()

	rep, err := NewAggregator(staticSource{records: sampleRecords()}).Report(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.URLs, 4)
	assert.Equal(t, "https://site.test/", rep.URLs[0].URL)
	assert.Equal(t, "https://site.test/down", rep.URLs[3].URL)
	assert.Equal(t, NoStatus, rep.URLs[3].Status)

	_, err = NewAggregator(staticSource{err: errors.New("db down")}).Report(context.Background())
	assert.Error(t, err)
}

func TestCollector(t *testing.T) {
	t.Parallel()

	c := NewCollector(NewAggregator(staticSource{records: sampleRecords()}), time.Second, false, nil)
	expected := `
# HELP crawler_active_urls Number of URLs whose last fetch returned 2xx.
# TYPE crawler_active_urls gauge
crawler_active_urls 2
# HELP crawler_error_rate Share of URLs that are inactive (0-1).
# TYPE crawler_error_rate gauge
crawler_error_rate 0.5
# HELP crawler_inactive_urls Number of URLs whose last fetch did not return 2xx.
# TYPE crawler_inactive_urls gauge
crawler_inactive_urls 2
# HELP crawler_total_urls Total number of URLs in the database.
# TYPE crawler_total_urls gauge
crawler_total_urls 4
# HELP crawler_urls_by_status URLs grouped by last status code.
# TYPE crawler_urls_by_status gauge
crawler_urls_by_status{status_code="200"} 2
crawler_urls_by_status{status_code="404"} 1
crawler_urls_by_status{status_code="none"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"crawler_total_urls", "crawler_active_urls", "crawler_inactive_urls", "crawler_error_rate", "crawler_urls_by_status"))

	perURL := NewCollector(NewAggregator(staticSource{records: sampleRecords()}), time.Second, true, nil)
	assert.Equal(t, 4, testutil.CollectAndCount(perURL, "crawler_url_up"))
	assert.Equal(t, 3, testutil.CollectAndCount(perURL, "crawler_url_response_time_seconds"))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(perURL))
	_, err := reg.Gather()
	require.NoError(t, err)
}

func TestCollectorScrapeError(t *testing.T) {
	t.Parallel()

	c := NewCollector(NewAggregator(staticSource{err: errors.New("db down")}), time.Second, false, nil)
	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, 1.0, testutil.ToFloat64(c))
}
