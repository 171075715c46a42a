package report

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	totalDesc = prometheus.NewDesc("crawler_total_urls",
		"Total number of URLs in the database.", nil, nil)
	activeDesc = prometheus.NewDesc("crawler_active_urls",
		"Number of URLs whose last fetch returned 2xx.", nil, nil)
	inactiveDesc = prometheus.NewDesc("crawler_inactive_urls",
		"Number of URLs whose last fetch did not return 2xx.", nil, nil)
	avgTimeDesc = prometheus.NewDesc("crawler_avg_response_time_seconds",
		"Average response time over all URLs.", nil, nil)
	errorRateDesc = prometheus.NewDesc("crawler_error_rate",
		"Share of URLs that are inactive (0-1).", nil, nil)
	lastCrawlDesc = prometheus.NewDesc("crawler_last_crawl_timestamp_seconds",
		"Unix time of the most recent observation.", nil, nil)
	byStatusDesc = prometheus.NewDesc("crawler_urls_by_status",
		"URLs grouped by last status code.", []string{"status_code"}, nil)
	urlUpDesc = prometheus.NewDesc("crawler_url_up",
		"1 if the URL's last fetch returned 2xx.", []string{"url"}, nil)
	urlTimeDesc = prometheus.NewDesc("crawler_url_response_time_seconds",
		"Last response time of the URL.", []string{"url"}, nil)
	scrapeErrorDesc = prometheus.NewDesc("crawler_report_scrape_error",
		"1 if loading records for this scrape failed.", nil, nil)
)

// Collector computes report gauges from the store on every scrape.
type Collector struct {
	agg     *Aggregator
	timeout time.Duration
	perURL  bool
	logger  *zap.Logger
}

// NewCollector builds a collector. perURL adds one series per stored URL.
func NewCollector(agg *Aggregator, timeout time.Duration, perURL bool, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Collector{agg: agg, timeout: timeout, perURL: perURL, logger: logger}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		totalDesc, activeDesc, inactiveDesc, avgTimeDesc, errorRateDesc,
		lastCrawlDesc, byStatusDesc, urlUpDesc, urlTimeDesc, scrapeErrorDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	rep, err := c.agg.Report(ctx)
	if err != nil {
		c.logger.Error("report scrape failed", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(scrapeErrorDesc, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(scrapeErrorDesc, prometheus.GaugeValue, 0)

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(totalDesc, float64(rep.TotalURLs))
	gauge(activeDesc, float64(rep.ActiveURLs))
	gauge(inactiveDesc, float64(rep.InactiveURLs))
	gauge(avgTimeDesc, rep.AvgResponseTime)
	gauge(errorRateDesc, rep.ErrorRate)
	if rep.LastCrawl != nil {
		gauge(lastCrawlDesc, float64(rep.LastCrawl.Unix()))
	}
	for status, n := range rep.ByStatus {
		gauge(byStatusDesc, float64(n), status)
	}

	if !c.perURL {
		return
	}
	for _, u := range rep.URLs {
		up := 0.0
		if u.IsActive {
			up = 1
		}
		gauge(urlUpDesc, up, u.URL)
		if u.ResponseTime != nil {
			gauge(urlTimeDesc, *u.ResponseTime, u.URL)
		}
	}
}
