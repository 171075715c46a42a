// Package report derives site health summaries from stored page records.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/user/site-crawler/internal/domain"
)

// NoStatus labels records whose fetch never produced a response.
const NoStatus = "none"

// Summary is the aggregate view over all stored records.
type Summary struct {
	TotalURLs       int            `json:"total_urls" yaml:"total_urls"`
	ActiveURLs      int            `json:"active_urls" yaml:"active_urls"`
	InactiveURLs    int            `json:"inactive_urls" yaml:"inactive_urls"`
	AvgResponseTime float64        `json:"avg_response_time" yaml:"avg_response_time"`
	ErrorRate       float64        `json:"error_rate" yaml:"error_rate"`
	LastCrawl       *time.Time     `json:"last_crawl,omitempty" yaml:"last_crawl,omitempty"`
	ByStatus        map[string]int `json:"by_status" yaml:"by_status"`
}

// ErrorRatePercent renders the error rate the way operators read it, e.g. "12.50%".
func (s Summary) ErrorRatePercent() string {
	return fmt.Sprintf("%.2f%%", s.ErrorRate*100)
}

// URLStat is the per-URL slice of a report.
type URLStat struct {
	URL          string    `json:"url" yaml:"url"`
	Status       string    `json:"status" yaml:"status"`
	ResponseTime *float64  `json:"response_time" yaml:"response_time"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	LastSeen     time.Time `json:"last_seen" yaml:"last_seen"`
}

// Report is a summary plus the per-URL rows it was built from.
type Report struct {
	Summary `yaml:",inline"`
	URLs []URLStat `json:"urls,omitempty" yaml:"urls,omitempty"`
}

// StatusLabel returns the status code as text, or NoStatus.
func StatusLabel(code *int) string {
	if code == nil {
		return NoStatus
	}
	return strconv.Itoa(*code)
}

// Summarize aggregates records. Records without a response time count as
// zero in the average, which is taken over all records.
func Summarize(records []domain.PageRecord) Summary {
	s := Summary{ByStatus: make(map[string]int)}
	var totalTime float64
	var last time.Time
	for _, r := range records {
		s.TotalURLs++
		if r.IsActive {
			s.ActiveURLs++
		}
		if r.ResponseTime != nil {
			totalTime += *r.ResponseTime
		}
		if r.ObservedAt.After(last) {
			last = r.ObservedAt
		}
		s.ByStatus[StatusLabel(r.StatusCode)]++
	}
	s.InactiveURLs = s.TotalURLs - s.ActiveURLs
	if s.TotalURLs > 0 {
		s.AvgResponseTime = totalTime / float64(s.TotalURLs)
		s.ErrorRate = float64(s.InactiveURLs) / float64(s.TotalURLs)
	}
	if !last.IsZero() {
		s.LastCrawl = &last
	}
	return s
}

// Round3 rounds to millisecond precision for display.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Source lists stored page records.
type Source interface {
	ListPages(ctx context.Context) ([]domain.PageRecord, error)
}

// Aggregator builds reports from a Source.
type Aggregator struct {
	source Source
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Report loads every record and summarizes it. URL rows are sorted by URL.
func (a *Aggregator) Report(ctx context.Context) (*Report, error) {
	records, err := a.source.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	rep := &Report{Summary: Summarize(records), URLs: make([]URLStat, 0, len(records))}
	for _, r := range records {
		rep.URLs = append(rep.URLs, URLStat{
			URL:          r.URL,
			Status:       StatusLabel(r.StatusCode),
			ResponseTime: r.ResponseTime,
			IsActive:     r.IsActive,
			LastSeen:     r.ObservedAt,
		})
	}
	sort.Slice(rep.URLs, func(i, j int) bool { return rep.URLs[i].URL < rep.URLs[j].URL })
	return rep, nil
}
