package domain

import "time"

// Outcome is the result of fetching a single URL. StatusCode is zero when no
// HTTP response was received (timeout, DNS failure, connection refused).
type Outcome struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
	Err        error
}

// Responded reports whether an HTTP response was received.
func (o Outcome) Responded() bool {
	return o.StatusCode != 0
}

// PageRecord is the persisted observation of a URL, keyed by URL.
type PageRecord struct {
	URL          string    `json:"url" yaml:"url"`
	StatusCode   *int      `json:"status_code" yaml:"status_code"`
	ResponseTime *float64  `json:"response_time" yaml:"response_time"` // seconds
	ObservedAt   time.Time `json:"last_seen" yaml:"last_seen"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	Crawled      bool      `json:"crawled" yaml:"crawled"`
}

// NewPageRecord builds the record for one fetch attempt. Status and response
// time stay nil when the fetch never produced a response.
func NewPageRecord(url string, out Outcome, observedAt time.Time, terminal bool) PageRecord {
	rec := PageRecord{
		URL:        url,
		ObservedAt: observedAt.UTC(),
		Crawled:    terminal,
	}
	if out.Responded() {
		code := out.StatusCode
		seconds := out.Latency.Seconds()
		rec.StatusCode = &code
		rec.ResponseTime = &seconds
		rec.IsActive = code >= 200 && code < 300
	}
	return rec
}

// RunRequest triggers one crawl. Zero values fall back to service defaults.
type RunRequest struct {
	StartURL    string `json:"url"`
	MaxPages    int    `json:"max_pages,omitempty"`
	CommitBatch int    `json:"commit_batch,omitempty"`
	MaxRequeue  *int   `json:"max_requeue,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	Probes      *bool  `json:"probes,omitempty"`
}

// StopReason says why a run left the Running state.
type StopReason string

const (
	StopFrontierEmpty StopReason = "frontier_empty"
	StopBudget        StopReason = "budget_exhausted"
	StopCancelled     StopReason = "cancelled"
	StopSinkError     StopReason = "sink_error"
)

// RunResult summarizes a finished crawl run.
type RunResult struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	StartURL   string     `json:"start_url" yaml:"start_url"`
	Visited    int        `json:"visited" yaml:"visited"`
	Records    int        `json:"records" yaml:"records"`
	Flushes    int        `json:"flushes" yaml:"flushes"`
	Requeues   int        `json:"requeues" yaml:"requeues"`
	Abandoned  int        `json:"abandoned" yaml:"abandoned"`
	StopReason StopReason `json:"stop_reason" yaml:"stop_reason"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time  `json:"finished_at" yaml:"finished_at"`
}

// RunState is the lifecycle state of a run as tracked by the status store.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunStatus is the last known state of a run for a crawl target.
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Target     string     `json:"target"`
	StartURL   string     `json:"start_url"`
	State      RunState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Visited    int        `json:"visited"`
	Records    int        `json:"records"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}
