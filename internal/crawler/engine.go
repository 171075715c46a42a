package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/site-crawler/internal/domain"
)

// ErrInvalidSeed is returned for start URLs that are not absolute http(s) URLs.
var ErrInvalidSeed = errors.New("invalid seed url")

// FinalFlushTimeout bounds the flush of buffered records after a run stops.
const FinalFlushTimeout = 30 * time.Second

// Observer receives engine events. monitoring.Metrics implements it.
type Observer interface {
	ObserveFetch(class string, latency time.Duration)
	ObserveRequeue()
	ObserveFlush(records int)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, time.Duration) {}
func (nopObserver) ObserveRequeue()                    {}
func (nopObserver) ObserveFlush(int)                   {}

// Options bounds a single run.
type Options struct {
	MaxPages    int
	CommitBatch int
	MaxRequeue  int
	Workers     int
	ProbePaths  []string
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 300
	}
	if o.CommitBatch <= 0 {
		o.CommitBatch = 20
	}
	if o.MaxRequeue < 0 {
		o.MaxRequeue = 0
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Engine crawls one site. An Engine may be reused, but every call to Run
// gets its own frontier and batch buffer.
type Engine struct {
	fetcher  Fetcher
	sink     Sink
	opts     Options
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

func NewEngine(fetcher Fetcher, sink Sink, opts Options, logger *zap.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		fetcher:  fetcher,
		sink:     sink,
		opts:     opts.withDefaults(),
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

// ParseSeed validates a start URL, lower-cases its host and strips its
// fragment.
func ParseSeed(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeed, raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

type fetchResult struct {
	url     string
	outcome domain.Outcome
}

// run holds the state of one invocation.
type run struct {
	engine      *Engine
	origin      *url.URL
	frontier    *Frontier
	batcher     *Batcher
	lastFailure map[string]domain.PageRecord
	requeues    int
	logger      *zap.Logger
}

// Run crawls from startURL until the frontier is empty, the page budget is
// spent, or ctx is cancelled. Only sink failures are returned as errors;
// the partial result is returned alongside them.
func (e *Engine) Run(ctx context.Context, startURL string) (*domain.RunResult, error) {
	origin, err := ParseSeed(startURL)
	if err != nil {
		return nil, err
	}
	seed := origin.String()

	r := &run{
		engine:      e,
		origin:      origin,
		frontier:    NewFrontier(),
		batcher:     NewBatcher(e.sink, e.opts.CommitBatch),
		lastFailure: make(map[string]domain.PageRecord),
		logger:      e.logger.With(zap.String("seed", seed)),
	}
	r.batcher.onFlush = e.observer.ObserveFlush

	r.frontier.Enqueue(seed)
	for _, probe := range ProbeURLs(origin, e.opts.ProbePaths) {
		r.frontier.Enqueue(probe)
	}

	result := &domain.RunResult{StartURL: seed, StartedAt: e.now().UTC()}
	r.logger.Info("crawl started",
		zap.Int("max_pages", e.opts.MaxPages),
		zap.Int("workers", e.opts.Workers),
		zap.Int("commit_batch", e.opts.CommitBatch),
	)

	reason, runErr := r.loop(ctx)
	if runErr == nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalFlushTimeout)
		result.Abandoned, runErr = r.drain(flushCtx)
		cancel()
		if runErr != nil {
			reason = domain.StopSinkError
		}
	}

	result.Visited = r.frontier.VisitedCount()
	result.Flushes, result.Records = r.batcher.Stats()
	result.Requeues = r.requeues
	result.StopReason = reason
	result.FinishedAt = e.now().UTC()

	fields := []zap.Field{
		zap.String("stop_reason", string(reason)),
		zap.Int("visited", result.Visited),
		zap.Int("records", result.Records),
		zap.Int("abandoned", result.Abandoned),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	}
	if runErr != nil {
		r.logger.Error("crawl aborted", append(fields, zap.Error(runErr))...)
		return result, runErr
	}
	r.logger.Info("crawl finished", fields...)
	return result, nil
}

// loop is the dispatcher. It alone classifies results and mutates the
// frontier; workers only fetch. A URL is dispatched only while
// visited+inflight stays below the page budget.
func (r *run) loop(ctx context.Context) (domain.StopReason, error) {
	opts := r.engine.opts

	fetchCtx, cancelFetches := context.WithCancel(ctx)
	defer cancelFetches()

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	results := make(chan fetchResult, opts.Workers)

	inflight := 0
	var sinkErr error
	for {
		if sinkErr == nil && ctx.Err() == nil {
			for inflight < opts.Workers && r.frontier.VisitedCount()+inflight < opts.MaxPages {
				u, ok := r.frontier.Dequeue()
				if !ok {
					break
				}
				if r.frontier.IsVisited(u) {
					continue
				}
				inflight++
				g.Go(func() error {
					results <- fetchResult{url: u, outcome: r.engine.fetcher.Fetch(fetchCtx, u)}
					return nil
				})
			}
		}
		if inflight == 0 {
			break
		}

		res := <-results
		inflight--
		if sinkErr != nil || ctx.Err() != nil {
			continue
		}
		if err := r.handle(ctx, res); err != nil {
			sinkErr = err
			cancelFetches()
		}
	}
	_ = g.Wait()

	switch {
	case sinkErr != nil:
		return domain.StopSinkError, sinkErr
	case ctx.Err() != nil:
		return domain.StopCancelled, nil
	case r.frontier.VisitedCount() >= opts.MaxPages && r.frontier.Len() > 0:
		return domain.StopBudget, nil
	default:
		return domain.StopFrontierEmpty, nil
	}
}

func (r *run) handle(ctx context.Context, res fetchResult) error {
	class := Classify(res.outcome)
	r.engine.observer.ObserveFetch(class.String(), res.outcome.Latency)

	attempts := r.frontier.AttemptCount(res.url)
	decision := Decide(res.outcome, attempts, r.engine.opts.MaxRequeue)
	rec := domain.NewPageRecord(res.url, res.outcome, r.engine.now(), decision.Terminal())

	if decision.Requeue {
		n := r.frontier.Requeue(res.url)
		r.requeues++
		r.lastFailure[res.url] = rec
		r.engine.observer.ObserveRequeue()
		r.logger.Debug("requeued",
			zap.String("url", res.url),
			zap.Stringer("class", class),
			zap.Int("attempt", n),
			zap.Error(res.outcome.Err),
		)
	} else {
		r.frontier.MarkVisited(res.url)
		delete(r.lastFailure, res.url)
		r.logger.Debug("visited",
			zap.String("url", res.url),
			zap.Stringer("class", class),
			zap.Int("status", res.outcome.StatusCode),
			zap.Duration("latency", res.outcome.Latency),
		)
	}

	if err := r.batcher.Add(ctx, rec); err != nil {
		return err
	}

	if decision.Extract {
		for _, link := range ExtractLinks(res.url, res.outcome.Body, r.origin) {
			r.frontier.Enqueue(link)
		}
	}
	return nil
}

// drain re-emits the last observation of every URL that was waiting for a
// retry when the run stopped, marked as crawled, then flushes the buffer.
// These URLs are reported as abandoned and do not count as visited.
func (r *run) drain(ctx context.Context) (int, error) {
	abandoned := 0
	for _, u := range r.frontier.Queued() {
		rec, ok := r.lastFailure[u]
		if !ok {
			continue
		}
		rec.Crawled = true
		if err := r.batcher.Add(ctx, rec); err != nil {
			return abandoned, err
		}
		abandoned++
	}
	return abandoned, r.batcher.Flush(ctx)
}
