package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/crawler"
	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/storage"
	"github.com/user/site-crawler/pkg/utils"
)

var (
	ErrInvalidStartURL = errors.New("invalid start url")
	ErrCrawlInProgress = errors.New("a crawl of this site is already running")
)

// CrawlRunner starts a crawl and blocks until it finishes.
type CrawlRunner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)
}

// Locker hands out per-target run leases.
type Locker interface {
	Acquire(ctx context.Context, target string, ttl time.Duration) (storage.Lease, error)
}

// RunStatusStore keeps the last run status per target.
type RunStatusStore interface {
	SetRunStatus(ctx context.Context, status domain.RunStatus) error
	GetRunStatus(ctx context.Context, target string) (*domain.RunStatus, error)
}

// Metrics is the slice of monitoring.Metrics the use case reports to.
type Metrics interface {
	crawler.Observer
	ObserveRun(result string, elapsed time.Duration)
}

// Defaults fill in whatever a RunRequest leaves unset.
type Defaults struct {
	MaxPages      int
	CommitBatch   int
	MaxRequeue    int
	Workers       int
	ProbesEnabled bool
	ProbePaths    []string
	LeaseTTL      time.Duration
}

// CrawlUseCase runs one engine per request, at most one at a time per target.
type CrawlUseCase struct {
	fetcher  crawler.Fetcher
	sink     crawler.Sink
	locker   Locker
	statuses RunStatusStore
	metrics  Metrics
	defaults Defaults
	logger   *zap.Logger
	newRunID func() string
}

// NewCrawlUseCase wires the runner. metrics may be nil.
func NewCrawlUseCase(
	fetcher crawler.Fetcher,
	sink crawler.Sink,
	locker Locker,
	statuses RunStatusStore,
	metrics Metrics,
	defaults Defaults,
	logger *zap.Logger,
) *CrawlUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.LeaseTTL <= 0 {
		defaults.LeaseTTL = 30 * time.Minute
	}
	return &CrawlUseCase{
		fetcher:  fetcher,
		sink:     sink,
		locker:   locker,
		statuses: statuses,
		metrics:  metrics,
		defaults: defaults,
		logger:   logger,
		newRunID: uuid.NewString,
	}
}

// Run validates the request, takes the target's lease and crawls. It
// returns ErrCrawlInProgress when another run holds the lease.
func (uc *CrawlUseCase) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	seed, err := crawler.ParseSeed(req.StartURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartURL, req.StartURL)
	}
	target := utils.Origin(seed)

	lease, err := uc.locker.Acquire(ctx, target, uc.defaults.LeaseTTL)
	if errors.Is(err, storage.ErrLeaseHeld) {
		uc.observeRun("rejected", 0)
		return nil, ErrCrawlInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}

	runID := uc.newRunID()
	logger := uc.logger.With(zap.String("run_id", runID), zap.String("target", target))
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release run lease", zap.Error(err))
		}
	}()

	status := domain.RunStatus{
		RunID:     runID,
		Target:    target,
		StartURL:  seed.String(),
		State:     domain.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	uc.saveStatus(ctx, logger, status)

	var observer crawler.Observer
	if uc.metrics != nil {
		observer = uc.metrics
	}

	runCtx, stop := context.WithCancelCause(ctx)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		uc.keepLease(runCtx, lease, stop, logger)
	}()

	engine := crawler.NewEngine(uc.fetcher, uc.sink, uc.options(req), logger, observer)
	result, runErr := engine.Run(runCtx, seed.String())
	if runErr == nil && errors.Is(context.Cause(runCtx), storage.ErrLeaseLost) {
		runErr = storage.ErrLeaseLost
	}
	stop(nil)
	<-kept

	finished := time.Now().UTC()
	status.FinishedAt = &finished
	if result != nil {
		result.RunID = runID
		status.Visited = result.Visited
		status.Records = result.Records
		status.StopReason = result.StopReason
	}

	if runErr != nil {
		status.State = domain.RunFailed
		status.Error = runErr.Error()
		uc.saveStatus(ctx, logger, status)
		uc.observeRun("failed", finished.Sub(status.StartedAt))
		return result, fmt.Errorf("crawl %s: %w", target, runErr)
	}

	status.State = domain.RunCompleted
	uc.saveStatus(ctx, logger, status)
	uc.observeRun("completed", finished.Sub(status.StartedAt))
	return result, nil
}

// keepLease extends the lease every third of its TTL until ctx ends. A lost
// lease cancels the run, since another run may now own the target.
func (uc *CrawlUseCase) keepLease(ctx context.Context, lease storage.Lease, stop context.CancelCauseFunc, logger *zap.Logger) {
	ttl := uc.defaults.LeaseTTL
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := lease.Extend(ctx, ttl)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, storage.ErrLeaseLost):
			logger.Error("run lease lost, stopping crawl")
			stop(err)
			return
		default:
			logger.Warn("failed to extend run lease", zap.Error(err))
		}
	}
}

// LastRun returns the status of the most recent run against rawURL's site.
func (uc *CrawlUseCase) LastRun(ctx context.Context, rawURL string) (*domain.RunStatus, error) {
	seed, err := crawler.ParseSeed(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartURL, rawURL)
	}
	if uc.statuses == nil {
		return nil, storage.ErrNotFound
	}
	return uc.statuses.GetRunStatus(ctx, utils.Origin(seed))
}

func (uc *CrawlUseCase) options(req domain.RunRequest) crawler.Options {
	d := uc.defaults
	opts := crawler.Options{
		MaxPages:    d.MaxPages,
		CommitBatch: d.CommitBatch,
		MaxRequeue:  d.MaxRequeue,
		Workers:     d.Workers,
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	if req.CommitBatch > 0 {
		opts.CommitBatch = req.CommitBatch
	}
	if req.MaxRequeue != nil && *req.MaxRequeue >= 0 {
		opts.MaxRequeue = *req.MaxRequeue
	}
	if req.Workers > 0 {
		opts.Workers = req.Workers
	}

	probes := d.ProbesEnabled
	if req.Probes != nil {
		probes = *req.Probes
	}
	if probes {
		opts.ProbePaths = d.ProbePaths
		if len(opts.ProbePaths) == 0 {
			opts.ProbePaths = crawler.DefaultProbePaths
		}
	}
	return opts
}

// saveStatus logs store errors instead of returning them.
func (uc *CrawlUseCase) saveStatus(ctx context.Context, logger *zap.Logger, status domain.RunStatus) {
	if uc.statuses == nil {
		return
	}
	if err := uc.statuses.SetRunStatus(context.WithoutCancel(ctx), status); err != nil {
		logger.Warn("failed to store run status", zap.String("state", string(status.State)), zap.Error(err))
	}
}

func (uc *CrawlUseCase) observeRun(result string, elapsed time.Duration) {
	if uc.metrics != nil {
		uc.metrics.ObserveRun(result, elapsed)
	}
}
