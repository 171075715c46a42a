// Package scheduler triggers crawls of a fixed site on an interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/usecase"
)

type Scheduler struct {
	runner   usecase.CrawlRunner
	req      domain.RunRequest
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func New(runner usecase.CrawlRunner, req domain.RunRequest, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, req: req, interval: interval, logger: logger}
}

// Start runs req every interval until ctx is cancelled. The first run
// happens one interval after Start. Ticks that arrive while a run is still
// going are dropped.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started",
			zap.String("url", s.req.StartURL),
			zap.Duration("interval", s.interval),
		)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Wait blocks until the scheduler goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.runner.Run(ctx, s.req)
	switch {
	case errors.Is(err, usecase.ErrCrawlInProgress):
		s.logger.Info("scheduled crawl skipped, previous run still active", zap.String("url", s.req.StartURL))
	case err != nil:
		s.logger.Error("scheduled crawl failed", zap.String("url", s.req.StartURL), zap.Error(err))
	default:
		s.logger.Info("scheduled crawl finished",
			zap.String("run_id", res.RunID),
			zap.Int("visited", res.Visited),
			zap.String("stop_reason", string(res.StopReason)),
		)
	}
}
