package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/api"
	"github.com/user/site-crawler/internal/app"
	"github.com/user/site-crawler/internal/config"
	"github.com/user/site-crawler/internal/crawler"
	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/scheduler"
	"github.com/user/site-crawler/pkg/logger"
)

// shutdownTimeout leaves an interrupted crawl time for its final flush
// before the stores are closed.
const shutdownTimeout = crawler.FinalFlushTimeout + 10*time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	// Initialize structured logger
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage, runner and metrics
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	var sched *scheduler.Scheduler
	if cfg.ScheduleURL != "" {
		sched = scheduler.New(a.Runner, domain.RunRequest{StartURL: cfg.ScheduleURL}, cfg.ScheduleInterval, zl.Named("scheduler"))
		sched.Start(ctx)
	}

	server := api.NewServer(cfg, api.Deps{
		Runner:   a.Runner,
		Pages:    a.Postgres,
		Reporter: a.Aggregator,
		Health:   a.Health,
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
	}, zl)

	// Graceful Shutdown
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("could not start server", zap.Error(err))
			stop()
		}
	}()

	zl.Info("server started", zap.String("port", cfg.ServerPort))
	<-ctx.Done()
	zl.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		sched.Wait()
	}

	zl.Info("server exiting")
}
