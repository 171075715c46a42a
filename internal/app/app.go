// Package app wires configuration into the long-lived service components
// shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/api"
	"github.com/user/site-crawler/internal/config"
	"github.com/user/site-crawler/internal/crawler"
	"github.com/user/site-crawler/internal/monitoring"
	"github.com/user/site-crawler/internal/proxy"
	"github.com/user/site-crawler/internal/report"
	"github.com/user/site-crawler/internal/storage"
	"github.com/user/site-crawler/internal/usecase"
)

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Postgres   *storage.PostgresStore
	Redis      *storage.RedisStore
	Kafka      *storage.KafkaSink
	Registry   *prometheus.Registry
	Metrics    *monitoring.Metrics
	Runner     *usecase.CrawlUseCase
	Aggregator *report.Aggregator
	Health     map[string]api.Pinger
}

// New connects to the stores, ensures the schema and builds the runner.
// Redis and Kafka are optional.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Health:   make(map[string]api.Pinger),
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	a.Postgres = pg
	a.Health["postgres"] = pg

	if err := pg.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var (
		locker   usecase.Locker
		statuses usecase.RunStatusStore
	)
	if cfg.RedisAddr != "" {
		a.Redis = storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.Health["redis"] = a.Redis
		locker, statuses = a.Redis, a.Redis
	} else {
		logger.Warn("REDIS_ADDR not set, run leases are local to this process")
		mem := storage.NewMemoryStore()
		locker, statuses = mem, mem
	}

	sinks := storage.MultiSink{pg}
	if len(cfg.KafkaBrokers) > 0 {
		a.Kafka = storage.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, a.Kafka)
	}

	proxies, err := proxy.NewManager(cfg.Proxies, cfg.UserAgents)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("proxy config: %w", err)
	}
	fetcher := crawler.NewHTTPFetcher(crawler.FetcherOptions{
		Timeout:      cfg.FetchTimeout,
		Retries:      cfg.FetchRetries,
		Backoff:      cfg.FetchBackoff,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Proxy:        proxies.Proxy,
		UserAgents:   proxies,
	}, logger.Named("fetcher"))

	a.Metrics = monitoring.NewMetrics(a.Registry)
	a.Aggregator = report.NewAggregator(pg)
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		report.NewCollector(a.Aggregator, 5*time.Second, true, logger.Named("report")),
	)

	a.Runner = usecase.NewCrawlUseCase(fetcher, sinks, locker, statuses, a.Metrics, usecase.Defaults{
		MaxPages:      cfg.MaxPages,
		CommitBatch:   cfg.CommitBatch,
		MaxRequeue:    cfg.MaxRequeue,
		Workers:       cfg.CrawlWorkers,
		ProbesEnabled: cfg.ProbesEnabled,
		ProbePaths:    cfg.ProbePaths,
		LeaseTTL:      cfg.LeaseTTL,
	}, logger.Named("crawl"))

	return a, nil
}

// Close releases every connection the app opened.
func (a *App) Close() {
	if a.Kafka != nil {
		if err := a.Kafka.Close(); err != nil {
			a.Logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
