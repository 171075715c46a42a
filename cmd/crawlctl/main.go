// Command crawlctl runs one-off crawls and prints reports against the
// configured database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/app"
	"github.com/user/site-crawler/internal/config"
	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/storage"
	"github.com/user/site-crawler/pkg/logger"
)

type runContext struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

type CLI struct {
	EnvFile  string `help:"Env file to read before the environment." default:".env" type:"path"`
	LogLevel string `help:"Override LOG_LEVEL."`

	Crawl   CrawlCmd   `cmd:"" help:"Crawl a site once and print the run summary."`
	Report  ReportCmd  `cmd:"" help:"Print the health report for stored URLs."`
	Migrate MigrateCmd `cmd:"" help:"Create the urls table if needed."`
}

type CrawlCmd struct {
	URL         string `arg:"" help:"Start URL (http or https)."`
	MaxPages    int    `help:"Page budget; 0 uses MAX_PAGES."`
	CommitBatch int    `help:"Records per sink write; 0 uses COMMIT_BATCH."`
	MaxRequeue  int    `help:"Requeue budget for transient failures; -1 uses MAX_REQUEUE." default:"-1"`
	Workers     int    `help:"Concurrent fetches; 0 uses CRAWL_WORKERS."`
	Probes      string `help:"Synthetic probe URLs." enum:"config,on,off" default:"config"`
	Format      string `help:"Output format." enum:"json,yaml" default:"yaml"`
}

func (c *CrawlCmd) request() domain.RunRequest {
	req := domain.RunRequest{
		StartURL:    c.URL,
		MaxPages:    c.MaxPages,
		CommitBatch: c.CommitBatch,
		Workers:     c.Workers,
	}
	if c.MaxRequeue >= 0 {
		n := c.MaxRequeue
		req.MaxRequeue = &n
	}
	switch c.Probes {
	case "on", "off":
		on := c.Probes == "on"
		req.Probes = &on
	}
	return req
}

func (c *CrawlCmd) Run(rc *runContext) error {
	a, err := app.New(rc.ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Runner.Run(rc.ctx, c.request())
	if res != nil {
		if werr := writeOutput(rc.out, c.Format, res); werr != nil {
			return werr
		}
	}
	return err
}

type ReportCmd struct {
	URLs   bool   `help:"Include one row per URL." name:"urls"`
	Format string `help:"Output format." enum:"json,yaml" default:"yaml"`
}

func (c *ReportCmd) Run(rc *runContext) error {
	pg, err := storage.NewPostgresStore(rc.ctx, rc.cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	rep, err := newReport(rc.ctx, pg, c.URLs)
	if err != nil {
		return err
	}
	return writeOutput(rc.out, c.Format, rep)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(rc *runContext) error {
	pg, err := storage.NewPostgresStore(rc.ctx, rc.cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.EnsureSchema(rc.ctx); err != nil {
		return err
	}
	rc.logger.Info("schema ready")
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("crawlctl"),
		kong.Description("Operate the site crawler from the command line."),
		kong.UsageOnError(),
	)

	cfg, err := config.LoadFile(cli.EnvFile)
	kctx.FatalIfErrorf(err)
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	zl, err := logger.New(cfg.LogLevel)
	kctx.FatalIfErrorf(err)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := kctx.Run(&runContext{ctx: ctx, cfg: cfg, logger: zl, out: os.Stdout}); err != nil {
		fmt.Fprintln(os.Stderr, "crawlctl:", err)
		stop()
		_ = zl.Sync()
		os.Exit(1)
	}
}
