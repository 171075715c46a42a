package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/config"
	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/monitoring"
	"github.com/user/site-crawler/internal/report"
)

// Runner triggers crawls and reports on past ones.
type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)
	LastRun(ctx context.Context, rawURL string) (*domain.RunStatus, error)
}

// PageStore reads stored page records.
type PageStore interface {
	ListPages(ctx context.Context) ([]domain.PageRecord, error)
	GetPage(ctx context.Context, url string) (*domain.PageRecord, error)
}

type Reporter interface {
	Report(ctx context.Context) (*report.Report, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Runner   Runner
	Pages    PageStore
	Reporter Reporter
	Health   map[string]Pinger
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	mu         sync.Mutex
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, deps Deps, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: l,
	}
	s.router = s.setupRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. Request contexts derive from ctx, so
// cancelling it stops running crawls, which then flush what they have.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.config.ServerWriteTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
