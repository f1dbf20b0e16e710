package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/config"
	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/repository"
	"github.com/user/price-aggregator/internal/resolution"
	"github.com/user/price-aggregator/internal/scheduler"
)

// CrawlControl is the scheduler surface the HTTP layer drives.
type CrawlControl interface {
	StartSource(sourceID string) error
	StopSource(sourceID string) error
	IsRunning(sourceID string) bool
	Stats() map[string]scheduler.SourceStats
	Cookies(sourceID string, cookies []domain.Cookie) error
}

// ResolutionControl is the coordinator surface the HTTP layer drives.
type ResolutionControl interface {
	Start(ctx context.Context, opts resolution.Options) (string, error)
	Status() *domain.ResolutionJob
	Job(ctx context.Context, id string) (*domain.ResolutionJob, error)
	Subscribe() (<-chan resolution.Progress, func())
}

// Pinger is a backing store health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	sched      CrawlControl
	resolution ResolutionControl
	catalog    repository.CatalogStore
	listings   repository.RawListingStore
	pgPing     Pinger
	redisPing  Pinger
	logger     *zap.Logger
}

func NewServer(
	cfg *config.Config,
	sched CrawlControl,
	res ResolutionControl,
	catalog repository.CatalogStore,
	listings repository.RawListingStore,
	pgPing, redisPing Pinger,
	l *zap.Logger,
) *Server {
	s := &Server{
		config:     cfg,
		sched:      sched,
		resolution: res,
		catalog:    catalog,
		listings:   listings,
		pgPing:     pgPing,
		redisPing:  redisPing,
		logger:     l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE progress stream is long-lived.
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
