// Package server is the HTTP surface of the consensus service. It binds the
// public endpoints to the auth gate, the rate limiter, the consensus engine
// and the analytics store.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/crossmindhq/consensus/internal/analytics"
	"github.com/crossmindhq/consensus/internal/auth"
	"github.com/crossmindhq/consensus/internal/cache"
	"github.com/crossmindhq/consensus/internal/consensus"
	"github.com/crossmindhq/consensus/internal/metrics"
	"github.com/crossmindhq/consensus/internal/ratelimit"
)

const (
	defaultMaxInflight = 256

	batchMaxQueries  = 50
	batchConcurrency = 4

	readTimeout  = 60 * time.Second
	writeTimeout = 60 * time.Second

	healthPingTimeout = 2 * time.Second
)

// Config wires the server's dependencies. Engine and Gate are required;
// everything else is optional and nil-safe.
type Config struct {
	Engine    *consensus.Engine
	Gate      *auth.Gate
	Limiter   *ratelimit.Limiter
	Sink      *analytics.Sink
	Analytics analytics.Store
	Cache     *cache.Store
	Metrics   *metrics.Registry
	Logger    *slog.Logger

	// BaseCtx is the process lifetime context; request work is derived from
	// it so shutdown cancels in-flight pipelines.
	BaseCtx context.Context

	// AllowedOrigins is the CORS allow-list. Empty means no CORS headers
	// are emitted at all; there is no wildcard default.
	AllowedOrigins []string

	// MaxInflight caps concurrently served protected requests; excess gets
	// 503 with Retry-After: 1. Default 256.
	MaxInflight int

	Version string
}

// Server serves the consensus HTTP API.
type Server struct {
	engine    *consensus.Engine
	gate      *auth.Gate
	limiter   *ratelimit.Limiter
	sink      *analytics.Sink
	analytics analytics.Store
	cache     *cache.Store
	metrics   *metrics.Registry
	log       *slog.Logger
	baseCtx   context.Context

	corsOrigins []string
	maxInflight int64
	inflight    atomic.Int64
	version     string

	srv *fasthttp.Server
}

// New builds a Server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("server: auth gate must not be nil")
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		engine:      cfg.Engine,
		gate:        cfg.Gate,
		limiter:     cfg.Limiter,
		sink:        cfg.Sink,
		analytics:   cfg.Analytics,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With(slog.String("component", "server")),
		baseCtx:     cfg.BaseCtx,
		corsOrigins: cfg.AllowedOrigins,
		maxInflight: int64(cfg.MaxInflight),
		version:     cfg.Version,
	}

	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s, nil
}

// Handler builds the full middleware-wrapped route handler. Exposed so
// tests can drive it over an in-memory listener.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/consensus", s.protected("consensus", ratelimit.ClassConsensus, s.handleConsensus))
	r.POST("/consensus/batch", s.protected("consensus_batch", ratelimit.ClassBatch, s.handleBatch))
	r.GET("/models", s.protected("models", ratelimit.ClassReadOnly, s.handleModels))
	r.GET("/analytics/performance", s.protected("analytics_performance", ratelimit.ClassReadOnly, s.handleAnalyticsPerformance))
	r.POST("/feedback", s.protected("feedback", ratelimit.ClassReadOnly, s.handleFeedback))

	r.GET("/health", s.observed("health", s.handleHealth))
	r.GET("/docs", s.observed("docs", s.handleDocs))
	r.GET("/openapi.json", s.observed("openapi", s.handleOpenAPI))

	if s.metrics != nil {
		r.GET("/metrics", s.observed("metrics", s.metrics.Handler()))
	}

	return applyMiddleware(r.Handler,
		recovery(s.log),
		requestID,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

// ListenAndServe blocks serving on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

// Serve blocks serving on ln; used by tests with in-memory listeners.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
