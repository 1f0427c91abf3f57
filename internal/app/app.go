// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Redis, ClickHouse), with
//     in-process fallbacks when unavailable
//  2. initProviders — adapter registry + model descriptor table
//  3. initServices  — metrics, cache store, embedder, analytics sink, engine
//  4. initServer    — HTTP surface
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/crossmindhq/consensus/internal/analytics"
	"github.com/crossmindhq/consensus/internal/cache"
	"github.com/crossmindhq/consensus/internal/config"
	"github.com/crossmindhq/consensus/internal/consensus"
	"github.com/crossmindhq/consensus/internal/metrics"
	"github.com/crossmindhq/consensus/internal/providers"
	"github.com/crossmindhq/consensus/internal/server"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Backends — exactly one of each pair is live.
	cacheImpl cache.Cache
	store     *cache.Store
	astore    analytics.Store

	prom *metrics.Registry

	registry *providers.Registry
	table    *providers.Table

	sink   *analytics.Sink
	engine *consensus.Engine
	srv    *server.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting consensus service",
		slog.String("version", a.version),
		slog.String("addr", a.cfg.ListenAddr),
		slog.Int("models", a.table.Len()),
		slog.Any("defaults", a.table.Defaults()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(a.cfg.ListenAddr)
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := a.srv.Shutdown(); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Error("sink close error", slog.String("error", err.Error()))
		}
		a.sink = nil
	}
	if a.cacheImpl != nil {
		if err := a.cacheImpl.Close(); err != nil {
			a.log.Error("cache close error", slog.String("error", err.Error()))
		}
		a.cacheImpl = nil
	}
	if a.astore != nil {
		if err := a.astore.Close(); err != nil {
			a.log.Error("analytics close error", slog.String("error", err.Error()))
		}
		a.astore = nil
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
