package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crossmindhq/consensus/internal/analytics"
	"github.com/crossmindhq/consensus/internal/auth"
	"github.com/crossmindhq/consensus/internal/cache"
	"github.com/crossmindhq/consensus/internal/config"
	"github.com/crossmindhq/consensus/internal/consensus"
	"github.com/crossmindhq/consensus/internal/embedding"
	"github.com/crossmindhq/consensus/internal/metrics"
	"github.com/crossmindhq/consensus/internal/providers"
	"github.com/crossmindhq/consensus/internal/providers/anthropicmsg"
	"github.com/crossmindhq/consensus/internal/providers/baiduernie"
	"github.com/crossmindhq/consensus/internal/providers/coheregen"
	"github.com/crossmindhq/consensus/internal/providers/googlegen"
	"github.com/crossmindhq/consensus/internal/providers/openaichat"
	"github.com/crossmindhq/consensus/internal/providers/openaicompat"
	"github.com/crossmindhq/consensus/internal/ratelimit"
	"github.com/crossmindhq/consensus/internal/server"
)

// initInfra establishes the optional external connections. Both backends
// degrade to in-process fallbacks: a Redis outage or a missing ClickHouse
// DSN must never keep the service from answering queries.
func (a *App) initInfra(ctx context.Context) error {
	if url := a.cfg.Cache.BackendURL; url != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(url)))

		rc, err := cache.NewRedisCacheFromURL(ctx, url)
		if err != nil {
			a.log.Warn("redis unavailable, falling back to in-process cache",
				slog.String("error", err.Error()))
		} else {
			a.cacheImpl = rc
			a.log.Info("cache backend: redis")
		}
	}
	if a.cacheImpl == nil {
		a.cacheImpl = cache.NewMemoryCache(a.baseCtx)
		a.log.Info("cache backend: memory (in-process)")
	}

	if dsn := a.cfg.Analytics.ClickHouseURL; dsn != "" {
		a.log.Info("connecting to clickhouse", slog.String("url", redactURL(dsn)))

		ch, err := analytics.NewClickHouseStore(ctx, dsn)
		if err != nil {
			a.log.Warn("clickhouse unavailable, falling back to in-memory analytics",
				slog.String("error", err.Error()))
		} else {
			a.astore = ch
			a.log.Info("analytics backend: clickhouse")
		}
	}
	if a.astore == nil {
		a.astore = analytics.NewMemoryStore()
		a.log.Info("analytics backend: memory (in-process)")
	}

	return nil
}

// initProviders builds the adapter registry and loads the model descriptor
// table. Adapters are registered unconditionally — a model whose credential
// is missing is already disabled by the loader.
func (a *App) initProviders(_ context.Context) error {
	client := providers.NewHTTPClient()

	a.registry = providers.NewRegistry(
		openaichat.New(client),
		anthropicmsg.New(client),
		googlegen.New(client),
		coheregen.New(client),
		baiduernie.New(client),
		openaicompat.New(providers.KindZhipuChat, client),
		openaicompat.New(providers.KindMoonshotChat, client),
		openaicompat.New(providers.KindMistralChat, client),
	)

	descs, defaults, err := config.LoadModels(a.cfg.ModelsPath)
	if err != nil {
		return err
	}
	table, err := providers.NewTable(descs, defaults)
	if err != nil {
		return err
	}
	a.table = table

	enabled := 0
	for _, d := range table.All() {
		if d.Enabled {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("need at least 2 enabled models to form a consensus, have %d "+
			"(check provider credentials)", enabled)
	}

	a.log.Info("models loaded",
		slog.Int("total", table.Len()),
		slog.Int("enabled", enabled),
		slog.Any("defaults", table.Defaults()),
	)
	return nil
}

// initServices builds the metrics registry, cache store, embedder, analytics
// sink and the consensus engine.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.store = cache.NewStore(a.cacheImpl, a.cfg.Cache.TTL, a.cfg.Cache.EmbeddingTTL)

	var embedder embedding.Embedder
	switch a.cfg.Embedding.Provider {
	case "remote":
		embedder = embedding.NewRemote(a.cfg.Providers.OpenAI, providers.NewHTTPClient(),
			embedding.WithModel(a.cfg.Embedding.Model))
		a.log.Info("embedding backend: remote", slog.String("model", a.cfg.Embedding.Model))
	default:
		embedder = embedding.NewLocal(embedding.DefaultDim)
		a.log.Info("embedding backend: local")
	}
	// Embedding vectors are cached alongside results; repeated identical
	// answers skip the embedding round-trip entirely.
	embedder = embedding.NewCached(embedder, a.store)

	sink, err := analytics.NewSink(ctx, a.astore, a.log)
	if err != nil {
		return err
	}
	a.sink = sink
	a.prom.RegisterBacklogGauges(sink.Backlog, sink.Dropped)

	// MAX_RETRIES=0 means "do not retry"; the engine's zero value means
	// "use the default", so an explicit zero maps to the sentinel.
	maxRetries := a.cfg.Engine.MaxRetries
	if maxRetries == 0 {
		maxRetries = consensus.NoRetries
	}

	engine, err := consensus.New(consensus.Config{
		Registry: a.registry,
		Table:    a.table,
		Embedder: embedder,
		Store:    a.store,
		Sink:     a.sink,
		Metrics:  a.prom,
		Logger:   a.log,
		Options: consensus.Options{
			RequestTimeout: a.cfg.Engine.RequestTimeout,
			FanoutWidth:    a.cfg.Engine.MaxConcurrent,
			MaxRetries:     maxRetries,
			MinSuccess:     a.cfg.Engine.MinSuccess,
			LowThreshold:   a.cfg.Engine.LowThreshold,
			HighThreshold:  a.cfg.Engine.HighThreshold,
		},
	})
	if err != nil {
		return err
	}
	a.engine = engine

	return nil
}

// initServer wires the HTTP surface.
func (a *App) initServer(_ context.Context) error {
	srv, err := server.New(server.Config{
		Engine: a.engine,
		Gate:   auth.NewGate(a.cfg.BackendAPIKeys),
		Limiter: ratelimit.New(ratelimit.Rates{
			ConsensusPerMin: a.cfg.Rates.ConsensusPerMin,
			BatchPerMin:     a.cfg.Rates.BatchPerMin,
			ReadPerMin:      a.cfg.Rates.ReadPerMin,
		}),
		Sink:           a.sink,
		Analytics:      a.astore,
		Cache:          a.store,
		Metrics:        a.prom,
		Logger:         a.log,
		BaseCtx:        a.baseCtx,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		MaxInflight:    a.cfg.Server.MaxInflight,
		Version:        a.version,
	})
	if err != nil {
		return err
	}
	a.srv = srv
	return nil
}
