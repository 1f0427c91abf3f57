package cache

import (
	"context"
	"time"
)

// NullCache always misses and silently accepts writes. It stands in for a
// real backend when caching is disabled or the configured backend could not
// be reached at startup, keeping the engine's code path uniform.
type NullCache struct{}

var _ Cache = NullCache{}

func (NullCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NullCache) Delete(context.Context, string) error { return nil }

func (NullCache) Invalidate(context.Context, string) (int, error) { return 0, nil }

func (NullCache) Ping(context.Context) error { return nil }

func (NullCache) Close() error { return nil }
