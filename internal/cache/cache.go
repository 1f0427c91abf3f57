package cache

import (
	"context"
	"time"
)

// Cache is the byte-level storage contract shared by all backends.
// A miss is never an error; backend outages degrade to misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Invalidate removes every key matching a glob-style pattern. Admin use.
	Invalidate(ctx context.Context, pattern string) (int, error)
	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
	Close() error
}
