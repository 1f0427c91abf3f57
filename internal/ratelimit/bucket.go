// Package ratelimit implements per-token request budgets with in-process
// token buckets keyed by (token, route class). Buckets live in process
// memory: operators either front the service with a single instance or
// accept per-instance budgets.
package ratelimit

import (
	"sync"
	"time"
)

// Route classes with independent budgets.
const (
	ClassConsensus = "consensus"
	ClassBatch     = "batch"
	ClassReadOnly  = "read-only"
)

// Default per-minute rates per class.
const (
	DefaultConsensusPerMin = 60
	DefaultBatchPerMin     = 12
	DefaultReadPerMin      = 300
)

const shardCount = 32

// Rates holds the per-minute budget for each route class.
type Rates struct {
	ConsensusPerMin int
	BatchPerMin     int
	ReadPerMin      int
}

// DefaultRates returns the stock budgets.
func DefaultRates() Rates {
	return Rates{
		ConsensusPerMin: DefaultConsensusPerMin,
		BatchPerMin:     DefaultBatchPerMin,
		ReadPerMin:      DefaultReadPerMin,
	}
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is a sharded token-bucket rate limiter. Capacity equals the
// per-minute rate, refilled continuously, so a full bucket admits one
// minute's budget as a burst and then sustains the configured rate.
type Limiter struct {
	rates  Rates
	now    func() time.Time
	shards [shardCount]*shard
}

// New creates a Limiter with the given per-class rates. Non-positive rates
// fall back to the defaults.
func New(rates Rates) *Limiter {
	def := DefaultRates()
	if rates.ConsensusPerMin <= 0 {
		rates.ConsensusPerMin = def.ConsensusPerMin
	}
	if rates.BatchPerMin <= 0 {
		rates.BatchPerMin = def.BatchPerMin
	}
	if rates.ReadPerMin <= 0 {
		rates.ReadPerMin = def.ReadPerMin
	}

	l := &Limiter{rates: rates, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l
}

// Allow consumes one token from the bucket for (token, class). When the
// bucket is empty it returns false and the wait until the next token.
func (l *Limiter) Allow(token, class string) (bool, time.Duration) {
	rate := l.ratePerMin(class)
	capacity := float64(rate)
	refillPerSec := capacity / 60

	key := class + "\x00" + token
	s := l.shards[fnvHash(key)%shardCount]

	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastFill: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * refillPerSec
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastFill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1 - b.tokens) / refillPerSec * float64(time.Second))
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}

// RetryAfter returns the refill interval for a class, used as the
// Retry-After hint.
func (l *Limiter) RetryAfter(class string) time.Duration {
	rate := l.ratePerMin(class)
	return time.Minute / time.Duration(rate)
}

func (l *Limiter) ratePerMin(class string) int {
	switch class {
	case ClassBatch:
		return l.rates.BatchPerMin
	case ClassReadOnly:
		return l.rates.ReadPerMin
	default:
		return l.rates.ConsensusPerMin
	}
}

// fnvHash is FNV-1a over the key, inlined to avoid an allocation per call.
func fnvHash(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
