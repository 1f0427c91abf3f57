package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"
)

// Key prefixes. Results are keyed by request fingerprint, embeddings by the
// SHA-256 of the embedded text.
const (
	resultPrefix    = "res:"
	embeddingPrefix = "emb:"
)

// Store layers the consensus key scheme over a byte-level Cache. Result
// payloads pass through as opaque bytes so a cached response replays
// byte-identical; embeddings use a compact fixed-width binary encoding.
type Store struct {
	cache     Cache
	resultTTL time.Duration
	embedTTL  time.Duration
}

// NewStore wraps cache with the given TTLs.
func NewStore(c Cache, resultTTL, embedTTL time.Duration) *Store {
	return &Store{cache: c, resultTTL: resultTTL, embedTTL: embedTTL}
}

// ResultKey returns the cache key for a request fingerprint.
func ResultKey(fingerprint string) string { return resultPrefix + fingerprint }

// EmbeddingKey returns the cache key for a text's embedding.
func EmbeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return embeddingPrefix + hex.EncodeToString(sum[:])
}

// GetResult returns the stored result bytes for fingerprint.
func (s *Store) GetResult(ctx context.Context, fingerprint string) ([]byte, bool) {
	return s.cache.Get(ctx, ResultKey(fingerprint))
}

// PutResult stores the result bytes under fingerprint with the result TTL.
func (s *Store) PutResult(ctx context.Context, fingerprint string, data []byte) error {
	return s.cache.Set(ctx, ResultKey(fingerprint), data, s.resultTTL)
}

// GetEmbedding returns the cached vector for text, or (nil, false) on a
// miss or a corrupt entry.
func (s *Store) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	data, ok := s.cache.Get(ctx, EmbeddingKey(text))
	if !ok {
		return nil, false
	}
	vec, ok := decodeVector(data)
	return vec, ok
}

// PutEmbedding stores the vector for text with the embedding TTL.
func (s *Store) PutEmbedding(ctx context.Context, text string, vec []float32) error {
	return s.cache.Set(ctx, EmbeddingKey(text), encodeVector(vec), s.embedTTL)
}

// Invalidate removes every key matching the glob-style pattern.
func (s *Store) Invalidate(ctx context.Context, pattern string) (int, error) {
	return s.cache.Invalidate(ctx, pattern)
}

// Ping reports backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// encodeVector packs a float32 slice as a uint32 length followed by
// little-endian IEEE 754 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) < 4 {
		return nil, false
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+4*n {
		return nil, false
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, true
}
