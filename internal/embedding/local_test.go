package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/crossmindhq/consensus/internal/cache"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestLocalDeterministic(t *testing.T) {
	e := NewLocal(0)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != DefaultDim {
		t.Fatalf("expected %d dims, got %d", DefaultDim, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalNormalized(t *testing.T) {
	e := NewLocal(128)

	vec, err := e.Embed(context.Background(), "hello world hello again")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", math.Sqrt(sum))
	}
}

func TestLocalSimilarityOrdering(t *testing.T) {
	e := NewLocal(0)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "the capital of France is Paris")
	same, _ := e.Embed(ctx, "the capital of France is Paris")
	near, _ := e.Embed(ctx, "Paris is the capital of France")
	far, _ := e.Embed(ctx, "quantum entanglement of superconducting qubits")

	if got := cosine(base, same); math.Abs(got-1) > 1e-5 {
		t.Fatalf("identical texts should have cosine 1, got %v", got)
	}
	if cosine(base, near) <= cosine(base, far) {
		t.Fatalf("shared-vocabulary text should score above unrelated text: near=%v far=%v",
			cosine(base, near), cosine(base, far))
	}
}

func TestLocalEmptyText(t *testing.T) {
	e := NewLocal(64)

	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty text must embed to the zero vector")
		}
	}
}

// countingEmbedder wraps Local and counts calls to verify caching.
type countingEmbedder struct {
	*Local
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.Local.Embed(ctx, text)
}

func TestCachedHitsSkipInner(t *testing.T) {
	mc := cache.NewMemoryCache(context.Background())
	t.Cleanup(func() { _ = mc.Close() })
	store := cache.NewStore(mc, time.Hour, time.Hour)

	inner := &countingEmbedder{Local: NewLocal(64)}
	e := NewCached(inner, store)
	ctx := context.Background()

	first, err := e.Embed(ctx, "cache me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := e.Embed(ctx, "cache me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected exactly one inner call, got %d", inner.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}
