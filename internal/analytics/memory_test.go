package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func newTestStore() *MemoryStore {
	m := NewMemoryStore()
	m.now = fixedNow
	return m
}

func record(age time.Duration, success, cacheHit bool, score float64, latencyMS int64) QueryRecord {
	return QueryRecord{
		QueryID:        uuid.New(),
		Timestamp:      fixedNow().Add(-age),
		Fingerprint:    "fp",
		Method:         "expert_roles",
		ConsensusScore: score,
		TotalLatencyMS: latencyMS,
		Success:        success,
		CacheHit:       cacheHit,
		CostEstimate:   0.01,
		Models: []ModelStat{
			{ModelID: "m1", Success: success, LatencyMS: latencyMS, Agreement: score},
			{ModelID: "m2", Success: true, LatencyMS: latencyMS / 2, Agreement: score},
		},
	}
}

func TestSummary(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	err := m.InsertQueries(ctx, []QueryRecord{
		record(time.Minute, true, false, 0.9, 100),
		record(2*time.Minute, true, true, 0.8, 200),
		record(3*time.Minute, false, false, 0, 300),
		// Outside a 1h window; must not count.
		record(2*time.Hour, true, false, 0.5, 50),
	})
	if err != nil {
		t.Fatalf("InsertQueries: %v", err)
	}

	s, err := m.Summary(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if s.TotalQueries != 3 {
		t.Fatalf("expected 3 queries in window, got %d", s.TotalQueries)
	}
	if want := 2.0 / 3.0; abs(s.SuccessRate-want) > 1e-9 {
		t.Fatalf("success rate: got %v want %v", s.SuccessRate, want)
	}
	if want := 1.0 / 3.0; abs(s.CacheHitRate-want) > 1e-9 {
		t.Fatalf("cache-hit rate: got %v want %v", s.CacheHitRate, want)
	}
	if s.MedianLatencyMS != 200 {
		t.Fatalf("median latency: got %v want 200", s.MedianLatencyMS)
	}
}

func TestSummaryEmptyWindow(t *testing.T) {
	m := newTestStore()

	s, err := m.Summary(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalQueries != 0 || s.SuccessRate != 0 {
		t.Fatalf("empty store should report zeros, got %+v", s)
	}
}

func TestModelPerformance(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	if err := m.InsertQueries(ctx, []QueryRecord{
		record(time.Minute, true, false, 0.9, 100),
		record(2*time.Minute, false, false, 0, 300),
	}); err != nil {
		t.Fatalf("InsertQueries: %v", err)
	}

	perf, err := m.ModelPerformance(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ModelPerformance: %v", err)
	}
	if len(perf) != 2 {
		t.Fatalf("expected 2 models, got %d", len(perf))
	}

	// Sorted by model id.
	m1, m2 := perf[0], perf[1]
	if m1.ModelID != "m1" || m2.ModelID != "m2" {
		t.Fatalf("unexpected order: %s, %s", m1.ModelID, m2.ModelID)
	}
	if m1.Calls != 2 || m2.Calls != 2 {
		t.Fatalf("expected 2 calls each, got %d and %d", m1.Calls, m2.Calls)
	}
	if m1.SuccessRate != 0.5 {
		t.Fatalf("m1 success rate: got %v want 0.5", m1.SuccessRate)
	}
	if m2.SuccessRate != 1 {
		t.Fatalf("m2 success rate: got %v want 1", m2.SuccessRate)
	}
}

func TestTrendBuckets(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	if err := m.InsertQueries(ctx, []QueryRecord{
		record(10*time.Minute, true, false, 0.8, 100),
		record(15*time.Minute, true, false, 0.6, 200),
		record(70*time.Minute, true, false, 0.4, 300),
	}); err != nil {
		t.Fatalf("InsertQueries: %v", err)
	}

	points, err := m.Trend(ctx, 2*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(points))
	}
	if !points[0].Bucket.Before(points[1].Bucket) {
		t.Fatal("buckets must be sorted ascending")
	}
	if points[1].Queries != 2 {
		t.Fatalf("latest bucket should hold 2 queries, got %d", points[1].Queries)
	}
	if want := 0.7; abs(points[1].MeanScore-want) > 1e-9 {
		t.Fatalf("mean score: got %v want %v", points[1].MeanScore, want)
	}
}

func TestRetentionTrim(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	if err := m.InsertQueries(ctx, []QueryRecord{
		record(31*24*time.Hour, true, false, 0.9, 100),
	}); err != nil {
		t.Fatalf("InsertQueries: %v", err)
	}
	if err := m.InsertQueries(ctx, []QueryRecord{
		record(time.Minute, true, false, 0.9, 100),
	}); err != nil {
		t.Fatalf("InsertQueries: %v", err)
	}

	s, err := m.Summary(ctx, 60*24*time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalQueries != 1 {
		t.Fatalf("expired record should be trimmed, got %d in store", s.TotalQueries)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 24 * time.Hour, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"5m", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseWindow(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseWindow(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
