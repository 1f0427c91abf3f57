package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

const memoryRetention = 30 * 24 * time.Hour

// MemoryStore keeps records in process memory. It is the default store when
// no ClickHouse endpoint is configured, and the store used by tests.
// Records older than the retention window are trimmed on insert.
type MemoryStore struct {
	mu       sync.RWMutex
	queries  []QueryRecord
	feedback []FeedbackRecord
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) InsertQueries(_ context.Context, records []QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, records...)
	m.trimLocked()
	return nil
}

func (m *MemoryStore) InsertFeedback(_ context.Context, records []FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedback = append(m.feedback, records...)
	return nil
}

func (m *MemoryStore) Summary(_ context.Context, window time.Duration) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-window)

	var (
		latencies []float64
		scores    []float64
		total     int
		succeeded int
		cacheHits int
	)
	for i := range m.queries {
		q := &m.queries[i]
		if q.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if q.Success {
			succeeded++
			scores = append(scores, q.ConsensusScore)
		}
		if q.CacheHit {
			cacheHits++
		}
		latencies = append(latencies, float64(q.TotalLatencyMS))
	}

	s := &Summary{TotalQueries: total}
	if total > 0 {
		s.SuccessRate = float64(succeeded) / float64(total)
		s.CacheHitRate = float64(cacheHits) / float64(total)
		s.MedianLatencyMS = quantile(latencies, 0.5)
		s.MedianScore = quantile(scores, 0.5)
	}
	return s, nil
}

func (m *MemoryStore) ModelPerformance(_ context.Context, window time.Duration) ([]ModelPerformance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-window)

	type acc struct {
		calls      int
		successes  int
		latencies  []float64
		agreements []float64
		cost       float64
	}
	accs := make(map[string]*acc)

	for i := range m.queries {
		q := &m.queries[i]
		if q.Timestamp.Before(cutoff) {
			continue
		}
		perModelCost := 0.0
		if n := len(q.Models); n > 0 {
			perModelCost = q.CostEstimate / float64(n)
		}
		for _, ms := range q.Models {
			a, ok := accs[ms.ModelID]
			if !ok {
				a = &acc{}
				accs[ms.ModelID] = a
			}
			a.calls++
			if ms.Success {
				a.successes++
				a.agreements = append(a.agreements, ms.Agreement)
			}
			a.latencies = append(a.latencies, float64(ms.LatencyMS))
			a.cost += perModelCost
		}
	}

	out := make([]ModelPerformance, 0, len(accs))
	for id, a := range accs {
		mp := ModelPerformance{
			ModelID:      id,
			Calls:        a.calls,
			SuccessRate:  float64(a.successes) / float64(a.calls),
			P50LatencyMS: quantile(a.latencies, 0.5),
			P95LatencyMS: quantile(a.latencies, 0.95),
			CostEstimate: a.cost,
		}
		if len(a.agreements) > 0 {
			var sum float64
			for _, v := range a.agreements {
				sum += v
			}
			mp.MeanAgreement = sum / float64(len(a.agreements))
		}
		out = append(out, mp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func (m *MemoryStore) Trend(_ context.Context, window, bucket time.Duration) ([]TrendPoint, error) {
	if bucket <= 0 {
		bucket = time.Hour
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-window)

	type acc struct {
		scores    []float64
		latencies []float64
	}
	accs := make(map[time.Time]*acc)

	for i := range m.queries {
		q := &m.queries[i]
		if q.Timestamp.Before(cutoff) {
			continue
		}
		b := q.Timestamp.Truncate(bucket)
		a, ok := accs[b]
		if !ok {
			a = &acc{}
			accs[b] = a
		}
		if q.Success {
			a.scores = append(a.scores, q.ConsensusScore)
		}
		a.latencies = append(a.latencies, float64(q.TotalLatencyMS))
	}

	out := make([]TrendPoint, 0, len(accs))
	for b, a := range accs {
		tp := TrendPoint{
			Bucket:       b,
			P95LatencyMS: quantile(a.latencies, 0.95),
			Queries:      len(a.latencies),
		}
		if len(a.scores) > 0 {
			var sum float64
			for _, v := range a.scores {
				sum += v
			}
			tp.MeanScore = sum / float64(len(a.scores))
		}
		out = append(out, tp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// FeedbackCount reports stored feedback rows, used in tests.
func (m *MemoryStore) FeedbackCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.feedback)
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) trimLocked() {
	cutoff := m.now().Add(-memoryRetention)
	firstLive := 0
	for firstLive < len(m.queries) && m.queries[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		m.queries = append([]QueryRecord(nil), m.queries[firstLive:]...)
	}
}

// quantile returns the q-quantile of values using nearest-rank on a sorted
// copy. Returns 0 for an empty slice.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
