// Package analytics records per-query consensus outcomes asynchronously and
// answers aggregate queries over them. Producers never block: records enter
// a buffered channel and a single background consumer drains them into the
// configured store in batches.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// ModelStat is the per-model slice of one query record.
	ModelStat struct {
		ModelID   string  `json:"model_id"`
		Success   bool    `json:"success"`
		LatencyMS int64   `json:"latency_ms"`
		Agreement float64 `json:"agreement"`
	}

	// QueryRecord is one row per completed consensus query, written for
	// failed requests too (Success=false).
	QueryRecord struct {
		QueryID        uuid.UUID   `json:"query_id"`
		Timestamp      time.Time   `json:"timestamp"`
		Fingerprint    string      `json:"fingerprint"`
		Method         string      `json:"method"`
		ConsensusScore float64     `json:"consensus_score"`
		TotalLatencyMS int64       `json:"total_latency_ms"`
		Success        bool        `json:"success"`
		CacheHit       bool        `json:"cache_hit"`
		CostEstimate   float64     `json:"cost_estimate"`
		Models         []ModelStat `json:"models"`
	}

	// FeedbackRecord is a user rating tied to a served consensus response.
	// Write-only: feedback never influences scoring.
	FeedbackRecord struct {
		ConsensusID string    `json:"consensus_id"`
		Rating      int       `json:"rating"`
		Comment     string    `json:"comment,omitempty"`
		Timestamp   time.Time `json:"timestamp"`
	}

	// Summary aggregates a time window.
	Summary struct {
		Window          string  `json:"window"`
		TotalQueries    int     `json:"total_queries"`
		SuccessRate     float64 `json:"success_rate"`
		MedianLatencyMS float64 `json:"median_latency_ms"`
		MedianScore     float64 `json:"median_score"`
		CacheHitRate    float64 `json:"cache_hit_rate"`
	}

	// ModelPerformance aggregates one model over a window.
	ModelPerformance struct {
		ModelID       string  `json:"model_id"`
		Calls         int     `json:"calls"`
		SuccessRate   float64 `json:"success_rate"`
		P50LatencyMS  float64 `json:"p50_latency_ms"`
		P95LatencyMS  float64 `json:"p95_latency_ms"`
		MeanAgreement float64 `json:"mean_agreement"`
		CostEstimate  float64 `json:"cost_estimate"`
	}

	// TrendPoint is one time bucket of the consensus-score trend.
	TrendPoint struct {
		Bucket       time.Time `json:"bucket"`
		MeanScore    float64   `json:"mean_score"`
		P95LatencyMS float64   `json:"p95_latency_ms"`
		Queries      int       `json:"queries"`
	}
)

// Store persists records and answers the aggregate queries. Implementations
// must be safe for one writer and many readers.
type Store interface {
	InsertQueries(ctx context.Context, records []QueryRecord) error
	InsertFeedback(ctx context.Context, records []FeedbackRecord) error
	Summary(ctx context.Context, window time.Duration) (*Summary, error)
	ModelPerformance(ctx context.Context, window time.Duration) ([]ModelPerformance, error)
	Trend(ctx context.Context, window, bucket time.Duration) ([]TrendPoint, error)
	Close() error
}

// ParseWindow maps the API timeframe parameter to a duration.
func ParseWindow(s string) (time.Duration, error) {
	switch s {
	case "", "24h":
		return 24 * time.Hour, nil
	case "1h":
		return time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("analytics: unknown timeframe %q", s)
	}
}
