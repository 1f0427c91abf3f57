package consensus

import (
	"github.com/crossmindhq/consensus/internal/providers"
)

// Error kinds surfaced by the engine. The HTTP layer maps them onto status
// codes; everything not listed here is treated as internal.
const (
	KindConsensusFailed  = "consensus_failed"
	KindDeadlineExceeded = "deadline_exceeded"
	KindCanceled         = "canceled"
	KindInternal         = "internal_error"
)

// Error is a classified engine failure.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

// PerModel is one model's contribution to the final result: the raw reply
// plus the weight it carried and the agreement it earned.
type PerModel struct {
	providers.Reply

	Weight          float64 `json:"weight"`
	Agreement       float64 `json:"agreement"`
	SuggestedWeight float64 `json:"suggested_weight"`
}

// ChainRound is one critique-and-revise round, recorded whether or not the
// revision was accepted.
type ChainRound struct {
	Round       int     `json:"round"`
	CriticID    string  `json:"critic_id"`
	Critique    string  `json:"critique"`
	ReviserID   string  `json:"reviser_id"`
	RevisedText string  `json:"revised_text"`
	NewScore    float64 `json:"new_score"`
	Accepted    bool    `json:"accepted"`
}

// Result is the full consensus response. Cached entries store the marshalled
// Result verbatim, so a cache hit replays the original payload with only
// CacheHit and TotalLatencyMS rewritten.
type Result struct {
	ConsensusID    string         `json:"consensus_id"`
	ConsensusText  string         `json:"consensus_text"`
	ConsensusScore float64        `json:"consensus_score"`
	MethodUsed     string         `json:"method_used"`
	ModelsUsed     []string       `json:"models_used"`
	PerModel       []PerModel     `json:"per_model"`
	Partial        bool           `json:"partial,omitempty"`
	CacheHit       bool           `json:"cache_hit"`
	TotalLatencyMS int64          `json:"total_latency_ms"`
	ChainTrace     []ChainRound   `json:"chain_trace,omitempty"`
	QualityMetrics map[string]any `json:"quality_metrics,omitempty"`
}

// CostEstimate sums each reply's token usage priced at its model's
// cost-per-1k rate.
func CostEstimate(replies []*providers.Reply, table *providers.Table) float64 {
	var total float64
	for _, r := range replies {
		if r == nil {
			continue
		}
		d, ok := table.ByID(r.ModelID)
		if !ok {
			continue
		}
		tokens := r.PromptTokens + r.CompletionTokens
		total += float64(tokens) / 1000 * d.CostPer1KTokens
	}
	return total
}
