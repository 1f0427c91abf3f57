// Package consensus implements the consensus engine: parallel provider
// fan-out, agreement scoring over answer embeddings, optional critique-and-
// revise refinement, result caching, and analytics hand-off.
package consensus

import (
	"fmt"
	"math"
	"strings"

	"github.com/crossmindhq/consensus/internal/providers"
)

// Consensus methods.
const (
	MethodExpertRoles     = "expert_roles"
	MethodDirectConsensus = "direct_consensus"
	MethodDebate          = "debate"
	MethodChain           = "chain"
)

// Reasoning scaffolds applied when chain-of-thought is enabled.
const (
	ReasoningChainOfThought   = "chain_of_thought"
	ReasoningSocraticMethod   = "socratic_method"
	ReasoningMultiPerspective = "multi_perspective"
)

// Request bounds.
const (
	MaxQuestionLen  = 5000
	MinModels       = 2
	MaxModels       = 10
	DefaultMaxModel = 5
	MaxChainDepth   = 5
)

// Request is the normalised consensus input after validation. Weights are
// already normalised to sum 1 (uniform when absent).
type Request struct {
	Question             string
	Method               string
	ModelIDs             []string
	Temperature          float64
	Weights              []float64
	EnableCaching        bool
	EnableChainOfThought bool
	ReasoningMethod      string
	ChainDepth           int
	Roles                []string
}

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RawRequest mirrors the /consensus JSON body. Defaults are applied and the
// result validated by Normalize.
type RawRequest struct {
	Question             string    `json:"question"`
	Method               string    `json:"method"`
	Models               []string  `json:"models"`
	MaxModels            int       `json:"max_models"`
	Temperature          *float64  `json:"temperature"`
	Weights              []float64 `json:"weights"`
	EnableCaching        *bool     `json:"enable_caching"`
	EnableChainOfThought bool      `json:"enable_chain_of_thought"`
	ReasoningMethod      string    `json:"reasoning_method"`
	ChainDepth           *int      `json:"chain_depth"`
	Roles                []string  `json:"roles"`
}

// Normalize applies defaults, resolves model selection against the current
// descriptor table and validates every field. It returns a *ValidationError
// on the first violation.
func Normalize(raw *RawRequest, table *providers.Table) (*Request, error) {
	q := strings.TrimSpace(raw.Question)
	if q == "" {
		return nil, &ValidationError{Field: "question", Message: "must not be empty"}
	}
	if len(raw.Question) > MaxQuestionLen {
		return nil, &ValidationError{
			Field:   "question",
			Message: fmt.Sprintf("exceeds %d characters", MaxQuestionLen),
		}
	}

	method := raw.Method
	if method == "" {
		method = MethodExpertRoles
	}
	switch method {
	case MethodExpertRoles, MethodDirectConsensus, MethodDebate, MethodChain:
	default:
		return nil, &ValidationError{Field: "method", Message: fmt.Sprintf("unknown method %q", method)}
	}

	reasoning := raw.ReasoningMethod
	if reasoning == "" {
		reasoning = ReasoningChainOfThought
	}
	switch reasoning {
	case ReasoningChainOfThought, ReasoningSocraticMethod, ReasoningMultiPerspective:
	default:
		return nil, &ValidationError{
			Field:   "reasoning_method",
			Message: fmt.Sprintf("unknown reasoning method %q", reasoning),
		}
	}

	maxModels := raw.MaxModels
	if maxModels == 0 {
		maxModels = DefaultMaxModel
	}
	if maxModels < MinModels || maxModels > MaxModels {
		return nil, &ValidationError{
			Field:   "max_models",
			Message: fmt.Sprintf("must be between %d and %d", MinModels, MaxModels),
		}
	}

	temperature := 0.7
	if raw.Temperature != nil {
		temperature = *raw.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return nil, &ValidationError{Field: "temperature", Message: "must be between 0.0 and 2.0"}
	}

	chainDepth := 2
	if raw.ChainDepth != nil {
		chainDepth = *raw.ChainDepth
	}
	if chainDepth < 0 || chainDepth > MaxChainDepth {
		return nil, &ValidationError{
			Field:   "chain_depth",
			Message: fmt.Sprintf("must be between 0 and %d", MaxChainDepth),
		}
	}

	modelIDs := raw.Models
	if len(modelIDs) == 0 {
		modelIDs = table.Defaults()
	}
	if len(modelIDs) > maxModels {
		modelIDs = modelIDs[:maxModels]
	}
	if len(modelIDs) < MinModels {
		return nil, &ValidationError{
			Field:   "models",
			Message: fmt.Sprintf("at least %d enabled models required, have %d", MinModels, len(modelIDs)),
		}
	}

	seen := make(map[string]struct{}, len(modelIDs))
	for _, id := range modelIDs {
		if _, dup := seen[id]; dup {
			return nil, &ValidationError{Field: "models", Message: fmt.Sprintf("duplicate model id %q", id)}
		}
		seen[id] = struct{}{}

		d, ok := table.ByID(id)
		if !ok {
			return nil, &ValidationError{Field: "models", Message: fmt.Sprintf("unknown model id %q", id)}
		}
		if !d.Enabled {
			return nil, &ValidationError{Field: "models", Message: fmt.Sprintf("model %q is disabled", id)}
		}
	}

	weights, err := normalizeWeights(raw.Weights, len(modelIDs))
	if err != nil {
		return nil, err
	}

	caching := true
	if raw.EnableCaching != nil {
		caching = *raw.EnableCaching
	}

	return &Request{
		Question:             q,
		Method:               method,
		ModelIDs:             modelIDs,
		Temperature:          temperature,
		Weights:              weights,
		EnableCaching:        caching,
		EnableChainOfThought: raw.EnableChainOfThought,
		ReasoningMethod:      reasoning,
		ChainDepth:           chainDepth,
		Roles:                raw.Roles,
	}, nil
}

// normalizeWeights validates optional per-model weights and scales them to
// sum 1. Missing weights default to uniform.
func normalizeWeights(weights []float64, n int) ([]float64, error) {
	if len(weights) == 0 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out, nil
	}

	if len(weights) != n {
		return nil, &ValidationError{
			Field:   "weights",
			Message: fmt.Sprintf("length %d does not match %d selected models", len(weights), n),
		}
	}

	var sum float64
	for _, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, &ValidationError{Field: "weights", Message: "weights must be positive finite numbers"}
		}
		sum += w
	}

	out := make([]float64, n)
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, nil
}
