package consensus

import (
	"math"
	"strings"
	"testing"

	"github.com/crossmindhq/consensus/internal/providers"
)

func testTable(t *testing.T, ids ...string) *providers.Table {
	t.Helper()

	descs := make([]*providers.ModelDescriptor, len(ids))
	for i, id := range ids {
		descs[i] = &providers.ModelDescriptor{
			ID:        id,
			Kind:      "stub",
			ModelName: id,
			MaxTokens: 256,
			Enabled:   true,
		}
	}
	tab, err := providers.NewTable(descs, ids)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tab
}

func TestNormalizeDefaults(t *testing.T) {
	tab := testTable(t, "a", "b", "c")

	req, err := Normalize(&RawRequest{Question: "why is the sky blue?"}, tab)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if req.Method != MethodExpertRoles {
		t.Errorf("method = %q, want expert_roles", req.Method)
	}
	if req.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req.Temperature)
	}
	if !req.EnableCaching {
		t.Error("caching should default to enabled")
	}
	if req.ChainDepth != 2 {
		t.Errorf("chain_depth = %d, want 2", req.ChainDepth)
	}
	if req.ReasoningMethod != ReasoningChainOfThought {
		t.Errorf("reasoning_method = %q, want chain_of_thought", req.ReasoningMethod)
	}
	if len(req.ModelIDs) != 3 {
		t.Fatalf("models = %v, want the table defaults", req.ModelIDs)
	}

	var sum float64
	for _, w := range req.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
}

func TestNormalizeValidation(t *testing.T) {
	tab := testTable(t, "a", "b", "c")

	f := func(v float64) *float64 { return &v }
	d := func(v int) *int { return &v }

	cases := []struct {
		name  string
		raw   RawRequest
		field string
	}{
		{"empty_question", RawRequest{Question: "   "}, "question"},
		{"long_question", RawRequest{Question: strings.Repeat("x", MaxQuestionLen+1)}, "question"},
		{"bad_method", RawRequest{Question: "q", Method: "voting"}, "method"},
		{"bad_reasoning", RawRequest{Question: "q", ReasoningMethod: "vibes"}, "reasoning_method"},
		{"max_models_low", RawRequest{Question: "q", MaxModels: 1}, "max_models"},
		{"max_models_high", RawRequest{Question: "q", MaxModels: 11}, "max_models"},
		{"temp_low", RawRequest{Question: "q", Temperature: f(-0.1)}, "temperature"},
		{"temp_high", RawRequest{Question: "q", Temperature: f(2.1)}, "temperature"},
		{"chain_depth", RawRequest{Question: "q", ChainDepth: d(6)}, "chain_depth"},
		{"unknown_model", RawRequest{Question: "q", Models: []string{"a", "nope"}}, "models"},
		{"duplicate_model", RawRequest{Question: "q", Models: []string{"a", "a"}}, "models"},
		{"one_model", RawRequest{Question: "q", Models: []string{"a"}}, "models"},
		{"weight_mismatch", RawRequest{Question: "q", Models: []string{"a", "b"}, Weights: []float64{1}}, "weights"},
		{"negative_weight", RawRequest{Question: "q", Models: []string{"a", "b"}, Weights: []float64{-1, 2}}, "weights"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(&tc.raw, tab)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("error type %T, want *ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Errorf("field = %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestNormalizeDisabledModelRejected(t *testing.T) {
	descs := []*providers.ModelDescriptor{
		{ID: "a", Kind: "stub", ModelName: "a", Enabled: true},
		{ID: "b", Kind: "stub", ModelName: "b", Enabled: false},
	}
	tab, err := providers.NewTable(descs, []string{"a"})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	_, err = Normalize(&RawRequest{Question: "q", Models: []string{"a", "b"}}, tab)
	if err == nil {
		t.Fatal("expected disabled model to be rejected")
	}
}

func TestNormalizeTruncatesToMaxModels(t *testing.T) {
	tab := testTable(t, "a", "b", "c", "d", "e", "f")

	req, err := Normalize(&RawRequest{
		Question: "q",
		Models:   []string{"a", "b", "c", "d", "e", "f"},
	}, tab)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(req.ModelIDs) != DefaultMaxModel {
		t.Fatalf("models = %d, want truncation to %d", len(req.ModelIDs), DefaultMaxModel)
	}
}

func TestNormalizeWeightScaling(t *testing.T) {
	tab := testTable(t, "a", "b")

	req, err := Normalize(&RawRequest{
		Question: "q",
		Models:   []string{"a", "b"},
		Weights:  []float64{3, 1},
	}, tab)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if math.Abs(req.Weights[0]-0.75) > 1e-9 || math.Abs(req.Weights[1]-0.25) > 1e-9 {
		t.Fatalf("weights = %v, want [0.75 0.25]", req.Weights)
	}
}
