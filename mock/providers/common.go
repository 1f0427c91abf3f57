package main

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// Phrase pools for generated answers. Sampling openers and fillers
// separately keeps different "models" from producing identical text, so
// agreement scoring against the mocks stays non-trivial.
var (
	openers = []string{
		"Broadly speaking,", "In short,", "The consensus view is that",
		"Most sources agree that", "Put simply,",
	}
	fillers = []string{
		"the", "underlying", "system", "behaves", "predictably", "under",
		"typical", "load", "while", "edge", "cases", "require", "additional",
		"validation", "and", "careful", "measurement", "of", "observed",
		"results", "across", "repeated", "trials",
	}
)

// fakeSentence builds an answer of roughly n words.
func fakeSentence(n int) string {
	parts := []string{openers[rand.IntN(len(openers))]}
	for len(parts) < n {
		parts = append(parts, fillers[rand.IntN(len(fillers))])
	}
	return strings.Join(parts, " ") + "."
}

// fakeEmbedding returns a random unit vector, so cosine similarity between
// two mock embeddings lands in a realistic range instead of clustering.
func fakeEmbedding(dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = rand.Float32()*2 - 1
		norm += float64(v[i]) * float64(v[i])
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

func shouldError(cfg Config) bool {
	return cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the OpenAI-style error envelope shared by the
// openai-compatible mocks; the other wire families build their own shapes.
func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": msg,
			"type":    typ,
			"code":    typ,
		},
	})
}
