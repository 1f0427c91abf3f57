package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
)

// newCohereHandler returns an http.Handler that simulates the Cohere
// generate API.
func newCohereHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	generate := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "mock internal server error"})
			return
		}

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id": fmt.Sprintf("gen-mock%x", rand.Int64()),
			"generations": []map[string]string{
				{
					"id":   fmt.Sprintf("g-%x", rand.Int64()),
					"text": fakeSentence(cfg.ResponseWords),
				},
			},
			"meta": map[string]any{
				"billed_units": map[string]int{
					"input_tokens":  10,
					"output_tokens": cfg.ResponseWords,
				},
			},
		})
	}

	mux.HandleFunc("/generate", generate)
	mux.HandleFunc("/v1/generate", generate)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "mock: unknown path " + r.URL.Path})
	})

	return mux
}
