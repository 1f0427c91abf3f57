package main

import (
	"fmt"
	"net/http"
	"strings"
)

// newGoogleHandler returns an http.Handler that simulates the Gemini API
// generateContent endpoint. Paths look like
// /v1beta/models/gemini-2.0-flash:generateContent, so route on the suffix.
func newGoogleHandler(cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"code":    500,
					"message": "mock internal server error",
					"status":  "INTERNAL",
				},
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]string{
							{"text": fakeSentence(cfg.ResponseWords)},
						},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]int{
				"promptTokenCount":     10,
				"candidatesTokenCount": cfg.ResponseWords,
				"totalTokenCount":      10 + cfg.ResponseWords,
			},
		})
	})
}
