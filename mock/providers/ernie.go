package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// newErnieHandler returns an http.Handler that simulates the Baidu ERNIE
// API: an OAuth client-credentials token endpoint plus per-model chat paths
// that require the token as a query parameter.
func newErnieHandler(cfg Config) http.Handler {
	const mockToken = "mock-ernie-token"

	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		q := r.URL.Query()
		if q.Get("grant_type") != "client_credentials" || q.Get("client_id") == "" || q.Get("client_secret") == "" {
			writeJSON(w, http.StatusOK, map[string]string{
				"error":             "invalid_client",
				"error_description": "unknown client id",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": mockToken,
			"expires_in":   2592000,
		})
	})

	// Chat paths look like /rpc/2.0/ai_custom/v1/wenxinworkshop/chat/<model>.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/chat/") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_msg": "mock: unknown path " + r.URL.Path})
			return
		}
		applyLatency(cfg)

		if r.URL.Query().Get("access_token") != mockToken {
			// ERNIE reports auth failures inside a 200 body.
			writeJSON(w, http.StatusOK, map[string]any{
				"error_code": 111,
				"error_msg":  "Access token expired",
			})
			return
		}
		if shouldError(cfg) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error_code": 500,
				"error_msg":  "mock internal server error",
			})
			return
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"error_code": 336002,
				"error_msg":  "invalid request body",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":     fmt.Sprintf("as-mock%x", rand.Int64()),
			"result": fakeSentence(cfg.ResponseWords),
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": cfg.ResponseWords,
			},
		})
	})

	return mux
}
