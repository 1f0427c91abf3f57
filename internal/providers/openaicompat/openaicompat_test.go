package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crossmindhq/consensus/internal/providers"
)

func baseCall() *providers.Call {
	return &providers.Call{
		Model: &providers.ModelDescriptor{
			ID:         "mistral-large",
			Kind:       providers.KindMistralChat,
			ModelName:  "mistral-large-latest",
			Credential: "mock-api-key",
			MaxTokens:  256,
			Enabled:    true,
		},
		Prompt:      "Hello",
		Temperature: 0.7,
		MaxTokens:   256,
		Attempt:     1,
	}
}

func TestAdapter_Kind(t *testing.T) {
	a := New(providers.KindZhipuChat, http.DefaultClient)
	if a.Kind() != providers.KindZhipuChat {
		t.Fatalf("expected %q, got %q", providers.KindZhipuChat, a.Kind())
	}
}

func TestNew_UnsupportedKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unsupported kind")
		}
	}()
	New("openai-chat", http.DefaultClient)
}

func TestAdapter_Invoke_Success(t *testing.T) {
	responseBody := chatResponse{
		ID:    "cmpl-mistral-123",
		Model: "mistral-large-latest",
		Choices: []choice{
			{Message: &chatMessage{Role: "assistant", Content: "Bonjour le monde!"}},
		},
		Usage: usage{PromptTokens: 8, CompletionTokens: 4},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Model != "mistral-large-latest" {
			t.Errorf("expected model 'mistral-large-latest', got %q", body.Model)
		}
		if len(body.Messages) != 1 || body.Messages[0].Content != "Hello" {
			t.Errorf("unexpected messages: %v", body.Messages)
		}
		if body.Messages[0].Role != "user" {
			t.Errorf("expected user role, got %q", body.Messages[0].Role)
		}
		if body.MaxTokens != 256 {
			t.Errorf("expected max_tokens 256, got %d", body.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responseBody)
	}))
	defer srv.Close()

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if !reply.Success {
		t.Fatalf("expected success, got %s: %s", reply.ErrorKind, reply.ErrorDetail)
	}
	if reply.ModelID != "mistral-large" {
		t.Errorf("expected model id 'mistral-large', got %q", reply.ModelID)
	}
	if reply.Text != "Bonjour le monde!" {
		t.Errorf("expected text 'Bonjour le monde!', got %q", reply.Text)
	}
	if reply.PromptTokens != 8 || reply.CompletionTokens != 4 {
		t.Errorf("expected usage 8/4, got %d/%d", reply.PromptTokens, reply.CompletionTokens)
	}
	if reply.TokensEstimated {
		t.Error("vendor-reported usage must not be flagged as estimated")
	}
	if reply.LatencyMS < 0 {
		t.Errorf("negative latency %d", reply.LatencyMS)
	}
}

func TestAdapter_Invoke_EndpointOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	// Descriptor endpoint wins over the adapter base URL.
	a := New(providers.KindMoonshotChat, srv.Client(), WithBaseURL("http://127.0.0.1:1"))
	call := baseCall()
	call.Model.Endpoint = srv.URL

	reply := a.Invoke(context.Background(), call)
	if !reply.Success {
		t.Fatalf("expected success via endpoint override, got %s", reply.ErrorKind)
	}
}

func TestAdapter_Invoke_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(chatResponse{Error: &apiErr{Message: "rate limit exceeded"}})
	}))
	defer srv.Close()

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure")
	}
	if reply.ErrorKind != providers.ErrKindHTTP {
		t.Errorf("expected provider_http_error, got %q", reply.ErrorKind)
	}
	if reply.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", reply.HTTPStatus)
	}
	if reply.ErrorDetail != "rate limit exceeded" {
		t.Errorf("expected vendor message, got %q", reply.ErrorDetail)
	}
}

func TestAdapter_Invoke_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure")
	}
	if !reply.Transient() {
		t.Error("5xx should be transient")
	}
}

func TestAdapter_Invoke_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure")
	}
	if reply.ErrorKind != providers.ErrKindParse {
		t.Errorf("expected provider_parse_error, got %q", reply.ErrorKind)
	}
	if reply.Transient() {
		t.Error("parse errors are final, not transient")
	}
}

func TestAdapter_Invoke_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	reply := a.Invoke(ctx, baseCall())
	if reply.Success {
		t.Fatal("expected failure")
	}
	if reply.ErrorKind != providers.ErrKindTimeout {
		t.Errorf("expected provider_timeout, got %q", reply.ErrorKind)
	}
	if !reply.Transient() {
		t.Error("timeouts should be transient")
	}
}

func TestAdapter_Invoke_MissingUsageEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &chatMessage{Content: "a reasonably long answer to estimate"}}},
		})
	}))
	defer srv.Close()

	a := New(providers.KindMistralChat, srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if !reply.Success {
		t.Fatalf("expected success, got %s", reply.ErrorKind)
	}
	if !reply.TokensEstimated {
		t.Error("missing usage should be estimated and flagged")
	}
	if reply.PromptTokens == 0 || reply.CompletionTokens == 0 {
		t.Errorf("estimates missing: %d/%d", reply.PromptTokens, reply.CompletionTokens)
	}
}
