package coheregen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crossmindhq/consensus/internal/providers"
)

func baseCall() *providers.Call {
	return &providers.Call{
		Model: &providers.ModelDescriptor{
			ID:         "cohere-command",
			Kind:       providers.KindCohereGenerate,
			ModelName:  "command",
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
	a := New(http.DefaultClient)
	if a.Kind() != providers.KindCohereGenerate {
		t.Fatalf("expected %q, got %q", providers.KindCohereGenerate, a.Kind())
	}
}

func TestAdapter_Invoke_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/generate" {
			t.Errorf("expected path /generate, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}

		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Model != "command" {
			t.Errorf("expected model 'command', got %q", body.Model)
		}
		if body.Prompt != "Hello" {
			t.Errorf("expected prompt 'Hello', got %q", body.Prompt)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{
			ID:          "gen-1",
			Generations: []generation{{ID: "g1", Text: "Hi there."}},
			Meta:        &meta{BilledUnits: &billedUnits{InputTokens: 3, OutputTokens: 5}},
		})
	}))
	defer srv.Close()

	a := New(srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if !reply.Success {
		t.Fatalf("expected success, got %s: %s", reply.ErrorKind, reply.ErrorDetail)
	}
	if reply.Text != "Hi there." {
		t.Errorf("expected text 'Hi there.', got %q", reply.Text)
	}
	if reply.PromptTokens != 3 || reply.CompletionTokens != 5 {
		t.Errorf("expected billed units 3/5, got %d/%d", reply.PromptTokens, reply.CompletionTokens)
	}
	if reply.TokensEstimated {
		t.Error("billed units must not be flagged as estimated")
	}
}

func TestAdapter_Invoke_VendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(generateResponse{Message: "invalid api token"})
	}))
	defer srv.Close()

	a := New(srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure")
	}
	if reply.ErrorKind != providers.ErrKindHTTP {
		t.Errorf("expected provider_http_error, got %q", reply.ErrorKind)
	}
	if reply.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", reply.HTTPStatus)
	}
	if reply.ErrorDetail != "invalid api token" {
		t.Errorf("expected vendor message, got %q", reply.ErrorDetail)
	}
	if reply.Transient() {
		t.Error("401 is final, not transient")
	}
}

func TestAdapter_Invoke_EmptyGenerations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{ID: "gen-2"})
	}))
	defer srv.Close()

	a := New(srv.Client(), WithBaseURL(srv.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure")
	}
	if reply.ErrorKind != providers.ErrKindParse {
		t.Errorf("expected provider_parse_error, got %q", reply.ErrorKind)
	}
}
