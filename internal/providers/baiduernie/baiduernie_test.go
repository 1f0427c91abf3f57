package baiduernie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/crossmindhq/consensus/internal/providers"
)

func baseCall() *providers.Call {
	return &providers.Call{
		Model: &providers.ModelDescriptor{
			ID:               "ernie-bot",
			Kind:             providers.KindBaiduErnie,
			ModelName:        "completions",
			Credential:       "mock-api-key",
			CredentialSecret: "mock-secret-key",
			MaxTokens:        256,
			Enabled:          true,
		},
		Prompt:      "Hello",
		Temperature: 0.7,
		MaxTokens:   256,
		Attempt:     1,
	}
}

func newServers(t *testing.T, tokenCalls *int64, chat http.HandlerFunc) (*Adapter, func()) {
	t.Helper()

	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(tokenCalls, 1)
		q := r.URL.Query()
		if q.Get("grant_type") != "client_credentials" {
			t.Errorf("expected grant_type client_credentials, got %q", q.Get("grant_type"))
		}
		if q.Get("client_id") != "mock-api-key" || q.Get("client_secret") != "mock-secret-key" {
			t.Errorf("wrong credentials: %s / %s", q.Get("client_id"), q.Get("client_secret"))
		}
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-123", ExpiresIn: 2592000})
	}))

	chatSrv := httptest.NewServer(chat)

	a := New(chatSrv.Client(), WithOAuthURL(oauth.URL), WithBaseURL(chatSrv.URL))
	return a, func() {
		oauth.Close()
		chatSrv.Close()
	}
}

func TestAdapter_Kind(t *testing.T) {
	a := New(http.DefaultClient)
	if a.Kind() != providers.KindBaiduErnie {
		t.Fatalf("expected %q, got %q", providers.KindBaiduErnie, a.Kind())
	}
}

func TestAdapter_Invoke_Success(t *testing.T) {
	var tokenCalls int64

	a, cleanup := newServers(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("expected path /completions, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "tok-123" {
			t.Errorf("missing access token, got %q", r.URL.Query().Get("access_token"))
		}

		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if len(body.Messages) != 1 || body.Messages[0].Content != "Hello" {
			t.Errorf("unexpected messages: %v", body.Messages)
		}

		json.NewEncoder(w).Encode(chatResponse{
			ID:     "ernie-1",
			Result: "你好！",
			Usage:  usage{PromptTokens: 2, CompletionTokens: 3},
		})
	})
	defer cleanup()

	reply := a.Invoke(context.Background(), baseCall())
	if !reply.Success {
		t.Fatalf("expected success, got %s: %s", reply.ErrorKind, reply.ErrorDetail)
	}
	if reply.Text != "你好！" {
		t.Errorf("expected result text, got %q", reply.Text)
	}
	if reply.PromptTokens != 2 || reply.CompletionTokens != 3 {
		t.Errorf("expected usage 2/3, got %d/%d", reply.PromptTokens, reply.CompletionTokens)
	}
}

func TestAdapter_Invoke_TokenCached(t *testing.T) {
	var tokenCalls int64

	a, cleanup := newServers(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Result: "ok"})
	})
	defer cleanup()

	for i := 0; i < 3; i++ {
		if reply := a.Invoke(context.Background(), baseCall()); !reply.Success {
			t.Fatalf("call %d failed: %s", i, reply.ErrorKind)
		}
	}
	if n := atomic.LoadInt64(&tokenCalls); n != 1 {
		t.Fatalf("token exchanged %d times across 3 calls, want 1", n)
	}
}

func TestAdapter_Invoke_InBodyErrorInvalidatesToken(t *testing.T) {
	var tokenCalls int64
	var chatCalls int64

	a, cleanup := newServers(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&chatCalls, 1) == 1 {
			// ERNIE reports an expired token inside a 200 body.
			json.NewEncoder(w).Encode(chatResponse{ErrorCode: 111, ErrorMsg: "Access token expired"})
			return
		}
		json.NewEncoder(w).Encode(chatResponse{Result: "recovered"})
	})
	defer cleanup()

	reply := a.Invoke(context.Background(), baseCall())
	if reply.Success {
		t.Fatal("expected in-body error to fail the call")
	}
	if reply.ErrorKind != providers.ErrKindHTTP {
		t.Errorf("expected provider_http_error, got %q", reply.ErrorKind)
	}

	// The expired token was dropped: the next call re-exchanges.
	reply = a.Invoke(context.Background(), baseCall())
	if !reply.Success {
		t.Fatalf("expected recovery, got %s", reply.ErrorKind)
	}
	if n := atomic.LoadInt64(&tokenCalls); n != 2 {
		t.Fatalf("token exchanged %d times, want 2 after invalidation", n)
	}
}

func TestAdapter_Invoke_TokenExchangeFailure(t *testing.T) {
	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{Error: "invalid_client", ErrorDescription: "unknown client id"})
	}))
	defer oauth.Close()

	a := New(oauth.Client(), WithOAuthURL(oauth.URL))
	reply := a.Invoke(context.Background(), baseCall())

	if reply.Success {
		t.Fatal("expected failure when the token exchange is rejected")
	}
	if reply.ErrorKind != providers.ErrKindHTTP {
		t.Errorf("expected provider_http_error, got %q", reply.ErrorKind)
	}
}
