// Package providers defines the common types shared by all LLM provider
// adapters (OpenAI, Anthropic, Google, Cohere, Zhipu, Baidu ERNIE, Moonshot,
// Mistral).
//
// Each wire family lives in its own sub-package and implements the Adapter
// interface. Adapters are resolved once at startup through a Registry keyed
// by provider kind.
package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Provider kinds. Each value names a wire protocol, not a vendor brand:
// several vendors share the openai-compatible chat protocol.
const (
	KindOpenAIChat        = "openai-chat"
	KindAnthropicMessages = "anthropic-messages"
	KindGoogleGenerate    = "google-generate"
	KindCohereGenerate    = "cohere-generate"
	KindZhipuChat         = "zhipu-chat"
	KindBaiduErnie        = "baidu-ernie"
	KindMoonshotChat      = "moonshot-chat"
	KindMistralChat       = "mistral-chat"
)

// Reply error kinds. Empty means success.
const (
	ErrKindTimeout  = "provider_timeout"
	ErrKindHTTP     = "provider_http_error"
	ErrKindParse    = "provider_parse_error"
	ErrKindCanceled = "canceled"
)

// HTTP client defaults shared by every adapter.
const (
	DialTimeout          = 5 * time.Second
	MaxIdleConnsPerHost  = 64
	DefaultRawConfidence = 0.5
)

type (
	// ModelDescriptor is an immutable configuration entry for one model.
	// Loaded at startup from the model descriptor file; replaced wholesale
	// on config reload.
	ModelDescriptor struct {
		ID              string   `json:"id" yaml:"-"`
		Kind            string   `json:"provider_kind" yaml:"provider_kind"`
		Endpoint        string   `json:"endpoint,omitempty" yaml:"endpoint"`
		ModelName       string   `json:"model_name" yaml:"model_name"`
		CredentialRef   string   `json:"credential_ref" yaml:"credential_ref"`
		SecretRef       string   `json:"secret_ref,omitempty" yaml:"secret_ref"`
		MaxTokens       int      `json:"max_tokens" yaml:"max_tokens"`
		Temperature     float64  `json:"temperature" yaml:"temperature"`
		Enabled         bool     `json:"enabled" yaml:"enabled"`
		CostPer1KTokens float64  `json:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
		DisplayName     string   `json:"display_name" yaml:"display_name"`
		Specialties     []string `json:"specialties,omitempty" yaml:"specialties"`

		// Resolved secrets. Never serialized.
		Credential       string `json:"-" yaml:"-"`
		CredentialSecret string `json:"-" yaml:"-"`
	}

	// Call is one unit of work handed to an adapter. The deadline travels
	// on the context; Attempt is informational (1-based).
	Call struct {
		Model       *ModelDescriptor
		Prompt      string
		Temperature float64
		MaxTokens   int
		Attempt     int
	}

	// Reply is the canonical result of one provider call. Adapters never
	// return Go errors for vendor failures: every outcome is a Reply, with
	// Success=false and an ErrorKind when the call did not produce text.
	Reply struct {
		ModelID          string        `json:"model_id"`
		Text             string        `json:"text,omitempty"`
		Success          bool          `json:"success"`
		ErrorKind        string        `json:"error_kind,omitempty"`
		ErrorDetail      string        `json:"error_detail,omitempty"`
		HTTPStatus       int           `json:"-"`
		Latency          time.Duration `json:"-"`
		LatencyMS        int64         `json:"latency_ms"`
		PromptTokens     int           `json:"prompt_tokens"`
		CompletionTokens int           `json:"completion_tokens"`
		TokensEstimated  bool          `json:"tokens_estimated,omitempty"`
		RawConfidence    float64       `json:"raw_confidence"`
	}
)

// Adapter turns a canonical Call into one provider-specific HTTP exchange.
//
// Contract: returns within the context deadline, never panics, performs no
// retries (retry policy is the engine's), and always sets Latency measured
// from call entry.
type Adapter interface {
	Kind() string
	Invoke(ctx context.Context, call *Call) *Reply
}

// Transient reports whether retrying the same call within the remaining
// budget has a non-trivial success probability. Timeouts, connection-level
// failures (HTTPStatus 0) and 5xx responses are transient; 4xx, parse
// failures and cancellation are final.
func (r *Reply) Transient() bool {
	switch r.ErrorKind {
	case ErrKindTimeout:
		return true
	case ErrKindHTTP:
		return r.HTTPStatus == 0 || r.HTTPStatus >= 500
	default:
		return false
	}
}

// Registry resolves adapters by provider kind. Built once at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters. Duplicate kinds
// are a programming error and panic at startup.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := m[a.Kind()]; dup {
			panic(fmt.Sprintf("providers: duplicate adapter for kind %q", a.Kind()))
		}
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

// Lookup returns the adapter for kind, or an error when the kind is unknown.
func (r *Registry) Lookup(kind string) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("providers: no adapter registered for kind %q", kind)
	}
	return a, nil
}

// Kinds returns the registered kinds, for health reporting.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	return out
}

// NewHTTPClient builds the process-wide HTTP client shared by all adapters:
// keep-alives on, a deep per-host idle pool for parallel fan-out, and a
// bounded dial timeout so a dead endpoint fails fast.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// EstimateTokens approximates a token count when the vendor omits usage.
// Roughly four characters per token for western text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
