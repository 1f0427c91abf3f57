// Package anthropicmsg implements the anthropic-messages provider kind
// using the official Anthropic Go SDK. The SDK supplies the x-api-key and
// anthropic-version headers.
package anthropicmsg

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/crossmindhq/consensus/internal/providers"
)

const defaultMaxTokens = 4096

// Adapter implements providers.Adapter for Anthropic messages.
type Adapter struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	clients map[string]anthropic.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates an Anthropic Adapter sharing the given HTTP client.
func New(client *http.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:  client,
		clients: make(map[string]anthropic.Client),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return providers.KindAnthropicMessages }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	maxTokens := call.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model.ModelName),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.Prompt)),
		},
	}
	if call.Temperature > 0 {
		params.Temperature = anthropic.Float(call.Temperature)
	}

	client := a.clientFor(call.Model)

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return a.failure(call, err, started)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}
	if sb.Len() == 0 {
		return providers.NewFailure(call, providers.ErrKindParse, "response has no text blocks", 0, started)
	}

	return providers.NewSuccess(call, sb.String(),
		int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), started)
}

func (a *Adapter) clientFor(m *providers.ModelDescriptor) anthropic.Client {
	key := m.Credential
	endpoint := m.Endpoint
	if a.baseURL != "" {
		endpoint = a.baseURL
	}
	cacheKey := key + "|" + endpoint

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[cacheKey]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(a.client),
		option.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}

	c := anthropic.NewClient(opts...)
	a.clients[cacheKey] = c
	return c
}

func (a *Adapter) failure(call *providers.Call, err error, started time.Time) *providers.Reply {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.NewFailure(call, providers.ErrKindHTTP, apiErr.Error(), apiErr.StatusCode, started)
	}
	return providers.NewFailureFromError(call, err, started)
}
