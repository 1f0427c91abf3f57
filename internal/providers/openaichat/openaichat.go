// Package openaichat implements the openai-chat provider kind using the
// official OpenAI Go SDK.
package openaichat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/crossmindhq/consensus/internal/providers"
)

// Adapter implements providers.Adapter for OpenAI chat completions.
// SDK clients are cached per credential so descriptors with distinct keys
// do not rebuild a client on every call.
type Adapter struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	clients map[string]openaiSDK.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates an OpenAI Adapter sharing the given HTTP client.
func New(client *http.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:  client,
		clients: make(map[string]openaiSDK.Client),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return providers.KindOpenAIChat }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	params := openaiSDK.ChatCompletionNewParams{
		Model: call.Model.ModelName,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.UserMessage(call.Prompt),
		},
	}
	if call.Temperature > 0 {
		params.Temperature = openaiSDK.Float(call.Temperature)
	}
	if call.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(call.MaxTokens))
	}

	client := a.clientFor(call.Model)

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return a.failure(call, err, started)
	}
	if len(resp.Choices) == 0 {
		return providers.NewFailure(call, providers.ErrKindParse, "response has no choices", 0, started)
	}

	return providers.NewSuccess(call, resp.Choices[0].Message.Content,
		int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), started)
}

func (a *Adapter) clientFor(m *providers.ModelDescriptor) openaiSDK.Client {
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

	// Retries are the engine's job; the SDK must not add its own.
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(a.client),
		option.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}

	c := openaiSDK.NewClient(opts...)
	a.clients[cacheKey] = c
	return c
}

func (a *Adapter) failure(call *providers.Call, err error, started time.Time) *providers.Reply {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return providers.NewFailure(call, providers.ErrKindHTTP, apiErr.Error(), apiErr.StatusCode, started)
	}
	return providers.NewFailureFromError(call, err, started)
}
