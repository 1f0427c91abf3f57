// Package googlegen implements the google-generate provider kind using the
// official Google GenAI SDK (Gemini API backend).
package googlegen

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/crossmindhq/consensus/internal/providers"
)

// Adapter implements providers.Adapter for Google generateContent.
type Adapter struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates a Google Adapter sharing the given HTTP client.
func New(client *http.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:  client,
		clients: make(map[string]*genai.Client),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return providers.KindGoogleGenerate }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	client, err := a.clientFor(ctx, call.Model)
	if err != nil {
		return providers.NewFailureFromError(call, err, started)
	}

	contents := []*genai.Content{genai.NewContentFromText(call.Prompt, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if call.Temperature > 0 {
		cfg.Temperature = genai.Ptr[float32](float32(call.Temperature))
	}
	if call.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(call.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, call.Model.ModelName, contents, cfg)
	if err != nil {
		return a.failure(call, err, started)
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if text == "" {
		return providers.NewFailure(call, providers.ErrKindParse, "response has no candidates", 0, started)
	}

	var inTok, outTok int
	if resp.UsageMetadata != nil {
		inTok = int(resp.UsageMetadata.PromptTokenCount)
		outTok = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return providers.NewSuccess(call, text, inTok, outTok, started)
}

func (a *Adapter) clientFor(ctx context.Context, m *providers.ModelDescriptor) (*genai.Client, error) {
	key := m.Credential
	endpoint := m.Endpoint
	if a.baseURL != "" {
		endpoint = a.baseURL
	}
	cacheKey := key + "|" + endpoint

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[cacheKey]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: a.client,
	}
	if endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.clients[cacheKey] = c
	return c, nil
}

func (a *Adapter) failure(call *providers.Call, err error, started time.Time) *providers.Reply {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewFailure(call, providers.ErrKindHTTP, apiErr.Message, apiErr.Code, started)
	}
	return providers.NewFailureFromError(call, err, started)
}
