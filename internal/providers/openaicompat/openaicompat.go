// Package openaicompat implements the openai-compatible chat-completions
// wire protocol shared by several vendors. One Adapter instance serves one
// provider kind; Moonshot, Zhipu and Mistral differ only in their default
// base URL.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crossmindhq/consensus/internal/providers"
)

var defaultBaseURLs = map[string]string{
	providers.KindMoonshotChat: "https://api.moonshot.cn/v1",
	providers.KindZhipuChat:    "https://open.bigmodel.cn/api/paas/v4",
	providers.KindMistralChat:  "https://api.mistral.ai/v1",
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message      *chatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Adapter implements providers.Adapter for one openai-compatible kind.
type Adapter struct {
	kind    string
	baseURL string
	client  *http.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates an Adapter for the given kind. Panics on an unsupported kind
// so a wiring mistake surfaces at startup, not mid-request.
func New(kind string, client *http.Client, opts ...Option) *Adapter {
	base, ok := defaultBaseURLs[kind]
	if !ok {
		panic(fmt.Sprintf("openaicompat: unsupported kind %q", kind))
	}
	a := &Adapter{
		kind:    kind,
		baseURL: base,
		client:  client,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return a.kind }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:       call.Model.ModelName,
		Messages:    []chatMessage{{Role: "user", Content: call.Prompt}},
		Temperature: call.Temperature,
		MaxTokens:   call.MaxTokens,
	})
	if err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "marshal request: "+err.Error(), 0, started)
	}

	base := a.baseURL
	if call.Model.Endpoint != "" {
		base = call.Model.Endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return providers.NewFailure(call, providers.ErrKindHTTP, err.Error(), 0, started)
	}
	req.Header.Set("Authorization", "Bearer "+call.Model.Credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return providers.NewFailureFromError(call, err, started)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.NewFailure(call, providers.ErrKindHTTP, readErrorMessage(resp), resp.StatusCode, started)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "decode response: "+err.Error(), resp.StatusCode, started)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message == nil {
		return providers.NewFailure(call, providers.ErrKindParse, "response has no choices", resp.StatusCode, started)
	}

	return providers.NewSuccess(call, cr.Choices[0].Message.Content,
		cr.Usage.PromptTokens, cr.Usage.CompletionTokens, started)
}

func readErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != nil {
		return cr.Error.Message
	}
	return fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
