// Package coheregen implements the Cohere generate wire protocol.
package coheregen

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

const defaultBaseURL = "https://api.cohere.ai/v1"

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	ID          string       `json:"id"`
	Generations []generation `json:"generations"`
	Message     string       `json:"message,omitempty"`
	Meta        *meta        `json:"meta,omitempty"`
}

type generation struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type meta struct {
	BilledUnits *billedUnits `json:"billed_units,omitempty"`
}

type billedUnits struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Adapter implements providers.Adapter for Cohere's generate endpoint.
type Adapter struct {
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

// New creates a Cohere Adapter.
func New(client *http.Client, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: defaultBaseURL,
		client:  client,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return providers.KindCohereGenerate }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	body, err := json.Marshal(generateRequest{
		Model:       call.Model.ModelName,
		Prompt:      call.Prompt,
		MaxTokens:   call.MaxTokens,
		Temperature: call.Temperature,
	})
	if err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "marshal request: "+err.Error(), 0, started)
	}

	base := a.baseURL
	if call.Model.Endpoint != "" {
		base = call.Model.Endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/generate", bytes.NewReader(body))
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

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "decode response: "+err.Error(), resp.StatusCode, started)
	}
	if len(gr.Generations) == 0 {
		return providers.NewFailure(call, providers.ErrKindParse, "response has no generations", resp.StatusCode, started)
	}

	var inTok, outTok int
	if gr.Meta != nil && gr.Meta.BilledUnits != nil {
		inTok = gr.Meta.BilledUnits.InputTokens
		outTok = gr.Meta.BilledUnits.OutputTokens
	}

	return providers.NewSuccess(call, gr.Generations[0].Text, inTok, outTok, started)
}

func readErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var gr generateResponse
	if json.Unmarshal(body, &gr) == nil && gr.Message != "" {
		return gr.Message
	}
	return fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
