package embedding

import (
	"context"
	"fmt"
	"net/http"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultRemoteModel = "text-embedding-3-small"

// Remote embeds through the OpenAI embeddings endpoint. Dimensions are
// requested explicitly so remote vectors line up with the local fallback.
type Remote struct {
	model   string
	dim     int
	baseURL string
	client  openaiSDK.Client
}

var _ Embedder = (*Remote)(nil)

// Option configures a Remote embedder.
type Option func(*Remote)

// WithModel overrides the embedding model name.
func WithModel(model string) Option {
	return func(r *Remote) {
		if model != "" {
			r.model = model
		}
	}
}

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(r *Remote) { r.baseURL = u }
}

// NewRemote creates a Remote embedder using the given API key and shared
// HTTP client.
func NewRemote(apiKey string, httpClient *http.Client, opts ...Option) *Remote {
	r := &Remote{
		model: defaultRemoteModel,
		dim:   DefaultDim,
	}
	for _, o := range opts {
		o(r)
	}

	// The engine owns the retry policy.
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if r.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(r.baseURL))
	}
	r.client = openaiSDK.NewClient(clientOpts...)

	return r
}

func (r *Remote) Dim() int { return r.dim }

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := r.client.Embeddings.New(ctx, openaiSDK.EmbeddingNewParams{
		Model: openaiSDK.EmbeddingModel(r.model),
		Input: openaiSDK.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Dimensions: openaiSDK.Int(int64(r.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: remote: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding: remote: empty response")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	normalize(vec)
	return vec, nil
}
