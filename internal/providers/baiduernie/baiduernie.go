// Package baiduernie implements the Baidu ERNIE wire protocol. ERNIE is a
// two-step API: an OAuth client-credentials exchange yields an access token
// cached here for 30 minutes, then chat requests carry the token as a query
// parameter.
package baiduernie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/crossmindhq/consensus/internal/providers"
)

const (
	defaultOAuthURL = "https://aip.baidubce.com/oauth/2.0/token"
	defaultBaseURL  = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat"

	tokenTTL = 30 * time.Minute
	// Refresh slightly early so an in-flight call never races expiry.
	tokenSlack = time.Minute
)

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID        string `json:"id"`
	Result    string `json:"result"`
	Usage     usage  `json:"usage"`
	ErrorCode int    `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type cachedToken struct {
	value   string
	expires time.Time
}

// Adapter implements providers.Adapter for Baidu ERNIE.
type Adapter struct {
	oauthURL string
	baseURL  string
	client   *http.Client

	mu     sync.Mutex
	tokens map[string]cachedToken // keyed by API key
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the chat API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// WithOAuthURL overrides the token endpoint (useful for testing).
func WithOAuthURL(u string) Option {
	return func(a *Adapter) { a.oauthURL = u }
}

// New creates an ERNIE Adapter.
func New(client *http.Client, opts ...Option) *Adapter {
	a := &Adapter{
		oauthURL: defaultOAuthURL,
		baseURL:  defaultBaseURL,
		client:   client,
		tokens:   make(map[string]cachedToken),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Kind() string { return providers.KindBaiduErnie }

func (a *Adapter) Invoke(ctx context.Context, call *providers.Call) *providers.Reply {
	started := time.Now()

	token, err := a.accessToken(ctx, call.Model.Credential, call.Model.CredentialSecret)
	if err != nil {
		return providers.NewFailureFromError(call, err, started)
	}

	body, err := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: call.Prompt}},
		Temperature: call.Temperature,
	})
	if err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "marshal request: "+err.Error(), 0, started)
	}

	base := a.baseURL
	if call.Model.Endpoint != "" {
		base = call.Model.Endpoint
	}
	endpoint := fmt.Sprintf("%s/%s?access_token=%s", base, call.Model.ModelName, url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return providers.NewFailure(call, providers.ErrKindHTTP, err.Error(), 0, started)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return providers.NewFailureFromError(call, err, started)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return providers.NewFailure(call, providers.ErrKindHTTP,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body), resp.StatusCode, started)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return providers.NewFailure(call, providers.ErrKindParse, "decode response: "+err.Error(), resp.StatusCode, started)
	}

	// ERNIE reports application errors inside a 200 body. Codes 110 and 111
	// mean the access token is invalid or expired.
	if cr.ErrorCode != 0 {
		if cr.ErrorCode == 110 || cr.ErrorCode == 111 {
			a.invalidateToken(call.Model.Credential)
		}
		return providers.NewFailure(call, providers.ErrKindHTTP,
			fmt.Sprintf("ernie error %d: %s", cr.ErrorCode, cr.ErrorMsg), resp.StatusCode, started)
	}
	if cr.Result == "" {
		return providers.NewFailure(call, providers.ErrKindParse, "response has empty result", resp.StatusCode, started)
	}

	return providers.NewSuccess(call, cr.Result, cr.Usage.PromptTokens, cr.Usage.CompletionTokens, started)
}

// accessToken returns a cached token for the key pair, exchanging
// credentials when the cache is cold or near expiry.
func (a *Adapter) accessToken(ctx context.Context, apiKey, secretKey string) (string, error) {
	a.mu.Lock()
	if tok, ok := a.tokens[apiKey]; ok && time.Until(tok.expires) > tokenSlack {
		a.mu.Unlock()
		return tok.value, nil
	}
	a.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", apiKey)
	form.Set("client_secret", secretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.oauthURL+"?"+form.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("ernie: token request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ernie: token exchange: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("ernie: decode token response: %w", err)
	}
	if tr.Error != "" || tr.AccessToken == "" {
		return "", fmt.Errorf("ernie: token exchange failed: %s %s", tr.Error, tr.ErrorDescription)
	}

	a.mu.Lock()
	a.tokens[apiKey] = cachedToken{value: tr.AccessToken, expires: time.Now().Add(tokenTTL)}
	a.mu.Unlock()

	return tr.AccessToken, nil
}

func (a *Adapter) invalidateToken(apiKey string) {
	a.mu.Lock()
	delete(a.tokens, apiKey)
	a.mu.Unlock()
}
