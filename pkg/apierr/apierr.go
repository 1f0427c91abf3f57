// Package apierr provides the uniform API error envelope and the mapping
// from internal error kinds to HTTP status codes.
package apierr

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// Error kind constants surfaced in the envelope's error_code field.
const (
	KindInvalidRequest    = "invalid_request"
	KindUnauthorized      = "unauthorized"
	KindForbidden         = "forbidden"
	KindRateLimited       = "rate_limited"
	KindProviderTimeout   = "provider_timeout"
	KindProviderHTTPError = "provider_http_error"
	KindProviderParseErr  = "provider_parse_error"
	KindCanceled          = "canceled"
	KindDeadlineExceeded  = "deadline_exceeded"
	KindConsensusFailed   = "consensus_failed"
	KindOverloaded        = "overloaded"
	KindInternalError     = "internal_error"
)

// StatusClientClosedRequest is the nginx-style status for a client that
// disconnected before the response was ready. fasthttp has no constant for it.
const StatusClientClosedRequest = 499

// Envelope is the JSON body of every non-2xx response.
type Envelope struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Status maps an error kind to its HTTP status code. Unknown kinds map
// to 500 so a forgotten entry can never downgrade an error to a success.
func Status(kind string) int {
	switch kind {
	case KindInvalidRequest:
		return fasthttp.StatusBadRequest
	case KindUnauthorized:
		return fasthttp.StatusUnauthorized
	case KindForbidden:
		return fasthttp.StatusForbidden
	case KindRateLimited:
		return fasthttp.StatusTooManyRequests
	case KindCanceled:
		return StatusClientClosedRequest
	case KindDeadlineExceeded:
		return fasthttp.StatusRequestTimeout
	case KindConsensusFailed:
		return fasthttp.StatusUnprocessableEntity
	case KindOverloaded:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Write writes the envelope for kind with the status from Status(kind).
func Write(ctx *fasthttp.RequestCtx, kind, message string) {
	WriteDetails(ctx, kind, message, nil)
}

// WriteDetails writes the envelope with an optional details map.
func WriteDetails(ctx *fasthttp.RequestCtx, kind, message string, details map[string]any) {
	ctx.SetStatusCode(Status(kind))
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(Envelope{
		ErrorCode: kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	ctx.SetBody(body)
}

// WriteRateLimited writes a 429 with the Retry-After hint in seconds.
func WriteRateLimited(ctx *fasthttp.RequestCtx, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	Write(ctx, KindRateLimited, "rate limit exceeded")
}

// WriteOverloaded writes a 503 with Retry-After: 1.
func WriteOverloaded(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "1")
	Write(ctx, KindOverloaded, "server is at capacity, retry shortly")
}
