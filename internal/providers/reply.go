package providers

import (
	"context"
	"errors"
	"net"
	"time"
)

// NewSuccess builds a successful Reply. Token counts of zero are replaced
// with a length estimate and flagged as estimated.
func NewSuccess(call *Call, text string, promptTokens, completionTokens int, started time.Time) *Reply {
	r := &Reply{
		ModelID:          call.Model.ID,
		Text:             text,
		Success:          true,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		RawConfidence:    DefaultRawConfidence,
	}
	if r.PromptTokens == 0 {
		r.PromptTokens = EstimateTokens(call.Prompt)
		r.TokensEstimated = true
	}
	if r.CompletionTokens == 0 {
		r.CompletionTokens = EstimateTokens(text)
		r.TokensEstimated = true
	}
	r.setLatency(started)
	return r
}

// NewFailure builds a failed Reply with an explicit error kind.
func NewFailure(call *Call, kind, detail string, httpStatus int, started time.Time) *Reply {
	r := &Reply{
		ModelID:       call.Model.ID,
		ErrorKind:     kind,
		ErrorDetail:   detail,
		HTTPStatus:    httpStatus,
		RawConfidence: DefaultRawConfidence,
	}
	r.setLatency(started)
	return r
}

// NewFailureFromError classifies a transport-level error into a Reply.
// Deadline expiry maps to provider_timeout, cancellation to canceled, and
// everything else (dial failures, resets) to provider_http_error with
// status 0, which the retry policy treats as transient.
func NewFailureFromError(call *Call, err error, started time.Time) *Reply {
	return NewFailure(call, classifyTransportError(err), err.Error(), 0, started)
}

func (r *Reply) setLatency(started time.Time) {
	r.Latency = time.Since(started)
	r.LatencyMS = r.Latency.Milliseconds()
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrKindTimeout
	}
	return ErrKindHTTP
}
