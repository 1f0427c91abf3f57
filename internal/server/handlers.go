package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/crossmindhq/consensus/internal/analytics"
	"github.com/crossmindhq/consensus/internal/consensus"
	"github.com/crossmindhq/consensus/pkg/apierr"
)

// handleConsensus serves POST /consensus.
func (s *Server) handleConsensus(ctx *fasthttp.RequestCtx) {
	var raw consensus.RawRequest
	if err := decodeStrict(ctx.PostBody(), &raw); err != nil {
		apierr.Write(ctx, apierr.KindInvalidRequest, err.Error())
		return
	}

	req, err := consensus.Normalize(&raw, s.engine.Table())
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	res, err := s.engine.Run(s.requestContext(ctx), req)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	writeJSON(ctx, res)
}

type (
	batchRequest struct {
		Queries []consensus.RawRequest `json:"queries"`
	}

	batchError struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}

	batchEntry struct {
		Index  int               `json:"index"`
		Result *consensus.Result `json:"result,omitempty"`
		Error  *batchError       `json:"error,omitempty"`
	}

	batchSummary struct {
		Total     int     `json:"total"`
		Succeeded int     `json:"succeeded"`
		Failed    int     `json:"failed"`
		MeanScore float64 `json:"mean_score"`
		ElapsedMS int64   `json:"elapsed_ms"`
	}

	batchResponse struct {
		Results []batchEntry `json:"results"`
		Summary batchSummary `json:"summary"`
	}
)

// handleBatch serves POST /consensus/batch: up to 50 queries, validated
// up front, executed with bounded concurrency. Individual failures do not
// fail the batch.
func (s *Server) handleBatch(ctx *fasthttp.RequestCtx) {
	var body batchRequest
	if err := decodeStrict(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, apierr.KindInvalidRequest, err.Error())
		return
	}
	if len(body.Queries) == 0 {
		apierr.Write(ctx, apierr.KindInvalidRequest, "queries must not be empty")
		return
	}
	if len(body.Queries) > batchMaxQueries {
		apierr.Write(ctx, apierr.KindInvalidRequest,
			fmt.Sprintf("batch exceeds %d queries", batchMaxQueries))
		return
	}

	start := time.Now()
	rctx := s.requestContext(ctx)
	entries := make([]batchEntry, len(body.Queries))

	g, gctx := errgroup.WithContext(rctx)
	g.SetLimit(batchConcurrency)

	for i := range body.Queries {
		i := i
		g.Go(func() error {
			entries[i] = s.runBatchEntry(gctx, i, &body.Queries[i])
			return nil
		})
	}
	g.Wait()

	summary := batchSummary{Total: len(entries), ElapsedMS: time.Since(start).Milliseconds()}
	var scoreSum float64
	for _, e := range entries {
		if e.Result != nil {
			summary.Succeeded++
			scoreSum += e.Result.ConsensusScore
		} else {
			summary.Failed++
		}
	}
	if summary.Succeeded > 0 {
		summary.MeanScore = scoreSum / float64(summary.Succeeded)
	}

	writeJSON(ctx, batchResponse{Results: entries, Summary: summary})
}

func (s *Server) runBatchEntry(ctx context.Context, idx int, raw *consensus.RawRequest) batchEntry {
	entry := batchEntry{Index: idx}

	req, err := consensus.Normalize(raw, s.engine.Table())
	if err != nil {
		entry.Error = toBatchError(err)
		return entry
	}

	res, err := s.engine.Run(ctx, req)
	if err != nil {
		entry.Error = toBatchError(err)
		return entry
	}
	entry.Result = res
	return entry
}

// handleModels serves GET /models.
func (s *Server) handleModels(ctx *fasthttp.RequestCtx) {
	table := s.engine.Table()
	writeJSON(ctx, map[string]any{
		"models":         table.All(),
		"default_models": table.Defaults(),
		"count":          table.Len(),
	})
}

// handleAnalyticsPerformance serves GET /analytics/performance with query
// parameters timeframe (1h|24h|7d|30d) and metric_type (summary|models|trend).
func (s *Server) handleAnalyticsPerformance(ctx *fasthttp.RequestCtx) {
	if s.analytics == nil {
		apierr.Write(ctx, apierr.KindInternalError, "analytics store unavailable")
		return
	}

	timeframe := string(ctx.QueryArgs().Peek("timeframe"))
	window, err := analytics.ParseWindow(timeframe)
	if err != nil {
		apierr.Write(ctx, apierr.KindInvalidRequest, err.Error())
		return
	}

	rctx, cancel := context.WithTimeout(s.requestContext(ctx), 10*time.Second)
	defer cancel()

	metricType := string(ctx.QueryArgs().Peek("metric_type"))
	switch metricType {
	case "", "summary":
		sum, err := s.analytics.Summary(rctx, window)
		if err != nil {
			s.analyticsError(ctx, err)
			return
		}
		writeJSON(ctx, sum)

	case "models":
		perf, err := s.analytics.ModelPerformance(rctx, window)
		if err != nil {
			s.analyticsError(ctx, err)
			return
		}
		writeJSON(ctx, map[string]any{"window": windowLabel(timeframe), "models": perf})

	case "trend":
		trend, err := s.analytics.Trend(rctx, window, trendBucket(window))
		if err != nil {
			s.analyticsError(ctx, err)
			return
		}
		writeJSON(ctx, map[string]any{"window": windowLabel(timeframe), "points": trend})

	default:
		apierr.Write(ctx, apierr.KindInvalidRequest,
			fmt.Sprintf("unknown metric_type %q", metricType))
	}
}

func (s *Server) analyticsError(ctx *fasthttp.RequestCtx, err error) {
	s.log.Error("analytics_query_failed", slog.String("error", err.Error()))
	apierr.Write(ctx, apierr.KindInternalError, "analytics query failed")
}

func windowLabel(timeframe string) string {
	if timeframe == "" {
		return "24h"
	}
	return timeframe
}

// trendBucket slices a window into 48 buckets, floored at one minute.
func trendBucket(window time.Duration) time.Duration {
	b := (window / 48).Truncate(time.Minute)
	if b < time.Minute {
		b = time.Minute
	}
	return b
}

type feedbackRequest struct {
	ConsensusID string `json:"consensus_id"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
}

const maxFeedbackComment = 2000

// handleFeedback serves POST /feedback. Feedback is write-only into
// analytics and never influences scoring.
func (s *Server) handleFeedback(ctx *fasthttp.RequestCtx) {
	var body feedbackRequest
	if err := decodeStrict(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, apierr.KindInvalidRequest, err.Error())
		return
	}
	if body.ConsensusID == "" {
		apierr.Write(ctx, apierr.KindInvalidRequest, "consensus_id is required")
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		apierr.Write(ctx, apierr.KindInvalidRequest, "rating must be between 1 and 5")
		return
	}
	if len(body.Comment) > maxFeedbackComment {
		apierr.Write(ctx, apierr.KindInvalidRequest,
			fmt.Sprintf("comment exceeds %d characters", maxFeedbackComment))
		return
	}

	if s.sink != nil {
		s.sink.RecordFeedback(analytics.FeedbackRecord{
			ConsensusID: body.ConsensusID,
			Rating:      body.Rating,
			Comment:     body.Comment,
		})
	}
	writeJSON(ctx, map[string]string{"status": "recorded"})
}

// handleHealth serves GET /health without auth.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	out := map[string]any{
		"status":  "ok",
		"version": s.version,
		"models":  s.engine.Table().Len(),
	}

	switch {
	case s.cache == nil:
		out["cache"] = "disabled"
	default:
		pctx, cancel := context.WithTimeout(s.baseCtx, healthPingTimeout)
		if err := s.cache.Ping(pctx); err != nil {
			out["cache"] = "degraded"
		} else {
			out["cache"] = "ok"
		}
		cancel()
	}

	if s.sink != nil {
		out["analytics_backlog"] = s.sink.Backlog()
		out["analytics_dropped"] = s.sink.Dropped()
	}

	writeJSON(ctx, out)
}

// requestContext derives the per-request context from the process lifetime
// context; the engine applies the request budget itself.
func (s *Server) requestContext(_ *fasthttp.RequestCtx) context.Context {
	return s.baseCtx
}

// writeError translates validation and engine errors into the envelope.
func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error) {
	var ve *consensus.ValidationError
	if errors.As(err, &ve) {
		apierr.WriteDetails(ctx, apierr.KindInvalidRequest, ve.Message,
			map[string]any{"field": ve.Field})
		return
	}

	var ce *consensus.Error
	if errors.As(err, &ce) {
		apierr.Write(ctx, ce.Kind, ce.Message)
		return
	}

	s.log.Error("request_failed", slog.String("error", err.Error()))
	apierr.Write(ctx, apierr.KindInternalError, "internal server error")
}

func toBatchError(err error) *batchError {
	var ve *consensus.ValidationError
	if errors.As(err, &ve) {
		return &batchError{ErrorCode: apierr.KindInvalidRequest, Message: ve.Error()}
	}
	var ce *consensus.Error
	if errors.As(err, &ce) {
		return &batchError{ErrorCode: ce.Kind, Message: ce.Message}
	}
	return &batchError{ErrorCode: apierr.KindInternalError, Message: "internal error"}
}

// decodeStrict parses JSON rejecting unknown fields.
func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.Write(ctx, apierr.KindInternalError, "response encoding failed")
		return
	}
	ctx.SetBody(data)
}
