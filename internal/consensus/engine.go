package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crossmindhq/consensus/internal/analytics"
	"github.com/crossmindhq/consensus/internal/cache"
	"github.com/crossmindhq/consensus/internal/embedding"
	"github.com/crossmindhq/consensus/internal/metrics"
	"github.com/crossmindhq/consensus/internal/providers"
)

// Engine defaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultFanoutWidth    = 10
	DefaultMaxRetries     = 2
	DefaultMinSuccess     = 2
	DefaultLowThreshold   = 0.85
	DefaultHighThreshold  = 0.90

	retryBaseDelay = 100 * time.Millisecond
)

// NoRetries switches the retry loop off. The Options zero value maps to
// DefaultMaxRetries, so disabling retries needs an explicit sentinel.
const NoRetries = -1

// Options tunes the engine. Zero values fall back to the defaults above;
// set MaxRetries to NoRetries to disable retries entirely.
type Options struct {
	RequestTimeout time.Duration
	FanoutWidth    int
	MaxRetries     int
	MinSuccess     int
	LowThreshold   float64
	HighThreshold  float64
}

func (o *Options) withDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.FanoutWidth <= 0 {
		o.FanoutWidth = DefaultFanoutWidth
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.MinSuccess <= 0 {
		o.MinSuccess = DefaultMinSuccess
	}
	if o.LowThreshold <= 0 {
		o.LowThreshold = DefaultLowThreshold
	}
	if o.HighThreshold <= 0 {
		o.HighThreshold = DefaultHighThreshold
	}
}

// Config wires the engine's dependencies. Registry, Table and Embedder are
// required; Store, Sink and Metrics are optional and disable their feature
// when nil.
type Config struct {
	Registry *providers.Registry
	Table    *providers.Table
	Embedder embedding.Embedder
	Store    *cache.Store
	Sink     *analytics.Sink
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	Options  Options
}

// Engine runs the consensus pipeline: parallel fan-out with retries, embed
// and score, optional critique-and-revise refinement, cache write-through
// and asynchronous analytics.
type Engine struct {
	registry *providers.Registry
	table    atomic.Pointer[providers.Table]
	embedder embedding.Embedder
	store    *cache.Store
	sink     *analytics.Sink
	metrics  *metrics.Registry
	log      *slog.Logger
	opts     Options

	sf singleflight.Group
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("consensus: registry must not be nil")
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("consensus: model table must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("consensus: embedder must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Options.withDefaults()

	e := &Engine{
		registry: cfg.Registry,
		embedder: cfg.Embedder,
		store:    cfg.Store,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.With(slog.String("component", "engine")),
		opts:     cfg.Options,
	}
	e.table.Store(cfg.Table)
	return e, nil
}

// Table returns the current model descriptor snapshot.
func (e *Engine) Table() *providers.Table {
	return e.table.Load()
}

// Reload swaps in a new descriptor snapshot. In-flight requests keep the
// snapshot they started with.
func (e *Engine) Reload(t *providers.Table) {
	e.table.Store(t)
}

// Run executes one normalised request end to end.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	fp := Fingerprint(req)
	start := time.Now()

	if req.EnableCaching && e.store != nil {
		if res, ok := e.cachedResult(ctx, fp); ok {
			res.TotalLatencyMS = time.Since(start).Milliseconds()
			if e.metrics != nil {
				e.metrics.CacheGetHit()
				e.metrics.ObserveConsensus(req.Method, "ok", true, res.ConsensusScore, time.Since(start))
			}
			e.recordQuery(res, req, fp, nil, true)
			return res, nil
		}
		if e.metrics != nil {
			e.metrics.CacheGetMiss()
		}

		// Identical concurrent requests share one pipeline run. Followers
		// receive the leader's result pointer; nobody mutates it afterwards.
		v, err, _ := e.sf.Do(fp, func() (any, error) {
			return e.run(ctx, req, fp)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Result), nil
	}

	if e.metrics != nil {
		e.metrics.CacheGetBypass()
	}
	return e.run(ctx, req, fp)
}

func (e *Engine) cachedResult(ctx context.Context, fp string) (*Result, bool) {
	raw, ok := e.store.GetResult(ctx, fp)
	if !ok {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		// Corrupt entry: treat as a miss and let the rerun overwrite it.
		e.log.Warn("cache_entry_corrupt", slog.String("fingerprint", fp))
		return nil, false
	}
	res.CacheHit = true
	return &res, true
}

// run is the uncached pipeline.
func (e *Engine) run(parent context.Context, req *Request, fp string) (*Result, error) {
	start := time.Now()
	table := e.table.Load()

	ctx, cancel := context.WithTimeout(parent, e.opts.RequestTimeout)
	defer cancel()

	replies := e.fanOut(ctx, req, table)

	var successIdx []int
	for i, r := range replies {
		if r.Success {
			successIdx = append(successIdx, i)
		}
	}

	if len(successIdx) < e.opts.MinSuccess {
		// Two models with a single survivor still produce a usable answer,
		// flagged partial with a zero score.
		if len(req.ModelIDs) == 2 && len(successIdx) == 1 {
			res := e.finalize(req, replies, successIdx, successIdx[0], 0, nil, nil, nil, start, table)
			res.Partial = true
			e.observeRun(req, "partial", res.ConsensusScore, start)
			e.recordQuery(res, req, fp, replies, false)
			return res, nil
		}

		err := e.classifyShortfall(parent, ctx, replies, len(successIdx))
		e.observeRun(req, err.Kind, 0, start)
		e.recordFailure(req, fp, replies, start)
		return nil, err
	}

	texts := make([]string, len(successIdx))
	for pos, i := range successIdx {
		texts[pos] = replies[i].Text
	}

	weights := renormalize(req.Weights, successIdx)

	var (
		score      float64
		agreements []float64
		embeddings [][]float32
		bestPos    int
		trace      []ChainRound
	)

	if identicalTexts(texts) {
		// Unanimous answers need no embeddings and no refinement.
		score = 1
		agreements = make([]float64, len(successIdx))
		for i := range agreements {
			agreements[i] = 1
		}
		bestPos = 0
	} else {
		var err error
		embeddings, err = e.embedAll(ctx, texts)
		if err != nil {
			e.observeRun(req, KindInternal, 0, start)
			e.recordFailure(req, fp, replies, start)
			return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("embedding failed: %v", err)}
		}

		sims := pairwiseSimilarities(embeddings)
		score = agreementScore(sims, weights)
		agreements = individualAgreements(sims, weights)
		bestPos = argmaxStable(agreements)

		if req.ChainDepth > 0 && (req.Method == MethodChain || score < e.opts.LowThreshold) {
			st := &refineState{
				bestText:   replies[successIdx[bestPos]].Text,
				bestPos:    bestPos,
				score:      score,
				embeddings: embeddings,
				weights:    weights,
			}
			trace = e.refine(ctx, req, table, st)
			score = st.score

			// Recompute per-model agreement against the final embedding set
			// so the response reflects what was actually served.
			sims = pairwiseSimilarities(st.embeddings)
			agreements = individualAgreements(sims, weights)
		}
	}

	res := e.finalize(req, replies, successIdx, successIdx[bestPos], score, agreements, trace, chainText(trace), start, table)

	if req.EnableCaching && e.store != nil {
		e.writeCache(ctx, fp, res)
	}

	e.observeRun(req, "ok", score, start)
	e.recordQuery(res, req, fp, replies, false)
	return res, nil
}

// chainText returns the accepted revised text from the last accepted round,
// or nil semantics (empty string) when no round was accepted.
func chainText(trace []ChainRound) *string {
	for i := len(trace) - 1; i >= 0; i-- {
		if trace[i].Accepted {
			return &trace[i].RevisedText
		}
	}
	return nil
}

// fanOut calls every selected model in parallel, bounded by FanoutWidth.
// The returned slice is aligned with req.ModelIDs and never contains nils.
func (e *Engine) fanOut(ctx context.Context, req *Request, table *providers.Table) []*providers.Reply {
	replies := make([]*providers.Reply, len(req.ModelIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FanoutWidth)

	for i, id := range req.ModelIDs {
		i, id := i, id
		g.Go(func() error {
			// Validation ran against the snapshot current at decode time; a
			// reload in between may have dropped the model from this one.
			desc, ok := table.ByID(id)
			if !ok {
				replies[i] = droppedModelReply(id)
				return nil
			}
			prompt := RenderPrompt(req, i)
			replies[i] = e.callWithRetry(gctx, desc, prompt, req.Temperature)
			return nil
		})
	}
	g.Wait()

	return replies
}

// droppedModelReply stands in for a model that a config reload removed
// after request validation. Counts as a final failure, never retried.
func droppedModelReply(id string) *providers.Reply {
	return &providers.Reply{
		ModelID:       id,
		ErrorKind:     providers.ErrKindHTTP,
		ErrorDetail:   fmt.Sprintf("model %q removed by config reload", id),
		HTTPStatus:    410,
		RawConfidence: providers.DefaultRawConfidence,
	}
}

// callWithRetry invokes one model, retrying transient failures with
// exponential backoff and jitter within the shared deadline.
func (e *Engine) callWithRetry(ctx context.Context, desc *providers.ModelDescriptor, prompt string, temperature float64) *providers.Reply {
	adapter, err := e.registry.Lookup(desc.Kind)
	if err != nil {
		// Kinds are validated at startup; reaching this means a reload raced
		// in a descriptor for an unregistered kind.
		call := &providers.Call{Model: desc, Prompt: prompt}
		return providers.NewFailure(call, providers.ErrKindHTTP, err.Error(), 0, time.Now())
	}

	var reply *providers.Reply
	for attempt := 1; ; attempt++ {
		call := &providers.Call{
			Model:       desc,
			Prompt:      prompt,
			Temperature: temperature,
			MaxTokens:   desc.MaxTokens,
			Attempt:     attempt,
		}

		reply = adapter.Invoke(ctx, call)
		e.observeCall(desc.ID, reply)

		if reply.Success || !reply.Transient() || attempt > e.opts.MaxRetries {
			return reply
		}

		delay := retryDelay(attempt)
		e.log.Debug("provider_retry",
			slog.String("model", desc.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error_kind", reply.ErrorKind))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return reply
		}
	}
}

// retryDelay is 100ms × 2^attempt with ±25% jitter.
func retryDelay(attempt int) time.Duration {
	base := retryBaseDelay << uint(attempt)
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

func (e *Engine) observeCall(modelID string, r *providers.Reply) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if !r.Success {
		outcome = "error"
		e.metrics.RecordProviderError(modelID, r.ErrorKind)
	}
	e.metrics.ObserveProviderCall(modelID, outcome, r.Latency)
	e.metrics.AddTokens(modelID, r.PromptTokens, r.CompletionTokens)
}

// embedAll embeds every text in parallel, preserving order.
func (e *Engine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FanoutWidth)

	for i, t := range texts {
		i, t := i, t
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, t)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// classifyShortfall maps a failed completion gate onto an error kind:
// client cancellation wins, then deadline expiry, otherwise the request is a
// consensus failure.
func (e *Engine) classifyShortfall(parent, ctx context.Context, replies []*providers.Reply, successes int) *Error {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.Canceled) {
			return &Error{Kind: KindCanceled, Message: "request canceled by client"}
		}
		return &Error{Kind: KindDeadlineExceeded, Message: "request deadline exceeded"}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindDeadlineExceeded, Message: "request deadline exceeded"}
	}

	var detail string
	for _, r := range replies {
		if !r.Success {
			detail = fmt.Sprintf("%s: %s", r.ModelID, r.ErrorKind)
			break
		}
	}
	return &Error{
		Kind:    KindConsensusFailed,
		Message: fmt.Sprintf("only %d of %d models succeeded (need %d); first failure %s", successes, len(replies), e.opts.MinSuccess, detail),
	}
}

type refineState struct {
	bestText   string
	bestPos    int
	score      float64
	embeddings [][]float32
	weights    []float64
}

// refine runs up to ChainDepth critique-and-revise rounds. Each round gets a
// slice of the remaining deadline so a slow critic cannot starve later
// rounds; a revision is kept only when it does not lower the score.
func (e *Engine) refine(ctx context.Context, req *Request, table *providers.Table, st *refineState) []ChainRound {
	n := len(req.ModelIDs)
	var trace []ChainRound

	for k := 0; k < req.ChainDepth; k++ {
		deadline, ok := ctx.Deadline()
		if !ok {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		roundsLeft := req.ChainDepth - k
		rctx, cancel := context.WithTimeout(ctx, remaining/time.Duration(roundsLeft+1))

		criticID := req.ModelIDs[(k+1)%n]
		reviserID := req.ModelIDs[(k+2)%n]
		critic, okCritic := table.ByID(criticID)
		reviser, okReviser := table.ByID(reviserID)
		if !okCritic || !okReviser {
			cancel()
			e.log.Debug("chain_model_missing",
				slog.String("critic", criticID),
				slog.String("reviser", reviserID))
			break
		}

		critique := e.callWithRetry(rctx, critic, RenderCritic(req.Question, st.bestText), req.Temperature)
		if !critique.Success {
			cancel()
			e.log.Debug("chain_critic_failed", slog.String("model", criticID), slog.String("error_kind", critique.ErrorKind))
			break
		}

		revised := e.callWithRetry(rctx, reviser, RenderReviser(req.Question, st.bestText, critique.Text), req.Temperature)
		cancel()
		if !revised.Success {
			e.log.Debug("chain_reviser_failed", slog.String("model", reviserID), slog.String("error_kind", revised.ErrorKind))
			break
		}

		vec, err := e.embedder.Embed(ctx, revised.Text)
		if err != nil {
			e.log.Warn("chain_embed_failed", slog.String("error", err.Error()))
			break
		}

		candidate := make([][]float32, len(st.embeddings))
		copy(candidate, st.embeddings)
		candidate[st.bestPos] = vec
		newScore := agreementScore(pairwiseSimilarities(candidate), st.weights)

		accepted := newScore >= st.score-scoreEpsilon
		trace = append(trace, ChainRound{
			Round:       k + 1,
			CriticID:    criticID,
			Critique:    critique.Text,
			ReviserID:   reviserID,
			RevisedText: revised.Text,
			NewScore:    newScore,
			Accepted:    accepted,
		})
		if e.metrics != nil {
			e.metrics.RecordChainRound(accepted)
		}

		if accepted {
			st.bestText = revised.Text
			st.score = newScore
			st.embeddings = candidate
		}
	}

	return trace
}

// finalize assembles the Result in request order.
func (e *Engine) finalize(
	req *Request,
	replies []*providers.Reply,
	successIdx []int,
	bestIdx int,
	score float64,
	agreements []float64,
	trace []ChainRound,
	revisedText *string,
	start time.Time,
	table *providers.Table,
) *Result {
	suggested := suggestedWeights(agreements)

	agreementAt := make(map[int]float64, len(successIdx))
	suggestedAt := make(map[int]float64, len(successIdx))
	for pos, i := range successIdx {
		if pos < len(agreements) {
			agreementAt[i] = agreements[pos]
		}
		if pos < len(suggested) {
			suggestedAt[i] = suggested[pos]
		}
	}

	perModel := make([]PerModel, len(replies))
	tokensEstimated := false
	for i, r := range replies {
		perModel[i] = PerModel{
			Reply:           *r,
			Weight:          req.Weights[i],
			Agreement:       agreementAt[i],
			SuggestedWeight: suggestedAt[i],
		}
		if r.TokensEstimated {
			tokensEstimated = true
		}
	}

	text := replies[bestIdx].Text
	if revisedText != nil {
		text = *revisedText
	}

	res := &Result{
		ConsensusID:    uuid.NewString(),
		ConsensusText:  text,
		ConsensusScore: score,
		MethodUsed:     req.Method,
		ModelsUsed:     req.ModelIDs,
		PerModel:       perModel,
		TotalLatencyMS: time.Since(start).Milliseconds(),
		ChainTrace:     trace,
		QualityMetrics: map[string]any{
			"successful_models": len(successIdx),
			"total_models":      len(replies),
			"confidence":        e.confidence(score),
			"cost_estimate":     CostEstimate(replies, table),
			"tokens_estimated":  tokensEstimated,
		},
	}
	return res
}

func (e *Engine) confidence(score float64) string {
	switch {
	case score >= e.opts.HighThreshold:
		return "high"
	case score >= e.opts.LowThreshold:
		return "medium"
	default:
		return "low"
	}
}

// writeCache stores the marshalled result. Partial results are not cached:
// a retry may well do better.
func (e *Engine) writeCache(ctx context.Context, fp string, res *Result) {
	if res.Partial {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		e.log.Warn("cache_marshal_failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		return
	}
	if err := e.store.PutResult(ctx, fp, data); err != nil {
		if e.metrics != nil {
			e.metrics.CacheSetError()
		}
		return
	}
	if e.metrics != nil {
		e.metrics.CacheSetOK()
	}
}

func (e *Engine) observeRun(req *Request, outcome string, score float64, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveConsensus(req.Method, outcome, false, score, time.Since(start))
}

// recordQuery hands a completed result to the analytics sink.
func (e *Engine) recordQuery(res *Result, req *Request, fp string, replies []*providers.Reply, cacheHit bool) {
	if e.sink == nil {
		return
	}

	rec := analytics.QueryRecord{
		QueryID:        uuid.New(),
		Fingerprint:    fp,
		Method:         req.Method,
		ConsensusScore: res.ConsensusScore,
		TotalLatencyMS: res.TotalLatencyMS,
		Success:        true,
		CacheHit:       cacheHit,
	}
	if id, err := uuid.Parse(res.ConsensusID); err == nil {
		rec.QueryID = id
	}

	if !cacheHit {
		rec.CostEstimate = CostEstimate(replies, e.table.Load())
		rec.Models = modelStats(res.PerModel)
	}

	e.sink.Record(rec)
}

// recordFailure records a run that produced no result.
func (e *Engine) recordFailure(req *Request, fp string, replies []*providers.Reply, start time.Time) {
	if e.sink == nil {
		return
	}

	stats := make([]analytics.ModelStat, 0, len(replies))
	for _, r := range replies {
		if r == nil {
			continue
		}
		stats = append(stats, analytics.ModelStat{
			ModelID:   r.ModelID,
			Success:   r.Success,
			LatencyMS: r.LatencyMS,
		})
	}

	e.sink.Record(analytics.QueryRecord{
		QueryID:        uuid.New(),
		Fingerprint:    fp,
		Method:         req.Method,
		TotalLatencyMS: time.Since(start).Milliseconds(),
		Success:        false,
		CostEstimate:   CostEstimate(replies, e.table.Load()),
		Models:         stats,
	})
}

func modelStats(perModel []PerModel) []analytics.ModelStat {
	stats := make([]analytics.ModelStat, len(perModel))
	for i, pm := range perModel {
		stats[i] = analytics.ModelStat{
			ModelID:   pm.ModelID,
			Success:   pm.Reply.Success,
			LatencyMS: pm.LatencyMS,
			Agreement: pm.Agreement,
		}
	}
	return stats
}

// renormalize restricts weights to the surviving indices and rescales them
// to sum 1.
func renormalize(weights []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	var sum float64
	for pos, i := range idx {
		out[pos] = weights[i]
		sum += weights[i]
	}
	if sum == 0 {
		for pos := range out {
			out[pos] = 1 / float64(len(idx))
		}
		return out
	}
	for pos := range out {
		out[pos] /= sum
	}
	return out
}
