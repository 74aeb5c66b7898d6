// Package router drives one route() call: it consults the candidate pool
// for a provider, runs the adapter's Generate, fans chunks to the
// caller's sink, updates health and the circuit breaker on the outcome,
// and retries with exponential backoff until success, exhaustion, or
// cancellation.
//
// Grounded on the teacher's llm.ResilientProvider.Completion retry loop
// (ctx.Done()-aware backoff-doubling select) and
// llm/streaming/backpressure.go's chunk-forwarding discipline, retargeted
// from a single-provider retry onto the attempt/fallback/exhaust loop
// over the candidate pool.
package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/errors"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/health"
	"github.com/relaycore/relay/relay/pool"
	"github.com/relaycore/relay/relay/registry"
)

const (
	MaxAttempts = 6
	BaseRetryMs = 1_000
	MaxRetryMs  = 30_000

	recentProvidersLimit = 10
)

// Now is the time source; overridable in tests.
var Now = time.Now

// RouteOptions carries one route() call's inputs.
type RouteOptions struct {
	ConversationID string
	UserMessageID  string
	Messages       []external.Message
	Model          string
	MaxTokens      int
	Temperature    float32
	OnStream       external.StreamSink
}

// RouteResult carries one route() call's outcome.
type RouteResult struct {
	Success      bool
	Content      string
	ProviderID   string
	Model        string
	Tokens       int
	LatencyMs    int64
	Error        *errors.NormalizedError
	AttemptsUsed int
	MessageID    string
}

// Router is the request router. Constructed once at startup with its
// collaborators and handed around; it holds no global state.
type Router struct {
	registry       *registry.Registry
	pool           *pool.Pool
	health         *health.Store
	breaker        *breaker.Breaker
	credentials    external.CredentialStore
	contextBuilder external.ContextBuilder
	events         external.EventSink
	logger         *zap.Logger

	recentMu sync.Mutex
	recent   map[string][]string // conversation_id -> provider_ids, oldest first
}

// New creates a Router over its collaborators. logger may be nil.
func New(
	reg *registry.Registry,
	candidatePool *pool.Pool,
	healthStore *health.Store,
	circuitBreaker *breaker.Breaker,
	credentials external.CredentialStore,
	contextBuilder external.ContextBuilder,
	events external.EventSink,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:       reg,
		pool:           candidatePool,
		health:         healthStore,
		breaker:        circuitBreaker,
		credentials:    credentials,
		contextBuilder: contextBuilder,
		events:         events,
		logger:         logger,
		recent:         make(map[string][]string),
	}
}

// ClearRecent drops a conversation's anti-repeat memory.
func (r *Router) ClearRecent(conversationID string) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	delete(r.recent, conversationID)
}

func (r *Router) recentFor(conversationID string) []string {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	out := make([]string, len(r.recent[conversationID]))
	copy(out, r.recent[conversationID])
	return out
}

func (r *Router) pushRecent(conversationID, providerID string) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	list := append(r.recent[conversationID], providerID)
	if len(list) > recentProvidersLimit {
		list = list[len(list)-recentProvidersLimit:]
	}
	r.recent[conversationID] = list
}

// Route executes the attempt/fallback/exhaust loop: try a candidate, and on
// failure select the next one, until a candidate succeeds or the pool is
// exhausted.
func (r *Router) Route(ctx context.Context, opts RouteOptions) RouteResult {
	messages, err := r.contextBuilder.BuildContext(ctx, opts.ConversationID, opts.Messages)
	if err != nil {
		messages = opts.Messages
	}
	go r.contextBuilder.MaybeSummarize(context.Background(), opts.ConversationID)

	tried := make(map[string]bool)
	recent := r.recentFor(opts.ConversationID)
	var lastError *errors.NormalizedError
	attempt := 0

	for attempt < MaxAttempts {
		attempt++

		if ctx.Err() != nil {
			return r.cancellationResult(attempt, opts.UserMessageID)
		}

		candidates := r.pool.Get(pool.Request{ExcludeProviders: tried, RecentProviders: recent})
		if len(candidates) == 0 {
			r.emit(ctx, opts, external.EventExhaust, "", attempt, nil, nil, "")
			return RouteResult{Success: false, Error: orUnknown(lastError), AttemptsUsed: exhaustedAttempts(attempt), MessageID: opts.UserMessageID}
		}

		cand, ok := r.pool.Select(candidates)
		if !ok {
			r.emit(ctx, opts, external.EventExhaust, "", attempt, nil, nil, "")
			return RouteResult{Success: false, Error: orUnknown(lastError), AttemptsUsed: exhaustedAttempts(attempt), MessageID: opts.UserMessageID}
		}
		tried[cand.ID] = true
		r.emit(ctx, opts, external.EventAttempt, cand.ID, attempt, nil, nil, "")

		prov, ok := r.registry.Get(adapter.ProviderID(cand.ID))
		if !ok {
			continue
		}
		credential, ok, err := r.credentials.GetKey(ctx, cand.ID)
		if err != nil || !ok {
			continue
		}

		result, recordable, outcomeErr := r.attempt(ctx, prov, cand.ID, adapter.Credential(credential), opts, messages)
		if !recordable {
			// Cancelled mid-attempt: neither success nor failure recorded.
			return r.cancellationResult(attempt, opts.UserMessageID)
		}

		if outcomeErr == nil {
			latencyMs := result.LatencyMs
			r.health.UpdateHealth(cand.ID, true, float64(latencyMs), nil)
			r.breaker.RecordSuccess(cand.ID)
			r.pushRecent(opts.ConversationID, cand.ID)
			r.emit(ctx, opts, external.EventSuccess, cand.ID, attempt, &latencyMs, nil, "")

			result.AttemptsUsed = attempt
			result.MessageID = opts.UserMessageID
			return result
		}

		normalized := prov.NormalizeError(outcomeErr, nil)
		lastError = normalized
		r.health.UpdateHealth(cand.ID, false, float64(result.LatencyMs), &normalized.Kind)
		r.breaker.RecordFailure(cand.ID)

		if normalized.Kind == errors.KindRateLimit {
			var retryAfter *time.Duration
			if normalized.RetryAfterMs != nil {
				d := time.Duration(*normalized.RetryAfterMs) * time.Millisecond
				retryAfter = &d
			}
			r.breaker.ApplyRateLimitCooldown(cand.ID, retryAfter)
		}

		kindStr := string(normalized.Kind)
		r.emit(ctx, opts, external.EventFailure, cand.ID, attempt, nil, &kindStr, normalized.Message)
		r.emit(ctx, opts, external.EventFallback, cand.ID, attempt, nil, &kindStr, normalized.Message)

		if !r.sleepBackoff(ctx, attempt) {
			return r.cancellationResult(attempt, opts.UserMessageID)
		}
	}

	return RouteResult{Success: false, Error: orUnknown(lastError), AttemptsUsed: MaxAttempts, MessageID: opts.UserMessageID}
}

// RouteAndSave wraps Route against a message store: it creates an empty
// assistant message before routing, forwards stream chunks to opts.OnStream
// unchanged, and on return either writes the final content and metadata onto
// that placeholder or deletes it if the route failed.
func (r *Router) RouteAndSave(ctx context.Context, opts RouteOptions, store external.MessageStore) RouteResult {
	messageID, err := store.Create(ctx, opts.ConversationID, "assistant", "")
	if err != nil {
		return RouteResult{
			Success: false,
			Error:   errors.New(errors.KindUnknown, "failed to create placeholder message: "+err.Error()),
		}
	}

	result := r.Route(ctx, opts)
	result.MessageID = messageID

	if result.Success {
		if uerr := store.UpdateMetadata(ctx, messageID, external.MessageMetadata{
			Content:    result.Content,
			ProviderID: result.ProviderID,
			Model:      result.Model,
			Tokens:     result.Tokens,
			LatencyMs:  result.LatencyMs,
		}); uerr != nil {
			r.logger.Warn("failed to update message metadata", zap.String("message_id", messageID), zap.Error(uerr))
		}
		return result
	}

	if derr := store.Delete(ctx, messageID); derr != nil {
		r.logger.Warn("failed to delete placeholder message", zap.String("message_id", messageID), zap.Error(derr))
	}
	return result
}

// attemptOutcome is the internal shape of one adapter call's result.
type attemptOutcome = RouteResult

// attempt drives one adapter.Generate call. recordable is false only when
// ctx was cancelled during the call, in which case neither success nor
// failure should be recorded against health/breaker.
func (r *Router) attempt(
	ctx context.Context,
	prov adapter.Provider,
	providerID string,
	cred adapter.Credential,
	opts RouteOptions,
	messages []external.Message,
) (attemptOutcome, bool, error) {
	req := buildRequest(opts, messages, prov.Capabilities())

	var content string
	var usage adapter.Usage
	var model string
	var finish adapter.FinishReason
	terminated := false

	sink := func(chunk adapter.StreamChunk) {
		if chunk.Kind == adapter.ChunkDelta {
			content += chunk.Delta
		}
		if chunk.Kind == adapter.ChunkDone || chunk.Kind == adapter.ChunkError {
			terminated = true
			usage = chunk.Usage
			model = chunk.Model
			finish = chunk.FinishReason
		}
		r.forwardToCaller(opts.OnStream, chunk)
	}

	t0 := Now()
	resp, err := prov.Generate(ctx, req, cred, sink)
	latencyMs := Now().Sub(t0).Milliseconds()

	if ctx.Err() != nil {
		return attemptOutcome{}, false, nil
	}

	if !terminated && err == nil {
		doneChunk := adapter.StreamChunk{Kind: adapter.ChunkDone, Usage: resp.Usage, Model: resp.Model, FinishReason: resp.FinishReason}
		r.forwardToCaller(opts.OnStream, doneChunk)
	}

	if err != nil {
		return attemptOutcome{LatencyMs: latencyMs}, true, err
	}

	if resp.Content == "" {
		resp.Content = content
	}
	if resp.Model == "" {
		resp.Model = model
	}
	if resp.FinishReason == "" {
		resp.FinishReason = finish
	}
	if resp.Usage == (adapter.Usage{}) {
		resp.Usage = usage
	}

	return attemptOutcome{
		Success:    true,
		Content:    resp.Content,
		ProviderID: providerID,
		Model:      resp.Model,
		Tokens:     resp.Usage.TotalTokens,
		LatencyMs:  latencyMs,
	}, true, nil
}

// forwardToCaller invokes the caller-supplied sink, recovering any panic
// so a misbehaving caller cannot abort an in-flight adapter stream.
func (r *Router) forwardToCaller(sink external.StreamSink, chunk adapter.StreamChunk) {
	if sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("stream sink panicked", zap.Any("recovered", rec))
		}
	}()
	var errMsg string
	if chunk.Error != nil {
		errMsg = chunk.Error.Message
	}
	sink(external.StreamChunk{
		Kind:         string(chunk.Kind),
		Delta:        chunk.Delta,
		ErrorMessage: errMsg,
		FinishReason: string(chunk.FinishReason),
	})
}

func buildRequest(opts RouteOptions, messages []external.Message, caps adapter.Capabilities) adapter.Request {
	out := make([]adapter.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, adapter.Message{Role: adapter.Role(m.Role), Content: m.Content})
	}
	model := opts.Model
	if model == "" {
		model = caps.DefaultModel
	}
	return adapter.Request{
		Messages:    out,
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}

// sleepBackoff sleeps min(BASE_RETRY_MS*2^(attempt-1), MAX_RETRY_MS),
// honoring cancellation. Returns false if ctx was cancelled during the
// sleep.
func (r *Router) sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoffFor(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func backoffFor(attempt int) time.Duration {
	ms := float64(BaseRetryMs)
	for i := 1; i < attempt; i++ {
		ms *= 2
	}
	if ms > MaxRetryMs {
		ms = MaxRetryMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Router) cancellationResult(attempt int, messageID string) RouteResult {
	return RouteResult{
		Success:      false,
		Error:        errors.New(errors.KindUnknown, "request cancelled"),
		AttemptsUsed: attempt,
		MessageID:    messageID,
	}
}

func (r *Router) emit(ctx context.Context, opts RouteOptions, kind external.EventKind, providerID string, attempt int, latencyMs *int64, errorKind *string, errorMessage string) {
	if r.events == nil {
		return
	}
	r.events.Log(ctx, external.RouterEvent{
		ConversationID: opts.ConversationID,
		MessageID:      opts.UserMessageID,
		Kind:           kind,
		ProviderID:     providerID,
		AttemptNumber:  attempt,
		LatencyMs:      latencyMs,
		ErrorKind:      errorKind,
		ErrorMessage:   errorMessage,
		Timestamp:      Now(),
	})
}

// exhaustedAttempts is the attempts_used reported when the pool is empty at
// the start of round attempt: the earlier rounds that tried a provider, and
// at least 1.
func exhaustedAttempts(attempt int) int {
	if attempt > 1 {
		return attempt - 1
	}
	return 1
}

func orUnknown(e *errors.NormalizedError) *errors.NormalizedError {
	if e != nil {
		return e
	}
	return errors.New(errors.KindUnknown, "no providers")
}
