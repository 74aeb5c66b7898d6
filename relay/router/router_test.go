package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/external/memstub"
	"github.com/relaycore/relay/relay/health"
	"github.com/relaycore/relay/relay/pool"
	"github.com/relaycore/relay/relay/registry"
	"github.com/relaycore/relay/testutil/mocks"
)

type harness struct {
	router      *Router
	reg         *registry.Registry
	healthStore *health.Store
	breaker     *breaker.Breaker
	creds       *memstub.CredentialStore
	events      *memstub.EventSink
	descriptors map[string]pool.Descriptor
}

func newHarness(t *testing.T, providerIDs ...string) *harness {
	t.Helper()
	reg := registry.New()
	healthStore := health.NewStore()
	b := breaker.New(nil)
	creds := memstub.NewCredentialStore()
	events := memstub.NewEventSink()
	ctxBuilder := memstub.NewContextBuilder()

	descriptors := make(map[string]pool.Descriptor)
	for i, id := range providerIDs {
		descriptors[id] = pool.Descriptor{ID: id, Priority: 50, Enabled: true, HasKey: true}
		healthStore.Register(id)
		require.NoError(t, creds.SaveKey(context.Background(), id, "test-key"))
		_ = i
	}

	p := pool.New(func() []pool.Descriptor {
		out := make([]pool.Descriptor, 0, len(descriptors))
		for _, d := range descriptors {
			out = append(out, d)
		}
		return out
	}, healthStore, b)

	r := New(reg, p, healthStore, b, creds, ctxBuilder, events, nil)

	return &harness{router: r, reg: reg, healthStore: healthStore, breaker: b, creds: creds, events: events, descriptors: descriptors}
}

func (h *harness) register(p adapter.Provider) {
	h.reg.Register(p.ID(), p)
}

func baseOpts(conversationID string) RouteOptions {
	return RouteOptions{
		ConversationID: conversationID,
		Messages:       []external.Message{{Role: "user", Content: "hi"}},
	}
}

func TestScenario_S1_HappyPath(t *testing.T) {
	h := newHarness(t, "p1")
	mp := mocks.NewMockProvider("p1").WithDeltas(
		[]string{"Hello", " world"},
		adapter.Usage{TotalTokens: 3},
		"m",
		adapter.FinishStop,
	)
	h.register(mp)

	var streamed string
	opts := baseOpts("conv1")
	opts.OnStream = func(c external.StreamChunk) { streamed += c.Delta }

	result := h.router.Route(context.Background(), opts)

	assert.True(t, result.Success)
	assert.Equal(t, "Hello world", result.Content)
	assert.Equal(t, "p1", result.ProviderID)
	assert.Equal(t, "m", result.Model)
	assert.Equal(t, 3, result.Tokens)
	assert.Equal(t, 1, result.AttemptsUsed)
	assert.Equal(t, "Hello world", streamed)

	hh, ok := h.healthStore.GetHealth("p1")
	require.True(t, ok)
	assert.Equal(t, int64(1), hh.SuccessCount)

	kinds := eventKinds(h.events.Events())
	assert.Equal(t, []external.EventKind{external.EventAttempt, external.EventSuccess}, kinds)
}

func TestRouteAndSave_SuccessUpdatesPlaceholder(t *testing.T) {
	h := newHarness(t, "p1")
	mp := mocks.NewMockProvider("p1").WithDeltas(
		[]string{"Hello", " world"},
		adapter.Usage{TotalTokens: 3},
		"m",
		adapter.FinishStop,
	)
	h.register(mp)

	store := memstub.NewMessageStore()
	opts := baseOpts("conv1")

	result := h.router.RouteAndSave(context.Background(), opts, store)

	require.True(t, result.Success)
	require.NotEmpty(t, result.MessageID)

	messages, err := store.ListByConversation(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, result.MessageID, messages[0].ID)
	assert.Equal(t, "Hello world", messages[0].Content)
}

func TestRouteAndSave_FailureDeletesPlaceholder(t *testing.T) {
	h := newHarness(t, "p1")
	mp := mocks.NewMockProvider("p1").WithError(&serverErr{})
	h.register(mp)

	store := memstub.NewMessageStore()
	opts := baseOpts("conv1")

	result := h.router.RouteAndSave(context.Background(), opts, store)

	assert.False(t, result.Success)

	messages, err := store.ListByConversation(context.Background(), "conv1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestScenario_S2_RateLimitThenSuccess(t *testing.T) {
	h := newHarness(t, "p1", "p2")
	p1 := mocks.NewMockProvider("p1").WithError(&rateLimitErr{})
	p2 := mocks.NewMockProvider("p2").WithDeltas([]string{"ok"}, adapter.Usage{TotalTokens: 1}, "m", adapter.FinishStop)
	h.register(p1)
	h.register(p2)

	result := h.router.Route(context.Background(), baseOpts("conv1"))

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.AttemptsUsed)
	assert.False(t, h.breaker.CanAttempt("p1"), "p1 should be under rate-limit cooldown")
}

func TestScenario_S3_CircuitOpen(t *testing.T) {
	h := newHarness(t, "p1")
	p1 := mocks.NewMockProvider("p1").WithError(&serverErr{})
	h.register(p1)

	// Three separate route() calls, each a single attempt against the
	// sole provider, drive the breaker's consecutive-failure counter to
	// FAILURE_THRESHOLD and open the circuit.
	for i := 0; i < breaker.FailureThreshold; i++ {
		result := h.router.Route(context.Background(), baseOpts("conv1"))
		assert.False(t, result.Success)
		assert.Equal(t, 1, result.AttemptsUsed)
	}
	require.Equal(t, breaker.StateOpen, h.breaker.GetState("p1"))

	until := h.breaker.CooldownUntil("p1")
	assert.WithinDuration(t, time.Now().Add(breaker.CooldownBase), until, 5*time.Second)

	// A 4th route() call now finds the candidate pool empty immediately.
	result := h.router.Route(context.Background(), baseOpts("conv1"))
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.AttemptsUsed)

	exhaustCount := 0
	for _, e := range h.events.Events() {
		if e.Kind == external.EventExhaust {
			exhaustCount++
		}
	}
	assert.Equal(t, 4, exhaustCount, "each of the 4 calls emits one exhaust: calls 1-3 after their single failed attempt, call 4 with an empty pool")
}

func TestScenario_S4_AntiRepeat(t *testing.T) {
	h := newHarness(t, "p1", "p2")
	p1 := mocks.NewMockProvider("p1").WithDeltas([]string{"x"}, adapter.Usage{}, "m", adapter.FinishStop)
	p2 := mocks.NewMockProvider("p2").WithDeltas([]string{"y"}, adapter.Usage{}, "m", adapter.FinishStop)
	h.register(p1)
	h.register(p2)

	p2Count := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		// Each success is pushed onto the recent list, so restore
		// recent = [p1] before every trial.
		h.router.ClearRecent("conv1")
		h.router.pushRecent("conv1", "p1")
		h.healthStore.Reset("p1")
		h.healthStore.Reset("p2")
		h.breaker.Reset("p1")
		h.breaker.Reset("p2")

		result := h.router.Route(context.Background(), baseOpts("conv1"))
		require.True(t, result.Success)
		if result.ProviderID == "p2" {
			p2Count++
		}
	}

	assert.Greater(t, float64(p2Count)/float64(trials), 0.8, "P2 should be overwhelmingly preferred over recently-used P1")
}

func TestScenario_S5_CancelMidStream(t *testing.T) {
	h := newHarness(t, "p1")
	pause := make(chan struct{})
	mp := mocks.NewMockProvider("p1").WithChunks(
		mocks.ScriptedChunk{Chunk: adapter.StreamChunk{Kind: adapter.ChunkDelta, Delta: "part"}},
		mocks.ScriptedChunk{Chunk: adapter.StreamChunk{Kind: adapter.ChunkDone}, PauseWith: pause},
	)
	h.register(mp)

	ctx, cancel := context.WithCancel(context.Background())
	var streamed string
	opts := baseOpts("conv1")
	opts.OnStream = func(c external.StreamChunk) { streamed += c.Delta }

	done := make(chan RouteResult, 1)
	go func() { done <- h.router.Route(ctx, opts) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	result := <-done
	assert.False(t, result.Success)
	assert.Equal(t, "part", streamed)

	hh, _ := h.healthStore.GetHealth("p1")
	assert.Equal(t, int64(0), hh.SuccessCount)
	assert.Equal(t, int64(0), hh.FailureCount)
}

func TestScenario_S6_Classification(t *testing.T) {
	h := newHarness(t, "p1")
	mp := mocks.NewMockProvider("p1")
	h.register(mp)

	cases := []struct {
		message string
		want    string
	}{
		{"API key not valid", "auth"},
		{"resource_exhausted: api_key ok", "rate_limit"},
		{"context length exceeded", "context_length"},
	}
	for _, c := range cases {
		norm := mp.NormalizeError(plainErr(c.message), nil)
		assert.Equal(t, c.want, string(norm.Kind), "message=%q", c.message)
	}
}

// Property 9: fallback correctness. Candidate selection order is a
// weighted random draw, so which of the two failing providers is
// tried first is not fixed; what must hold is that both are exhausted
// before the always-succeeding third is reached, in no more than 3
// attempts, and both failing providers end up with an incremented
// consecutive-failure counter.
func TestProperty_FallbackCorrectness(t *testing.T) {
	h := newHarness(t, "p1", "p2", "p3")
	h.register(mocks.NewMockProvider("p1").WithError(&serverErr{}))
	h.register(mocks.NewMockProvider("p2").WithError(&serverErr{}))
	h.register(mocks.NewMockProvider("p3").WithDeltas([]string{"ok"}, adapter.Usage{TotalTokens: 1}, "m", adapter.FinishStop))

	result := h.router.Route(context.Background(), baseOpts("conv1"))
	require.True(t, result.Success)
	assert.Equal(t, "p3", result.ProviderID)
	assert.LessOrEqual(t, result.AttemptsUsed, 3)

	h1, _ := h.healthStore.GetHealth("p1")
	h2, _ := h.healthStore.GetHealth("p2")
	assert.Equal(t, int64(1), h1.FailureCount)
	assert.Equal(t, int64(1), h2.FailureCount)

	b1 := h.breaker.GetState("p1")
	b2 := h.breaker.GetState("p2")
	assert.Equal(t, breaker.StateClosed, b1, "single failure stays below FAILURE_THRESHOLD")
	assert.Equal(t, breaker.StateClosed, b2)
}

// Property 10: exhaustion.
func TestProperty_Exhaustion(t *testing.T) {
	h := newHarness(t, "p1", "p2")
	h.register(mocks.NewMockProvider("p1").WithError(&serverErr{}))
	h.register(mocks.NewMockProvider("p2").WithError(&serverErr{}))

	result := h.router.Route(context.Background(), baseOpts("conv1"))
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.AttemptsUsed)

	exhaustCount := 0
	for _, e := range h.events.Events() {
		if e.Kind == external.EventExhaust {
			exhaustCount++
		}
	}
	assert.Equal(t, 1, exhaustCount)
}

// Property 11: chunk ordering.
func TestProperty_ChunkOrdering(t *testing.T) {
	h := newHarness(t, "p1")
	h.register(mocks.NewMockProvider("p1").WithDeltas([]string{"a", "b"}, adapter.Usage{}, "m", adapter.FinishStop))

	var kinds []string
	var content string
	opts := baseOpts("conv1")
	opts.OnStream = func(c external.StreamChunk) {
		kinds = append(kinds, c.Kind)
		content += c.Delta
	}

	result := h.router.Route(context.Background(), opts)
	require.True(t, result.Success)
	assert.Equal(t, []string{"delta", "delta", "done"}, kinds)
	assert.Equal(t, "ab", content)
}

// Property 13: cancellation during backoff.
func TestProperty_CancellationDuringBackoff(t *testing.T) {
	h := newHarness(t, "p1", "p2")
	h.register(mocks.NewMockProvider("p1").WithError(&serverErr{}))
	h.register(mocks.NewMockProvider("p2").WithError(&serverErr{}))

	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	done := make(chan RouteResult, 1)
	go func() { done <- h.router.Route(ctx, baseOpts("conv1")) }()

	time.Sleep(50 * time.Millisecond) // let the first failure + backoff start
	cancel()

	result := <-done
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Less(t, elapsed, BaseRetryMs2x())
}

func BaseRetryMs2x() time.Duration {
	return 2 * time.Duration(BaseRetryMs) * time.Millisecond
}

func eventKinds(events []external.RouterEvent) []external.EventKind {
	out := make([]external.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// --- tiny error fixtures -----------------------------------------------

type plainErr string

func (e plainErr) Error() string { return string(e) }

type rateLimitErr struct{}

func (e *rateLimitErr) Error() string { return "429 rate limit exceeded" }

type serverErr struct{}

func (e *serverErr) Error() string { return "internal server error" }
