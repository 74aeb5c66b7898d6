// Package mocks provides a scriptable fake relay/adapter.Provider for
// router tests: custom chunk sequences, injected errors, artificial
// delay, and per-call failure scripting.
//
// Adapted from the teacher's MockProvider (builder-style With* configuration,
// a call log, NewFlakeyProvider-style presets), retargeted from the
// Completion/Stream split onto a single scripted Generate call.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/errors"
)

// ScriptedChunk is one chunk a MockProvider's Generate call should emit,
// optionally preceded by a pause (simulating mid-stream delay so a test
// can cancel mid-attempt).
type ScriptedChunk struct {
	Chunk     adapter.StreamChunk
	PauseWith chan struct{} // if set, Generate blocks on this channel before emitting Chunk
}

// ProviderCall records one Generate invocation.
type ProviderCall struct {
	Request adapter.Request
	Err     error
}

// MockProvider is a scriptable fake relay/adapter.Provider.
type MockProvider struct {
	mu sync.Mutex

	id       adapter.ProviderID
	caps     adapter.Capabilities
	script   []ScriptedChunk
	finalErr error
	delay    time.Duration

	calls     []ProviderCall
	callCount int
}

// NewMockProvider creates a fake provider with id and, by default, no
// scripted chunks (Generate returns an empty success immediately).
func NewMockProvider(id string) *MockProvider {
	return &MockProvider{id: adapter.ProviderID(id), caps: adapter.Capabilities{Streams: true, DefaultModel: "mock-model"}}
}

// WithChunks scripts the exact sequence of chunks Generate emits via sink.
func (m *MockProvider) WithChunks(chunks ...ScriptedChunk) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = chunks
	return m
}

// WithDeltas is a convenience over WithChunks for a plain
// [delta..., done] sequence with the given final usage/model/finish.
func (m *MockProvider) WithDeltas(deltas []string, usage adapter.Usage, model string, finish adapter.FinishReason) *MockProvider {
	chunks := make([]ScriptedChunk, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, ScriptedChunk{Chunk: adapter.StreamChunk{Kind: adapter.ChunkDelta, Delta: d}})
	}
	chunks = append(chunks, ScriptedChunk{Chunk: adapter.StreamChunk{Kind: adapter.ChunkDone, Usage: usage, Model: model, FinishReason: finish}})
	return m.WithChunks(chunks...)
}

// WithError makes Generate return err without emitting any chunk beyond
// an error chunk.
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalErr = err
	m.script = []ScriptedChunk{{Chunk: adapter.StreamChunk{Kind: adapter.ChunkError}}}
	return m
}

// WithDelay adds a fixed delay before Generate returns.
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

func (m *MockProvider) ID() adapter.ProviderID             { return m.id }
func (m *MockProvider) Capabilities() adapter.Capabilities { return m.caps }

// Generate replays the scripted chunk sequence through sink, pausing on
// any PauseWith channel before continuing, and returns finalErr (if set)
// or a GenerateResponse mirroring the terminal done chunk.
func (m *MockProvider) Generate(ctx context.Context, req adapter.Request, cred adapter.Credential, sink adapter.Sink) (adapter.GenerateResponse, error) {
	m.mu.Lock()
	m.callCount++
	script := m.script
	delay := m.delay
	finalErr := m.finalErr
	m.calls = append(m.calls, ProviderCall{Request: req, Err: finalErr})
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return adapter.GenerateResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	var resp adapter.GenerateResponse
	for _, sc := range script {
		if sc.PauseWith != nil {
			select {
			case <-ctx.Done():
				return adapter.GenerateResponse{}, ctx.Err()
			case <-sc.PauseWith:
			}
		}
		if ctx.Err() != nil {
			return adapter.GenerateResponse{}, ctx.Err()
		}
		sink(sc.Chunk)
		if sc.Chunk.Kind == adapter.ChunkDone {
			resp = adapter.GenerateResponse{Model: sc.Chunk.Model, Usage: sc.Chunk.Usage, FinishReason: sc.Chunk.FinishReason}
		}
	}

	if finalErr != nil {
		return adapter.GenerateResponse{}, finalErr
	}
	return resp, nil
}

func (m *MockProvider) TestConnection(ctx context.Context, cred adapter.Credential) (adapter.ConnectionTestResult, error) {
	return adapter.ConnectionTestResult{OK: m.finalErr == nil}, nil
}

// NormalizeError classifies raw with errors.Classify: a known statusCode
// dominates, otherwise (statusCode nil, as the router passes it) the
// message alone decides, the same path a hand-rolled HTTP adapter falls
// back to when the upstream gives no usable status.
func (m *MockProvider) NormalizeError(raw error, statusCode *int) *errors.NormalizedError {
	if raw == nil {
		return errors.New(errors.KindUnknown, "")
	}
	return errors.Classify(raw.Error(), statusCode)
}

// CallCount returns how many times Generate has been invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls returns a copy of every recorded call.
func (m *MockProvider) Calls() []ProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// NewFlakeyProvider scripts a provider that always returns err — the
// teacher's "intermittent failure" role reshaped for the router's retry
// loop, which needs a provider guaranteed to fail rather than one that
// flips after N calls (fallback already moves on to the next candidate).
func NewFlakeyProvider(id string, err error) *MockProvider {
	return NewMockProvider(id).WithError(err)
}
