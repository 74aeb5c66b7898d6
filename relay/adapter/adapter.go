// Package adapter defines the uniform provider adapter contract: the
// streaming generate interface every upstream integration must satisfy,
// grounded on the teacher's llm.Provider interface (Completion/Stream/
// HealthCheck/Name) but reshaped around a single push-style Generate call
// that carries the three-way delta/error/done terminator contract itself,
// instead of splitting it across Completion and Stream.
package adapter

import (
	"context"
	"time"

	"github.com/relaycore/relay/relay/errors"
)

// ProviderID is an opaque, stable identifier chosen at registration.
type ProviderID string

// Capabilities describes what an adapter's upstream provider supports.
type Capabilities struct {
	Streams          bool
	SystemMessages   bool
	FunctionCalling  bool
	Vision           bool
	MaxContextTokens int
	DefaultModel     string
	AvailableModels  []string
}

// Role is the role of one message in a Request.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a Request's message list.
type Message struct {
	Role    Role
	Content string
}

// Request is the normalized chat request every adapter accepts.
type Request struct {
	Messages      []Message
	Model         string
	MaxTokens     int
	Temperature   float32
	StopSequences []string
}

// Credential is an opaque, adapter-interpreted secret. Some providers
// encode more than a bare API key in it (e.g. "account_id:token", or a
// base URL for a local runtime) — decoding that is the adapter's concern.
type Credential string

// FinishReason is the terminal reason a generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage mirrors the token accounting of a completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChunkKind tags a StreamChunk's variant.
type ChunkKind string

const (
	ChunkDelta ChunkKind = "delta"
	ChunkError ChunkKind = "error"
	ChunkDone  ChunkKind = "done"
)

// StreamChunk is one element of the lazy sequence an adapter's Generate
// produces: zero or more delta chunks followed by exactly one terminator
// (done or error).
type StreamChunk struct {
	Kind         ChunkKind
	Delta        string
	Error        *errors.NormalizedError
	Usage        Usage
	Model        string
	FinishReason FinishReason
}

// GenerateResponse is the final value Generate resolves to on success; it
// mirrors the content of the terminal `done` chunk.
type GenerateResponse struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason FinishReason
}

// ConnectionTestResult is returned by TestConnection.
type ConnectionTestResult struct {
	OK        bool
	Error     *errors.NormalizedError
	LatencyMs int64
}

// Sink receives each StreamChunk an attempt produces, in order. Panics from
// it are recovered by the caller (relay/router) — an adapter may still be
// mid-stream and must not be torn down by a caller-side failure.
type Sink func(StreamChunk)

// Provider is the contract every upstream integration implements.
//
// Generate realizes "yields chunks, returns a final response" push-style:
// it invokes sink for every delta/error/done chunk in order and returns a
// GenerateResponse mirroring the terminal done, or an error mirroring the
// terminal error/exception. If ctx is cancelled, Generate must stop
// producing chunks and release upstream resources; it need not emit a
// terminator, and the caller treats the truncated stream as a
// cancellation, not a success or failure.
type Provider interface {
	ID() ProviderID
	Capabilities() Capabilities
	Generate(ctx context.Context, req Request, cred Credential, sink Sink) (GenerateResponse, error)
	TestConnection(ctx context.Context, cred Credential) (ConnectionTestResult, error)
	NormalizeError(raw error, statusCode *int) *errors.NormalizedError
}

// Clock is the time source Generate implementations use for latency
// measurement; overridable in tests.
var Clock = time.Now
