// Package external declares the narrow seams the router collaborates
// through: credential storage, provider descriptors, health persistence,
// event sinks, context building, the caller's stream sink, and message
// storage. The router only ever depends on these interfaces; concrete
// implementations (in-memory stubs for tests, and production-shaped
// backends) live in relay/external/memstub and sibling packages.
//
// Grounded on the teacher's llm/credentials.go (context-keyed credential
// override) and llm/db_init.go's gorm-bootstrap idiom for optional
// persistence, reshaped into the router's seven collaborator interfaces.
package external

import (
	"context"
	"time"

	"github.com/relaycore/relay/relay/breaker"
)

// CredentialStore manages opaque per-provider credentials.
type CredentialStore interface {
	GetKey(ctx context.Context, providerID string) (string, bool, error)
	SaveKey(ctx context.Context, providerID, credential string) error
	RemoveKey(ctx context.Context, providerID string) error
}

// ProviderDescriptor is the configuration-level view of a registered
// provider.
type ProviderDescriptor struct {
	ID          string
	DisplayName string
	Description string
	Enabled     bool
	Priority    int // 0-100
	HasKey      bool
	KeyHint     string
}

// DescriptorStore holds provider descriptors; only Enabled and Priority
// are mutable after registration.
type DescriptorStore interface {
	List(ctx context.Context) ([]ProviderDescriptor, error)
	Get(ctx context.Context, id string) (ProviderDescriptor, bool, error)
	Update(ctx context.Context, id string, enabled *bool, priority *int) error
}

// HealthPersistence is the health-store seam: get_health, get_all_health,
// update_health, update_circuit_state, set_cooldown, clear_cooldown.
// relay/health.Store does not implement it (its methods use relay/health
// and relay/errors types); gormstore and rediscache wrap a Store to
// implement it with durable backing.
type HealthPersistence interface {
	GetHealth(providerID string) (ProviderHealthView, bool)
	GetAllHealth() []ProviderHealthView
	UpdateHealth(providerID string, success bool, latencyMs float64, errorKind *string)
	UpdateCircuitState(providerID string, state breaker.State, cooldownUntil *time.Time)
	SetCooldown(providerID string, until time.Time)
	ClearCooldown(providerID string)
}

// ProviderHealthView is the persistence-facing projection of a health
// record — a plain-data mirror of relay/health.ProviderHealth so this
// package has no import-cycle dependency on relay/health.
type ProviderHealthView struct {
	ProviderID      string
	Score           float64
	LatencyEWMAMs   float64
	SuccessCount    int64
	FailureCount    int64
	LastSuccessAt   *time.Time
	LastFailureAt   *time.Time
	LastErrorKind   *string
	CircuitState    breaker.State
	CircuitOpenedAt *time.Time
	CooldownUntil   *time.Time
}

// EventKind tags a RouterEvent's variant.
type EventKind string

const (
	EventAttempt  EventKind = "attempt"
	EventSuccess  EventKind = "success"
	EventFailure  EventKind = "failure"
	EventFallback EventKind = "fallback"
	EventExhaust  EventKind = "exhaust"
)

// RouterEvent is emitted to the EventSink.
type RouterEvent struct {
	ConversationID string
	MessageID      string
	Kind           EventKind
	ProviderID     string
	AttemptNumber  int
	LatencyMs      *int64
	ErrorKind      *string
	ErrorMessage   string
	Timestamp      time.Time
}

// EventSink observes router events. Used for observability only; it has
// no feedback into routing decisions.
type EventSink interface {
	Log(ctx context.Context, event RouterEvent)
}

// Message is one chat turn, in the router's external vocabulary.
type Message struct {
	Role    string
	Content string
}

// ContextBuilder assembles the final message list for a route() call and
// exposes a fire-and-forget summarization hook. Must be pure from the
// router's point of view.
type ContextBuilder interface {
	BuildContext(ctx context.Context, conversationID string, messages []Message) ([]Message, error)
	MaybeSummarize(ctx context.Context, conversationID string)
	EstimatePromptTokens(messages []Message) int
}

// StreamChunk mirrors relay/adapter.StreamChunk in the external
// vocabulary, avoiding an import-cycle dependency for callers that only
// need the sink shape.
type StreamChunk struct {
	Kind         string
	Delta        string
	ErrorMessage string
	FinishReason string
}

// StreamSink is the caller-provided callback invoked per chunk produced
// during an attempt. The router recovers panics from it so a misbehaving
// caller cannot abort an in-flight adapter stream.
type StreamSink func(StreamChunk)

// MessageStore backs the RouteAndSave wrapper.
type MessageStore interface {
	Create(ctx context.Context, conversationID, role, content string) (string, error)
	UpdateMetadata(ctx context.Context, messageID string, meta MessageMetadata) error
	Delete(ctx context.Context, messageID string) error
	ListByConversation(ctx context.Context, conversationID string) ([]StoredMessage, error)
}

// MessageMetadata is written back onto a placeholder message once a route
// completes.
type MessageMetadata struct {
	Content    string
	ProviderID string
	Model      string
	Tokens     int
	LatencyMs  int64
}

// StoredMessage is one row returned by ListByConversation.
type StoredMessage struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}
