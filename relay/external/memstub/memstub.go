// Package memstub provides in-memory implementations of every
// relay/external collaborator interface. These are sufficient for the
// router to be correct, per the Non-goals allowance that persistent
// durability beyond health is out of scope for the core.
package memstub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/relaycore/relay/relay/external"
)

// CredentialStore is an in-memory external.CredentialStore.
type CredentialStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{keys: make(map[string]string)}
}

func (s *CredentialStore) GetKey(_ context.Context, providerID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[providerID]
	return k, ok, nil
}

func (s *CredentialStore) SaveKey(_ context.Context, providerID, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[providerID] = credential
	return nil
}

func (s *CredentialStore) RemoveKey(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, providerID)
	return nil
}

// DescriptorStore is an in-memory external.DescriptorStore.
type DescriptorStore struct {
	mu          sync.RWMutex
	descriptors map[string]external.ProviderDescriptor
}

func NewDescriptorStore() *DescriptorStore {
	return &DescriptorStore{descriptors: make(map[string]external.ProviderDescriptor)}
}

func (s *DescriptorStore) Put(d external.ProviderDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[d.ID] = d
}

func (s *DescriptorStore) List(context.Context) ([]external.ProviderDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]external.ProviderDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d)
	}
	return out, nil
}

func (s *DescriptorStore) Get(_ context.Context, id string) (external.ProviderDescriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[id]
	return d, ok, nil
}

func (s *DescriptorStore) Update(_ context.Context, id string, enabled *bool, priority *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[id]
	if !ok {
		return fmt.Errorf("descriptor store: unknown provider %q", id)
	}
	if enabled != nil {
		d.Enabled = *enabled
	}
	if priority != nil {
		d.Priority = *priority
	}
	s.descriptors[id] = d
	return nil
}

// EventSink is an in-memory external.EventSink that records every event,
// for assertions in tests.
type EventSink struct {
	mu     sync.Mutex
	events []external.RouterEvent
}

func NewEventSink() *EventSink {
	return &EventSink{}
}

func (s *EventSink) Log(_ context.Context, event external.RouterEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *EventSink) Events() []external.RouterEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]external.RouterEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ContextBuilder is a pass-through external.ContextBuilder: messages are
// returned unchanged, MaybeSummarize is a no-op, and token estimation uses
// a cl100k_base tiktoken-go encoder (estimation only — trimming is out of
// scope).
type ContextBuilder struct {
	encoding *tiktoken.Tiktoken
}

func NewContextBuilder() *ContextBuilder {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Falls back to a nil encoder; EstimatePromptTokens degrades to a
		// character-count heuristic rather than failing construction.
		enc = nil
	}
	return &ContextBuilder{encoding: enc}
}

func (c *ContextBuilder) BuildContext(_ context.Context, _ string, messages []external.Message) ([]external.Message, error) {
	return messages, nil
}

func (c *ContextBuilder) MaybeSummarize(context.Context, string) {}

func (c *ContextBuilder) EstimatePromptTokens(messages []external.Message) int {
	total := 0
	for _, m := range messages {
		if c.encoding != nil {
			total += len(c.encoding.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
	}
	return total
}

// MessageStore is an in-memory external.MessageStore.
type MessageStore struct {
	mu       sync.Mutex
	messages map[string]external.StoredMessage
	byConv   map[string][]string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string]external.StoredMessage),
		byConv:   make(map[string][]string),
	}
}

func (s *MessageStore) Create(_ context.Context, conversationID, role, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.messages[id] = external.StoredMessage{ID: id, Role: role, Content: content}
	s.byConv[conversationID] = append(s.byConv[conversationID], id)
	return id, nil
}

func (s *MessageStore) UpdateMetadata(_ context.Context, messageID string, meta external.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message store: unknown message %q", messageID)
	}
	m.Content = meta.Content
	s.messages[messageID] = m
	return nil
}

func (s *MessageStore) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	return nil
}

func (s *MessageStore) ListByConversation(_ context.Context, conversationID string) ([]external.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byConv[conversationID]
	out := make([]external.StoredMessage, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
