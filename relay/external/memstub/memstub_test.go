package memstub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relay/relay/external"
)

func TestCredentialStore_SaveGetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore()

	_, ok, err := s.GetKey(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveKey(ctx, "openai", "sk-test"))
	v, ok, err := s.GetKey(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-test", v)

	require.NoError(t, s.RemoveKey(ctx, "openai"))
	_, ok, _ = s.GetKey(ctx, "openai")
	assert.False(t, ok)
}

func TestDescriptorStore_PutListGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewDescriptorStore()
	s.Put(external.ProviderDescriptor{ID: "openai", Priority: 50, Enabled: true})

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	disabled := false
	require.NoError(t, s.Update(ctx, "openai", &disabled, nil))
	d, ok, err := s.Get(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, d.Enabled)

	err = s.Update(ctx, "missing", nil, nil)
	assert.Error(t, err)
}

func TestEventSink_Log(t *testing.T) {
	s := NewEventSink()
	s.Log(context.Background(), external.RouterEvent{Kind: external.EventAttempt})
	s.Log(context.Background(), external.RouterEvent{Kind: external.EventSuccess})
	assert.Len(t, s.Events(), 2)
}

func TestContextBuilder_PassThrough(t *testing.T) {
	ctx := context.Background()
	b := NewContextBuilder()
	in := []external.Message{{Role: "user", Content: "hello"}}

	out, err := b.BuildContext(ctx, "c1", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	b.MaybeSummarize(ctx, "c1") // no panic, no-op

	tokens := b.EstimatePromptTokens(in)
	assert.Greater(t, tokens, 0)
}

func TestMessageStore_CreateUpdateDeleteList(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	id, err := s.Create(ctx, "conv1", "assistant", "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, id, external.MessageMetadata{Content: "final"}))

	msgs, err := s.ListByConversation(ctx, "conv1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "final", msgs[0].Content)

	require.NoError(t, s.Delete(ctx, id))
	msgs, _ = s.ListByConversation(ctx, "conv1")
	assert.Empty(t, msgs)
}
