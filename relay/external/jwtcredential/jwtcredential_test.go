package jwtcredential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relay/relay/external/memstub"
)

func TestStore_EncodeThenGetKeyUnwraps(t *testing.T) {
	ctx := context.Background()
	inner := memstub.NewCredentialStore()
	s := New(inner, []byte("test-signing-key"))

	encoded, err := s.Encode("acct-1", "tok-abc")
	require.NoError(t, err)
	require.NoError(t, s.SaveKey(ctx, "vendor", encoded))

	got, ok, err := s.GetKey(ctx, "vendor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acct-1:tok-abc", got)
}

func TestStore_PlainCredentialPassesThroughUnchanged(t *testing.T) {
	ctx := context.Background()
	inner := memstub.NewCredentialStore()
	s := New(inner, []byte("test-signing-key"))

	require.NoError(t, s.SaveKey(ctx, "openai", "sk-plain-key"))
	got, ok, err := s.GetKey(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-plain-key", got)
}

func TestStore_RemoveKeyDelegates(t *testing.T) {
	ctx := context.Background()
	inner := memstub.NewCredentialStore()
	s := New(inner, []byte("key"))
	require.NoError(t, s.SaveKey(ctx, "p", "v"))
	require.NoError(t, s.RemoveKey(ctx, "p"))
	_, ok, _ := s.GetKey(ctx, "p")
	assert.False(t, ok)
}
