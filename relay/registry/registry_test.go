package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/errors"
)

type stubProvider struct {
	id adapter.ProviderID
}

func (s stubProvider) ID() adapter.ProviderID { return s.id }
func (s stubProvider) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{}
}
func (s stubProvider) Generate(context.Context, adapter.Request, adapter.Credential, adapter.Sink) (adapter.GenerateResponse, error) {
	return adapter.GenerateResponse{}, nil
}
func (s stubProvider) TestConnection(context.Context, adapter.Credential) (adapter.ConnectionTestResult, error) {
	return adapter.ConnectionTestResult{OK: true}, nil
}
func (s stubProvider) NormalizeError(raw error, statusCode *int) *errors.NormalizedError {
	return errors.New(errors.KindUnknown, raw.Error())
}

func TestRegistry_RegisterGetHasListSize(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Size())

	r.Register("openai", stubProvider{id: "openai"})
	r.Register("anthropic", stubProvider{id: "anthropic"})

	assert.Equal(t, 2, r.Size())
	assert.True(t, r.Has("openai"))
	assert.False(t, r.Has("gemini"))

	p, ok := r.Get("anthropic")
	require.True(t, ok)
	assert.Equal(t, adapter.ProviderID("anthropic"), p.ID())

	assert.Equal(t, []adapter.ProviderID{"anthropic", "openai"}, r.ListIDs())
	assert.Len(t, r.List(), 2)
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register("openai", stubProvider{id: "openai"})
	r.Register("openai", stubProvider{id: "openai-v2"})

	p, ok := r.Get("openai")
	require.True(t, ok)
	assert.Equal(t, adapter.ProviderID("openai-v2"), p.ID())
	assert.Equal(t, 1, r.Size())
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	r.Register("openai", stubProvider{id: "openai"})
	r.Unregister("openai")
	assert.False(t, r.Has("openai"))
	assert.Equal(t, 0, r.Size())
}
