package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/errors"
)

func anthropicSSEServer(t *testing.T, events []string, status int, errBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(errBody))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, e := range events {
			w.Write([]byte("data: " + e + "\n\n"))
			flusher.Flush()
		}
	}))
}

func TestProvider_GenerateStreamsTextDeltasThenDone(t *testing.T) {
	srv := anthropicSSEServer(t, []string{
		`{"type":"message_start","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":10}}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	}, 0, "")
	defer srv.Close()

	p := New(Config{ProviderName: "anthropic", BaseURL: srv.URL}, nil)

	var chunks []adapter.StreamChunk
	resp, err := p.Generate(context.Background(), adapter.Request{Messages: []adapter.Message{
		{Role: adapter.RoleSystem, Content: "be terse"},
		{Role: adapter.RoleUser, Content: "hi"},
	}}, "test-key", func(c adapter.StreamChunk) { chunks = append(chunks, c) })

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
	assert.Equal(t, adapter.FinishStop, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	require.Len(t, chunks, 3)
	assert.Equal(t, adapter.ChunkDelta, chunks[0].Kind)
	assert.Equal(t, adapter.ChunkDone, chunks[2].Kind)
}

func TestProvider_GenerateMapsAuthError(t *testing.T) {
	srv := anthropicSSEServer(t, nil, 401, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	defer srv.Close()

	p := New(Config{ProviderName: "anthropic", BaseURL: srv.URL}, nil)
	_, err := p.Generate(context.Background(), adapter.Request{Messages: []adapter.Message{{Role: adapter.RoleUser, Content: "hi"}}}, "test-key", func(adapter.StreamChunk) {})
	require.Error(t, err)
	ne, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindAuth, ne.Kind)
}

func TestToAnthropicMessages_ExtractsSystemSeparately(t *testing.T) {
	system, msgs := toAnthropicMessages([]adapter.Message{
		{Role: adapter.RoleSystem, Content: "rule one"},
		{Role: adapter.RoleSystem, Content: "rule two"},
		{Role: adapter.RoleUser, Content: "hi"},
	})
	assert.Equal(t, "rule one\nrule two", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestProvider_TestConnection_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-sonnet-4-5","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "anthropic", BaseURL: srv.URL}, nil)
	result, err := p.TestConnection(context.Background(), "test-key")
	require.NoError(t, err)
	assert.True(t, result.OK)
}
