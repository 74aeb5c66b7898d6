package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaycore/relay/api"
	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/external/memstub"
	"github.com/relaycore/relay/relay/health"
	"github.com/relaycore/relay/relay/pool"
	"github.com/relaycore/relay/relay/registry"
	"github.com/relaycore/relay/relay/router"
	"github.com/relaycore/relay/testutil/mocks"
)

func newChatRouter(t *testing.T, providerIDs ...string) (*router.Router, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	healthStore := health.NewStore()
	b := breaker.New(nil)
	creds := memstub.NewCredentialStore()
	ctxBuilder := memstub.NewContextBuilder()
	events := memstub.NewEventSink()

	descriptors := make(map[string]pool.Descriptor)
	for _, id := range providerIDs {
		descriptors[id] = pool.Descriptor{ID: id, Priority: 50, Enabled: true, HasKey: true}
		healthStore.Register(id)
		require.NoError(t, creds.SaveKey(context.Background(), id, "test-key"))
	}

	p := pool.New(func() []pool.Descriptor {
		out := make([]pool.Descriptor, 0, len(descriptors))
		for _, d := range descriptors {
			out = append(out, d)
		}
		return out
	}, healthStore, b)

	return router.New(reg, p, healthStore, b, creds, ctxBuilder, events, nil), reg
}

func TestChatHandler_HandleCompletion_Success(t *testing.T) {
	r, reg := newChatRouter(t, "p1")
	reg.Register("p1", mocks.NewMockProvider("p1").WithDeltas(
		[]string{"Hello", " world"}, adapter.Usage{TotalTokens: 3}, "m", adapter.FinishStop))

	h := NewChatHandler(r, zap.NewNop())

	body, err := json.Marshal(api.ChatRequest{
		Model:    "m",
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleCompletion(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var chatResp api.ChatResponse
	require.NoError(t, json.Unmarshal(data, &chatResp))
	assert.Equal(t, "Hello world", chatResp.Content)
	assert.Equal(t, "p1", chatResp.Provider)
	assert.Equal(t, 3, chatResp.Usage.TotalTokens)
}

func TestChatHandler_HandleCompletion_EmptyMessagesRejected(t *testing.T) {
	r, _ := newChatRouter(t, "p1")
	h := NewChatHandler(r, zap.NewNop())

	body, err := json.Marshal(api.ChatRequest{Model: "m"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleCompletion(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatHandler_HandleCompletion_NoCandidatesReturnsServiceUnavailable(t *testing.T) {
	r, _ := newChatRouter(t) // no providers registered
	h := NewChatHandler(r, zap.NewNop())

	body, err := json.Marshal(api.ChatRequest{
		Model:    "m",
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleCompletion(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestChatHandler_HandleStream_WritesDeltasAndDone(t *testing.T) {
	r, reg := newChatRouter(t, "p1")
	reg.Register("p1", mocks.NewMockProvider("p1").WithDeltas(
		[]string{"Hi", " there"}, adapter.Usage{TotalTokens: 2}, "m", adapter.FinishStop))

	h := NewChatHandler(r, zap.NewNop())

	body, err := json.Marshal(api.ChatRequest{
		Model:    "m",
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleStream(rr, req)

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	out := rr.Body.String()
	assert.Contains(t, out, `"delta":"Hi"`)
	assert.Contains(t, out, `"delta":" there"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestChatHandler_HandleCompletion_RejectsWrongContentType(t *testing.T) {
	r, _ := newChatRouter(t, "p1")
	h := NewChatHandler(r, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()

	h.HandleCompletion(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
