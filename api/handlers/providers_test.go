package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaycore/relay/api"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/errors"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/external/memstub"
	"github.com/relaycore/relay/relay/health"
)

func newProviderHandler(t *testing.T) (*ProviderHandler, *memstub.DescriptorStore, *health.Store) {
	t.Helper()
	descs := memstub.NewDescriptorStore()
	healthStore := health.NewStore()
	return NewProviderHandler(descs, healthStore, zap.NewNop()), descs, healthStore
}

func TestProviderHandler_HandleList(t *testing.T) {
	h, descs, healthStore := newProviderHandler(t)
	descs.Put(external.ProviderDescriptor{ID: "openai", DisplayName: "OpenAI", Enabled: true, Priority: 80, HasKey: true})
	healthStore.Register("openai")
	healthStore.UpdateHealth("openai", true, 100, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rr := httptest.NewRecorder()

	h.HandleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list api.ProviderListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Providers, 1)
	assert.Equal(t, "openai", list.Providers[0].ID)
	assert.Greater(t, list.Providers[0].HealthScore, 0.0)
	assert.False(t, list.Providers[0].CircuitOpen)
}

func TestProviderHandler_HandleUpdate_Success(t *testing.T) {
	h, descs, _ := newProviderHandler(t)
	descs.Put(external.ProviderDescriptor{ID: "openai", Enabled: true, Priority: 50})

	enabled := false
	priority := 10
	body, err := json.Marshal(api.UpdateProviderRequest{Enabled: &enabled, Priority: &priority})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/v1/providers/openai", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	d, ok, err := descs.Get(req.Context(), "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, d.Enabled)
	assert.Equal(t, 10, d.Priority)
}

func TestProviderHandler_HandleUpdate_UnknownProvider(t *testing.T) {
	h, _, _ := newProviderHandler(t)

	body, err := json.Marshal(api.UpdateProviderRequest{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/v1/providers/missing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleUpdate(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProviderHandler_HandleUpdate_InvalidPriority(t *testing.T) {
	h, descs, _ := newProviderHandler(t)
	descs.Put(external.ProviderDescriptor{ID: "openai", Enabled: true, Priority: 50})

	priority := 200
	body, err := json.Marshal(api.UpdateProviderRequest{Priority: &priority})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/v1/providers/openai", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleUpdate(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProviderHandler_HandleHealth(t *testing.T) {
	h, _, healthStore := newProviderHandler(t)
	healthStore.Register("openai")
	healthStore.UpdateHealth("openai", false, 500, func() *errors.Kind { k := errors.KindServerError; return &k }())
	healthStore.UpdateCircuitState("openai", breaker.StateOpen, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/health", nil)
	rr := httptest.NewRecorder()

	h.HandleHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list api.HealthListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Providers, 1)
	assert.Equal(t, "openai", list.Providers[0].ProviderID)
	assert.Equal(t, "open", list.Providers[0].CircuitState)
	assert.Equal(t, int64(1), list.Providers[0].FailureCount)
}

func TestProviderIDFromPath(t *testing.T) {
	assert.Equal(t, "openai", providerIDFromPath("/v1/providers/openai"))
	assert.Equal(t, "openai", providerIDFromPath("/v1/providers/openai/"))
	assert.Equal(t, "", providerIDFromPath("/v1/providers/"))
	assert.Equal(t, "", providerIDFromPath("/nope"))
}
