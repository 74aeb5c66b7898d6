package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/relaycore/relay/api"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/health"
	"github.com/relaycore/relay/types"
)

// ProviderHandler serves provider listing, enable/priority management,
// and provider health under /v1/providers.
type ProviderHandler struct {
	descriptors external.DescriptorStore
	health      *health.Store
	logger      *zap.Logger
}

// NewProviderHandler creates a ProviderHandler over its collaborators.
func NewProviderHandler(descriptors external.DescriptorStore, healthStore *health.Store, logger *zap.Logger) *ProviderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderHandler{descriptors: descriptors, health: healthStore, logger: logger}
}

// HandleList lists every registered provider with its live health.
// @Summary List providers
// @Description Lists every registered provider with its current health
// @Tags providers
// @Produce json
// @Success 200 {object} api.ProviderListResponse
// @Router /v1/providers [get]
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	descs, err := h.descriptors.List(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to list providers", h.logger)
		return
	}

	out := make([]api.ProviderInfo, 0, len(descs))
	for _, d := range descs {
		info := api.ProviderInfo{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			Enabled:     d.Enabled,
			Priority:    d.Priority,
			HasKey:      d.HasKey,
			KeyHint:     d.KeyHint,
		}
		if hh, ok := h.health.GetHealth(d.ID); ok {
			info.HealthScore = hh.Score
			info.Status = string(hh.Status())
			info.CircuitOpen = hh.CircuitState == breaker.StateOpen
		}
		out = append(out, info)
	}

	WriteSuccess(w, api.ProviderListResponse{Providers: out})
}

// HandleUpdate updates a provider's enabled flag and/or priority.
// @Summary Update a provider
// @Description Updates a provider's enabled flag and/or priority
// @Tags providers
// @Accept json
// @Produce json
// @Param id path string true "Provider ID"
// @Param request body api.UpdateProviderRequest true "Fields to update"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/providers/{id} [patch]
func (h *ProviderHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := providerIDFromPath(r.URL.Path)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "provider id is required", h.logger)
		return
	}

	var req api.UpdateProviderRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Priority != nil && (*req.Priority < 0 || *req.Priority > 100) {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "priority must be between 0 and 100", h.logger)
		return
	}

	if _, ok, err := h.descriptors.Get(r.Context(), id); err != nil || !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrModelNotFound, "unknown provider", h.logger)
		return
	}

	if err := h.descriptors.Update(r.Context(), id, req.Enabled, req.Priority); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to update provider", h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"id": id, "status": "updated"})
}

// HandleHealth exposes every tracked provider's raw health record.
// @Summary Provider health
// @Description Lists every provider's current health record
// @Tags providers
// @Produce json
// @Success 200 {object} api.HealthListResponse
// @Router /v1/providers/health [get]
func (h *ProviderHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	records := h.health.GetAllHealth()
	out := make([]api.HealthSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, api.HealthSnapshot{
			ProviderID:    rec.ProviderID,
			Score:         rec.Score,
			Status:        string(rec.Status()),
			LatencyEWMAMs: rec.LatencyEWMAMs,
			SuccessCount:  rec.SuccessCount,
			FailureCount:  rec.FailureCount,
			CircuitState:  string(rec.CircuitState),
		})
	}
	WriteSuccess(w, api.HealthListResponse{Providers: out})
}

// providerIDFromPath extracts the trailing path segment after
// "/v1/providers/" (e.g. "/v1/providers/openai" -> "openai").
func providerIDFromPath(path string) string {
	const prefix = "/v1/providers/"
	idx := strings.Index(path, prefix)
	if idx == -1 {
		return ""
	}
	return strings.Trim(path[idx+len(prefix):], "/")
}
