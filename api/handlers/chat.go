package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/relay/api"
	"github.com/relaycore/relay/relay/errors"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/router"
	"github.com/relaycore/relay/types"
)

// ChatHandler serves chat completions, non-streaming and SSE, over a
// relay/router.Router. When store is non-nil, completions are persisted
// through RouteAndSave instead of the bare Route call.
type ChatHandler struct {
	router *router.Router
	store  external.MessageStore
	logger *zap.Logger
}

// NewChatHandler creates a ChatHandler over router.
func NewChatHandler(r *router.Router, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{router: r, logger: logger}
}

// WithMessageStore attaches a message store so completions route through
// RouteAndSave, persisting an assistant message per conversation turn.
func (h *ChatHandler) WithMessageStore(store external.MessageStore) *ChatHandler {
	h.store = store
	return h
}

func (h *ChatHandler) route(ctx context.Context, opts router.RouteOptions) router.RouteResult {
	if h.store != nil {
		return h.router.RouteAndSave(ctx, opts, h.store)
	}
	return h.router.Route(ctx, opts)
}

// HandleCompletion serves a non-streaming chat completion.
// @Summary Chat completion
// @Description Routes a chat completion request to the best available provider
// @Tags chat
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "Chat request"
// @Success 200 {object} api.ChatResponse
// @Failure 400 {object} Response
// @Failure 503 {object} Response
// @Security ApiKeyAuth
// @Router /v1/chat/completions [post]
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	opts := h.toRouteOptions(&req, nil)
	result := h.route(r.Context(), opts)

	if !result.Success {
		h.writeRouteError(w, result)
		return
	}

	WriteSuccess(w, h.toAPIResponse(result))
}

// HandleStream serves a streaming chat completion over SSE.
// @Summary Streaming chat completion
// @Description Routes a chat completion request and streams the response over SSE
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "Chat request"
// @Success 200 {string} string "SSE stream"
// @Failure 400 {object} Response
// @Security ApiKeyAuth
// @Router /v1/chat/completions/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	opts := h.toRouteOptions(&req, func(chunk external.StreamChunk) {
		writeSSEChunk(w, flusher, api.StreamChunk{
			Kind:         chunk.Kind,
			Delta:        chunk.Delta,
			FinishReason: chunk.FinishReason,
			ErrorMessage: chunk.ErrorMessage,
		})
	})

	result := h.route(r.Context(), opts)
	if !result.Success && result.Error != nil {
		writeSSEChunk(w, flusher, api.StreamChunk{Kind: "error", ErrorMessage: result.Error.Message})
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, chunk api.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (h *ChatHandler) validateChatRequest(req *api.ChatRequest) *types.Error {
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	return nil
}

func (h *ChatHandler) toRouteOptions(req *api.ChatRequest, onStream external.StreamSink) router.RouteOptions {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	messages := make([]external.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = external.Message{Role: m.Role, Content: m.Content}
	}

	return router.RouteOptions{
		ConversationID: conversationID,
		UserMessageID:  uuid.NewString(),
		Messages:       messages,
		Model:          req.Model,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		OnStream:       onStream,
	}
}

func (h *ChatHandler) toAPIResponse(result router.RouteResult) *api.ChatResponse {
	return &api.ChatResponse{
		MessageID:    result.MessageID,
		Provider:     result.ProviderID,
		Model:        result.Model,
		Content:      result.Content,
		AttemptsUsed: result.AttemptsUsed,
		Usage:        api.ChatUsage{TotalTokens: result.Tokens},
		CreatedAt:    router.Now(),
	}
}

func (h *ChatHandler) writeRouteError(w http.ResponseWriter, result router.RouteResult) {
	status, code := mapNormalizedErrorToHTTP(result.Error)
	apiErr := types.NewError(code, errorMessageOf(result.Error)).WithHTTPStatus(status).WithRetryable(true)
	WriteError(w, apiErr, h.logger)
}

func errorMessageOf(err *errors.NormalizedError) string {
	if err == nil {
		return "no available provider"
	}
	return err.Message
}

func mapNormalizedErrorToHTTP(err *errors.NormalizedError) (int, types.ErrorCode) {
	if err == nil {
		return http.StatusServiceUnavailable, types.ErrProviderUnavailable
	}
	switch err.Kind {
	case errors.KindRateLimit:
		return http.StatusTooManyRequests, types.ErrRateLimit
	case errors.KindAuth:
		return http.StatusUnauthorized, types.ErrAuthentication
	case errors.KindBilling:
		return http.StatusPaymentRequired, types.ErrQuotaExceeded
	case errors.KindContextLength:
		return http.StatusRequestEntityTooLarge, types.ErrContextTooLong
	case errors.KindContentFilter:
		return http.StatusUnprocessableEntity, types.ErrContentFiltered
	case errors.KindServerError, errors.KindNetwork:
		return http.StatusServiceUnavailable, types.ErrProviderUnavailable
	default:
		return http.StatusServiceUnavailable, types.ErrProviderUnavailable
	}
}
