// Package api provides the HTTP-facing request/response types for the
// relay service.
package api

import "time"

// =============================================================================
// Envelope types
// =============================================================================

// Response is the canonical API response envelope every handler writes.
// @Description Standard API response envelope
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo carries a structured error inside a Response.
// @Description Structured error information
type ErrorInfo struct {
	Code       string `json:"code" example:"INVALID_REQUEST"`
	Message    string `json:"message" example:"model is required"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty" example:"400"`
}

// =============================================================================
// Chat Completion Types
// =============================================================================

// ChatRequest represents a chat completion request routed to whichever
// upstream provider the router selects.
// @Description Chat completion request structure
type ChatRequest struct {
	// Conversation this message belongs to; governs context assembly and
	// anti-repeat provider memory. A fresh UUID starts a new conversation.
	ConversationID string `json:"conversation_id,omitempty" example:"conv-123"`
	// Model name, or empty to let the selected provider use its default.
	Model string `json:"model,omitempty" example:"gpt-4"`
	// Conversation messages.
	Messages []Message `json:"messages" binding:"required"`
	// Maximum tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty" example:"4096"`
	// Sampling temperature (0-2).
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// Providers to exclude, as sent by the client. The chat handler does not
	// pass this list to the router, so it has no effect on candidate
	// selection.
	ExcludeProviders []string `json:"exclude_providers,omitempty"`
}

// ChatResponse represents a chat completion response.
// @Description Chat completion response structure
type ChatResponse struct {
	MessageID    string   `json:"message_id,omitempty" example:"msg-123"`
	Provider     string   `json:"provider,omitempty" example:"openai"`
	Model        string   `json:"model" example:"gpt-4"`
	Content      string   `json:"content"`
	FinishReason string   `json:"finish_reason,omitempty" example:"stop"`
	Usage        ChatUsage `json:"usage"`
	AttemptsUsed int      `json:"attempts_used,omitempty" example:"1"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatUsage represents token usage in a response.
// @Description Token usage statistics
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens" example:"100"`
	CompletionTokens int `json:"completion_tokens" example:"50"`
	TotalTokens      int `json:"total_tokens" example:"150"`
}

// StreamChunk represents one SSE event of a streaming chat completion.
// @Description Streaming response chunk structure
type StreamChunk struct {
	Kind         string `json:"kind" example:"delta"`
	Delta        string `json:"delta,omitempty"`
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	ErrorMessage string `json:"error,omitempty"`
}

// Message represents a conversation message.
// @Description Conversation message structure
type Message struct {
	Role    string `json:"role" example:"user" binding:"required"`
	Content string `json:"content" example:"Hello, how are you?"`
}

// =============================================================================
// Provider Types
// =============================================================================

// ProviderInfo represents one registered provider's configuration-level
// view, as returned by the provider listing endpoint.
// @Description Provider descriptor and live health
type ProviderInfo struct {
	ID          string  `json:"id" example:"openai"`
	DisplayName string  `json:"display_name" example:"OpenAI"`
	Enabled     bool    `json:"enabled" example:"true"`
	Priority    int     `json:"priority" example:"100"`
	HasKey      bool    `json:"has_key" example:"true"`
	KeyHint     string  `json:"key_hint,omitempty" example:"sk-...ab12"`
	HealthScore float64 `json:"health_score" example:"0.94"`
	Status      string  `json:"status" example:"good"`
	CircuitOpen bool    `json:"circuit_open" example:"false"`
}

// ProviderListResponse represents a list of providers.
// @Description Provider list response
type ProviderListResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// UpdateProviderRequest updates a provider's mutable fields.
// @Description Provider update request — enabled/priority only
type UpdateProviderRequest struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Priority *int  `json:"priority,omitempty" example:"100"`
}

// =============================================================================
// Health Types
// =============================================================================

// HealthSnapshot represents one provider's current health record.
// @Description Provider health status
type HealthSnapshot struct {
	ProviderID    string  `json:"provider_id" example:"openai"`
	Score         float64 `json:"score" example:"0.94"`
	Status        string  `json:"status" example:"good"`
	LatencyEWMAMs float64 `json:"latency_ewma_ms" example:"312.5"`
	SuccessCount  int64   `json:"success_count" example:"1024"`
	FailureCount  int64   `json:"failure_count" example:"12"`
	CircuitState  string  `json:"circuit_state" example:"closed"`
}

// HealthListResponse represents every tracked provider's health.
// @Description Health list response
type HealthListResponse struct {
	Providers []HealthSnapshot `json:"providers"`
}
