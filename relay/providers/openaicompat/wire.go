// Package openaicompat is the shared adapter base for every upstream that
// speaks the OpenAI chat-completions wire format (DeepSeek, Qwen, GLM, Grok,
// Kimi, MiniMax, Doubao, Mistral, Llama-compat gateways, and others). Each
// vendor package under relay/providers/vendors only supplies a Config; the
// HTTP request build, SSE parsing, and error mapping live here once.
//
// Grounded on the teacher's llm/providers/openaicompat.Provider and
// llm/providers/common.go (wire types, MapHTTPError, ChooseModel), reshaped
// from the Completion/Stream split onto a single adapter.Provider.Generate
// call that reports through RunContract instead of returning two separate
// methods.
package openaicompat

import "encoding/json"

// chatMessage is one entry of an OpenAI-compatible chat completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// chatRequest is the wire body POSTed to the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

// chatResponse covers both the non-streaming body and each SSE event's
// payload — the two shapes differ only in whether Choices carry Message or
// Delta.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// errorResponse is the common {"error": {...}} envelope most OpenAI-compatible
// APIs return on a non-2xx status.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// parseErrorMessage tries the common envelope first, falling back to the
// raw body text so nothing is silently swallowed.
func parseErrorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		if e.Error.Type != "" {
			return e.Error.Message + " (type: " + e.Error.Type + ")"
		}
		return e.Error.Message
	}
	return string(body)
}
