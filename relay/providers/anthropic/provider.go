// Package anthropic adapts Anthropic's Messages API to the uniform
// provider contract. Anthropic's wire shape diverges from the OpenAI
// convention in three ways the openaicompat base cannot absorb: the
// x-api-key header instead of Bearer auth, a top-level system field
// instead of a system-role message, and an SSE event model keyed by named
// event types (message_start/content_block_delta/message_stop) rather
// than a bare "data: {...}" choices array — so it is hand-rolled here
// rather than reusing openaicompat.Provider, mirroring the split the
// teacher's own package layout already draws between its OpenAI-compatible
// providers and its standalone claude package.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/tlsutil"
	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/errors"
)

const defaultVersion = "2023-06-01"

// Config configures the Anthropic adapter.
type Config struct {
	ProviderName string
	BaseURL      string
	DefaultModel string
	APIVersion   string // defaults to "2023-06-01"
	Timeout      time.Duration
	Capabilities adapter.Capabilities
}

// Provider implements adapter.Provider against the Anthropic Messages API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Anthropic adapter.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout), logger: logger}
}

func (p *Provider) ID() adapter.ProviderID             { return adapter.ProviderID(p.cfg.ProviderName) }
func (p *Provider) Capabilities() adapter.Capabilities { return p.cfg.Capabilities }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request, cred string) {
	req.Header.Set("x-api-key", cred)
	req.Header.Set("anthropic-version", p.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

// messagesRequest is the Anthropic Messages API request body. System
// content is a dedicated top-level field, never a message in the array.
type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	StopSeqs    []string  `json:"stop_sequences,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      *usage         `json:"usage,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// sseEvent covers the union of Anthropic's named streaming event payloads;
// only the fields relevant to a given Type are populated.
type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Model string `json:"model"`
		Usage *usage `json:"usage"`
	} `json:"message"`
	Usage *usage `json:"usage"`
}

func toAnthropicMessages(msgs []adapter.Message) (system string, out []message) {
	out = make([]message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == adapter.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		out = append(out, message{Role: string(m.Role), Content: []contentBlock{{Type: "text", Text: m.Content}}})
	}
	return system, out
}

func finishReasonFrom(stopReason string) adapter.FinishReason {
	switch stopReason {
	case "max_tokens":
		return adapter.FinishLength
	case "stop_sequence", "end_turn":
		return adapter.FinishStop
	default:
		return adapter.FinishStop
	}
}

// Generate implements the push-style streaming contract against Anthropic's
// SSE event model.
func (p *Provider) Generate(ctx context.Context, req adapter.Request, cred adapter.Credential, sink adapter.Sink) (adapter.GenerateResponse, error) {
	return adapter.RunContract(sink, func(guarded adapter.Sink) (adapter.GenerateResponse, error) {
		system, messages := toAnthropicMessages(req.Messages)
		maxTokens := req.MaxTokens
		if maxTokens == 0 {
			maxTokens = 4096
		}
		model := req.Model
		if model == "" {
			model = p.cfg.DefaultModel
		}

		body := messagesRequest{
			Model:       model,
			System:      system,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
			StopSeqs:    req.StopSequences,
			Stream:      true,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			ne := errors.New(errors.KindUnknown, err.Error()).WithCause(err)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
		if err != nil {
			ne := errors.New(errors.KindUnknown, err.Error()).WithCause(err)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}
		p.buildHeaders(httpReq, string(cred))

		resp, err := p.client.Do(httpReq)
		if err != nil {
			ne := p.NormalizeError(err, nil)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			status := resp.StatusCode
			ne := p.NormalizeError(fmt.Errorf("%s", parseAnthropicError(data)), &status)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		return p.streamSSE(ctx, resp.Body, model, guarded)
	})
}

func parseAnthropicError(data []byte) string {
	var e errorEnvelope
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		if e.Error.Type != "" {
			return e.Error.Message + " (type: " + e.Error.Type + ")"
		}
		return e.Error.Message
	}
	return string(data)
}

func (p *Provider) streamSSE(ctx context.Context, body io.ReadCloser, requestedModel string, sink adapter.Sink) (adapter.GenerateResponse, error) {
	defer body.Close()

	final := adapter.GenerateResponse{Model: requestedModel, FinishReason: adapter.FinishStop}
	var content strings.Builder
	reader := bufio.NewReader(body)

	for {
		if ctx.Err() != nil {
			return adapter.GenerateResponse{}, ctx.Err()
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				final.Content = content.String()
				sink(adapter.StreamChunk{Kind: adapter.ChunkDone, Usage: final.Usage, Model: final.Model, FinishReason: final.FinishReason})
				return final, nil
			}
			ne := p.NormalizeError(err, nil)
			sink(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var evt sseEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			ne := p.NormalizeError(err, nil)
			sink(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		switch evt.Type {
		case "message_start":
			if evt.Message.Model != "" {
				final.Model = evt.Message.Model
			}
			if evt.Message.Usage != nil {
				final.Usage.PromptTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
				content.WriteString(evt.Delta.Text)
				sink(adapter.StreamChunk{Kind: adapter.ChunkDelta, Delta: evt.Delta.Text, Model: final.Model})
			}
		case "message_delta":
			if evt.Delta.StopReason != "" {
				final.FinishReason = finishReasonFrom(evt.Delta.StopReason)
			}
			if evt.Usage != nil {
				final.Usage.CompletionTokens = evt.Usage.OutputTokens
				final.Usage.TotalTokens = final.Usage.PromptTokens + final.Usage.CompletionTokens
			}
		case "message_stop":
			final.Content = content.String()
			sink(adapter.StreamChunk{Kind: adapter.ChunkDone, Usage: final.Usage, Model: final.Model, FinishReason: final.FinishReason})
			return final, nil
		}
	}
}

// TestConnection sends a minimal 1-token Messages request to confirm the
// credential and base URL are reachable (Anthropic has no models-list
// endpoint usable for a cheap liveness check the way OpenAI-compatible
// APIs do).
func (p *Provider) TestConnection(ctx context.Context, cred adapter.Credential) (adapter.ConnectionTestResult, error) {
	start := adapter.Clock()
	body := messagesRequest{
		Model:     p.cfg.DefaultModel,
		Messages:  []message{{Role: "user", Content: []contentBlock{{Type: "text", Text: "hi"}}}},
		MaxTokens: 1,
	}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return adapter.ConnectionTestResult{}, err
	}
	p.buildHeaders(httpReq, string(cred))

	resp, err := p.client.Do(httpReq)
	latency := adapter.Clock().Sub(start)
	if err != nil {
		ne := p.NormalizeError(err, nil)
		return adapter.ConnectionTestResult{OK: false, Error: ne, LatencyMs: latency.Milliseconds()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		status := resp.StatusCode
		ne := p.NormalizeError(fmt.Errorf("%s", parseAnthropicError(data)), &status)
		return adapter.ConnectionTestResult{OK: false, Error: ne, LatencyMs: latency.Milliseconds()}, nil
	}
	return adapter.ConnectionTestResult{OK: true, LatencyMs: latency.Milliseconds()}, nil
}

// NormalizeError classifies a raw transport/upstream error, status code
// dominating when known.
func (p *Provider) NormalizeError(raw error, statusCode *int) *errors.NormalizedError {
	if raw == nil {
		return errors.New(errors.KindUnknown, "")
	}
	return errors.Classify(raw.Error(), statusCode).WithCause(raw)
}
