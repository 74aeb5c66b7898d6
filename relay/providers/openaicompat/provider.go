package openaicompat

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

// Config holds everything a concrete vendor package needs to stand up a
// Provider over its own OpenAI-compatible endpoint.
type Config struct {
	ProviderName string
	BaseURL      string
	DefaultModel string

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
	// ModelsEndpoint defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders sets request headers given the resolved credential. If
	// nil, "Authorization: Bearer <cred>" plus a JSON content type is used.
	BuildHeaders func(req *http.Request, cred string)

	Capabilities adapter.Capabilities
}

// Provider is the base adapter.Provider implementation shared by every
// OpenAI-compatible vendor. Concrete vendor packages construct one with New
// and a vendor-specific Config.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Provider, applying the same defaults the teacher's base
// constructor applies (30s timeout, canonical endpoint paths).
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *Provider) ID() adapter.ProviderID { return adapter.ProviderID(p.cfg.ProviderName) }

func (p *Provider) Capabilities() adapter.Capabilities { return p.cfg.Capabilities }

func (p *Provider) buildHeaders(req *http.Request, cred string) {
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(req, cred)
		return
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) model(req adapter.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.DefaultModel
}

func toChatMessages(msgs []adapter.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func finishReasonFrom(s string) adapter.FinishReason {
	switch s {
	case "length":
		return adapter.FinishLength
	case "content_filter":
		return adapter.FinishContentFilter
	case "":
		return adapter.FinishStop
	default:
		return adapter.FinishStop
	}
}

// Generate drives one non-streaming-request-but-streamed-response round
// trip: the request always sets stream=true so every vendor, including
// ones that otherwise default to a single blocking response, is read
// through the same SSE path and reports chunks as they arrive.
func (p *Provider) Generate(ctx context.Context, req adapter.Request, cred adapter.Credential, sink adapter.Sink) (adapter.GenerateResponse, error) {
	return adapter.RunContract(sink, func(guarded adapter.Sink) (adapter.GenerateResponse, error) {
		body := chatRequest{
			Model:       p.model(req),
			Messages:    toChatMessages(req.Messages),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.StopSequences,
			Stream:      true,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			ne := errors.New(errors.KindUnknown, err.Error()).WithCause(err)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
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
			msg := parseErrorMessage(data)
			status := resp.StatusCode
			ne := p.NormalizeError(fmt.Errorf("%s", msg), &status)
			guarded(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		return p.streamSSE(ctx, resp.Body, guarded)
	})
}

// streamSSE parses the SSE body, forwarding each choice's delta through
// sink and returning the final response assembled from the last chunk
// carrying usage/finish_reason.
func (p *Provider) streamSSE(ctx context.Context, body io.ReadCloser, sink adapter.Sink) (adapter.GenerateResponse, error) {
	defer body.Close()

	var final adapter.GenerateResponse
	var content strings.Builder
	reader := bufio.NewReader(body)

	for {
		if ctx.Err() != nil {
			return adapter.GenerateResponse{}, ctx.Err()
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if final.FinishReason == "" {
					final.FinishReason = adapter.FinishStop
				}
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
		if data == "[DONE]" {
			final.Content = content.String()
			sink(adapter.StreamChunk{Kind: adapter.ChunkDone, Usage: final.Usage, Model: final.Model, FinishReason: final.FinishReason})
			return final, nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			ne := p.NormalizeError(err, nil)
			sink(adapter.StreamChunk{Kind: adapter.ChunkError, Error: ne})
			return adapter.GenerateResponse{}, ne
		}

		final.Model = chunk.Model
		if chunk.Usage != nil {
			final.Usage = adapter.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				final.FinishReason = finishReasonFrom(choice.FinishReason)
			}
			var delta string
			if choice.Delta != nil {
				delta = choice.Delta.Content
			} else if choice.Message != nil {
				delta = choice.Message.Content
			}
			if delta == "" {
				continue
			}
			content.WriteString(delta)
			select {
			case <-ctx.Done():
				return adapter.GenerateResponse{}, ctx.Err()
			default:
			}
			sink(adapter.StreamChunk{Kind: adapter.ChunkDelta, Delta: delta, Model: chunk.Model})
		}
	}
}

// TestConnection issues a lightweight models-list call to confirm the
// credential and base URL are reachable.
func (p *Provider) TestConnection(ctx context.Context, cred adapter.Credential) (adapter.ConnectionTestResult, error) {
	start := adapter.Clock()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
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
		ne := p.NormalizeError(fmt.Errorf("%s", parseErrorMessage(data)), &status)
		return adapter.ConnectionTestResult{OK: false, Error: ne, LatencyMs: latency.Milliseconds()}, nil
	}
	return adapter.ConnectionTestResult{OK: true, LatencyMs: latency.Milliseconds()}, nil
}

// NormalizeError classifies a raw transport/upstream error into the closed
// taxonomy, status code dominating message heuristics when known.
func (p *Provider) NormalizeError(raw error, statusCode *int) *errors.NormalizedError {
	if raw == nil {
		return errors.New(errors.KindUnknown, "")
	}
	return errors.Classify(raw.Error(), statusCode).WithCause(raw)
}
