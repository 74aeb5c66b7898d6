package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/relaycore/relay/config"
	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/providers/anthropic"
	"github.com/relaycore/relay/relay/providers/openaicompat"
	"github.com/relaycore/relay/relay/providers/vendors"
)

// buildProvider constructs the adapter.Provider for one configured
// provider entry, dispatching on its ID to the matching vendor
// constructor and falling back to a bare OpenAI-compatible adapter for
// anything unrecognized (including "openai" itself, which needs no
// vendor-specific defaults beyond openaicompat's own).
func buildProvider(pc config.ProviderConfig, logger *zap.Logger) (adapter.Provider, error) {
	if pc.ID == "" {
		return nil, fmt.Errorf("provider config: id must not be empty")
	}

	model := ""
	if len(pc.Models) > 0 {
		model = pc.Models[0]
	}

	switch strings.ToLower(pc.ID) {
	case "anthropic", "claude":
		return anthropic.New(anthropic.Config{
			ProviderName: pc.ID,
			BaseURL:      pc.BaseURL,
			DefaultModel: model,
		}, logger), nil
	case "deepseek":
		return vendors.NewDeepSeek(pc.ID, pc.BaseURL, model, logger), nil
	case "qwen":
		return vendors.NewQwen(pc.ID, pc.BaseURL, model, logger), nil
	case "grok":
		return vendors.NewGrok(pc.ID, pc.BaseURL, model, logger), nil
	case "doubao":
		return vendors.NewDoubao(pc.ID, pc.BaseURL, model, logger), nil
	case "glm", "zhipu":
		return vendors.NewGLM(pc.ID, pc.BaseURL, model, logger), nil
	case "kimi", "moonshot":
		return vendors.NewKimi(pc.ID, pc.BaseURL, model, logger), nil
	case "minimax":
		return vendors.NewMiniMax(pc.ID, pc.BaseURL, model, logger), nil
	case "mistral":
		return vendors.NewMistral(pc.ID, pc.BaseURL, model, logger), nil
	case "hunyuan":
		return vendors.NewHunyuan(pc.ID, pc.BaseURL, model, logger), nil
	case "gemini", "gemini-compat":
		return vendors.NewGeminiCompat(pc.ID, pc.BaseURL, model, logger), nil
	case "llama-together":
		return vendors.NewLlama(pc.ID, vendors.LlamaTogether, pc.BaseURL, model, logger), nil
	case "llama-replicate":
		return vendors.NewLlama(pc.ID, vendors.LlamaReplicate, pc.BaseURL, model, logger), nil
	case "llama-openrouter":
		return vendors.NewLlama(pc.ID, vendors.LlamaOpenRouter, pc.BaseURL, model, logger), nil
	default:
		return openaicompat.New(openaicompat.Config{
			ProviderName: pc.ID,
			BaseURL:      pc.BaseURL,
			DefaultModel: model,
		}, logger), nil
	}
}
