// Package vendors supplies the concrete, per-upstream configuration for
// every vendor that speaks the OpenAI-compatible chat completions wire
// format. Each constructor only fixes a base URL, default model, and
// endpoint path on top of openaicompat.Provider — the teacher's pattern of
// per-vendor packages embedding a single shared provider (see e.g.
// llm/providers/deepseek, llm/providers/qwen, llm/providers/grok,
// llm/providers/doubao), collapsed into one package since none of them
// diverge from the shared adapter's behavior.
package vendors

import (
	"go.uber.org/zap"

	"github.com/relaycore/relay/relay/adapter"
	"github.com/relaycore/relay/relay/providers/openaicompat"
)

func caps(maxContext int, model string) adapter.Capabilities {
	return adapter.Capabilities{Streams: true, SystemMessages: true, MaxContextTokens: maxContext, DefaultModel: model}
}

// NewDeepSeek builds a DeepSeek adapter. Default model follows the
// teacher's FallbackModel ("deepseek-chat"); DeepSeek's endpoint omits the
// "/v1" prefix the OpenAI convention uses.
func NewDeepSeek(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		EndpointPath: "/chat/completions",
		Capabilities: caps(64_000, defaultModel),
	}, logger)
}

// NewQwen builds an Alibaba DashScope Qwen adapter over its
// OpenAI-compatible mode.
func NewQwen(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com"
	}
	if defaultModel == "" {
		defaultModel = "qwen3-235b-a22b"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		EndpointPath: "/compatible-mode/v1/chat/completions",
		Capabilities: caps(128_000, defaultModel),
	}, logger)
}

// NewGrok builds an xAI Grok adapter.
func NewGrok(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.x.ai"
	}
	if defaultModel == "" {
		defaultModel = "grok-beta"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(128_000, defaultModel),
	}, logger)
}

// NewDoubao builds a ByteDance Doubao (Volcengine Ark) adapter.
func NewDoubao(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com"
	}
	if defaultModel == "" {
		defaultModel = "Doubao-1.5-pro-32k"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		EndpointPath: "/api/v3/chat/completions",
		Capabilities: caps(32_000, defaultModel),
	}, logger)
}

// NewGLM builds a Zhipu AI GLM adapter.
func NewGLM(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn"
	}
	if defaultModel == "" {
		defaultModel = "glm-4-plus"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName:   id,
		BaseURL:        baseURL,
		DefaultModel:   defaultModel,
		EndpointPath:   "/api/paas/v4/chat/completions",
		ModelsEndpoint: "/api/paas/v4/models",
		Capabilities:   caps(128_000, defaultModel),
	}, logger)
}

// NewKimi builds a Moonshot Kimi adapter.
func NewKimi(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.moonshot.cn"
	}
	if defaultModel == "" {
		defaultModel = "moonshot-v1-8k"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(8_000, defaultModel),
	}, logger)
}

// NewMiniMax builds a MiniMax adapter over its OpenAI-compatible mode
// (the teacher's MiniMax adapter instead hand-rolls MiniMax's native
// XML-tool-call format against /v1/text/chatcompletion_v2; that format is
// out of scope here since the router only needs plain chat content).
func NewMiniMax(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.minimax.io"
	}
	if defaultModel == "" {
		defaultModel = "abab6.5s-chat"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(245_000, defaultModel),
	}, logger)
}

// NewMistral builds a Mistral AI adapter.
func NewMistral(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}
	if defaultModel == "" {
		defaultModel = "mistral-large-latest"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(128_000, defaultModel),
	}, logger)
}

// NewHunyuan builds a Tencent Hunyuan adapter.
func NewHunyuan(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://api.hunyuan.cloud.tencent.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "hunyuan-turbo"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(32_000, defaultModel),
	}, logger)
}

// LlamaUpstream picks the third-party gateway a Llama adapter targets —
// Meta publishes no first-party hosted API.
type LlamaUpstream string

const (
	LlamaTogether   LlamaUpstream = "together"
	LlamaReplicate  LlamaUpstream = "replicate"
	LlamaOpenRouter LlamaUpstream = "openrouter"
)

// NewLlama builds a Llama adapter against one of the third-party gateways
// that host it (Together AI, Replicate, OpenRouter), mirroring the
// teacher's provider-switch default-BaseURL table.
func NewLlama(id string, upstream LlamaUpstream, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if upstream == "" {
		upstream = LlamaTogether
	}
	if baseURL == "" {
		switch upstream {
		case LlamaReplicate:
			baseURL = "https://api.replicate.com"
		case LlamaOpenRouter:
			baseURL = "https://openrouter.ai/api"
		default:
			baseURL = "https://api.together.xyz"
		}
	}
	if defaultModel == "" {
		defaultModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(128_000, defaultModel),
	}, logger)
}

// NewGeminiCompat builds a Google Gemini adapter over its
// OpenAI-compatible endpoint mode (the native Gemini wire format — nested
// "contents"/"parts", no SSE "data:" framing — is out of scope; a
// hand-rolled Gemini adapter would duplicate the openaicompat base for no
// benefit when Google's compatibility layer already speaks it).
func NewGeminiCompat(id, baseURL, defaultModel string, logger *zap.Logger) *openaicompat.Provider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: id,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Capabilities: caps(1_000_000, defaultModel),
	}, logger)
}
