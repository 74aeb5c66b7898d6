package vendors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycore/relay/relay/adapter"
)

func TestConstructors_ApplyDefaults(t *testing.T) {
	cases := []struct {
		name     string
		provider adapter.Provider
		wantCaps int
	}{
		{"deepseek", NewDeepSeek("deepseek", "", "", nil), 64_000},
		{"qwen", NewQwen("qwen", "", "", nil), 128_000},
		{"grok", NewGrok("grok", "", "", nil), 128_000},
		{"doubao", NewDoubao("doubao", "", "", nil), 32_000},
		{"glm", NewGLM("glm", "", "", nil), 128_000},
		{"kimi", NewKimi("kimi", "", "", nil), 8_000},
		{"minimax", NewMiniMax("minimax", "", "", nil), 245_000},
		{"mistral", NewMistral("mistral", "", "", nil), 128_000},
		{"hunyuan", NewHunyuan("hunyuan", "", "", nil), 32_000},
		{"llama", NewLlama("llama", "", "", "", nil), 128_000},
		{"gemini", NewGeminiCompat("gemini", "", "", nil), 1_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, adapter.ProviderID(tc.name), tc.provider.ID())
			assert.Equal(t, tc.wantCaps, tc.provider.Capabilities().MaxContextTokens)
			assert.NotEmpty(t, tc.provider.Capabilities().DefaultModel)
		})
	}
}

func TestNewLlama_UpstreamSelectsBaseURL(t *testing.T) {
	together := NewLlama("llama-together", LlamaTogether, "", "", nil)
	replicate := NewLlama("llama-replicate", LlamaReplicate, "", "", nil)
	openrouter := NewLlama("llama-openrouter", LlamaOpenRouter, "", "", nil)

	assert.Equal(t, adapter.ProviderID("llama-together"), together.ID())
	assert.Equal(t, adapter.ProviderID("llama-replicate"), replicate.ID())
	assert.Equal(t, adapter.ProviderID("llama-openrouter"), openrouter.ID())
}
