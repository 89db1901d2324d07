package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/quickans/internal/model"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     any
	}{
		{model.LLMProviderOpenAI, &OpenAI{}},
		{"", &OpenAI{}},
		{model.LLMProviderAnthropic, &Anthropic{}},
		{model.LLMProviderGemini, &Gemini{}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := New(t.Context(), model.LLMConfig{Provider: tt.provider}, "key")
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(t.Context(), model.LLMConfig{Provider: model.LLMProviderOpenAI}, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(t.Context(), model.LLMConfig{Provider: "llama"}, "key")
	require.Error(t, err)
}

func TestAnthropicDefaults(t *testing.T) {
	a := NewAnthropic("k", "", -1)
	assert.Equal(t, DefaultAnthropicModel, a.model)
	assert.Equal(t, defaultMaxTokens, a.maxTokens)

	a = NewAnthropic("k", "claude-haiku", 256)
	assert.Equal(t, "claude-haiku", a.model)
	assert.Equal(t, 256, a.maxTokens)
}
