// Package llm provides chat-completion backends for answer generation.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/quickans/internal/model"
)

// Default models per provider, used when llm.model is empty.
const (
	DefaultOpenAIModel    = "gpt-3.5-turbo"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// ErrNoAPIKey is returned by New when the provider needs a key and none
// was supplied.
var ErrNoAPIKey = errors.New("llm API key is not configured")

// Completer sends a single user prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the Completer selected by cfg.Provider.
func New(ctx context.Context, cfg model.LLMConfig, apiKey string) (Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrNoAPIKey)
	}

	switch cfg.Provider {
	case model.LLMProviderOpenAI, "":
		return NewOpenAI(apiKey, cfg.Model, cfg.MaxTokens), nil
	case model.LLMProviderAnthropic:
		return NewAnthropic(apiKey, cfg.Model, cfg.MaxTokens), nil
	case model.LLMProviderGemini:
		g, err := NewGemini(ctx, apiKey, cfg.Model, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
