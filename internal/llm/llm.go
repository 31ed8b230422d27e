package llm

import (
	"context"

	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/floatchat-go/internal/config"
)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// New builds the Provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGemini(ctx, cfg)
	case "openai":
		return NewOpenAI(NewClient(cfg), cfg.Model), nil
	case "ollama":
		return NewOllama(cfg)
	default:
		return nil, oops.In("llm").Code("unknown_provider").Errorf("unknown llm provider %q", cfg.Provider)
	}
}
