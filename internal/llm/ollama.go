package llm

import (
	"context"

	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/comigor/floatchat-go/internal/config"
)

type Ollama struct {
	model llms.Model
	name  string
}

// NewOllama talks to a local Ollama server through langchaingo.
func NewOllama(cfg config.LLMConfig) (*Ollama, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	m, err := ollama.New(opts...)
	if err != nil {
		return nil, oops.In("llm").Tags("ollama").With("model", cfg.Model).Wrapf(err, "creating ollama client")
	}
	return &Ollama{model: m, name: cfg.Model}, nil
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, o.model, prompt)
	if err != nil {
		return "", oops.In("llm").Tags("ollama").Code("request_failed").With("model", o.name).Wrap(err)
	}
	return text, nil
}
