package llm

import (
	"context"

	"github.com/samber/oops"
	"google.golang.org/genai"

	"github.com/comigor/floatchat-go/internal/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini Developer API provider.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, oops.In("llm").Tags("gemini").Wrapf(err, "creating genai client")
	}
	return newGemini(client.Models, cfg.Model), nil
}

func newGemini(models contentGenerator, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", oops.In("llm").Tags("gemini").Code("request_failed").With("model", g.model).Wrap(err)
	}
	return res.Text(), nil
}
