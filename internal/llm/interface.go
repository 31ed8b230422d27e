package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Provider produces the raw answer text for a fully composed prompt.
// Implementations make a single, non-streaming call.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatCompleter is the part of *openai.Client the OpenAI backend calls.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// contentGenerator is the subset of genai.Models used by the Gemini provider.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
