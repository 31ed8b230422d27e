package llm

import (
	"context"

	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client ChatCompleter
	model  string
}

func NewOpenAI(client ChatCompleter, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

func (p *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	errs := oops.In("llm").Tags("openai").With("model", p.model)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errs.Code("request_failed").Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Code("no_choices").Errorf("no choices in LLM response")
	}
	return resp.Choices[0].Message.Content, nil
}
