package agent

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompt_template.txt
var promptTemplate string

// BuildPrompt embeds query verbatim into the instruction prompt.
func BuildPrompt(query string) string {
	templateValues := map[string]any{
		"query": query,
	}

	prompt := strings.TrimRight(promptTemplate, "\n")
	for key, value := range templateValues {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", fmt.Sprint(value))
	}
	return prompt
}
