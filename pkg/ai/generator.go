package ai

import "context"

// TextGenerator produces text from a system prompt and a user prompt.
// Providers that speak the OpenAI chat completions dialect implement this.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
