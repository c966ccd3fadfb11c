package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"messageai/services/assistant/internal/convclient"
)

const systemPrompt = "You are an assistant for workplace messaging. You are given a chat transcript and must answer with a single JSON object matching the requested schema, with no surrounding prose."

func summaryPrompt(chat convclient.Context) string {
	return fmt.Sprintf(`Summarize the following conversation as a meeting summary.
Respond with JSON: {"title": string, "overview": string, "keyPoints": [string], "actionItems": [string]}.

Chat: %s
Transcript:
%s`, chat.Name, transcript(chat.Messages))
}

func decisionsPrompt(chat convclient.Context) string {
	return fmt.Sprintf(`Extract the decisions made in the following conversation.
Respond with JSON: {"decisions": [{"title": string, "description": string, "decidedBy": string}]}.
Respond with {"decisions": []} when no decisions were made.

Chat: %s
Transcript:
%s`, chat.Name, transcript(chat.Messages))
}

func insightsPrompt(chat convclient.Context) string {
	return fmt.Sprintf(`Analyze how this group collaborates in the following conversation.
Respond with JSON: {"summary": string, "strengths": [string], "improvements": [string]}.

Chat: %s
Participants: %d
Transcript:
%s`, chat.Name, len(chat.Participants), transcript(chat.Messages))
}

func statusPrompt(chat convclient.Context, projectName string) string {
	return fmt.Sprintf(`Report the status of the project %q as discussed in the following conversation.
Respond with JSON: {"health": "onTrack"|"atRisk"|"blocked"|"unknown", "summary": string, "blockers": [string], "nextSteps": [string]}.

Chat: %s
Transcript:
%s`, projectName, chat.Name, transcript(chat.Messages))
}

func transcript(messages []convclient.ContextMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.SenderName)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// decodeStructured parses a model response into dst. Models wrap JSON in
// markdown fences often enough that we strip them first. A false return means
// the response was not usable JSON and the caller should fall back to treating
// it as plain text.
func decodeStructured(response string, dst any) bool {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if cleaned == "" || cleaned[0] != '{' {
		return false
	}
	return json.Unmarshal([]byte(cleaned), dst) == nil
}
