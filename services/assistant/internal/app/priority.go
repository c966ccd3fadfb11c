package app

import (
	"strings"

	"messageai/services/assistant/internal/convclient"
)

var urgencyMarkers = []string{
	"urgent", "asap", "critical", "blocker", "blocked", "emergency",
	"immediately", "right away", "high priority",
}

var deadlineMarkers = []string{
	"deadline", "due", "by eod", "end of day", "by tomorrow", "by today",
	"by monday", "by tuesday", "by wednesday", "by thursday", "by friday",
	"this week", "before the", "no later than",
}

// analyzePriorities walks the context message by message and flags the ones
// that need attention. Each message yields at most one flag; messages with no
// signal yield none.
func analyzePriorities(messages []convclient.ContextMessage) []PriorityMessage {
	var out []PriorityMessage
	for _, msg := range messages {
		lower := strings.ToLower(msg.Content)
		var reasons []string
		score := 0
		if containsAny(lower, urgencyMarkers) {
			score += 3
			reasons = append(reasons, "urgency marker")
		}
		if containsAny(lower, deadlineMarkers) {
			score += 2
			reasons = append(reasons, "deadline")
		}
		if strings.Contains(msg.Content, "@") {
			score++
			reasons = append(reasons, "mention")
		}
		if strings.Contains(msg.Content, "?") {
			score++
			reasons = append(reasons, "question")
		}
		if score == 0 {
			continue
		}
		level := PriorityLow
		switch {
		case score >= 4:
			level = PriorityHigh
		case score >= 2:
			level = PriorityMedium
		}
		out = append(out, PriorityMessage{
			MessageID:  msg.ID,
			SenderName: msg.SenderName,
			Content:    msg.Content,
			Level:      level,
			Reasons:    reasons,
			Timestamp:  msg.Timestamp,
		})
	}
	return out
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
