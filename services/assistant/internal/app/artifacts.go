package app

import "time"

// ArtifactKind names one cacheable assistant artifact.
type ArtifactKind string

const (
	KindSummary    ArtifactKind = "summary"
	KindDecisions  ArtifactKind = "decisions"
	KindPriorities ArtifactKind = "priorities"
	KindInsights   ArtifactKind = "insights"
	KindStatus     ArtifactKind = "project-status"
)

// ParseArtifactKind validates an artifact kind from a request path.
func ParseArtifactKind(raw string) (ArtifactKind, bool) {
	switch ArtifactKind(raw) {
	case KindSummary, KindDecisions, KindPriorities, KindInsights, KindStatus:
		return ArtifactKind(raw), true
	}
	return "", false
}

// MeetingSummary condenses a conversation into discussion points and actions.
type MeetingSummary struct {
	ChatID      string    `json:"chatId"`
	Title       string    `json:"title"`
	Overview    string    `json:"overview"`
	KeyPoints   []string  `json:"keyPoints"`
	ActionItems []string  `json:"actionItems"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Decision is one decision extracted from a conversation.
type Decision struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DecidedBy   string `json:"decidedBy"`
}

// PriorityLevel ranks a flagged message.
type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
)

// PriorityMessage flags one conversation message as needing attention.
type PriorityMessage struct {
	MessageID  string        `json:"messageId"`
	SenderName string        `json:"senderName"`
	Content    string        `json:"content"`
	Level      PriorityLevel `json:"level"`
	Reasons    []string      `json:"reasons"`
	Timestamp  time.Time     `json:"timestamp"`
}

// CollaborationInsight describes how the group works together.
type CollaborationInsight struct {
	ChatID       string    `json:"chatId"`
	Summary      string    `json:"summary"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// ProjectHealth classifies a project's trajectory.
type ProjectHealth string

const (
	HealthOnTrack ProjectHealth = "onTrack"
	HealthAtRisk  ProjectHealth = "atRisk"
	HealthBlocked ProjectHealth = "blocked"
	HealthUnknown ProjectHealth = "unknown"
)

// ProjectStatus reports the state of a named project as discussed in chat.
type ProjectStatus struct {
	ChatID      string        `json:"chatId"`
	ProjectName string        `json:"projectName"`
	Health      ProjectHealth `json:"health"`
	Summary     string        `json:"summary"`
	Blockers    []string      `json:"blockers"`
	NextSteps   []string      `json:"nextSteps"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// Artifact wraps one cached artifact value with its generation time.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	ChatID      string       `json:"chatId"`
	Value       any          `json:"value"`
	GeneratedAt time.Time    `json:"generatedAt"`
}
