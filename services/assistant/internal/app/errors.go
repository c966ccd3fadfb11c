package app

import "errors"

var (
	// ErrGenerationNotConfigured reports a missing generation API key. It is
	// returned before any network call is attempted.
	ErrGenerationNotConfigured = errors.New("assistant generation is not configured")
	// ErrChatNotFound reports an unknown chat id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotParticipant reports a caller outside the chat.
	ErrNotParticipant = errors.New("user is not a chat participant")
	// ErrArtifactNotFound reports an artifact that was never generated.
	ErrArtifactNotFound = errors.New("artifact not generated yet")
	// ErrProjectNameRequired reports a project status request without a name.
	ErrProjectNameRequired = errors.New("project name is required")
	// ErrUnknownArtifactKind reports an unsupported artifact kind.
	ErrUnknownArtifactKind = errors.New("unknown artifact kind")
)
