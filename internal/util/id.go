package util

import "github.com/google/uuid"

// NewID returns a random identifier for chats, messages, users and jobs.
func NewID() string {
	return uuid.NewString()
}
