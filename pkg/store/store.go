package store

import (
	"errors"

	"messageai/pkg/domain"
)

// ErrNotFound reports a missing user, chat, or message.
var ErrNotFound = errors.New("not found")

// Store defines persistence operations for users, chats, and messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUsersByIDs(ids []string) ([]domain.User, error)
	SearchUsers(query string, limit int) ([]domain.User, error)
	UserCount() (int, error)

	// chats
	SaveChat(domain.Chat) error
	GetChat(id string) (domain.Chat, bool, error)
	ListChatsByParticipant(userID string) ([]domain.Chat, error)

	// messages
	SaveMessage(domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	ListMessages(chatID string, limit int) ([]domain.Message, error)
	LastMessage(chatID string) (domain.Message, bool, error)
	// UpdateMessageStatus applies the transition when the delivery-status
	// ordering allows it; otherwise the message is returned unchanged and
	// applied is false.
	UpdateMessageStatus(id string, to domain.DeliveryStatus) (msg domain.Message, applied bool, err error)
	// SetReaction adds or removes the user from the emoji's reactor set.
	// Both directions are idempotent.
	SetReaction(messageID, emoji, userID string, add bool) (domain.Message, error)
	// MarkChatRead records the user's read position over the whole chat:
	// every message not sent by the user gains the user in its read set and,
	// where the ordering allows, moves to the read status. Idempotent.
	MarkChatRead(chatID, userID string) (newlyRead int, err error)
	CountUnread(chatID, userID string) (int, error)
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// JWK is one JSON Web Key entry served by the JWKS endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability of session stores that publish
// verification keys.
type JWKSProvider interface {
	JWKS() []JWK
}
