package domain

import "time"

type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the happy-path lifecycle. Failed sits outside the
// ordering: it is terminal but retryable, and retry re-enters at sending.
var deliveryRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a message may move from one delivery status
// to another. Lifecycle transitions are monotonic; any non-failed status may
// fall to failed, and only failed may return to sending.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	if s == to {
		return false
	}
	if s == StatusFailed {
		return to == StatusSending
	}
	if to == StatusFailed {
		return true
	}
	from, ok := deliveryRank[s]
	if !ok {
		return false
	}
	next, ok := deliveryRank[to]
	if !ok {
		return false
	}
	return next > from
}

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeSystem MessageType = "system"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	IsOnline        bool      `json:"isOnline"`
	PasswordHash    string    `json:"-"`
	Role            UserRole  `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Chat struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"isGroup"`
	GroupName     string    `json:"groupName,omitempty"`
	GroupImageURL string    `json:"groupImageUrl,omitempty"`
	CreatedBy     string    `json:"createdBy"`
	AdminIDs      []string  `json:"adminIds"`
	LastMessage   *Message  `json:"lastMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DisplayName returns the name a group chat should render under.
// One-to-one chats resolve the other participant's name elsewhere.
func (c Chat) DisplayName() string {
	if !c.IsGroup {
		return ""
	}
	if c.GroupName != "" {
		return c.GroupName
	}
	return "Group Chat"
}

// HasParticipant reports membership; participant order carries no meaning.
func (c Chat) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user administers the chat.
func (c Chat) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string              `json:"id"`
	ChatID    string              `json:"chatId"`
	SenderID  string              `json:"senderId"`
	Content   string              `json:"content"`
	Type      MessageType         `json:"type"`
	Status    DeliveryStatus      `json:"status"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji -> user IDs
	ReadBy    []string            `json:"readBy,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// ReadByUser reports whether the user appears in the message's read set.
func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatSummary is a chat decorated with per-caller fields for listing.
type ChatSummary struct {
	Chat
	ResolvedName string `json:"resolvedName"`
	UnreadCount  int    `json:"unreadCount"`
}
