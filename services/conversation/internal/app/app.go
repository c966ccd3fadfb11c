package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"messageai/internal/util"
	"messageai/pkg/domain"
	"messageai/pkg/queue"
	"messageai/pkg/store"
)

// DeliveryQueue enqueues messages for asynchronous delivery.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, messageID, chatID string) (queue.DeliveryJob, error)
}

// EventKind labels the live events fanned out to chat subscribers.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventStatus   EventKind = "status"
	EventReaction EventKind = "reaction"
	EventRead     EventKind = "read"
)

// Event is one live update delivered to chat subscribers.
type Event struct {
	Kind    EventKind       `json:"kind"`
	ChatID  string          `json:"chatId"`
	Message *domain.Message `json:"message,omitempty"`
	UserID  string          `json:"userId,omitempty"`
}

// Broadcaster fans an event out to a chat's live subscribers and reports how
// many connections received it.
type Broadcaster interface {
	Broadcast(chatID string, event Event) int
}

// Config holds runtime configuration for the conversation core.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Directory   UserDirectory
	Names       *NameCache
	Queue       DeliveryQueue
	Broadcast   Broadcaster
}

// App wires storage, the identity directory, the delivery queue and the live
// hub into the conversation logic.
type App struct {
	store     store.Store
	directory UserDirectory
	names     *NameCache
	queue     DeliveryQueue
	broadcast Broadcaster
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("user directory required")
	}
	names := cfg.Names
	if names == nil {
		names = NewNameCache(cfg.Directory, 0)
	}
	return &App{
		store:     dataStore,
		directory: cfg.Directory,
		names:     names,
		queue:     cfg.Queue,
		broadcast: cfg.Broadcast,
	}, nil
}

// ListChats returns the caller's chats with resolved display names and unread
// counts, most recently active first.
func (a *App) ListChats(userID string) ([]domain.ChatSummary, error) {
	chats, err := a.store.ListChatsByParticipant(userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	// one directory round trip for every counterpart in 1:1 chats
	var counterparts []string
	for _, c := range chats {
		if c.IsGroup {
			continue
		}
		if other := otherParticipant(c, userID); other != "" {
			counterparts = append(counterparts, other)
		}
	}
	names := map[string]string{}
	if len(counterparts) > 0 {
		names, err = a.names.Names(counterparts)
		if err != nil {
			return nil, fmt.Errorf("resolve names: %w", err)
		}
	}

	summaries := make([]domain.ChatSummary, 0, len(chats))
	for _, c := range chats {
		unread, err := a.store.CountUnread(c.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		// the messages table is the source of truth for the last message;
		// the chat record's copy is a hint some stores do not persist
		if last, ok, err := a.store.LastMessage(c.ID); err != nil {
			return nil, fmt.Errorf("last message: %w", err)
		} else if ok {
			c.LastMessage = &last
		}
		resolved := c.DisplayName()
		if !c.IsGroup {
			resolved = names[otherParticipant(c, userID)]
		}
		summaries = append(summaries, domain.ChatSummary{
			Chat:         c,
			ResolvedName: resolved,
			UnreadCount:  unread,
		})
	}
	return summaries, nil
}

// CreateChat creates a 1:1 or group chat. The creator is always a
// participant; group chats seed the creator as admin.
func (a *App) CreateChat(creatorID string, participants []string, isGroup bool, groupName string) (domain.Chat, error) {
	set := map[string]struct{}{creatorID: {}}
	cleaned := []string{creatorID}
	for _, id := range participants {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	if len(cleaned) < 2 {
		return domain.Chat{}, ErrParticipantsRequired
	}
	if !isGroup && len(cleaned) != 2 {
		return domain.Chat{}, ErrDirectChatSize
	}

	now := time.Now().UTC()
	chat := domain.Chat{
		ID:           util.NewID(),
		Participants: cleaned,
		IsGroup:      isGroup,
		CreatedBy:    creatorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if isGroup {
		chat.GroupName = strings.TrimSpace(groupName)
		chat.AdminIDs = []string{creatorID}
	}
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// GetChat returns a chat the caller participates in.
func (a *App) GetChat(userID, chatID string) (domain.Chat, error) {
	chat, err := a.memberChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if last, ok, err := a.store.LastMessage(chatID); err != nil {
		return domain.Chat{}, fmt.Errorf("last message: %w", err)
	} else if ok {
		chat.LastMessage = &last
	}
	return chat, nil
}

// RenameChat sets a group chat's name. Concurrent renames are
// last-write-wins; the final state is whichever save lands last.
func (a *App) RenameChat(userID, chatID, name string) (domain.Chat, error) {
	chat, err := a.memberChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if !chat.IsGroup {
		return domain.Chat{}, ErrGroupOnly
	}
	if !chat.IsAdmin(userID) {
		return domain.Chat{}, ErrAdminOnly
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Chat{}, ErrGroupNameRequired
	}
	chat.GroupName = name
	chat.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// AddParticipants adds users to a group chat.
func (a *App) AddParticipants(userID, chatID string, ids []string) (domain.Chat, error) {
	chat, err := a.memberChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if !chat.IsGroup {
		return domain.Chat{}, ErrGroupOnly
	}
	if !chat.IsAdmin(userID) {
		return domain.Chat{}, ErrAdminOnly
	}
	added := false
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || chat.HasParticipant(id) {
			continue
		}
		chat.Participants = append(chat.Participants, id)
		added = true
	}
	if !added {
		return chat, nil
	}
	chat.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// RemoveParticipant removes a user from a group chat. Members may leave on
// their own; removing anyone else requires admin. The creator can never be
// removed, not even by themselves.
func (a *App) RemoveParticipant(userID, chatID, targetID string) (domain.Chat, error) {
	chat, err := a.memberChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if !chat.IsGroup {
		return domain.Chat{}, ErrGroupOnly
	}
	if targetID == chat.CreatedBy {
		return domain.Chat{}, ErrCreatorRemoval
	}
	if targetID != userID && !chat.IsAdmin(userID) {
		return domain.Chat{}, ErrAdminOnly
	}
	if !chat.HasParticipant(targetID) {
		return chat, nil
	}
	chat.Participants = removeID(chat.Participants, targetID)
	chat.AdminIDs = removeID(chat.AdminIDs, targetID)
	chat.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// SendMessage persists a message as sending and enqueues it for delivery.
// The message survives delivery failure; it is marked failed, never deleted.
func (a *App) SendMessage(ctx context.Context, userID, chatID, content string, msgType domain.MessageType) (domain.Message, error) {
	chat, err := a.memberChat(userID, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrContentRequired
	}
	if msgType == "" {
		msgType = domain.TypeText
	}
	now := time.Now().UTC()
	msg := domain.Message{
		ID:        util.NewID(),
		ChatID:    chat.ID,
		SenderID:  userID,
		Content:   content,
		Type:      msgType,
		Status:    domain.StatusSending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	chat.LastMessage = &msg
	chat.UpdatedAt = now
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Message{}, fmt.Errorf("update chat: %w", err)
	}

	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, msg.ID, chat.ID); err != nil {
			failed, _, markErr := a.store.UpdateMessageStatus(msg.ID, domain.StatusFailed)
			if markErr != nil {
				return domain.Message{}, fmt.Errorf("mark failed after enqueue error: %w", markErr)
			}
			return failed, nil
		}
	}
	return msg, nil
}

// RetryMessage re-delivers a failed message. Any other status is a no-op
// returning the message unchanged.
func (a *App) RetryMessage(ctx context.Context, userID, chatID, messageID string) (domain.Message, error) {
	if _, err := a.memberChat(userID, chatID); err != nil {
		return domain.Message{}, err
	}
	msg, err := a.chatMessage(chatID, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.Status != domain.StatusFailed {
		return msg, nil
	}
	updated, applied, err := a.store.UpdateMessageStatus(messageID, domain.StatusSending)
	if err != nil {
		return domain.Message{}, fmt.Errorf("reset message status: %w", err)
	}
	if !applied {
		return updated, nil
	}
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, messageID, chatID); err != nil {
			failed, _, markErr := a.store.UpdateMessageStatus(messageID, domain.StatusFailed)
			if markErr != nil {
				return domain.Message{}, fmt.Errorf("mark failed after enqueue error: %w", markErr)
			}
			return failed, nil
		}
	}
	return updated, nil
}

// ListMessages returns a chat's recent messages in chronological order.
func (a *App) ListMessages(userID, chatID string, limit int) ([]domain.Message, error) {
	if _, err := a.memberChat(userID, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := a.store.ListMessages(chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks every message in the chat read by the caller. Calling it
// again is a no-op.
func (a *App) MarkRead(userID, chatID string) (int, error) {
	if _, err := a.memberChat(userID, chatID); err != nil {
		return 0, err
	}
	newlyRead, err := a.store.MarkChatRead(chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark chat read: %w", err)
	}
	if newlyRead > 0 && a.broadcast != nil {
		a.broadcast.Broadcast(chatID, Event{Kind: EventRead, ChatID: chatID, UserID: userID})
	}
	return newlyRead, nil
}

// React toggles the caller in the emoji's reactor set.
func (a *App) React(userID, chatID, messageID, emoji string, add bool) (domain.Message, error) {
	if _, err := a.memberChat(userID, chatID); err != nil {
		return domain.Message{}, err
	}
	if _, err := a.chatMessage(chatID, messageID); err != nil {
		return domain.Message{}, err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domain.Message{}, fmt.Errorf("emoji required")
	}
	msg, err := a.store.SetReaction(messageID, emoji, userID, add)
	if err != nil {
		return domain.Message{}, fmt.Errorf("set reaction: %w", err)
	}
	if a.broadcast != nil {
		a.broadcast.Broadcast(chatID, Event{Kind: EventReaction, ChatID: chatID, Message: &msg, UserID: userID})
	}
	return msg, nil
}

// SearchUsers proxies relevance-ordered user search to the identity service.
func (a *App) SearchUsers(query string) ([]domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return a.directory.SearchUsers(query)
}

// CanSubscribe reports whether the user may open a live subscription.
func (a *App) CanSubscribe(userID, chatID string) error {
	_, err := a.memberChat(userID, chatID)
	return err
}

// HandleDelivery is the delivery queue handler. It confirms the message as
// sent and, when the fan-out reaches at least one live subscriber, records it
// as delivered.
func (a *App) HandleDelivery(ctx context.Context, job queue.DeliveryJob) error {
	msg, applied, err := a.store.UpdateMessageStatus(job.MessageID, domain.StatusSent)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !applied && msg.Status != domain.StatusSent {
		// already moved past sent (or failed terminally); nothing to deliver
		return nil
	}
	reached := 0
	if a.broadcast != nil {
		reached = a.broadcast.Broadcast(job.ChatID, Event{Kind: EventMessage, ChatID: job.ChatID, Message: &msg})
	}
	if reached > 0 {
		delivered, applied, err := a.store.UpdateMessageStatus(job.MessageID, domain.StatusDelivered)
		if err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		if applied && a.broadcast != nil {
			a.broadcast.Broadcast(job.ChatID, Event{Kind: EventStatus, ChatID: job.ChatID, Message: &delivered})
		}
	}
	return nil
}

// HandleDeliveryFailure runs when the delivery queue gives up on a message.
// The message is kept and marked failed so the sender can retry it.
func (a *App) HandleDeliveryFailure(ctx context.Context, job queue.DeliveryJob) {
	failed, applied, err := a.store.UpdateMessageStatus(job.MessageID, domain.StatusFailed)
	if err != nil || !applied {
		return
	}
	if a.broadcast != nil {
		a.broadcast.Broadcast(job.ChatID, Event{Kind: EventStatus, ChatID: job.ChatID, Message: &failed})
	}
}

// ContextMessage is one message prepared for the assistant service.
type ContextMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatContext returns the conversation context consumed by the assistant
// service. It is reachable over the service-token-guarded internal endpoint.
func (a *App) ChatContext(chatID string, limit int) (domain.Chat, []ContextMessage, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, nil, ErrChatNotFound
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	msgs, err := a.store.ListMessages(chatID, limit)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("list messages: %w", err)
	}
	names, err := a.names.Names(chat.Participants)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("resolve names: %w", err)
	}
	out := make([]ContextMessage, 0, len(msgs))
	for _, m := range msgs {
		name := names[m.SenderID]
		if name == "" {
			name = m.SenderID
		}
		out = append(out, ContextMessage{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: name,
			Content:    m.Content,
			Timestamp:  m.CreatedAt,
		})
	}
	return chat, out, nil
}

func (a *App) memberChat(userID, chatID string) (domain.Chat, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	if !chat.HasParticipant(userID) {
		return domain.Chat{}, ErrNotParticipant
	}
	return chat, nil
}

func (a *App) chatMessage(chatID, messageID string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok || msg.ChatID != chatID {
		return domain.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func otherParticipant(c domain.Chat, userID string) string {
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
