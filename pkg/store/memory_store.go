package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"messageai/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	byEmail  map[string]string
	chats    map[string]domain.Chat
	messages map[string]domain.Message

	// insertion order of messages per chat, oldest first
	chatMessages map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]domain.User),
		byEmail:      make(map[string]string),
		chats:        make(map[string]domain.Chat),
		messages:     make(map[string]domain.Message),
		chatMessages: make(map[string][]string),
	}
}

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok && old.Email != u.Email {
		delete(s.byEmail, strings.ToLower(old.Email))
	}
	s.users[u.ID] = u
	s.byEmail[strings.ToLower(u.Email)] = u.ID
	return nil
}

func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[strings.ToLower(email)]
	return ok, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUsersByIDs(ids []string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *MemoryStore) SearchUsers(query string, limit int) ([]domain.User, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []domain.User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.DisplayName), query) ||
			strings.Contains(strings.ToLower(u.Email), query) {
			matches = append(matches, u)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		iName := strings.Contains(strings.ToLower(matches[i].DisplayName), query)
		jName := strings.Contains(strings.ToLower(matches[j].DisplayName), query)
		if iName != jName {
			return iName
		}
		return matches[i].DisplayName < matches[j].DisplayName
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) UserCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) SaveChat(c domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = cloneChat(c)
	return nil
}

func (s *MemoryStore) GetChat(id string) (domain.Chat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, false, nil
	}
	return cloneChat(c), true, nil
}

func (s *MemoryStore) ListChatsByParticipant(userID string) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chats []domain.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			chats = append(chats, cloneChat(c))
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *MemoryStore) SaveMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.chatMessages[msg.ChatID] = append(s.chatMessages[msg.ChatID], msg.ID)
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	return cloneMessage(msg), true, nil
}

func (s *MemoryStore) ListMessages(chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chatMessages[chatID]
	start := 0
	if len(ids) > limit {
		start = len(ids) - limit
	}
	msgs := make([]domain.Message, 0, len(ids)-start)
	for _, id := range ids[start:] {
		msgs = append(msgs, cloneMessage(s.messages[id]))
	}
	return msgs, nil
}

func (s *MemoryStore) LastMessage(chatID string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chatMessages[chatID]
	if len(ids) == 0 {
		return domain.Message{}, false, nil
	}
	return cloneMessage(s.messages[ids[len(ids)-1]]), true, nil
}

func (s *MemoryStore) UpdateMessageStatus(id string, to domain.DeliveryStatus) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, false, ErrNotFound
	}
	if !msg.Status.CanTransition(to) {
		return cloneMessage(msg), false, nil
	}
	msg.Status = to
	msg.UpdatedAt = time.Now().UTC()
	s.messages[id] = msg
	return cloneMessage(msg), true, nil
}

func (s *MemoryStore) SetReaction(messageID, emoji, userID string, add bool) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	msg = cloneMessage(msg)
	msg.Reactions = toggleReaction(msg.Reactions, emoji, userID, add)
	msg.UpdatedAt = time.Now().UTC()
	s.messages[messageID] = msg
	return cloneMessage(msg), nil
}

func (s *MemoryStore) MarkChatRead(chatID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newlyRead := 0
	now := time.Now().UTC()
	for _, id := range s.chatMessages[chatID] {
		msg := s.messages[id]
		if msg.SenderID == userID {
			continue
		}
		changed := false
		if !msg.ReadByUser(userID) {
			msg = cloneMessage(msg)
			msg.ReadBy = append(msg.ReadBy, userID)
			newlyRead++
			changed = true
		}
		if msg.Status != domain.StatusFailed && msg.Status.CanTransition(domain.StatusRead) {
			if !changed {
				msg = cloneMessage(msg)
			}
			msg.Status = domain.StatusRead
			changed = true
		}
		if changed {
			msg.UpdatedAt = now
			s.messages[id] = msg
		}
	}
	return newlyRead, nil
}

func (s *MemoryStore) CountUnread(chatID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.chatMessages[chatID] {
		msg := s.messages[id]
		if msg.SenderID == userID {
			continue
		}
		if !msg.ReadByUser(userID) {
			count++
		}
	}
	return count, nil
}

func cloneChat(c domain.Chat) domain.Chat {
	c.Participants = append([]string(nil), c.Participants...)
	c.AdminIDs = append([]string(nil), c.AdminIDs...)
	if c.LastMessage != nil {
		msg := cloneMessage(*c.LastMessage)
		c.LastMessage = &msg
	}
	return c
}

func cloneMessage(msg domain.Message) domain.Message {
	msg.ReadBy = append([]string(nil), msg.ReadBy...)
	if msg.Reactions != nil {
		reactions := make(map[string][]string, len(msg.Reactions))
		for emoji, ids := range msg.Reactions {
			reactions[emoji] = append([]string(nil), ids...)
		}
		msg.Reactions = reactions
	}
	return msg
}
