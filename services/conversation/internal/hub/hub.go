package hub

import (
	"encoding/json"
	"sync"

	"messageai/services/conversation/internal/app"
)

// subscriber is one live listener on a chat. Send carries marshaled events;
// the connection owner drains it.
type subscriber struct {
	userID string
	send   chan []byte
}

// Hub tracks per-chat live subscribers. It is transport-agnostic: the
// WebSocket handler owns connections and registers their send channels here.
type Hub struct {
	mu    sync.RWMutex
	chats map[string]map[string]*subscriber // chatID -> clientID -> subscriber
}

func New() *Hub {
	return &Hub{chats: make(map[string]map[string]*subscriber)}
}

// Subscribe registers a listener for a chat and returns its event channel.
// Subscribing the same client twice replaces the previous listener instead of
// duplicating it; the replaced channel is closed.
func (h *Hub) Subscribe(chatID, clientID, userID string) <-chan []byte {
	sub := &subscriber{userID: userID, send: make(chan []byte, 64)}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.chats[chatID]
	if subs == nil {
		subs = make(map[string]*subscriber)
		h.chats[chatID] = subs
	}
	if prev, ok := subs[clientID]; ok {
		close(prev.send)
	}
	subs[clientID] = sub
	return sub.send
}

// Unsubscribe removes a listener. Unsubscribing a client with no active
// listener is a no-op.
func (h *Hub) Unsubscribe(chatID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.chats[chatID]
	if !ok {
		return
	}
	sub, ok := subs[clientID]
	if !ok {
		return
	}
	close(sub.send)
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.chats, chatID)
	}
}

// Broadcast fans an event out to every listener on the chat and reports how
// many listeners other than the event's originator received it. Slow
// listeners are dropped rather than blocking the fan-out.
func (h *Hub) Broadcast(chatID string, event app.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.chats[chatID]
	sender := originator(event)
	reached := 0
	for clientID, sub := range subs {
		select {
		case sub.send <- payload:
			if sender == "" || sub.userID != sender {
				reached++
			}
		default:
			close(sub.send)
			delete(subs, clientID)
		}
	}
	if len(subs) == 0 {
		delete(h.chats, chatID)
	}
	return reached
}

// SubscriberCount reports the number of live listeners on a chat.
func (h *Hub) SubscriberCount(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID])
}

func originator(event app.Event) string {
	if event.Message != nil {
		return event.Message.SenderID
	}
	return event.UserID
}
