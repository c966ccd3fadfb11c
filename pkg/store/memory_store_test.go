package store

import (
	"testing"
	"time"

	"messageai/pkg/domain"
)

func seedMessage(t *testing.T, s *MemoryStore, id, chatID, senderID string, status domain.DeliveryStatus) domain.Message {
	t.Helper()
	msg := domain.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   "hello",
		Type:      domain.TypeText,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	return msg
}

func TestUpdateMessageStatusForwardOnly(t *testing.T) {
	s := NewMemoryStore()
	seedMessage(t, s, "m1", "c1", "alice", domain.StatusSending)

	msg, applied, err := s.UpdateMessageStatus("m1", domain.StatusDelivered)
	if err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if !applied || msg.Status != domain.StatusDelivered {
		t.Fatalf("expected applied transition to delivered, got applied=%v status=%s", applied, msg.Status)
	}

	// regressions are ignored, not errors
	msg, applied, err = s.UpdateMessageStatus("m1", domain.StatusSent)
	if err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if applied {
		t.Fatal("expected delivered -> sent to be rejected")
	}
	if msg.Status != domain.StatusDelivered {
		t.Fatalf("status changed on rejected transition: %s", msg.Status)
	}
}

func TestUpdateMessageStatusFailedRetry(t *testing.T) {
	s := NewMemoryStore()
	seedMessage(t, s, "m1", "c1", "alice", domain.StatusSending)

	if _, applied, _ := s.UpdateMessageStatus("m1", domain.StatusFailed); !applied {
		t.Fatal("expected sending -> failed to apply")
	}
	if _, applied, _ := s.UpdateMessageStatus("m1", domain.StatusRead); applied {
		t.Fatal("failed may only transition back to sending")
	}
	msg, applied, err := s.UpdateMessageStatus("m1", domain.StatusSending)
	if err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if !applied || msg.Status != domain.StatusSending {
		t.Fatalf("expected failed -> sending retry, got applied=%v status=%s", applied, msg.Status)
	}
}

func TestUpdateMessageStatusNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, _, err := s.UpdateMessageStatus("missing", domain.StatusSent); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetReactionToggle(t *testing.T) {
	s := NewMemoryStore()
	seedMessage(t, s, "m1", "c1", "alice", domain.StatusSent)

	msg, err := s.SetReaction("m1", "👍", "bob", true)
	if err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	if got := msg.Reactions["👍"]; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected reactors: %v", got)
	}

	// adding twice keeps a single entry
	msg, err = s.SetReaction("m1", "👍", "bob", true)
	if err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	if got := msg.Reactions["👍"]; len(got) != 1 {
		t.Fatalf("duplicate reactor recorded: %v", got)
	}

	msg, err = s.SetReaction("m1", "👍", "bob", false)
	if err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	if _, ok := msg.Reactions["👍"]; ok {
		t.Fatal("emoji key should be dropped when last reactor leaves")
	}
}

func TestMarkChatReadIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedMessage(t, s, "m1", "c1", "alice", domain.StatusSent)
	seedMessage(t, s, "m2", "c1", "alice", domain.StatusDelivered)
	seedMessage(t, s, "m3", "c1", "bob", domain.StatusSent) // bob's own message

	n, err := s.MarkChatRead("c1", "bob")
	if err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly read, got %d", n)
	}
	for _, id := range []string{"m1", "m2"} {
		msg, _, _ := s.GetMessage(id)
		if msg.Status != domain.StatusRead {
			t.Fatalf("message %s not marked read: %s", id, msg.Status)
		}
		if !msg.ReadByUser("bob") {
			t.Fatalf("message %s missing bob in readBy", id)
		}
	}
	own, _, _ := s.GetMessage("m3")
	if own.Status == domain.StatusRead {
		t.Fatal("sender's own message must not be marked read")
	}

	n, err = s.MarkChatRead("c1", "bob")
	if err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}
	if n != 0 {
		t.Fatalf("second call should be a no-op, got %d", n)
	}
}

func TestCountUnread(t *testing.T) {
	s := NewMemoryStore()
	seedMessage(t, s, "m1", "c1", "alice", domain.StatusSent)
	seedMessage(t, s, "m2", "c1", "alice", domain.StatusSent)
	seedMessage(t, s, "m3", "c1", "bob", domain.StatusSent)

	n, err := s.CountUnread("c1", "bob")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}

	if _, err := s.MarkChatRead("c1", "bob"); err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}
	n, _ = s.CountUnread("c1", "bob")
	if n != 0 {
		t.Fatalf("expected 0 unread after MarkChatRead, got %d", n)
	}
}

func TestListMessagesOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"m1", "m2", "m3"} {
		seedMessage(t, s, id, "c1", "alice", domain.StatusSent)
	}

	msgs, err := s.ListMessages("c1", 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Fatalf("expected newest two in order, got %v", ids(msgs))
	}

	last, ok, err := s.LastMessage("c1")
	if err != nil || !ok {
		t.Fatalf("LastMessage: ok=%v err=%v", ok, err)
	}
	if last.ID != "m3" {
		t.Fatalf("expected m3 as last message, got %s", last.ID)
	}
}

func TestSearchUsersNameBeforeEmail(t *testing.T) {
	s := NewMemoryStore()
	users := []domain.User{
		{ID: "u1", Email: "ann@example.com", DisplayName: "Ann Chen"},
		{ID: "u2", Email: "chen@example.com", DisplayName: "Bob Park"},
		{ID: "u3", Email: "carol@example.com", DisplayName: "Carol Diaz"},
	}
	for _, u := range users {
		if err := s.SaveUser(u); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
	}

	got, err := s.SearchUsers("chen", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].ID != "u1" {
		t.Fatalf("display-name match should rank first, got %s", got[0].ID)
	}

	got, err = s.SearchUsers("   ", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("blank query should match nothing, got %d", len(got))
	}
}

func TestChatListOrdering(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	chats := []domain.Chat{
		{ID: "c1", Participants: []string{"alice", "bob"}, UpdatedAt: base.Add(-time.Hour)},
		{ID: "c2", Participants: []string{"alice", "carol"}, UpdatedAt: base},
		{ID: "c3", Participants: []string{"bob", "carol"}, UpdatedAt: base.Add(-time.Minute)},
	}
	for _, c := range chats {
		if err := s.SaveChat(c); err != nil {
			t.Fatalf("SaveChat: %v", err)
		}
	}

	got, err := s.ListChatsByParticipant("alice")
	if err != nil {
		t.Fatalf("ListChatsByParticipant: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c2" || got[1].ID != "c1" {
		t.Fatalf("unexpected order: %v", chatIDs(got))
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func chatIDs(chats []domain.Chat) []string {
	out := make([]string, len(chats))
	for i, c := range chats {
		out[i] = c.ID
	}
	return out
}
