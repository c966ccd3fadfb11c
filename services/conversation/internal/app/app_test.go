package app

import (
	"context"
	"errors"
	"testing"

	"messageai/pkg/domain"
	"messageai/pkg/queue"
	"messageai/pkg/store"
)

type fakeDirectory struct {
	users   map[string]domain.User
	lookups int
}

func (d *fakeDirectory) UsersByIDs(ids []string) ([]domain.User, error) {
	d.lookups++
	var out []domain.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) SearchUsers(query string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range d.users {
		if u.DisplayName == query {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeQueue struct {
	jobs []queue.DeliveryJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, messageID, chatID string) (queue.DeliveryJob, error) {
	if q.err != nil {
		return queue.DeliveryJob{}, q.err
	}
	job := queue.DeliveryJob{ID: messageID, MessageID: messageID, ChatID: chatID}
	q.jobs = append(q.jobs, job)
	return job, nil
}

type fakeBroadcaster struct {
	events []Event
	reach  int
}

func (b *fakeBroadcaster) Broadcast(_ string, event Event) int {
	b.events = append(b.events, event)
	return b.reach
}

type fixture struct {
	app       *App
	store     *store.MemoryStore
	directory *fakeDirectory
	queue     *fakeQueue
	hub       *fakeBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := &fakeDirectory{users: map[string]domain.User{
		"alice": {ID: "alice", DisplayName: "Alice"},
		"bob":   {ID: "bob", DisplayName: "Bob"},
		"carol": {ID: "carol", DisplayName: "Carol"},
	}}
	memStore := store.NewMemoryStore()
	q := &fakeQueue{}
	b := &fakeBroadcaster{}
	a, err := New(Config{
		Store:     memStore,
		Directory: dir,
		Queue:     q,
		Broadcast: b,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{app: a, store: memStore, directory: dir, queue: q, hub: b}
}

func TestCreateDirectChatValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.app.CreateChat("alice", nil, false, ""); !errors.Is(err, ErrParticipantsRequired) {
		t.Fatalf("expected ErrParticipantsRequired, got %v", err)
	}
	if _, err := f.app.CreateChat("alice", []string{"bob", "carol"}, false, ""); !errors.Is(err, ErrDirectChatSize) {
		t.Fatalf("expected ErrDirectChatSize, got %v", err)
	}
	chat, err := f.app.CreateChat("alice", []string{"bob", "alice"}, false, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if len(chat.Participants) != 2 || chat.Participants[0] != "alice" {
		t.Fatalf("unexpected participants %v", chat.Participants)
	}
}

func TestGroupChatSeedsCreatorAdmin(t *testing.T) {
	f := newFixture(t)
	chat, err := f.app.CreateChat("alice", []string{"bob", "carol"}, true, "  team  ")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.GroupName != "team" {
		t.Fatalf("group name not trimmed: %q", chat.GroupName)
	}
	if !chat.IsAdmin("alice") {
		t.Fatal("creator should be admin")
	}
}

func TestRemoveParticipantRules(t *testing.T) {
	f := newFixture(t)
	chat, err := f.app.CreateChat("alice", []string{"bob", "carol"}, true, "team")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	// the creator can never be removed, not even by themselves
	if _, err := f.app.RemoveParticipant("alice", chat.ID, "alice"); !errors.Is(err, ErrCreatorRemoval) {
		t.Fatalf("expected ErrCreatorRemoval, got %v", err)
	}
	// non-admins cannot remove others
	if _, err := f.app.RemoveParticipant("bob", chat.ID, "carol"); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("expected ErrAdminOnly, got %v", err)
	}
	// but anyone may leave
	updated, err := f.app.RemoveParticipant("bob", chat.ID, "bob")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if updated.HasParticipant("bob") {
		t.Fatal("bob should have left the chat")
	}
}

func TestRenameChatAdminOnly(t *testing.T) {
	f := newFixture(t)
	chat, err := f.app.CreateChat("alice", []string{"bob"}, true, "team")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := f.app.RenameChat("bob", chat.ID, "renamed"); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("expected ErrAdminOnly, got %v", err)
	}
	updated, err := f.app.RenameChat("alice", chat.ID, "renamed")
	if err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	if updated.GroupName != "renamed" {
		t.Fatalf("got %q", updated.GroupName)
	}

	direct, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	if _, err := f.app.RenameChat("alice", direct.ID, "nope"); !errors.Is(err, ErrGroupOnly) {
		t.Fatalf("expected ErrGroupOnly, got %v", err)
	}
}

func TestSendMessageEnqueuesDelivery(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")

	msg, err := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != domain.StatusSending {
		t.Fatalf("new message status = %s", msg.Status)
	}
	if msg.Type != domain.TypeText {
		t.Fatalf("default type = %s", msg.Type)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].MessageID != msg.ID {
		t.Fatalf("expected one delivery job for %s, got %v", msg.ID, f.queue.jobs)
	}

	updated, _, err := f.store.GetChat(chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if updated.LastMessage == nil || updated.LastMessage.ID != msg.ID {
		t.Fatal("chat last message not updated")
	}

	if _, err := f.app.SendMessage(context.Background(), "carol", chat.ID, "hi", ""); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.app.SendMessage(context.Background(), "alice", chat.ID, "   ", ""); !errors.Is(err, ErrContentRequired) {
		t.Fatalf("expected ErrContentRequired, got %v", err)
	}
}

func TestSendMessageSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	f.queue.err = errors.New("redis down")

	msg, err := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")
	if err != nil {
		t.Fatalf("SendMessage should not fail on enqueue error: %v", err)
	}
	if msg.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	stored, ok, _ := f.store.GetMessage(msg.ID)
	if !ok || stored.Status != domain.StatusFailed {
		t.Fatal("failed message must stay persisted")
	}
}

func TestDeliveryGiveUpMarksMessageFailed(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	msg, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")
	events := len(f.hub.events)

	f.app.HandleDeliveryFailure(context.Background(), queue.DeliveryJob{MessageID: msg.ID, ChatID: chat.ID})

	stored, _, _ := f.store.GetMessage(msg.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if len(f.hub.events) != events+1 {
		t.Fatalf("events = %d, want %d", len(f.hub.events), events+1)
	}
	last := f.hub.events[len(f.hub.events)-1]
	if last.Kind != EventStatus || last.Message == nil || last.Message.Status != domain.StatusFailed {
		t.Fatalf("unexpected status event: %+v", last)
	}

	// a second give-up for an already-failed message is a no-op
	f.app.HandleDeliveryFailure(context.Background(), queue.DeliveryJob{MessageID: msg.ID, ChatID: chat.ID})
	if len(f.hub.events) != events+1 {
		t.Fatal("repeated give-up must not rebroadcast")
	}

	// the failed message is now retryable
	retried, err := f.app.RetryMessage(context.Background(), "alice", chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("RetryMessage: %v", err)
	}
	if retried.Status != domain.StatusSending {
		t.Fatalf("retried status = %s, want sending", retried.Status)
	}
	if len(f.queue.jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(f.queue.jobs))
	}
}

func TestRetryOnlyFailedMessages(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	msg, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")

	// retry of a non-failed message is a no-op
	same, err := f.app.RetryMessage(context.Background(), "alice", chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("RetryMessage: %v", err)
	}
	if same.Status != domain.StatusSending {
		t.Fatalf("status = %s, want sending", same.Status)
	}
	if len(f.queue.jobs) != 1 {
		t.Fatalf("no-op retry must not enqueue, jobs = %d", len(f.queue.jobs))
	}

	if _, _, err := f.store.UpdateMessageStatus(msg.ID, domain.StatusFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retried, err := f.app.RetryMessage(context.Background(), "alice", chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("RetryMessage: %v", err)
	}
	if retried.Status != domain.StatusSending {
		t.Fatalf("status = %s, want sending", retried.Status)
	}
	if len(f.queue.jobs) != 2 {
		t.Fatalf("retry must enqueue, jobs = %d", len(f.queue.jobs))
	}
}

func TestHandleDeliveryMarksSentThenDelivered(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	msg, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")

	// nobody listening: message is sent, not delivered
	f.hub.reach = 0
	if err := f.app.HandleDelivery(context.Background(), queue.DeliveryJob{MessageID: msg.ID, ChatID: chat.ID}); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	stored, _, _ := f.store.GetMessage(msg.ID)
	if stored.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", stored.Status)
	}

	// a live listener upgrades it to delivered
	second, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "again", "")
	f.hub.reach = 1
	if err := f.app.HandleDelivery(context.Background(), queue.DeliveryJob{MessageID: second.ID, ChatID: chat.ID}); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	stored, _, _ = f.store.GetMessage(second.ID)
	if stored.Status != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", stored.Status)
	}

	var kinds []EventKind
	for _, e := range f.hub.events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventMessage, EventMessage, EventStatus}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	f.app.SendMessage(context.Background(), "alice", chat.ID, "one", "")
	f.app.SendMessage(context.Background(), "alice", chat.ID, "two", "")

	n, err := f.app.MarkRead("bob", chat.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 2 {
		t.Fatalf("newly read = %d, want 2", n)
	}
	events := len(f.hub.events)

	// second pass reads nothing and broadcasts nothing
	n, err = f.app.MarkRead("bob", chat.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 0 {
		t.Fatalf("newly read = %d, want 0", n)
	}
	if len(f.hub.events) != events {
		t.Fatal("idempotent mark-read must not rebroadcast")
	}
}

func TestSendDeliverReadLifecycle(t *testing.T) {
	f := newFixture(t)
	chat, err := f.app.CreateChat("alice", []string{"bob"}, false, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	msg, err := f.app.SendMessage(context.Background(), "alice", chat.ID, "Hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != domain.StatusSending {
		t.Fatalf("status = %s, want sending", msg.Status)
	}

	if err := f.app.HandleDelivery(context.Background(), queue.DeliveryJob{MessageID: msg.ID, ChatID: chat.ID}); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	stored, _, _ := f.store.GetMessage(msg.ID)
	if stored.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", stored.Status)
	}

	if _, err := f.app.MarkRead("bob", chat.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	// the sender's view now shows the message as read by bob
	msgs, err := f.app.ListMessages("alice", chat.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Status != domain.StatusRead {
		t.Fatalf("status = %s, want read", msgs[0].Status)
	}
	if !msgs[0].ReadByUser("bob") {
		t.Fatal("message should be read by bob")
	}
}

func TestReactionRoundTrip(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	msg, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")

	reacted, err := f.app.React("bob", chat.ID, msg.ID, "👍", true)
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if got := reacted.Reactions["👍"]; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("reactions = %v", reacted.Reactions)
	}

	removed, err := f.app.React("bob", chat.ID, msg.ID, "👍", false)
	if err != nil {
		t.Fatalf("React remove: %v", err)
	}
	if _, ok := removed.Reactions["👍"]; ok {
		t.Fatalf("emoji key should be gone, got %v", removed.Reactions)
	}

	if _, err := f.app.React("carol", chat.ID, msg.ID, "👍", true); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.app.React("bob", chat.ID, "missing", "👍", true); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestListChatsResolvesNamesAndUnread(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	group, _ := f.app.CreateChat("alice", []string{"bob", "carol"}, true, "team")
	f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")

	summaries, err := f.app.ListChats("bob")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("chats = %d, want 2", len(summaries))
	}
	byID := map[string]domain.ChatSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	if got := byID[chat.ID].ResolvedName; got != "Alice" {
		t.Fatalf("direct chat resolved name = %q, want Alice", got)
	}
	if got := byID[group.ID].ResolvedName; got != "team" {
		t.Fatalf("group resolved name = %q", got)
	}
	if got := byID[chat.ID].UnreadCount; got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}

	// a second listing is served from the name cache
	lookups := f.directory.lookups
	if _, err := f.app.ListChats("bob"); err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if f.directory.lookups != lookups {
		t.Fatal("name cache miss on repeated listing")
	}
}

func TestListChatsHydratesLastMessageFromStore(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	msg, _ := f.app.SendMessage(context.Background(), "alice", chat.ID, "latest", "")

	// simulate a store that does not persist the chat record's pointer
	stored, _, _ := f.store.GetChat(chat.ID)
	stored.LastMessage = nil
	if err := f.store.SaveChat(stored); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	summaries, err := f.app.ListChats("alice")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("chats = %d, want 1", len(summaries))
	}
	if summaries[0].LastMessage == nil || summaries[0].LastMessage.ID != msg.ID {
		t.Fatalf("last message not hydrated: %+v", summaries[0].LastMessage)
	}

	got, err := f.app.GetChat("alice", chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "latest" {
		t.Fatalf("last message not hydrated on get: %+v", got.LastMessage)
	}
}

func TestChatContextIncludesSenderNames(t *testing.T) {
	f := newFixture(t)
	chat, _ := f.app.CreateChat("alice", []string{"bob"}, false, "")
	f.app.SendMessage(context.Background(), "alice", chat.ID, "hello", "")
	f.app.SendMessage(context.Background(), "bob", chat.ID, "hi", "")

	_, msgs, err := f.app.ChatContext(chat.ID, 0)
	if err != nil {
		t.Fatalf("ChatContext: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].SenderName != "Alice" || msgs[1].SenderName != "Bob" {
		t.Fatalf("sender names = %q, %q", msgs[0].SenderName, msgs[1].SenderName)
	}
}

func TestSearchUsersEmptyQuery(t *testing.T) {
	f := newFixture(t)
	users, err := f.app.SearchUsers("   ")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no results, got %d", len(users))
	}
}
