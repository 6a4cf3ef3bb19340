package receipts

import (
	"errors"
	"testing"

	"okolitsa/internal/models"
	"okolitsa/internal/rooms"
)

type fakeMessageStore struct {
	modified int
	last     models.Message
	deleted  int
	err      error
	chats    []models.ChatSummary
}

func (s *fakeMessageStore) BulkMarkRead(reader, peer string) (int, models.Message, error) {
	return s.modified, s.last, s.err
}

func (s *fakeMessageStore) BulkDelete(a, b string) (int, error) {
	return s.deleted, s.err
}

func (s *fakeMessageStore) LatestChats(identity string) ([]models.ChatSummary, error) {
	return s.chats, s.err
}

type published struct {
	room    rooms.Room
	event   string
	payload any
}

type fakePublisher struct {
	events []published
}

func (p *fakePublisher) Publish(room rooms.Room, event string, payload any) int {
	p.events = append(p.events, published{room: room, event: event, payload: payload})
	return 1
}

func TestTracker_MarkRead(t *testing.T) {
	last := models.Message{ID: 7, From: "bob", To: "alice", Text: "hey"}
	store := &fakeMessageStore{modified: 3, last: last}
	pub := &fakePublisher{}
	tracker := NewTracker(store, pub)

	modified, err := tracker.MarkRead("alice", "bob")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if modified != 3 {
		t.Errorf("expected 3 modified, got %d", modified)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(pub.events))
	}

	// Reader's own connections learn which peer was read.
	readerEv := pub.events[0]
	if readerEv.room != rooms.Personal("alice") || readerEv.event != models.EventMessagesRead {
		t.Errorf("unexpected reader notification: %+v", readerEv)
	}
	receipt, ok := readerEv.payload.(ReadReceipt)
	if !ok || receipt.From != "bob" || len(receipt.Messages) != 1 || receipt.Messages[0].ID != 7 {
		t.Errorf("unexpected receipt payload: %+v", readerEv.payload)
	}

	// The sender gets the confirmation.
	senderEv := pub.events[1]
	if senderEv.room != rooms.Personal("bob") || senderEv.event != models.EventMessagesReadConfirm {
		t.Errorf("unexpected sender notification: %+v", senderEv)
	}
	confirm, ok := senderEv.payload.(ReadConfirm)
	if !ok || confirm.To != "alice" {
		t.Errorf("unexpected confirm payload: %+v", senderEv.payload)
	}
}

func TestTracker_MarkReadNothingModified(t *testing.T) {
	store := &fakeMessageStore{modified: 0}
	pub := &fakePublisher{}
	tracker := NewTracker(store, pub)

	modified, err := tracker.MarkRead("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if modified != 0 {
		t.Errorf("expected 0 modified, got %d", modified)
	}
	if len(pub.events) != 0 {
		t.Errorf("no-op mark read must emit nothing, got %d events", len(pub.events))
	}
}

func TestTracker_MarkReadStoreError(t *testing.T) {
	store := &fakeMessageStore{err: errors.New("db down")}
	pub := &fakePublisher{}
	tracker := NewTracker(store, pub)

	if _, err := tracker.MarkRead("alice", "bob"); err == nil {
		t.Fatal("expected store error to surface")
	}
	if len(pub.events) != 0 {
		t.Errorf("failed mutation must emit nothing")
	}
}

func TestTracker_Clear(t *testing.T) {
	store := &fakeMessageStore{deleted: 5}
	pub := &fakePublisher{}
	tracker := NewTracker(store, pub)

	deleted, err := tracker.Clear("alice", "bob", "alice")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("expected 5 deleted, got %d", deleted)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected both participants notified, got %d", len(pub.events))
	}
	for i, want := range []string{"alice", "bob"} {
		ev := pub.events[i]
		if ev.room != rooms.Personal(want) || ev.event != models.EventChatCleared {
			t.Errorf("unexpected notification %d: %+v", i, ev)
		}
		cleared, ok := ev.payload.(ChatCleared)
		if !ok || cleared.ClearedBy != "alice" {
			t.Errorf("unexpected payload: %+v", ev.payload)
		}
	}

	// Each side sees the other as the conversation peer.
	if pub.events[0].payload.(ChatCleared).WithUser != "bob" ||
		pub.events[1].payload.(ChatCleared).WithUser != "alice" {
		t.Error("withUser must name the other participant")
	}
}

func TestTracker_LatestChats(t *testing.T) {
	store := &fakeMessageStore{chats: []models.ChatSummary{{Peer: "bob", UnreadCount: 2}}}
	tracker := NewTracker(store, &fakePublisher{})

	chats, err := tracker.LatestChats("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Peer != "bob" {
		t.Errorf("unexpected chats: %+v", chats)
	}
}
