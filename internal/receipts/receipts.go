package receipts

import (
	"time"

	"okolitsa/internal/models"
	"okolitsa/internal/rooms"
)

// MessageStore is the slice of the store adapter the tracker needs.
// Bulk operations are atomic on the store side; the tracker adds no
// locking of its own over persisted data.
type MessageStore interface {
	BulkMarkRead(reader, peer string) (int, models.Message, error)
	BulkDelete(a, b string) (int, error)
	LatestChats(identity string) ([]models.ChatSummary, error)
}

type Publisher interface {
	Publish(room rooms.Room, event string, payload any) int
}

// Tracker computes unread state and emits read-receipt notifications.
// Mutations are authoritative; the notifications that follow them are
// best-effort and cannot fail the caller.
type Tracker struct {
	store MessageStore
	pub   Publisher
	now   func() time.Time
}

func NewTracker(store MessageStore, pub Publisher) *Tracker {
	return &Tracker{
		store: store,
		pub:   pub,
		now:   time.Now,
	}
}

// ReadReceipt notifies the reader's own connections which peer's
// messages were just read.
type ReadReceipt struct {
	From     string           `json:"from"`
	Messages []models.Message `json:"messages"`
}

// ReadConfirm notifies the original sender that their messages were read.
type ReadConfirm struct {
	To       string           `json:"to"`
	Messages []models.Message `json:"messages"`
}

type ChatCleared struct {
	WithUser  string `json:"withUser"`
	ClearedBy string `json:"clearedBy"`
	Timestamp int64  `json:"timestamp"`
}

type ClearResult struct {
	User1        string `json:"user1"`
	User2        string `json:"user2"`
	DeletedCount int    `json:"deletedCount"`
}

// MarkRead atomically flips read=false -> true for every message
// addressed to reader in the conversation with peer, then notifies both
// participants. Calling it again with no intervening sends modifies
// nothing and emits nothing.
func (t *Tracker) MarkRead(reader, peer string) (int, error) {
	modified, last, err := t.store.BulkMarkRead(reader, peer)
	if err != nil {
		return 0, err
	}
	if modified == 0 {
		return 0, nil
	}

	t.pub.Publish(rooms.Personal(reader), models.EventMessagesRead, ReadReceipt{
		From:     peer,
		Messages: []models.Message{last},
	})
	t.pub.Publish(rooms.Personal(peer), models.EventMessagesReadConfirm, ReadConfirm{
		To:       reader,
		Messages: []models.Message{last},
	})

	return modified, nil
}

// Clear deletes all messages between the pair, both directions at once,
// and notifies both participants. Irreversible.
func (t *Tracker) Clear(user1, user2, clearedBy string) (int, error) {
	deleted, err := t.store.BulkDelete(user1, user2)
	if err != nil {
		return 0, err
	}

	ts := t.now().Unix()
	t.pub.Publish(rooms.Personal(user1), models.EventChatCleared, ChatCleared{
		WithUser:  user2,
		ClearedBy: clearedBy,
		Timestamp: ts,
	})
	t.pub.Publish(rooms.Personal(user2), models.EventChatCleared, ChatCleared{
		WithUser:  user1,
		ClearedBy: clearedBy,
		Timestamp: ts,
	})

	return deleted, nil
}

// LatestChats returns the per-peer summary used for the chat list:
// last message and unread count, most recent conversation first.
func (t *Tracker) LatestChats(identity string) ([]models.ChatSummary, error) {
	return t.store.LatestChats(identity)
}
