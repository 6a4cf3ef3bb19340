package storage

import (
	"os"
	"path/filepath"
	"testing"

	"okolitsa/internal/models"
)

func newTestStore(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStore(t)

	t.Run("Presence", func(t *testing.T) {
		if err := store.UpsertPresence("alice", true, 100); err != nil {
			t.Fatalf("UpsertPresence failed: %v", err)
		}
		p, err := store.GetPresence("alice")
		if err != nil {
			t.Fatalf("GetPresence failed: %v", err)
		}
		if !p.Online || p.LastSeen != 100 {
			t.Errorf("unexpected presence: %+v", p)
		}

		if err := store.UpsertPresence("alice", false, 200); err != nil {
			t.Fatalf("UpsertPresence failed: %v", err)
		}
		p, err = store.GetPresence("alice")
		if err != nil {
			t.Fatal(err)
		}
		if p.Online || p.LastSeen != 200 {
			t.Errorf("offline flip not persisted: %+v", p)
		}

		if _, err := store.GetPresence("stranger"); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		msg1, err := store.AppendMessage("alice", "bob", "hi bob", "<p>hi bob</p>")
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if msg1.ID == 0 {
			t.Error("expected non-zero message id")
		}
		if msg1.Read {
			t.Error("new message must be unread")
		}

		msg2, err := store.AppendMessage("bob", "alice", "hi alice", "")
		if err != nil {
			t.Fatal(err)
		}
		if msg2.ID <= msg1.ID {
			t.Errorf("ids must be monotonic within a conversation: %d then %d", msg1.ID, msg2.ID)
		}

		// Both directions share the conversation regardless of peer order.
		messages, total, err := store.QueryMessages("bob", "alice", 1, 10)
		if err != nil {
			t.Fatalf("QueryMessages failed: %v", err)
		}
		if total != 2 || len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d (total %d)", len(messages), total)
		}
		if messages[0].ID != msg1.ID {
			t.Errorf("page must be ordered oldest first")
		}
	})

	t.Run("MessagePagination", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if _, err := store.AppendMessage("carol", "dave", "msg", ""); err != nil {
				t.Fatal(err)
			}
		}

		page1, total, err := store.QueryMessages("carol", "dave", 1, 2)
		if err != nil {
			t.Fatal(err)
		}
		if total != 5 || len(page1) != 2 {
			t.Fatalf("expected total 5 page of 2, got total %d page of %d", total, len(page1))
		}

		page3, _, err := store.QueryMessages("carol", "dave", 3, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page3) != 1 {
			t.Errorf("expected 1 message on last page, got %d", len(page3))
		}
		// Page 1 is the newest slice, page 3 the oldest.
		if page3[0].ID >= page1[0].ID {
			t.Errorf("expected older ids on later pages")
		}

		empty, total, err := store.QueryMessages("nobody", "noone", 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		if total != 0 || len(empty) != 0 {
			t.Errorf("expected empty result for unknown conversation")
		}
	})

	t.Run("BulkMarkRead", func(t *testing.T) {
		if _, err := store.AppendMessage("erin", "frank", "one", ""); err != nil {
			t.Fatal(err)
		}
		last, err := store.AppendMessage("erin", "frank", "two", "")
		if err != nil {
			t.Fatal(err)
		}
		// Opposite direction, must stay untouched.
		if _, err := store.AppendMessage("frank", "erin", "reply", ""); err != nil {
			t.Fatal(err)
		}

		modified, lastRead, err := store.BulkMarkRead("frank", "erin")
		if err != nil {
			t.Fatalf("BulkMarkRead failed: %v", err)
		}
		if modified != 2 {
			t.Errorf("expected 2 modified, got %d", modified)
		}
		if lastRead.ID != last.ID {
			t.Errorf("expected last read id %d, got %d", last.ID, lastRead.ID)
		}

		// Second call modifies nothing.
		modified, _, err = store.BulkMarkRead("frank", "erin")
		if err != nil {
			t.Fatal(err)
		}
		if modified != 0 {
			t.Errorf("expected idempotent second call, got %d modified", modified)
		}

		// Frank's own message to erin is still unread by erin.
		modified, _, err = store.BulkMarkRead("erin", "frank")
		if err != nil {
			t.Fatal(err)
		}
		if modified != 1 {
			t.Errorf("expected 1 modified in the other direction, got %d", modified)
		}
	})

	t.Run("LatestChats", func(t *testing.T) {
		if _, err := store.AppendMessage("zoe", "adam", "first", ""); err != nil {
			t.Fatal(err)
		}
		lastMsg, err := store.AppendMessage("zoe", "adam", "second", "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.AppendMessage("ben", "zoe", "yo", ""); err != nil {
			t.Fatal(err)
		}

		chats, err := store.LatestChats("zoe")
		if err != nil {
			t.Fatalf("LatestChats failed: %v", err)
		}
		if len(chats) != 2 {
			t.Fatalf("expected 2 chats, got %d", len(chats))
		}

		byPeer := map[string]models.ChatSummary{}
		for _, c := range chats {
			byPeer[c.Peer] = c
		}
		adam, ok := byPeer["adam"]
		if !ok {
			t.Fatal("missing chat with adam")
		}
		if adam.LastMessage.ID != lastMsg.ID {
			t.Errorf("expected last message %d, got %d", lastMsg.ID, adam.LastMessage.ID)
		}
		if adam.UnreadCount != 0 {
			t.Errorf("zoe sent those, unread must be 0, got %d", adam.UnreadCount)
		}
		if byPeer["ben"].UnreadCount != 1 {
			t.Errorf("expected 1 unread from ben, got %d", byPeer["ben"].UnreadCount)
		}
	})

	t.Run("BulkDelete", func(t *testing.T) {
		if _, err := store.AppendMessage("gina", "hank", "one", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := store.AppendMessage("hank", "gina", "two", ""); err != nil {
			t.Fatal(err)
		}

		deleted, err := store.BulkDelete("hank", "gina")
		if err != nil {
			t.Fatalf("BulkDelete failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("expected 2 deleted, got %d", deleted)
		}

		_, total, err := store.QueryMessages("gina", "hank", 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		if total != 0 {
			t.Errorf("conversation not empty after delete: %d", total)
		}

		// Deleting an already-empty conversation is a no-op.
		deleted, err = store.BulkDelete("gina", "hank")
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 0 {
			t.Errorf("expected 0 deleted, got %d", deleted)
		}
	})

	t.Run("Groups", func(t *testing.T) {
		group := models.Group{
			ID:      "g1",
			Name:    "Neighbors",
			Members: []string{"alice", "bob"},
			Admins:  []string{"alice"},
		}
		if err := store.UpsertGroup(group); err != nil {
			t.Fatalf("UpsertGroup failed: %v", err)
		}

		got, err := store.GetGroup("g1")
		if err != nil {
			t.Fatalf("GetGroup failed: %v", err)
		}
		if !got.HasMember("bob") || got.HasMember("mallory") {
			t.Errorf("membership check wrong: %+v", got)
		}

		subs, err := store.GroupSubscribers("g1")
		if err != nil {
			t.Fatal(err)
		}
		if subs.Cardinality() != 2 || !subs.Contains("alice") {
			t.Errorf("unexpected subscriber set: %v", subs)
		}

		if _, err := store.GetGroup("missing"); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GroupMessages", func(t *testing.T) {
		msg, err := store.AppendGroupMessage(models.GroupMessage{
			GroupID: "g1",
			Sender:  "alice",
			Content: "hello group",
		})
		if err != nil {
			t.Fatalf("AppendGroupMessage failed: %v", err)
		}
		if msg.ID == 0 {
			t.Error("expected non-zero id")
		}
		if len(msg.ReadBy) != 0 {
			t.Errorf("new message must have empty readBy, got %v", msg.ReadBy)
		}

		group, err := store.GetGroup("g1")
		if err != nil {
			t.Fatal(err)
		}
		if group.LastMessageID != msg.ID {
			t.Errorf("group last message not updated: %d", group.LastMessageID)
		}

		updated, err := store.MarkGroupMessageRead("g1", msg.ID, "bob")
		if err != nil {
			t.Fatalf("MarkGroupMessageRead failed: %v", err)
		}
		if len(updated.ReadBy) != 1 || updated.ReadBy[0] != "bob" {
			t.Errorf("unexpected readBy: %v", updated.ReadBy)
		}

		// Same reader again is a no-op.
		updated, err = store.MarkGroupMessageRead("g1", msg.ID, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if len(updated.ReadBy) != 1 {
			t.Errorf("duplicate reader added: %v", updated.ReadBy)
		}

		if _, err := store.AppendGroupMessage(models.GroupMessage{GroupID: "nope", Sender: "x"}); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound for unknown group, got %v", err)
		}
	})

	t.Run("EventsAndParticipations", func(t *testing.T) {
		event := models.Event{
			ID:             "e1",
			Name:           "Block party",
			Date:           "2026-09-01",
			Location:       "Courtyard",
			OrganizerEmail: "org@example.com",
		}
		if err := store.UpsertEvent(event); err != nil {
			t.Fatalf("UpsertEvent failed: %v", err)
		}

		err := store.CreateParticipation(models.Participation{
			EventID: "e1",
			Email:   "guest@example.com",
			Status:  models.ParticipationPending,
		})
		if err != nil {
			t.Fatalf("CreateParticipation failed: %v", err)
		}

		// Second invite for the same pair is a conflict, not a merge.
		err = store.CreateParticipation(models.Participation{
			EventID: "e1",
			Email:   "guest@example.com",
			Status:  models.ParticipationPending,
		})
		if !IsConflict(err) {
			t.Errorf("expected conflict, got %v", err)
		}

		updated, err := store.UpdateParticipation("e1", "guest@example.com", models.ParticipationJoined, "Guest", 500)
		if err != nil {
			t.Fatalf("UpdateParticipation failed: %v", err)
		}
		if updated.Status != models.ParticipationJoined || updated.JoinedAt != 500 {
			t.Errorf("unexpected participation: %+v", updated)
		}

		if _, err := store.UpdateParticipation("e1", "nobody@example.com", models.ParticipationJoined, "", 0); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		subs, err := store.EventSubscribers("e1")
		if err != nil {
			t.Fatal(err)
		}
		if subs.Cardinality() != 1 || !subs.Contains("guest@example.com") {
			t.Errorf("unexpected subscribers: %v", subs)
		}

		// Deleting the event keeps participations addressable.
		if err := store.DeleteEvent("e1"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetEvent("e1"); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		subs, err = store.EventSubscribers("e1")
		if err != nil {
			t.Fatal(err)
		}
		if subs.Cardinality() != 1 {
			t.Errorf("participations lost on event delete")
		}
	})

	t.Run("Classifieds", func(t *testing.T) {
		saved, err := store.UpsertClassified(models.Classified{
			Title:      "Free couch",
			Category:   "furniture",
			PostedBy:   "alice",
			ViewableBy: []string{"bob", "carol"},
		})
		if err != nil {
			t.Fatalf("UpsertClassified failed: %v", err)
		}
		if saved.ID == "" {
			t.Fatal("expected generated id")
		}

		subs, err := store.ClassifiedSubscribers(saved.ID)
		if err != nil {
			t.Fatal(err)
		}
		if subs.Cardinality() != 2 {
			t.Errorf("unexpected audience: %v", subs)
		}

		deleted, err := store.DeleteClassified(saved.ID)
		if err != nil {
			t.Fatalf("DeleteClassified failed: %v", err)
		}
		if deleted.Title != "Free couch" {
			t.Errorf("deleted doc not returned: %+v", deleted)
		}
		if _, err := store.GetClassified(saved.ID); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Invitations", func(t *testing.T) {
		inv, err := store.CreateInvitation(models.Invitation{
			SenderEmail:   "org@example.com",
			ReceiverEmail: "guest@example.com",
			EventData:     map[string]any{"eventName": "Block party"},
		})
		if err != nil {
			t.Fatalf("CreateInvitation failed: %v", err)
		}
		if inv.ID == "" || inv.Status != models.InvitationPending {
			t.Errorf("unexpected invitation: %+v", inv)
		}

		updated, err := store.UpdateInvitationStatus(inv.ID, models.InvitationAccepted)
		if err != nil {
			t.Fatalf("UpdateInvitationStatus failed: %v", err)
		}
		if updated.Status != models.InvitationAccepted {
			t.Errorf("status not updated: %+v", updated)
		}
		if updated.EventData["eventName"] != "Block party" {
			t.Errorf("event data lost: %+v", updated.EventData)
		}

		if _, err := store.UpdateInvitationStatus("missing", models.InvitationRejected); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			Identity: "alice",
			Endpoint: "https://push.example.com/abc",
			P256dh:   "key",
			Auth:     "auth",
		}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}

		got, err := store.GetPushSubscription("alice")
		if err != nil {
			t.Fatalf("GetPushSubscription failed: %v", err)
		}
		if got.Endpoint != sub.Endpoint {
			t.Errorf("unexpected subscription: %+v", got)
		}

		if err := store.DeletePushSubscription("alice"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetPushSubscription("alice"); err != models.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
