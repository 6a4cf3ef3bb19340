package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"okolitsa/internal/models"
)

var (
	bucketPresence      = []byte("presence")
	bucketMessages      = []byte("messages")
	bucketGroups        = []byte("groups")
	bucketGroupMessages = []byte("group_messages")
	bucketEvents        = []byte("events")
	bucketParticipants  = []byte("participants")
	bucketClassifieds   = []byte("classifieds")
	bucketInvitations   = []byte("invitations")
	bucketPushSubs      = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketPresence,
			bucketMessages,
			bucketGroups,
			bucketGroupMessages,
			bucketEvents,
			bucketParticipants,
			bucketClassifieds,
			bucketInvitations,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertPresence saves the online flag and last-seen timestamp for an identity.
func (s *BboltStorage) UpsertPresence(identity string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPresence)
		dbPresence := &DBPresence{
			Identity: identity,
			Online:   online,
			LastSeen: lastSeen,
		}
		data, err := dbPresence.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbPresence.Key(), data)
	})
}

// GetPresence returns the stored presence record for an identity.
func (s *BboltStorage) GetPresence(identity string) (models.Presence, error) {
	var presence models.Presence
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPresence).Get([]byte(identity))
		if data == nil {
			return models.ErrNotFound
		}
		var dbPresence DBPresence
		if err := dbPresence.UnmarshalBinary(data); err != nil {
			return err
		}
		presence = models.Presence{
			Identity: dbPresence.Identity,
			Online:   dbPresence.Online,
			LastSeen: dbPresence.LastSeen,
		}
		return nil
	})
	return presence, err
}

// AppendMessage persists a new direct message with read=false. The message
// id is monotonic within its conversation and serves as the stable
// secondary ordering key when timestamps collide.
func (s *BboltStorage) AppendMessage(from, to, text, html string) (models.Message, error) {
	msg := models.Message{
		From:      from,
		To:        to,
		Text:      text,
		HTML:      html,
		CreatedAt: s.now().Unix(),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(
			[]byte(models.ConversationKey(from, to)))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := conv.NextSequence()
		if err != nil {
			return err
		}
		msg.ID = seq

		dbMsg := DBMessage{
			ID:        msg.ID,
			From:      msg.From,
			To:        msg.To,
			Text:      msg.Text,
			HTML:      msg.HTML,
			Read:      false,
			CreatedAt: msg.CreatedAt,
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return conv.Put(dbMsg.Key(), data)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// QueryMessages returns one page of the conversation between a and b,
// newest page first but each page ordered oldest-first, plus the total
// message count. Page numbering starts at 1.
func (s *BboltStorage) QueryMessages(a, b string, page, limit int) ([]models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	var messages []models.Message
	total := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(models.ConversationKey(a, b)))
		if conv == nil {
			return nil // no messages for this conversation
		}

		total = conv.Stats().KeyN

		skip := (page - 1) * limit
		c := conv.Cursor()
		// Walk newest to oldest, skipping earlier pages.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skip > 0 {
				skip--
				continue
			}
			if len(messages) == limit {
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Oldest first within the page.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// BulkMarkRead flips read=false -> true for every message addressed to
// reader in the conversation with peer, in a single transaction. It
// returns the number of modified messages and the most recent now-read
// message.
func (s *BboltStorage) BulkMarkRead(reader, peer string) (int, models.Message, error) {
	modified := 0
	var last models.Message

	err := s.db.Update(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(models.ConversationKey(reader, peer)))
		if conv == nil {
			return nil
		}

		c := conv.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.To != reader || dbMsg.Read {
				continue
			}
			dbMsg.Read = true
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := conv.Put(dbMsg.Key(), data); err != nil {
				return err
			}
			modified++
			last = messageFromDB(dbMsg)
		}
		return nil
	})
	if err != nil {
		return 0, models.Message{}, err
	}
	return modified, last, nil
}

// BulkDelete removes every message between a and b, both directions, in a
// single transaction. Returns the number of deleted messages.
func (s *BboltStorage) BulkDelete(a, b string) (int, error) {
	deleted := 0
	key := []byte(models.ConversationKey(a, b))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketMessages)
		conv := parent.Bucket(key)
		if conv == nil {
			return nil
		}
		deleted = conv.Stats().KeyN
		return parent.DeleteBucket(key)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// LatestChats builds the "latest chats" summary for an identity: for each
// peer the most recent message plus the identity's unread count, ordered
// by last message time descending with the message id as tie-break.
// Unread counts are derived here, never stored.
func (s *BboltStorage) LatestChats(identity string) ([]models.ChatSummary, error) {
	var summaries []models.ChatSummary

	err := s.db.View(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketMessages)
		return parent.ForEachBucket(func(name []byte) error {
			a, b, ok := models.ConversationPeers(string(name))
			if !ok {
				return nil
			}
			peer := ""
			switch identity {
			case a:
				peer = b
			case b:
				peer = a
			default:
				return nil
			}

			conv := parent.Bucket(name)
			c := conv.Cursor()
			k, v := c.Last()
			if k == nil {
				return nil
			}

			var lastMsg DBMessage
			if err := lastMsg.UnmarshalBinary(v); err != nil {
				return err
			}

			unread := 0
			err := conv.ForEach(func(_, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				if dbMsg.To == identity && !dbMsg.Read {
					unread++
				}
				return nil
			})
			if err != nil {
				return err
			}

			summaries = append(summaries, models.ChatSummary{
				Peer:        peer,
				LastMessage: messageFromDB(lastMsg),
				UnreadCount: unread,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		mi, mj := summaries[i].LastMessage, summaries[j].LastMessage
		if mi.CreatedAt != mj.CreatedAt {
			return mi.CreatedAt > mj.CreatedAt
		}
		return mi.ID > mj.ID
	})
	return summaries, nil
}

func messageFromDB(m DBMessage) models.Message {
	return models.Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Text:      m.Text,
		HTML:      m.HTML,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

// UpsertGroup saves a group document.
func (s *BboltStorage) UpsertGroup(group models.Group) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbGroup := DBGroup{
			ID:            group.ID,
			Name:          group.Name,
			Members:       group.Members,
			Admins:        group.Admins,
			LastMessageID: group.LastMessageID,
			CreatedAt:     group.CreatedAt,
		}
		data, err := dbGroup.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroups).Put(dbGroup.Key(), data)
	})
}

// GetGroup returns the group with the given id.
func (s *BboltStorage) GetGroup(id string) (models.Group, error) {
	var group models.Group
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketGroups).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbGroup DBGroup
		if err := dbGroup.UnmarshalBinary(data); err != nil {
			return err
		}
		group = groupFromDB(dbGroup)
		return nil
	})
	return group, err
}

func groupFromDB(g DBGroup) models.Group {
	return models.Group{
		ID:            g.ID,
		Name:          g.Name,
		Members:       g.Members,
		Admins:        g.Admins,
		LastMessageID: g.LastMessageID,
		CreatedAt:     g.CreatedAt,
	}
}

// GroupSubscribers returns the current member set of a group, computed
// fresh from the persisted document.
func (s *BboltStorage) GroupSubscribers(id string) (mapset.Set[string], error) {
	group, err := s.GetGroup(id)
	if err != nil {
		return nil, err
	}
	return mapset.NewSet(group.Members...), nil
}

// AppendGroupMessage persists a group message and updates the group's
// last message reference in the same transaction.
func (s *BboltStorage) AppendGroupMessage(msg models.GroupMessage) (models.GroupMessage, error) {
	msg.CreatedAt = s.now().Unix()
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		groupData := tx.Bucket(bucketGroups).Get([]byte(msg.GroupID))
		if groupData == nil {
			return models.ErrNotFound
		}

		bucket, err := tx.Bucket(bucketGroupMessages).CreateBucketIfNotExists([]byte(msg.GroupID))
		if err != nil {
			return fmt.Errorf("failed to create group message bucket: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		msg.ID = seq

		dbMsg := groupMessageToDB(msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal group message: %w", err)
		}
		if err := bucket.Put(dbMsg.Key(), data); err != nil {
			return err
		}

		// Update the group's last message reference.
		var dbGroup DBGroup
		if err := dbGroup.UnmarshalBinary(groupData); err != nil {
			return fmt.Errorf("failed to unmarshal group: %w", err)
		}
		dbGroup.LastMessageID = msg.ID
		newData, err := dbGroup.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroups).Put(dbGroup.Key(), newData)
	})
	if err != nil {
		return models.GroupMessage{}, err
	}
	return msg, nil
}

// MarkGroupMessageRead adds the reader to the message's readBy set and
// returns the updated message. Adding an existing reader is a no-op.
func (s *BboltStorage) MarkGroupMessageRead(groupID string, messageID uint64, reader string) (models.GroupMessage, error) {
	var updated models.GroupMessage

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketGroupMessages).Bucket([]byte(groupID))
		if bucket == nil {
			return models.ErrNotFound
		}

		probe := DBGroupMessage{ID: messageID}
		data := bucket.Get(probe.Key())
		if data == nil {
			return models.ErrNotFound
		}

		var dbMsg DBGroupMessage
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return err
		}

		readBy := mapset.NewSet(dbMsg.ReadBy...)
		if readBy.Add(reader) {
			dbMsg.ReadBy = readBy.ToSlice()
			sort.Strings(dbMsg.ReadBy)
			newData, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := bucket.Put(dbMsg.Key(), newData); err != nil {
				return err
			}
		}

		updated = groupMessageFromDB(dbMsg)
		return nil
	})
	if err != nil {
		return models.GroupMessage{}, err
	}
	return updated, nil
}

func groupMessageToDB(m models.GroupMessage) DBGroupMessage {
	dbMsg := DBGroupMessage{
		ID:          m.ID,
		GroupID:     m.GroupID,
		Sender:      m.Sender,
		Content:     m.Content,
		HTML:        m.HTML,
		MessageType: m.MessageType,
		ReadBy:      m.ReadBy,
		CreatedAt:   m.CreatedAt,
	}
	for _, a := range m.Attachments {
		dbMsg.Attachments = append(dbMsg.Attachments, DBAttachment{
			Type:     string(a.Type),
			Name:     a.Name,
			MimeType: a.MimeType,
			FileID:   a.FileID,
		})
	}
	return dbMsg
}

func groupMessageFromDB(m DBGroupMessage) models.GroupMessage {
	msg := models.GroupMessage{
		ID:          m.ID,
		GroupID:     m.GroupID,
		Sender:      m.Sender,
		Content:     m.Content,
		HTML:        m.HTML,
		MessageType: m.MessageType,
		ReadBy:      m.ReadBy,
		CreatedAt:   m.CreatedAt,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:     models.AttachmentType(a.Type),
			Name:     a.Name,
			MimeType: a.MimeType,
			FileID:   a.FileID,
		})
	}
	return msg
}

// UpsertEvent saves an event document.
func (s *BboltStorage) UpsertEvent(event models.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbEvent := DBEvent{
			ID:             event.ID,
			Name:           event.Name,
			Date:           event.Date,
			Location:       event.Location,
			Description:    event.Description,
			OrganizerEmail: event.OrganizerEmail,
		}
		data, err := dbEvent.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvents).Put(dbEvent.Key(), data)
	})
}

// GetEvent returns the event with the given id.
func (s *BboltStorage) GetEvent(id string) (models.Event, error) {
	var event models.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbEvent DBEvent
		if err := dbEvent.UnmarshalBinary(data); err != nil {
			return err
		}
		event = models.Event{
			ID:             dbEvent.ID,
			Name:           dbEvent.Name,
			Date:           dbEvent.Date,
			Location:       dbEvent.Location,
			Description:    dbEvent.Description,
			OrganizerEmail: dbEvent.OrganizerEmail,
		}
		return nil
	})
	return event, err
}

// DeleteEvent removes an event document. Participations are kept so the
// deletion fan-out can still resolve its audience.
func (s *BboltStorage) DeleteEvent(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEvents).Delete([]byte(id))
	})
}

// CreateParticipation inserts a new participation record. A second record
// for the same (event, identity) pair is rejected with ErrConflict, not
// silently merged.
func (s *BboltStorage) CreateParticipation(p models.Participation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParticipants)
		dbPart := DBParticipant{
			EventID:  p.EventID,
			Email:    p.Email,
			Username: p.Username,
			Status:   string(p.Status),
			JoinedAt: p.JoinedAt,
		}
		if b.Get(dbPart.Key()) != nil {
			return fmt.Errorf("participation %s/%s: %w", p.EventID, p.Email, models.ErrConflict)
		}
		data, err := dbPart.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbPart.Key(), data)
	})
}

// UpdateParticipation changes the status of an existing participation
// record and returns the updated record.
func (s *BboltStorage) UpdateParticipation(eventID, email string, status models.ParticipationStatus, username string, joinedAt int64) (models.Participation, error) {
	var updated models.Participation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParticipants)
		probe := DBParticipant{EventID: eventID, Email: email}
		data := b.Get(probe.Key())
		if data == nil {
			return models.ErrNotFound
		}

		var dbPart DBParticipant
		if err := dbPart.UnmarshalBinary(data); err != nil {
			return err
		}
		dbPart.Status = string(status)
		if username != "" {
			dbPart.Username = username
		}
		if joinedAt != 0 {
			dbPart.JoinedAt = joinedAt
		}

		newData, err := dbPart.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbPart.Key(), newData); err != nil {
			return err
		}

		updated = models.Participation{
			EventID:  dbPart.EventID,
			Email:    dbPart.Email,
			Username: dbPart.Username,
			Status:   models.ParticipationStatus(dbPart.Status),
			JoinedAt: dbPart.JoinedAt,
		}
		return nil
	})
	if err != nil {
		return models.Participation{}, err
	}
	return updated, nil
}

// GetParticipation returns the participation record for (eventID, email).
func (s *BboltStorage) GetParticipation(eventID, email string) (models.Participation, error) {
	var p models.Participation
	err := s.db.View(func(tx *bbolt.Tx) error {
		probe := DBParticipant{EventID: eventID, Email: email}
		data := tx.Bucket(bucketParticipants).Get(probe.Key())
		if data == nil {
			return models.ErrNotFound
		}
		var dbPart DBParticipant
		if err := dbPart.UnmarshalBinary(data); err != nil {
			return err
		}
		p = models.Participation{
			EventID:  dbPart.EventID,
			Email:    dbPart.Email,
			Username: dbPart.Username,
			Status:   models.ParticipationStatus(dbPart.Status),
			JoinedAt: dbPart.JoinedAt,
		}
		return nil
	})
	return p, err
}

// EventSubscribers returns the identities holding a participation record
// for the event, any status, computed fresh from the store.
func (s *BboltStorage) EventSubscribers(eventID string) (mapset.Set[string], error) {
	subscribers := mapset.NewSet[string]()
	prefix := []byte(eventID + "|")

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketParticipants).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var dbPart DBParticipant
			if err := dbPart.UnmarshalBinary(v); err != nil {
				return err
			}
			subscribers.Add(dbPart.Email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subscribers, nil
}

// UpsertClassified saves a classified document, assigning an id on first
// insert.
func (s *BboltStorage) UpsertClassified(classified models.Classified) (models.Classified, error) {
	if classified.ID == "" {
		classified.ID = uuid.NewString()
		classified.CreatedAt = s.now().Unix()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbClassified := DBClassified{
			ID:         classified.ID,
			Title:      classified.Title,
			Category:   classified.Category,
			PostedBy:   classified.PostedBy,
			ViewableBy: classified.ViewableBy,
			CreatedAt:  classified.CreatedAt,
		}
		data, err := dbClassified.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketClassifieds).Put(dbClassified.Key(), data)
	})
	if err != nil {
		return models.Classified{}, err
	}
	return classified, nil
}

// GetClassified returns the classified with the given id.
func (s *BboltStorage) GetClassified(id string) (models.Classified, error) {
	var classified models.Classified
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketClassifieds).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbClassified DBClassified
		if err := dbClassified.UnmarshalBinary(data); err != nil {
			return err
		}
		classified = models.Classified{
			ID:         dbClassified.ID,
			Title:      dbClassified.Title,
			Category:   dbClassified.Category,
			PostedBy:   dbClassified.PostedBy,
			ViewableBy: dbClassified.ViewableBy,
			CreatedAt:  dbClassified.CreatedAt,
		}
		return nil
	})
	return classified, err
}

// DeleteClassified removes a classified and returns the deleted document
// so callers can notify its last known audience.
func (s *BboltStorage) DeleteClassified(id string) (models.Classified, error) {
	classified, err := s.GetClassified(id)
	if err != nil {
		return models.Classified{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClassifieds).Delete([]byte(id))
	})
	if err != nil {
		return models.Classified{}, err
	}
	return classified, nil
}

// ClassifiedSubscribers returns the fresh viewableBy set of a classified.
func (s *BboltStorage) ClassifiedSubscribers(id string) (mapset.Set[string], error) {
	classified, err := s.GetClassified(id)
	if err != nil {
		return nil, err
	}
	return mapset.NewSet(classified.ViewableBy...), nil
}

// CreateInvitation persists a new pending invitation.
func (s *BboltStorage) CreateInvitation(inv models.Invitation) (models.Invitation, error) {
	inv.ID = uuid.NewString()
	inv.Status = models.InvitationPending
	inv.CreatedAt = s.now().Unix()
	inv.UpdatedAt = inv.CreatedAt

	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbInv, err := invitationToDB(inv)
		if err != nil {
			return err
		}
		data, err := dbInv.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInvitations).Put(dbInv.Key(), data)
	})
	if err != nil {
		return models.Invitation{}, err
	}
	return inv, nil
}

// UpdateInvitationStatus records the receiver's response and returns the
// updated invitation.
func (s *BboltStorage) UpdateInvitationStatus(id string, status models.InvitationStatus) (models.Invitation, error) {
	var updated models.Invitation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInvitations)
		data := b.Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}

		var dbInv DBInvitation
		if err := dbInv.UnmarshalBinary(data); err != nil {
			return err
		}
		dbInv.Status = string(status)
		dbInv.UpdatedAt = s.now().Unix()

		newData, err := dbInv.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbInv.Key(), newData); err != nil {
			return err
		}

		updated, err = invitationFromDB(dbInv)
		return err
	})
	if err != nil {
		return models.Invitation{}, err
	}
	return updated, nil
}

func invitationToDB(inv models.Invitation) (DBInvitation, error) {
	dbInv := DBInvitation{
		ID:            inv.ID,
		SenderEmail:   inv.SenderEmail,
		ReceiverEmail: inv.ReceiverEmail,
		Status:        string(inv.Status),
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	if inv.EventData != nil {
		data, err := json.Marshal(inv.EventData)
		if err != nil {
			return DBInvitation{}, fmt.Errorf("failed to marshal event data: %w", err)
		}
		dbInv.EventData = data
	}
	return dbInv, nil
}

func invitationFromDB(dbInv DBInvitation) (models.Invitation, error) {
	inv := models.Invitation{
		ID:            dbInv.ID,
		SenderEmail:   dbInv.SenderEmail,
		ReceiverEmail: dbInv.ReceiverEmail,
		Status:        models.InvitationStatus(dbInv.Status),
		CreatedAt:     dbInv.CreatedAt,
		UpdatedAt:     dbInv.UpdatedAt,
	}
	if len(dbInv.EventData) > 0 {
		if err := json.Unmarshal(dbInv.EventData, &inv.EventData); err != nil {
			return models.Invitation{}, fmt.Errorf("corrupt event data for invitation %s: %w", dbInv.ID, err)
		}
	}
	return inv, nil
}

// UpsertPushSubscription saves an identity's push endpoint.
func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbSub := DBPushSubscription{
			Identity: sub.Identity,
			Endpoint: sub.Endpoint,
			P256dh:   sub.P256dh,
			Auth:     sub.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushSubs).Put(dbSub.Key(), data)
	})
}

// GetPushSubscription returns the push endpoint registered by identity.
func (s *BboltStorage) GetPushSubscription(identity string) (models.PushSubscription, error) {
	var sub models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPushSubs).Get([]byte(identity))
		if data == nil {
			return models.ErrNotFound
		}
		var dbSub DBPushSubscription
		if err := dbSub.UnmarshalBinary(data); err != nil {
			return err
		}
		sub = models.PushSubscription{
			Identity: dbSub.Identity,
			Endpoint: dbSub.Endpoint,
			P256dh:   dbSub.P256dh,
			Auth:     dbSub.Auth,
		}
		return nil
	})
	return sub, err
}

// DeletePushSubscription drops a stale push endpoint.
func (s *BboltStorage) DeletePushSubscription(identity string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(identity))
	})
}

// IsConflict reports whether err is a duplicate-key conflict.
func IsConflict(err error) bool {
	return errors.Is(err, models.ErrConflict)
}
