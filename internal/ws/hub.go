package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/c-pro/geche"
	mapset "github.com/deckarep/golang-set/v2"

	"okolitsa/internal/content"
	"okolitsa/internal/dispatch"
	"okolitsa/internal/filestore"
	"okolitsa/internal/models"
	"okolitsa/internal/receipts"
	"okolitsa/internal/registry"
	"okolitsa/internal/rooms"
	"okolitsa/internal/storage"
)

const typingThrottle = 2 * time.Second

// Hub routes named transport events through the presence registry, the
// room router, the store and the fan-out dispatcher. One Hub serves all
// connections; handlers for different connections run concurrently.
type Hub struct {
	registry   *registry.Registry
	router     *rooms.Router
	store      *storage.BboltStorage
	blobs      filestore.BlobStore
	tracker    *receipts.Tracker
	dispatcher *dispatch.Dispatcher

	// Suppresses repeated typing relays for the same (from, to) pair.
	typing geche.Geche[string, int64]
}

func NewHub(ctx context.Context, store *storage.BboltStorage, blobs filestore.BlobStore, push dispatch.PushSender) *Hub {
	router := rooms.NewRouter()
	reg := registry.New(router, store)

	return &Hub{
		registry:   reg,
		router:     router,
		store:      store,
		blobs:      blobs,
		tracker:    receipts.NewTracker(store, router),
		dispatcher: dispatch.New(router, reg, push),
		typing:     geche.NewMapTTLCache[string, int64](ctx, typingThrottle, time.Second),
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

func (h *Hub) fail(c *Conn, event, message string) {
	c.Deliver(event, errorPayload{Message: message})
}

// HandleEvent dispatches one inbound event. Mutation failures are
// reported to the originating connection only; fan-out failures are
// logged and never surfaced.
func (h *Hub) HandleEvent(c *Conn, ev ClientEvent) {
	switch ev.Event {
	case models.EventRegister:
		h.handleRegister(c, ev.Data)
	case models.EventPrivateMessage:
		h.handlePrivateMessage(c, ev.Data)
	case models.EventTyping:
		h.handleTyping(c, ev.Data)
	case models.EventMarkRead:
		h.handleMarkRead(c, ev.Data)
	case models.EventClearChat:
		h.handleClearChat(c, ev.Data)
	case models.EventFetchMessages:
		h.handleFetchMessages(c, ev.Data)
	case models.EventLatestChats:
		h.handleLatestChats(c, ev.Data)
	case models.EventJoinGroups:
		h.handleJoinGroups(c, ev.Data)
	case models.EventGroupMessage:
		h.handleGroupMessage(c, ev.Data)
	case models.EventGroupMessageRead:
		h.handleGroupMessageRead(c, ev.Data)
	case models.EventGroupUpdate:
		h.handleGroupUpdate(c, ev.Data)
	case models.EventInviteToEvent:
		h.handleInvite(c, ev.Data)
	case models.EventAcceptInvitation:
		h.handleAcceptInvitation(c, ev.Data)
	case models.EventJoinUserRoom, models.EventSubscribeInvitations:
		h.handleJoinUserRoom(c, ev.Data)
	case models.EventGetUserStatuses:
		h.handleGetStatuses(c, ev.Data, false)
	case models.EventGetAllStatuses:
		h.handleGetStatuses(c, ev.Data, true)
	case models.EventClassifiedCreated:
		h.handleClassifiedCreated(c, ev.Data)
	case models.EventClassifiedDeleted:
		h.handleClassifiedDeleted(c, ev.Data)
	case models.EventEventDeleted:
		h.handleEventDeleted(c, ev.Data)
	case models.EventSubscribePush:
		h.handleSubscribePush(c, ev.Data)
	default:
		slog.Debug("unknown event", "event", ev.Event)
	}
}

// Disconnected tears down everything the connection owned: its registry
// binding (offline transition) and all room memberships.
func (h *Hub) Disconnected(c *Conn) {
	h.registry.Unregister(c)
	h.router.LeaveAll(c)
}

func (h *Hub) handleRegister(c *Conn, data json.RawMessage) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		h.fail(c, models.EventError, "malformed register payload")
		return
	}
	if err := content.ValidateIdentity(name); err != nil {
		h.fail(c, models.EventError, err.Error())
		return
	}

	if _, err := h.registry.Register(name, c); err != nil {
		slog.Error("register failed", "identity", name, "error", err)
		h.fail(c, models.EventError, "Server error")
		return
	}
	c.identity = name
}

type privateMessagePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (h *Hub) handlePrivateMessage(c *Conn, data json.RawMessage) {
	var p privateMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" || p.To == "" || p.Text == "" {
		h.fail(c, models.EventError, "malformed private message")
		return
	}

	html, err := content.Render(p.Text)
	if err != nil {
		slog.Debug("markdown render failed", "error", err)
	}

	msg, err := h.store.AppendMessage(p.From, p.To, content.Sanitize(p.Text), html)
	if err != nil {
		slog.Error("private message persist failed", "from", p.From, "to", p.To, "error", err)
		c.Deliver(models.EventMessageError, map[string]string{"text": p.Text})
		return
	}

	// Persisted; everything below is best-effort.
	c.Deliver(models.EventMessageSent, msg)
	h.dispatcher.NotifyUser(p.To, models.EventPrivateMessage, msg)
}

type typingPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Hub) handleTyping(c *Conn, data json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" || p.To == "" {
		return
	}

	key := p.From + "|" + p.To
	if _, err := h.typing.Get(key); err == nil {
		return // already relayed recently
	}
	h.typing.Set(key, time.Now().Unix())

	if h.registry.Online(p.To) {
		h.router.Publish(rooms.Personal(p.To), models.EventTyping, typingPayload{From: p.From})
	}
}

func (h *Hub) handleMarkRead(c *Conn, data json.RawMessage) {
	var p typingPayload // same {from, to} shape
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" || p.To == "" {
		return
	}

	if _, err := h.tracker.MarkRead(p.From, p.To); err != nil {
		slog.Error("mark read failed", "reader", p.From, "peer", p.To, "error", err)
	}
}

type clearChatPayload struct {
	User1     string `json:"user1"`
	User2     string `json:"user2"`
	ClearedBy string `json:"clearedBy"`
}

func (h *Hub) handleClearChat(c *Conn, data json.RawMessage) {
	var p clearChatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.User1 == "" || p.User2 == "" {
		h.fail(c, models.EventError, "Both users must be specified")
		return
	}

	deleted, err := h.tracker.Clear(p.User1, p.User2, p.ClearedBy)
	if err != nil {
		slog.Error("clear chat failed", "user1", p.User1, "user2", p.User2, "error", err)
		h.fail(c, models.EventError, "Failed to clear chat history")
		return
	}

	c.Deliver(models.EventClearChatSuccess, receipts.ClearResult{
		User1:        p.User1,
		User2:        p.User2,
		DeletedCount: deleted,
	})
}

type fetchMessagesPayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type messagesPayload struct {
	Messages   []models.Message `json:"messages"`
	TotalCount int              `json:"totalCount"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
}

// handleFetchMessages pages through a conversation and marks the
// returned direction as read, the pull-based reconciliation path for
// users that were offline during live delivery.
func (h *Hub) handleFetchMessages(c *Conn, data json.RawMessage) {
	var p fetchMessagesPayload
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" || p.To == "" {
		h.fail(c, models.EventError, "Missing from or to parameters")
		return
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 50
	}

	messages, total, err := h.store.QueryMessages(p.From, p.To, p.Page, p.Limit)
	if err != nil {
		slog.Error("fetch messages failed", "from", p.From, "to", p.To, "error", err)
		h.fail(c, models.EventError, "Server error")
		return
	}

	c.Deliver(models.EventMessages, messagesPayload{
		Messages:   messages,
		TotalCount: total,
		Page:       p.Page,
		Limit:      p.Limit,
	})

	// Fetching a conversation reads it.
	if _, err := h.tracker.MarkRead(p.From, p.To); err != nil {
		slog.Error("mark read after fetch failed", "reader", p.From, "error", err)
	}
}

type latestChatsPayload struct {
	Name string `json:"name"`
}

func (h *Hub) handleLatestChats(c *Conn, data json.RawMessage) {
	var p latestChatsPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Name == "" {
		h.fail(c, models.EventError, "Missing name parameter")
		return
	}

	chats, err := h.tracker.LatestChats(p.Name)
	if err != nil {
		slog.Error("latest chats failed", "identity", p.Name, "error", err)
		h.fail(c, models.EventError, "Server error")
		return
	}

	c.Deliver(models.EventLatestChats, chats)
}

func (h *Hub) handleJoinGroups(c *Conn, data json.RawMessage) {
	var groupIDs []string
	if err := json.Unmarshal(data, &groupIDs); err != nil {
		h.fail(c, models.EventError, "malformed group list")
		return
	}
	if c.identity == "" {
		h.fail(c, models.EventError, "register first")
		return
	}

	for _, id := range groupIDs {
		group, err := h.store.GetGroup(id)
		if err != nil || !group.HasMember(c.identity) {
			h.fail(c, models.EventError, "not a member of group "+id)
			continue
		}
		h.router.Join(rooms.Entity(id), c)
	}
}

type groupMessagePayload struct {
	GroupID     string                   `json:"groupId"`
	Content     string                   `json:"content"`
	MessageType string                   `json:"messageType"`
	Attachments []groupAttachmentPayload `json:"attachments"`
}

type groupAttachmentPayload struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64 payload
}

func (h *Hub) handleGroupMessage(c *Conn, data json.RawMessage) {
	var p groupMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.GroupID == "" {
		h.fail(c, models.EventGroupMessageError, "malformed group message")
		return
	}
	if c.identity == "" {
		h.fail(c, models.EventGroupMessageError, "register first")
		return
	}

	group, err := h.store.GetGroup(p.GroupID)
	if err != nil {
		h.fail(c, models.EventGroupMessageError, "group not found")
		return
	}
	// Membership is checked at send time; joining the room client-side
	// is not enough to post.
	if !group.HasMember(c.identity) {
		h.fail(c, models.EventGroupMessageError, "not a member of this group")
		return
	}

	attachments, err := h.saveAttachments(p.Attachments)
	if err != nil {
		slog.Error("attachment save failed", "group", p.GroupID, "error", err)
		h.fail(c, models.EventGroupMessageError, "failed to store attachment")
		return
	}

	html, err := content.Render(p.Content)
	if err != nil {
		slog.Debug("markdown render failed", "error", err)
	}

	msg, err := h.store.AppendGroupMessage(models.GroupMessage{
		GroupID:     p.GroupID,
		Sender:      c.identity,
		Content:     content.Sanitize(p.Content),
		HTML:        html,
		MessageType: p.MessageType,
		Attachments: attachments,
	})
	if err != nil {
		slog.Error("group message persist failed", "group", p.GroupID, "error", err)
		h.fail(c, models.EventGroupMessageError, "failed to save message")
		return
	}

	h.router.Publish(rooms.Entity(p.GroupID), models.EventGroupMessage, msg)
}

func (h *Hub) saveAttachments(payloads []groupAttachmentPayload) ([]models.Attachment, error) {
	var attachments []models.Attachment
	for _, a := range payloads {
		raw, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, errors.New("attachment data is not valid base64")
		}
		id, err := h.blobs.Put(raw)
		if err != nil {
			return nil, err
		}
		kind, mime := content.SniffAttachment(raw)
		attachments = append(attachments, models.Attachment{
			Type:     models.AttachmentType(kind),
			Name:     a.Name,
			MimeType: mime,
			FileID:   id,
		})
	}
	return attachments, nil
}

type groupMessageReadPayload struct {
	GroupID   string `json:"groupId"`
	MessageID uint64 `json:"messageId"`
}

func (h *Hub) handleGroupMessageRead(c *Conn, data json.RawMessage) {
	var p groupMessageReadPayload
	if err := json.Unmarshal(data, &p); err != nil || p.GroupID == "" || c.identity == "" {
		return
	}

	msg, err := h.store.MarkGroupMessageRead(p.GroupID, p.MessageID, c.identity)
	if err != nil {
		slog.Debug("group message read failed", "group", p.GroupID, "message", p.MessageID, "error", err)
		return
	}

	h.router.Publish(rooms.Entity(p.GroupID), models.EventGroupMessageRead, map[string]any{
		"messageId": msg.ID,
		"readBy":    msg.ReadBy,
	})
}

func (h *Hub) handleGroupUpdate(c *Conn, data json.RawMessage) {
	var groupID string
	if err := json.Unmarshal(data, &groupID); err != nil || groupID == "" {
		return
	}

	group, err := h.store.GetGroup(groupID)
	if err != nil {
		slog.Debug("group update for unknown group", "group", groupID)
		return
	}
	h.router.Publish(rooms.Entity(groupID), models.EventGroupUpdated, group)
}

type invitePayload struct {
	OrganizerEmail string `json:"organizerEmail"`
	InviteeEmail   string `json:"inviteeEmail"`
	EventID        string `json:"eventId"`
}

func (h *Hub) handleInvite(c *Conn, data json.RawMessage) {
	var p invitePayload
	if err := json.Unmarshal(data, &p); err != nil || p.EventID == "" || p.InviteeEmail == "" {
		h.fail(c, models.EventInviteError, "malformed invitation")
		return
	}

	event, err := h.store.GetEvent(p.EventID)
	if err != nil {
		h.fail(c, models.EventInviteError, "Event not found")
		return
	}
	if event.OrganizerEmail != p.OrganizerEmail {
		h.fail(c, models.EventInviteError, "Only organizer can invite users")
		return
	}

	err = h.store.CreateParticipation(models.Participation{
		EventID: p.EventID,
		Email:   p.InviteeEmail,
		Status:  models.ParticipationPending,
	})
	if err != nil {
		if storage.IsConflict(err) {
			h.fail(c, models.EventInviteError, "User already joined the event")
		} else {
			slog.Error("participation create failed", "event", p.EventID, "error", err)
			h.fail(c, models.EventInviteError, "Internal server error")
		}
		return
	}

	h.dispatcher.NotifyUser(p.InviteeEmail, models.EventEventInvitation, map[string]any{
		"eventId":        event.ID,
		"eventName":      event.Name,
		"inviteeEmail":   p.InviteeEmail,
		"organizerEmail": event.OrganizerEmail,
		"eventDate":      event.Date,
		"eventLocation":  event.Location,
	})
}

type acceptInvitationPayload struct {
	EventID      string `json:"eventId"`
	InviteeEmail string `json:"inviteeEmail"`
	Username     string `json:"username"`
}

func (h *Hub) handleAcceptInvitation(c *Conn, data json.RawMessage) {
	var p acceptInvitationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.EventID == "" || p.InviteeEmail == "" {
		h.fail(c, models.EventInviteError, "malformed acceptance")
		return
	}

	event, err := h.store.GetEvent(p.EventID)
	if err != nil {
		h.fail(c, models.EventInviteError, "Event not found")
		return
	}

	updated, err := h.store.UpdateParticipation(
		p.EventID, p.InviteeEmail, models.ParticipationJoined, p.Username, time.Now().Unix())
	if err != nil {
		h.fail(c, models.EventInviteError, "Invitation not found")
		return
	}

	h.dispatcher.NotifyUser(p.InviteeEmail, models.EventEventJoined, event)
	h.dispatcher.NotifyUser(event.OrganizerEmail, models.EventParticipantUpdated, map[string]any{
		"eventId": p.EventID,
		"email":   updated.Email,
		"status":  updated.Status,
	})
}

func (h *Hub) handleJoinUserRoom(c *Conn, data json.RawMessage) {
	var email string
	if err := json.Unmarshal(data, &email); err != nil {
		return
	}
	if err := content.ValidateIdentity(email); err != nil {
		h.fail(c, models.EventError, err.Error())
		return
	}
	h.router.Join(rooms.Personal(email), c)
}

func (h *Hub) handleGetStatuses(c *Conn, data json.RawMessage, onlineOnly bool) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil || len(names) == 0 {
		return
	}

	statuses := h.registry.Statuses(names)
	if onlineOnly {
		flags := make(map[string]bool, len(statuses))
		for name, p := range statuses {
			flags[name] = p.Online
		}
		c.Deliver(models.EventAllStatuses, flags)
		return
	}
	c.Deliver(models.EventUserStatuses, statuses)
}

type classifiedCreatedPayload struct {
	ClassifiedID string `json:"classifiedId"`
}

func (h *Hub) handleClassifiedCreated(c *Conn, data json.RawMessage) {
	var p classifiedCreatedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ClassifiedID == "" {
		return
	}
	if err := h.NotifyClassifiedCreated(p.ClassifiedID); err != nil {
		h.fail(c, models.EventError, "classified not found")
	}
}

type classifiedDeletedPayload struct {
	ClassifiedID string   `json:"classifiedId"`
	Title        string   `json:"title"`
	ViewableBy   []string `json:"viewableBy"`
}

func (h *Hub) handleClassifiedDeleted(c *Conn, data json.RawMessage) {
	var p classifiedDeletedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ClassifiedID == "" {
		return
	}
	h.NotifyClassifiedDeleted(p.ClassifiedID, p.Title, p.ViewableBy)
}

type eventDeletedPayload struct {
	EventID string `json:"eventId"`
}

func (h *Hub) handleEventDeleted(c *Conn, data json.RawMessage) {
	var p eventDeletedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.EventID == "" {
		return
	}
	h.NotifyEventDeleted(p.EventID)
}

type pushSubscriptionPayload struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *Hub) handleSubscribePush(c *Conn, data json.RawMessage) {
	var p pushSubscriptionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Endpoint == "" {
		h.fail(c, models.EventError, "malformed push subscription")
		return
	}
	if c.identity == "" {
		h.fail(c, models.EventError, "register first")
		return
	}

	err := h.store.UpsertPushSubscription(models.PushSubscription{
		Identity: c.identity,
		Endpoint: p.Endpoint,
		P256dh:   p.Keys.P256dh,
		Auth:     p.Keys.Auth,
	})
	if err != nil {
		slog.Error("push subscription save failed", "identity", c.identity, "error", err)
		h.fail(c, models.EventError, "Server error")
	}
}

// NotifyClassifiedCreated fans the new-classified notice out to the
// classified's current viewableBy set, read fresh from the store.
func (h *Hub) NotifyClassifiedCreated(id string) error {
	classified, err := h.store.GetClassified(id)
	if err != nil {
		return err
	}
	h.dispatcher.Notify(mapset.NewSet(classified.ViewableBy...), models.EventNewClassified, map[string]any{
		"classifiedId": classified.ID,
		"title":        classified.Title,
		"category":     classified.Category,
		"postedBy":     classified.PostedBy,
	})
	return nil
}

// NotifyClassifiedDeleted notifies the last known audience of a deleted
// classified. The entity is gone, so the audience comes from the caller.
func (h *Hub) NotifyClassifiedDeleted(id, title string, viewableBy []string) {
	h.dispatcher.Notify(mapset.NewSet(viewableBy...), models.EventClassifiedDeleted, map[string]any{
		"classifiedId": id,
		"title":        title,
		"message":      "A classified you had access to has been deleted",
	})
}

// NotifyEventDeleted notifies every participant of a deleted event. The
// audience is every identity holding a participation record.
func (h *Hub) NotifyEventDeleted(eventID string) {
	subscribers, err := h.store.EventSubscribers(eventID)
	if err != nil {
		slog.Error("event subscriber lookup failed", "event", eventID, "error", err)
		return
	}
	h.dispatcher.Notify(subscribers, models.EventEventDeleted, map[string]any{
		"eventId": eventID,
		"message": "An event you were participating in has been deleted",
	})
}

// CreateInvitation persists a direct invitation and notifies both sides.
// Called by the controller layer.
func (h *Hub) CreateInvitation(inv models.Invitation) (models.Invitation, error) {
	saved, err := h.store.CreateInvitation(inv)
	if err != nil {
		return models.Invitation{}, err
	}

	h.dispatcher.NotifyUser(saved.SenderEmail, models.EventSentInvitation, saved)
	h.dispatcher.NotifyUser(saved.ReceiverEmail, models.EventNewInvitation, saved)
	return saved, nil
}

// RespondInvitation records the receiver's response and notifies the
// sender. Called by the controller layer.
func (h *Hub) RespondInvitation(id string, status models.InvitationStatus) (models.Invitation, error) {
	updated, err := h.store.UpdateInvitationStatus(id, status)
	if err != nil {
		return models.Invitation{}, err
	}

	h.dispatcher.NotifyUser(updated.SenderEmail, models.EventInvitationResponse, updated)
	return updated, nil
}
