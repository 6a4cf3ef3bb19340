package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate-key violations, most notably
	// a second participation record for the same (event, identity) pair.
	ErrConflict = errors.New("conflict")
)

// ValidationError is reported back to the originating connection only.
// No store mutation is attempted when one occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError aborts an operation before any mutation or publish.
type AuthorizationError struct {
	Identity string
	Action   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.Identity, e.Action)
}

// Presence is a user's online/offline status plus last-seen timestamp.
type Presence struct {
	Identity string `json:"name"`
	Online   bool   `json:"isOnline"`
	LastSeen int64  `json:"lastSeen"` // Unix timestamp (seconds)
}

// Message is one direct message between two identities.
// Read flips false->true only via bulk mark-read and never reverts.
type Message struct {
	ID        uint64 `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"createdAt"`
}

// ChatSummary is one row of the "latest chats" view: the most recent
// message exchanged with a peer plus the viewer's unread count.
type ChatSummary struct {
	Peer        string  `json:"peer"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int     `json:"unreadCount"`
}

// ConversationKey returns the order-independent key identifying the
// direct-message thread between two identities.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

// ConversationPeers splits a conversation key back into its two identities.
func ConversationPeers(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, "|")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

// Group is a named multi-member conversation.
type Group struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Members       []string `json:"members"`
	Admins        []string `json:"admins"`
	LastMessageID uint64   `json:"lastMessageId,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
}

// HasMember reports whether identity belongs to the group.
func (g Group) HasMember(identity string) bool {
	for _, m := range g.Members {
		if m == identity {
			return true
		}
	}
	return false
}

// GroupMessage is one message posted into a group. ReadBy accumulates
// reader identities and never shrinks.
type GroupMessage struct {
	ID          uint64       `json:"id"`
	GroupID     string       `json:"groupId"`
	Sender      string       `json:"sender"`
	Content     string       `json:"content"`
	HTML        string       `json:"html,omitempty"`
	MessageType string       `json:"messageType,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReadBy      []string     `json:"readBy"`
	CreatedAt   int64        `json:"createdAt"`
}

// Event is a scheduled happening with a single organizer.
type Event struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Date           string `json:"date"`
	Location       string `json:"location"`
	Description    string `json:"description"`
	OrganizerEmail string `json:"organizerEmail"`
}

type ParticipationStatus string

const (
	ParticipationPending ParticipationStatus = "pending"
	ParticipationJoined  ParticipationStatus = "joined"
	ParticipationIgnored ParticipationStatus = "ignored"
)

// Participation records one identity's relation to an event.
// Unique per (EventID, Email) pair; duplicate inserts are rejected.
type Participation struct {
	EventID  string              `json:"eventId"`
	Email    string              `json:"email"`
	Username string              `json:"username,omitempty"`
	Status   ParticipationStatus `json:"status"`
	JoinedAt int64               `json:"joinedAt,omitempty"`
}

// Classified is an ad visible to an explicit set of identities.
type Classified struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	PostedBy   string   `json:"postedBy"`
	ViewableBy []string `json:"viewableBy"`
	CreatedAt  int64    `json:"createdAt"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// Invitation is a direct event invitation created by the controller layer.
type Invitation struct {
	ID            string           `json:"id"`
	SenderEmail   string           `json:"senderEmail"`
	ReceiverEmail string           `json:"receiverEmail"`
	EventData     map[string]any   `json:"eventData,omitempty"`
	Status        InvitationStatus `json:"status"`
	CreatedAt     int64            `json:"createdAt"`
	UpdatedAt     int64            `json:"updatedAt"`
}

// PushSubscription is a browser push endpoint registered by an identity.
type PushSubscription struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}
