package models

// Named transport events. Inbound names are what clients send,
// outbound names are what the server emits. The wire format is a
// JSON envelope {"event": ..., "data": ...}.
const (
	// Inbound
	EventRegister             = "register"
	EventPrivateMessage       = "private-message"
	EventTyping               = "typing"
	EventMarkRead             = "mark-read"
	EventClearChat            = "clear-chat"
	EventFetchMessages        = "fetch-messages"
	EventLatestChats          = "latest-chats"
	EventJoinGroups           = "join-groups"
	EventGroupMessage         = "group-message"
	EventGroupMessageRead     = "group-message-read"
	EventGroupUpdate          = "group-update"
	EventInviteToEvent        = "invite-to-event"
	EventAcceptInvitation     = "accept-invitation"
	EventJoinUserRoom         = "join-user-room"
	EventSubscribeInvitations = "subscribe-invitations"
	EventGetUserStatuses      = "get-user-statuses"
	EventGetAllStatuses       = "get-all-statuses"
	EventClassifiedCreated    = "classified-created"
	EventSubscribePush        = "subscribe-push"

	// Outbound
	EventUserStatus          = "user-status"
	EventUserStatuses        = "user-statuses"
	EventAllStatuses         = "all-statuses"
	EventMessageSent         = "message-sent"
	EventMessageError        = "message-error"
	EventMessages            = "messages"
	EventMessagesRead        = "messages-read"
	EventMessagesReadConfirm = "messages-read-confirm"
	EventChatCleared         = "chat-cleared"
	EventClearChatSuccess    = "clear-chat-success"
	EventGroupUpdated        = "group-updated"
	EventGroupMessageError   = "group-message-error"
	EventEventInvitation     = "event-invitation"
	EventEventJoined         = "event-joined"
	EventParticipantUpdated  = "participant-updated"
	EventInviteError         = "invite-error"
	EventNewClassified       = "new-classified"
	EventNewInvitation       = "new_invitation"
	EventSentInvitation      = "sent_invitation"
	EventInvitationResponse  = "invitation_response"
	EventError               = "error"

	// Both directions
	EventEventDeleted      = "event-deleted"
	EventClassifiedDeleted = "classified-deleted"
)
