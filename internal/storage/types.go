package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBPresence struct {
	Identity string `msgpack:"identity"`
	Online   bool   `msgpack:"online"`
	LastSeen int64  `msgpack:"lastSeen"`
}

func (p *DBPresence) Key() []byte {
	return []byte(p.Identity)
}

func (p *DBPresence) MarshalBinary() (data []byte, err error) {
	type alias DBPresence
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresence) UnmarshalBinary(data []byte) error {
	type alias DBPresence
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBMessage struct {
	ID        uint64 `msgpack:"id"`
	From      string `msgpack:"from"`
	To        string `msgpack:"to"`
	Text      string `msgpack:"text"`
	HTML      string `msgpack:"html"`
	Read      bool   `msgpack:"read"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.ID)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBGroup struct {
	ID            string   `msgpack:"id"`
	Name          string   `msgpack:"name"`
	Members       []string `msgpack:"members"`
	Admins        []string `msgpack:"admins"`
	LastMessageID uint64   `msgpack:"lastMessageId"`
	CreatedAt     int64    `msgpack:"createdAt"`
}

func (g *DBGroup) Key() []byte {
	return []byte(g.ID)
}

func (g *DBGroup) MarshalBinary() (data []byte, err error) {
	type alias DBGroup
	return msgpack.Marshal((*alias)(g))
}

func (g *DBGroup) UnmarshalBinary(data []byte) error {
	type alias DBGroup
	return msgpack.Unmarshal(data, (*alias)(g))
}

type DBGroupMessage struct {
	ID          uint64         `msgpack:"id"`
	GroupID     string         `msgpack:"groupId"`
	Sender      string         `msgpack:"sender"`
	Content     string         `msgpack:"content"`
	HTML        string         `msgpack:"html"`
	MessageType string         `msgpack:"messageType"`
	Attachments []DBAttachment `msgpack:"attachments"`
	ReadBy      []string       `msgpack:"readBy"`
	CreatedAt   int64          `msgpack:"createdAt"`
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
}

func (m *DBGroupMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.ID)
	return key
}

func (m *DBGroupMessage) MarshalBinary() (data []byte, err error) {
	type alias DBGroupMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBGroupMessage) UnmarshalBinary(data []byte) error {
	type alias DBGroupMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBEvent struct {
	ID             string `msgpack:"id"`
	Name           string `msgpack:"name"`
	Date           string `msgpack:"date"`
	Location       string `msgpack:"location"`
	Description    string `msgpack:"description"`
	OrganizerEmail string `msgpack:"organizerEmail"`
}

func (e *DBEvent) Key() []byte {
	return []byte(e.ID)
}

func (e *DBEvent) MarshalBinary() (data []byte, err error) {
	type alias DBEvent
	return msgpack.Marshal((*alias)(e))
}

func (e *DBEvent) UnmarshalBinary(data []byte) error {
	type alias DBEvent
	return msgpack.Unmarshal(data, (*alias)(e))
}

type DBParticipant struct {
	EventID  string `msgpack:"eventId"`
	Email    string `msgpack:"email"`
	Username string `msgpack:"username"`
	Status   string `msgpack:"status"`
	JoinedAt int64  `msgpack:"joinedAt"`
}

func (p *DBParticipant) Key() []byte {
	return []byte(p.EventID + "|" + p.Email)
}

func (p *DBParticipant) MarshalBinary() (data []byte, err error) {
	type alias DBParticipant
	return msgpack.Marshal((*alias)(p))
}

func (p *DBParticipant) UnmarshalBinary(data []byte) error {
	type alias DBParticipant
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBClassified struct {
	ID         string   `msgpack:"id"`
	Title      string   `msgpack:"title"`
	Category   string   `msgpack:"category"`
	PostedBy   string   `msgpack:"postedBy"`
	ViewableBy []string `msgpack:"viewableBy"`
	CreatedAt  int64    `msgpack:"createdAt"`
}

func (c *DBClassified) Key() []byte {
	return []byte(c.ID)
}

func (c *DBClassified) MarshalBinary() (data []byte, err error) {
	type alias DBClassified
	return msgpack.Marshal((*alias)(c))
}

func (c *DBClassified) UnmarshalBinary(data []byte) error {
	type alias DBClassified
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBInvitation struct {
	ID            string `msgpack:"id"`
	SenderEmail   string `msgpack:"senderEmail"`
	ReceiverEmail string `msgpack:"receiverEmail"`
	EventData     []byte `msgpack:"eventData"` // raw JSON as received
	Status        string `msgpack:"status"`
	CreatedAt     int64  `msgpack:"createdAt"`
	UpdatedAt     int64  `msgpack:"updatedAt"`
}

func (i *DBInvitation) Key() []byte {
	return []byte(i.ID)
}

func (i *DBInvitation) MarshalBinary() (data []byte, err error) {
	type alias DBInvitation
	return msgpack.Marshal((*alias)(i))
}

func (i *DBInvitation) UnmarshalBinary(data []byte) error {
	type alias DBInvitation
	return msgpack.Unmarshal(data, (*alias)(i))
}

type DBPushSubscription struct {
	Identity string `msgpack:"identity"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Identity)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
