package rooms

import (
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

type Kind string

const (
	// KindPersonal rooms are keyed by a user identity and receive
	// that user's direct notifications.
	KindPersonal Kind = "personal"
	// KindEntity rooms are keyed by a group or event id and receive
	// collective broadcasts.
	KindEntity Kind = "entity"
	KindGlobal Kind = "global"
)

// Room is a named multicast group of currently-connected receivers.
// Personal and entity rooms are the same primitive with different keys.
type Room struct {
	ID   string
	Kind Kind
}

func Personal(identity string) Room {
	return Room{ID: identity, Kind: KindPersonal}
}

func Entity(id string) Room {
	return Room{ID: id, Kind: KindEntity}
}

// Global is the room every registered connection belongs to.
var Global = Room{ID: "*", Kind: KindGlobal}

// Receiver is one live transport handle addressable by the router.
// Deliver must not block; it reports whether the payload was accepted.
type Receiver interface {
	Key() string
	Deliver(event string, payload any) bool
}

// Router maintains room membership and publishes events to members.
// Membership is fully ephemeral and rebuilt from Join calls after
// reconnect.
type Router struct {
	mu      sync.RWMutex
	members map[Room]mapset.Set[Receiver]
}

func NewRouter() *Router {
	return &Router{
		members: make(map[Room]mapset.Set[Receiver]),
	}
}

// Join adds the receiver to the room. Idempotent.
func (r *Router) Join(room Room, rc Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[room]
	if !ok {
		set = mapset.NewSet[Receiver]()
		r.members[room] = set
	}
	set.Add(rc)
}

// Leave removes the receiver from the room. Idempotent.
func (r *Router) Leave(room Room, rc Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[room]
	if !ok {
		return
	}
	set.Remove(rc)
	if set.Cardinality() == 0 {
		delete(r.members, room)
	}
}

// LeaveAll removes the receiver from every room it joined.
// Called when a transport disconnects.
func (r *Router) LeaveAll(rc Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room, set := range r.members {
		set.Remove(rc)
		if set.Cardinality() == 0 {
			delete(r.members, room)
		}
	}
}

// Publish delivers the event to every receiver currently joined to the
// room, independently and without blocking on slow receivers. A receiver
// that cannot accept the payload is skipped. Publishing never fails the
// caller; the number of successful deliveries is returned.
func (r *Router) Publish(room Room, event string, payload any) int {
	r.mu.RLock()
	set, ok := r.members[room]
	r.mu.RUnlock()

	if !ok {
		return 0
	}

	delivered := 0
	for _, rc := range set.ToSlice() {
		if rc.Deliver(event, payload) {
			delivered++
		} else {
			slog.Debug("dropped event for slow or gone receiver",
				"event", event, "room", room.ID, "receiver", rc.Key())
		}
	}
	return delivered
}

// Broadcast publishes to the global room.
func (r *Router) Broadcast(event string, payload any) int {
	return r.Publish(Global, event, payload)
}

// MemberCount returns the current number of receivers in the room.
func (r *Router) MemberCount(room Room) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[room]
	if !ok {
		return 0
	}
	return set.Cardinality()
}
