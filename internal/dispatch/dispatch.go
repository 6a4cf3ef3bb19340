package dispatch

import (
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"

	"okolitsa/internal/rooms"
)

type Publisher interface {
	Publish(room rooms.Room, event string, payload any) int
	Broadcast(event string, payload any) int
}

type PresenceLookup interface {
	Online(identity string) bool
}

// PushSender delivers a notification through an external push channel
// for subscribers with no live connection. Implementations live outside
// the core; delivery is best-effort.
type PushSender interface {
	Send(identity, event string, payload any) error
}

// Dispatcher fans a typed event out to a computed subscriber set, one
// publish per subscriber's personal room. It provides best-effort
// delivery with no ordering guarantee between independent subscribers
// and never fails the triggering operation.
//
// Callers compute the subscriber set fresh from the entity's persisted
// state at the moment of the triggering mutation; the dispatcher never
// caches audiences.
type Dispatcher struct {
	pub      Publisher
	presence PresenceLookup
	push     PushSender // nil when push is not configured
}

func New(pub Publisher, presence PresenceLookup, push PushSender) *Dispatcher {
	return &Dispatcher{
		pub:      pub,
		presence: presence,
		push:     push,
	}
}

// NotifyUser publishes one event to the identity's personal room.
// If nothing is delivered and the identity is offline, the event is
// handed to the push channel instead.
func (d *Dispatcher) NotifyUser(identity, event string, payload any) {
	delivered := d.pub.Publish(rooms.Personal(identity), event, payload)
	if delivered > 0 || d.push == nil {
		return
	}
	if d.presence != nil && d.presence.Online(identity) {
		// Live binding exists but its room delivery was dropped;
		// the client reconciles via pull, not push.
		return
	}
	if err := d.push.Send(identity, event, payload); err != nil {
		slog.Debug("push delivery failed", "identity", identity, "event", event, "error", err)
	}
}

// Notify publishes the event to every subscriber in the set. Delivery to
// independent subscribers is unordered.
func (d *Dispatcher) Notify(subscribers mapset.Set[string], event string, payload any) {
	if subscribers == nil {
		return
	}
	subscribers.Each(func(identity string) bool {
		d.NotifyUser(identity, event, payload)
		return false
	})
}

// Broadcast publishes one event to the global room.
func (d *Dispatcher) Broadcast(event string, payload any) {
	d.pub.Broadcast(event, payload)
}
