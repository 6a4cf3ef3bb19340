package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c-pro/geche"

	"okolitsa/internal/models"
	"okolitsa/internal/rooms"
)

// PresenceStore persists presence flips. Owned by the storage layer;
// failures on the disconnect path are logged, not surfaced.
type PresenceStore interface {
	UpsertPresence(identity string, online bool, lastSeen int64) error
}

// Registry maps a user identity to zero-or-one live transport handle
// and derives online/offline transitions from its own mutations.
//
// At most one live handle per identity: a second Register call for the
// same identity supersedes the first, and the superseded handle is never
// again resolvable by Lookup.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]rooms.Receiver
	byHandle   map[string]string // handle key -> identity

	// Read-mostly presence snapshot, served to status queries without
	// taking the binding lock.
	statuses geche.Geche[string, models.Presence]

	router *rooms.Router
	store  PresenceStore
	now    func() time.Time
}

func New(router *rooms.Router, store PresenceStore) *Registry {
	return &Registry{
		byIdentity: make(map[string]rooms.Receiver),
		byHandle:   make(map[string]string),
		statuses:   geche.NewMapCache[string, models.Presence](),
		router:     router,
		store:      store,
		now:        time.Now,
	}
}

// Register binds identity to the handle, replacing any previous binding,
// subscribes the handle to the identity's personal room and the global
// room, and broadcasts the online transition. A re-register while already
// online re-announces online=true (lastSeen changed) and never regresses
// to offline in between.
func (r *Registry) Register(identity string, h rooms.Receiver) (models.Presence, error) {
	presence := models.Presence{
		Identity: identity,
		Online:   true,
		LastSeen: r.now().Unix(),
	}

	if err := r.store.UpsertPresence(identity, true, presence.LastSeen); err != nil {
		return models.Presence{}, err
	}

	r.mu.Lock()
	if prev, ok := r.byIdentity[identity]; ok {
		// Last register wins. The old handle stays connected until its
		// transport dies but is no longer addressable here.
		delete(r.byHandle, prev.Key())
	}
	r.byIdentity[identity] = h
	r.byHandle[h.Key()] = identity
	r.mu.Unlock()

	r.statuses.Set(identity, presence)

	r.router.Join(rooms.Personal(identity), h)
	r.router.Join(rooms.Global, h)

	r.router.Broadcast(models.EventUserStatus, presence)
	slog.Info("user connected", "identity", identity, "handle", h.Key())

	return presence, nil
}

// Unregister clears the binding owned by the handle and broadcasts the
// offline transition. Unknown handles (duplicate disconnects, superseded
// connections) are a logged no-op.
func (r *Registry) Unregister(h rooms.Receiver) {
	r.mu.Lock()
	identity, ok := r.byHandle[h.Key()]
	if !ok {
		r.mu.Unlock()
		slog.Debug("unregister for unknown handle", "handle", h.Key())
		return
	}
	delete(r.byHandle, h.Key())
	delete(r.byIdentity, identity)
	r.mu.Unlock()

	presence := models.Presence{
		Identity: identity,
		Online:   false,
		LastSeen: r.now().Unix(),
	}
	r.statuses.Set(identity, presence)

	if err := r.store.UpsertPresence(identity, false, presence.LastSeen); err != nil {
		slog.Error("failed to persist offline presence", "identity", identity, "error", err)
	}

	r.router.Broadcast(models.EventUserStatus, presence)
	slog.Info("user disconnected", "identity", identity)
}

// Lookup returns the live handle bound to identity, if any.
func (r *Registry) Lookup(identity string) (rooms.Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byIdentity[identity]
	return h, ok
}

// Online reports whether identity currently has a live binding.
func (r *Registry) Online(identity string) bool {
	_, ok := r.Lookup(identity)
	return ok
}

// Statuses returns the known presence records for the given identities.
// Identities never seen are omitted, matching the pull-based status
// queries of the transport layer.
func (r *Registry) Statuses(identities []string) map[string]models.Presence {
	out := make(map[string]models.Presence, len(identities))
	for _, id := range identities {
		if p, err := r.statuses.Get(id); err == nil {
			out[id] = p
		}
	}
	return out
}
