package registry

import (
	"errors"
	"sync"
	"testing"

	"okolitsa/internal/models"
	"okolitsa/internal/rooms"
)

type fakeStore struct {
	mu          sync.Mutex
	upserts     []models.Presence
	errToReturn error
}

func (s *fakeStore) UpsertPresence(identity string, online bool, lastSeen int64) error {
	if s.errToReturn != nil {
		return s.errToReturn
	}
	s.mu.Lock()
	s.upserts = append(s.upserts, models.Presence{Identity: identity, Online: online, LastSeen: lastSeen})
	s.mu.Unlock()
	return nil
}

type fakeReceiver struct {
	key    string
	mu     sync.Mutex
	events []models.Presence
}

func (r *fakeReceiver) Key() string { return r.key }

func (r *fakeReceiver) Deliver(event string, payload any) bool {
	if p, ok := payload.(models.Presence); ok {
		r.mu.Lock()
		r.events = append(r.events, p)
		r.mu.Unlock()
	}
	return true
}

func (r *fakeReceiver) last() (models.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return models.Presence{}, false
	}
	return r.events[len(r.events)-1], true
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	router := rooms.NewRouter()
	store := &fakeStore{}
	reg := New(router, store)

	observer := &fakeReceiver{key: "observer"}
	router.Join(rooms.Global, observer)

	conn := &fakeReceiver{key: "h1"}
	presence, err := reg.Register("alice", conn)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !presence.Online {
		t.Error("expected online presence")
	}

	if !reg.Online("alice") {
		t.Error("alice should be online")
	}
	if router.MemberCount(rooms.Personal("alice")) != 1 {
		t.Error("alice not joined to personal room")
	}

	// Observer saw the online transition.
	got, ok := observer.last()
	if !ok || !got.Online || got.Identity != "alice" {
		t.Errorf("observer missed online broadcast: %+v", got)
	}

	reg.Unregister(conn)
	if reg.Online("alice") {
		t.Error("alice should be offline")
	}
	got, _ = observer.last()
	if got.Online || got.Identity != "alice" {
		t.Errorf("observer missed offline broadcast: %+v", got)
	}

	// Both flips persisted.
	if len(store.upserts) != 2 || !store.upserts[0].Online || store.upserts[1].Online {
		t.Errorf("unexpected persisted flips: %+v", store.upserts)
	}
}

func TestRegistry_StoreErrorFailsRegister(t *testing.T) {
	router := rooms.NewRouter()
	store := &fakeStore{errToReturn: errors.New("disk full")}
	reg := New(router, store)

	conn := &fakeReceiver{key: "h1"}
	if _, err := reg.Register("alice", conn); err == nil {
		t.Fatal("expected error from Register")
	}
	if reg.Online("alice") {
		t.Error("failed register must not leave a binding")
	}
}

func TestRegistry_LastRegisterWins(t *testing.T) {
	router := rooms.NewRouter()
	reg := New(router, &fakeStore{})

	first := &fakeReceiver{key: "h1"}
	second := &fakeReceiver{key: "h2"}

	if _, err := reg.Register("alice", first); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("alice", second); err != nil {
		t.Fatal(err)
	}

	h, ok := reg.Lookup("alice")
	if !ok || h.Key() != "h2" {
		t.Fatalf("expected h2 bound, got %v", h)
	}

	// The superseded handle's disconnect must not flip alice offline.
	reg.Unregister(first)
	if !reg.Online("alice") {
		t.Error("superseded disconnect took alice offline")
	}

	reg.Unregister(second)
	if reg.Online("alice") {
		t.Error("alice should be offline after real disconnect")
	}
}

func TestRegistry_ReRegisterSameHandle(t *testing.T) {
	router := rooms.NewRouter()
	reg := New(router, &fakeStore{})

	conn := &fakeReceiver{key: "h1"}
	if _, err := reg.Register("alice", conn); err != nil {
		t.Fatal(err)
	}
	// Re-announce without an offline transition in between.
	if _, err := reg.Register("alice", conn); err != nil {
		t.Fatal(err)
	}

	if !reg.Online("alice") {
		t.Error("alice should still be online")
	}
	reg.Unregister(conn)
	if reg.Online("alice") {
		t.Error("alice should be offline")
	}
}

func TestRegistry_Statuses(t *testing.T) {
	router := rooms.NewRouter()
	reg := New(router, &fakeStore{})

	conn := &fakeReceiver{key: "h1"}
	if _, err := reg.Register("alice", conn); err != nil {
		t.Fatal(err)
	}
	reg.Unregister(conn)

	conn2 := &fakeReceiver{key: "h2"}
	if _, err := reg.Register("bob", conn2); err != nil {
		t.Fatal(err)
	}

	statuses := reg.Statuses([]string{"alice", "bob", "stranger"})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 known statuses, got %d", len(statuses))
	}
	if statuses["alice"].Online {
		t.Error("alice should be offline")
	}
	if !statuses["bob"].Online {
		t.Error("bob should be online")
	}
	if _, ok := statuses["stranger"]; ok {
		t.Error("never-seen identity must be omitted")
	}
}
