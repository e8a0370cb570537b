package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPGate/service/storage"
	"PPGate/tools/errs"

	"go.uber.org/zap"
)

func TestHubRegistry(t *testing.T) {
	h := newHarness(t, newTestHooks(), nil)
	hub := NewHub(nil, zap.NewNop())
	if err := hub.Add(h.g); err != nil {
		t.Fatal(err)
	}
	if err := hub.Add(h.g); !errors.Is(err, errs.ErrArgs) {
		t.Fatalf("duplicate add: %v", err)
	}
	if g, ok := hub.Room("room1"); !ok || g != h.g {
		t.Fatal("room lookup")
	}
	if err := h.g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "removal", func() bool { return len(hub.Rooms()) == 0 })
}

func TestHubLocate(t *testing.T) {
	presence := storage.NewMemoryPresence()
	hooks := newTestHooks()
	hooks.reconn = time.Second
	h := newHarness(t, hooks, func(c *Config) { c.Presence = presence })
	hub := NewHub(presence, zap.NewNop())
	_ = hub.Add(h.g)

	if room, err := hub.Locate(context.Background(), "p1"); err != nil || room != "" {
		t.Fatalf("no window yet: %q %v", room, err)
	}
	s, conn := h.admit(t, "p1")
	h.g.HandleClose(s, conn, 1006)
	eventually(t, "pointer", func() bool {
		room, _ := hub.Locate(context.Background(), "p1")
		return room == "room1"
	})
}

func TestHubShutdown(t *testing.T) {
	a := newHarness(t, newTestHooks(), nil)
	b := newHarness(t, newTestHooks(), func(c *Config) { c.RoomID = "room2" })
	hub := NewHub(nil, nil)
	_ = hub.Add(a.g)
	_ = hub.Add(b.g)
	if got := hub.Rooms(); len(got) != 2 || got[0] != "room1" || got[1] != "room2" {
		t.Fatalf("rooms: %v", got)
	}
	if err := hub.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.g.Disposed() || !b.g.Disposed() {
		t.Fatal("rooms still alive")
	}
}
