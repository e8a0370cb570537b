package gate

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"PPGate/service/wire"
	"PPGate/tools/errs"
)

func TestListenDeliversSnapshotBeforeAck(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a1.SetState([]byte("s0"))

	s, conn := h.admit(t, "p1")
	h.clientSend(s, conn, wire.AddListen, "a1", map[string]any{"team": "red"})
	eventually(t, "ADD_LISTEN ack", func() bool { return len(conn.of(wire.AddListen)) == 1 })

	if su, ack := conn.indexOf(wire.StateUpdates), conn.indexOf(wire.AddListen); su < 0 || su > ack {
		t.Fatalf("snapshot must precede ack: updates at %d, ack at %d", su, ack)
	}
	ds := conn.deltas(t)
	if len(ds) != 1 || ds[0].Kind != wire.DeltaSet || string(ds[0].Data) != "s0" || ds[0].Seq != 1 {
		t.Fatalf("deltas: %+v", ds)
	}
	ack := conn.of(wire.AddListen)[0]
	opts, _ := ack.Map(1)
	if opts["team"] != "red" || opts["spawn"] != "north" {
		t.Fatalf("ack options should merge request and response: %v", opts)
	}
	if got := members(t, a1); !reflect.DeepEqual(got, []string{"p1"}) {
		t.Fatalf("area members: %v", got)
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if !reflect.DeepEqual(hooks.added, []string{"p1@a1"}) {
		t.Fatalf("OnAddedListen: %v", hooks.added)
	}
}

func TestListenWithoutStateSendsNoSnapshot(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	h.area(t, "a1")
	s, conn := h.admit(t, "p1")

	ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil)
	if !ok || err != nil {
		t.Fatalf("listen: %v %v", ok, err)
	}
	if len(conn.of(wire.StateUpdates)) != 0 {
		t.Fatal("empty area must not produce a SET")
	}
}

func TestListenPolicy(t *testing.T) {
	t.Run("default rejects", func(t *testing.T) {
		h := newHarness(t, minimalHooks{}, nil)
		a1, _ := h.area(t, "a1")
		s, _ := h.admit(t, "p1")
		ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil)
		if ok || !errors.Is(err, errs.ErrPolicyRejected) {
			t.Fatalf("want policy rejection, got %v %v", ok, err)
		}
		if got := members(t, a1); len(got) != 0 {
			t.Fatalf("shard was contacted: %v", got)
		}
	})
	t.Run("unknown session", func(t *testing.T) {
		h := newHarness(t, minimalHooks{}, nil)
		if _, err := h.g.RequestListen(context.Background(), "ghost", "a1", nil); !errors.Is(err, errs.ErrUnknownSession) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("no shard", func(t *testing.T) {
		hooks := newTestHooks()
		hooks.listen = allowAll
		h := newHarness(t, hooks, nil)
		s, _ := h.admit(t, "p1")
		ok, err := h.g.RequestListen(context.Background(), s.ID(), "nowhere", nil)
		if ok || err == nil {
			t.Fatal("listen to a missing shard must fail")
		}
		if snap, _ := h.g.Snapshot(s.ID()); len(snap.Listens) != 0 {
			t.Fatalf("listens: %v", snap.Listens)
		}
	})
}

func TestPatchesFlowAfterListen(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a1.SetState([]byte("s0"))
	s, conn := h.admit(t, "p1")
	if ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}

	a1.Commit([]byte("s1"), []byte("+1"))
	eventually(t, "patch", func() bool {
		_ = h.g.Flush()
		return len(conn.deltas(t)) == 2
	})
	ds := conn.deltas(t)
	if ds[1].Kind != wire.DeltaPatch || string(ds[1].Data) != "+1" || ds[1].Seq != 2 {
		t.Fatalf("patch: %+v", ds[1])
	}
	last := conn.of(wire.StateUpdates)
	if tick, err := last[len(last)-1].Uint64(1); err != nil || tick == 0 {
		t.Fatalf("tick: %d %v", tick, err)
	}
}

func TestSetPrecedesPatchesUnderConcurrentCommits(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a1.SetState([]byte("base"))
	s, conn := h.admit(t, "p1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			a1.Commit([]byte("full"), []byte{byte(i)})
		}
	}()
	if ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}
	wg.Wait()
	eventually(t, "all patches", func() bool {
		_ = h.g.Flush()
		ds := conn.deltas(t)
		return len(ds) > 0 && ds[len(ds)-1].Seq == 51
	})

	ds := conn.deltas(t)
	if ds[0].Kind != wire.DeltaSet {
		t.Fatalf("first delta must be SET: %+v", ds[0])
	}
	for i := 1; i < len(ds); i++ {
		if ds[i].Kind != wire.DeltaPatch || ds[i].Seq != ds[i-1].Seq+1 {
			t.Fatalf("delta %d out of order: %+v after %+v", i, ds[i], ds[i-1])
		}
	}
}

func TestWriteImpliesListen(t *testing.T) {
	hooks := newTestHooks()
	hooks.write = true
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	s, conn := h.admit(t, "p1")

	ok, err := h.g.RequestWrite(context.Background(), s.ID(), "a1", nil)
	if !ok || err != nil {
		t.Fatalf("write: %v %v", ok, err)
	}
	snap, _ := h.g.Snapshot(s.ID())
	if snap.WriteTarget != "a1" || !reflect.DeepEqual(snap.Listens, []string{"a1"}) {
		t.Fatalf("snapshot: %+v", snap)
	}
	if w, _ := a1.Writer(); w != "p1" {
		t.Fatalf("area writer %q", w)
	}
	if l, w := conn.indexOf(wire.AddListen), conn.indexOf(wire.ChangeWrite); l < 0 || w < l {
		t.Fatalf("ack order: listen %d write %d", l, w)
	}
}

func TestWriterConflictRollsBackImplicitListen(t *testing.T) {
	hooks := newTestHooks()
	hooks.write = true
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	first, _ := h.admit(t, "p1")
	second, conn := h.admit(t, "p2")

	if ok, err := h.g.RequestWrite(context.Background(), first.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}
	ok, err := h.g.RequestWrite(context.Background(), second.ID(), "a1", nil)
	if ok || !errors.Is(err, errs.ErrWriterConflict) || !errors.Is(err, errs.ErrPolicyRejected) {
		t.Fatalf("want writer conflict, got %v %v", ok, err)
	}
	snap, _ := h.g.Snapshot(second.ID())
	if len(snap.Listens) != 0 || snap.WriteTarget != "" {
		t.Fatalf("implicit listen not rolled back: %+v", snap)
	}
	eventually(t, "shard unlink", func() bool { return reflect.DeepEqual(members(t, a1), []string{"p1"}) })
	if conn.indexOf(wire.RemoveListen) < conn.indexOf(wire.AddListen) {
		t.Fatal("rollback should notify the client")
	}
}

func TestChangeWriteReleasesOldTarget(t *testing.T) {
	hooks := newTestHooks()
	hooks.write = true
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a2, _ := h.area(t, "a2")
	s, _ := h.admit(t, "p1")

	for _, target := range []string{"a1", "a2"} {
		if ok, err := h.g.RequestWrite(context.Background(), s.ID(), target, nil); !ok {
			t.Fatal(err)
		}
	}
	eventually(t, "old writer released", func() bool { _, has := a1.Writer(); return !has })
	if w, _ := a2.Writer(); w != "p1" {
		t.Fatalf("a2 writer %q", w)
	}
	snap, _ := h.g.Snapshot(s.ID())
	if snap.WriteTarget != "a2" || !reflect.DeepEqual(snap.Listens, []string{"a1", "a2"}) {
		t.Fatalf("snapshot: %+v", snap)
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if !reflect.DeepEqual(hooks.writeRemoved, []string{"p1@a1"}) {
		t.Fatalf("OnRemovedWrite: %v", hooks.writeRemoved)
	}
}

func TestAreaDataGoesToWriteTarget(t *testing.T) {
	hooks := newTestHooks()
	hooks.write = true
	h := newHarness(t, hooks, nil)
	_, ah := h.area(t, "a1")
	s, conn := h.admit(t, "p1")

	h.clientSend(s, conn, wire.AreaData, "dropped")
	if ok, err := h.g.RequestWrite(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}
	h.clientSend(s, conn, wire.AreaData, "move")
	eventually(t, "area data", func() bool { return len(ah.received()) == 1 })
	if got := ah.received(); got[0] != "move" {
		t.Fatalf("area got %v", got)
	}
}

func TestUnlistenPurgesQueueAndWrite(t *testing.T) {
	hooks := newTestHooks()
	hooks.write = true
	hooks.unlisten = true
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	s, conn := h.admit(t, "p1")

	if ok, err := h.g.RequestWrite(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}
	a1.Commit([]byte("s1"), []byte("+1"))
	eventually(t, "queued patch", func() bool {
		snap, _ := h.g.Snapshot(s.ID())
		return snap.Pending == 1
	})

	ok, err := h.g.RequestUnlisten(context.Background(), s.ID(), "a1", nil)
	if !ok || err != nil {
		t.Fatalf("unlisten: %v %v", ok, err)
	}
	snap, _ := h.g.Snapshot(s.ID())
	if len(snap.Listens) != 0 || snap.WriteTarget != "" || snap.Pending != 0 {
		t.Fatalf("snapshot: %+v", snap)
	}
	eventually(t, "shard unlink", func() bool { return len(members(t, a1)) == 0 })
	if len(conn.of(wire.RemoveListen)) != 1 {
		t.Fatal("REMOVE_LISTEN ack missing")
	}

	if _, err := h.g.RequestUnlisten(context.Background(), s.ID(), "a1", nil); !errors.Is(err, errs.ErrUnknownArea) {
		t.Fatalf("second unlisten: %v", err)
	}
}

func TestUnlistenPolicyDefaultRejects(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	h.area(t, "a1")
	s, _ := h.admit(t, "p1")
	if ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}
	if _, err := h.g.RequestUnlisten(context.Background(), s.ID(), "a1", nil); !errors.Is(err, errs.ErrPolicyRejected) {
		t.Fatalf("got %v", err)
	}
}

func TestShardInitiatedMembership(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = func(areaID string) bool { return areaID == "a1" }
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a2, _ := h.area(t, "a2")
	s, _ := h.admit(t, "p1")
	if ok, err := h.g.RequestListen(context.Background(), s.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}

	snapshot := func() SessionSnapshot {
		snap, _ := h.g.Snapshot(s.ID())
		return snap
	}

	// a2 不在 listen 策略允许范围内，shard 发起的不受策略限制
	a1.AddClientToArea(s.ID(), "a2", nil)
	eventually(t, "listen a2", func() bool { return reflect.DeepEqual(snapshot().Listens, []string{"a1", "a2"}) })

	a2.SetClientWrite(s.ID(), nil)
	eventually(t, "write a2", func() bool { return snapshot().WriteTarget == "a2" })
	if w, _ := a2.Writer(); w != "p1" {
		t.Fatalf("a2 writer %q", w)
	}

	a2.ReleaseWriter(s.ID(), nil)
	eventually(t, "released", func() bool { return snapshot().WriteTarget == "" })

	a1.RemoveClientListener(s.ID(), nil)
	eventually(t, "unlisten a1", func() bool { return reflect.DeepEqual(snapshot().Listens, []string{"a2"}) })
	eventually(t, "a1 empty", func() bool { return len(members(t, a1)) == 0 })
}

func TestAreaBroadcasts(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	listener, connL := h.admit(t, "p1")
	_, connO := h.admit(t, "p2")
	if ok, err := h.g.RequestListen(context.Background(), listener.ID(), "a1", nil); !ok {
		t.Fatal(err)
	}

	if err := a1.BroadcastListeners("to-listeners"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "listener data", func() bool { return len(connL.of(wire.AreaData)) == 1 })
	if len(connO.of(wire.AreaData)) != 0 {
		t.Fatal("non-listener got listener broadcast")
	}
	f := connL.of(wire.AreaData)[0]
	if area, _ := f.String(0); area != "a1" || f.Value(1) != "to-listeners" {
		t.Fatalf("frame: %+v", f)
	}

	if err := a1.BroadcastAll("to-all"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "everyone", func() bool { return len(connO.of(wire.AreaData)) == 1 && len(connL.of(wire.AreaData)) == 2 })
}

func TestLeaveUnlinksEverywhere(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a2, _ := h.area(t, "a2")
	s, conn := h.admit(t, "p1")
	for _, id := range []string{"a1", "a2"} {
		if ok, err := h.g.RequestListen(context.Background(), s.ID(), id, nil); !ok {
			t.Fatal(err)
		}
	}
	h.g.HandleClose(s, conn, 1006)
	eventually(t, "unlinked", func() bool { return len(members(t, a1)) == 0 && len(members(t, a2)) == 0 })
}
