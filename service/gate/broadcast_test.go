package gate

import (
	"context"
	"testing"
	"time"

	"PPGate/service/area"
	"PPGate/service/fabric"
	"PPGate/service/natsx"
	"PPGate/service/wire"

	"go.uber.org/zap"
)

// 多个房间共用一个幂等存储，BroadcastAll 仍要到达每个房间
func TestBroadcastAllReachesEveryRoomWithIdem(t *testing.T) {
	fab := fabric.NewMemory(zap.NewNop())
	t.Cleanup(func() { _ = fab.Close() })
	store := natsx.NewMemIdem(time.Minute)

	var conns []*fakeConn
	for _, roomID := range []string{"roomA", "roomB"} {
		cfg := Config{
			RoomID:        roomID,
			Fabric:        fab,
			Logger:        zap.NewNop(),
			FabricTimeout: time.Second,
			Middlewares:   []fabric.Middleware{natsx.NatsxIdemMiddleware(store, time.Minute, "n1/"+roomID)},
		}
		g, err := New(cfg, newTestHooks())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
		conn := &fakeConn{}
		if _, err := g.Admit(conn, JoinRequest{SessionID: "p-" + roomID}); err != nil {
			t.Fatal(err)
		}
		conns = append(conns, conn)
	}

	a, err := area.New(area.Config{AreaID: "a1", Fabric: fab, Logger: zap.NewNop()}, &areaHooks{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if err := a.BroadcastAll("hello"); err != nil {
		t.Fatal(err)
	}

	for i, conn := range conns {
		conn := conn
		eventually(t, "broadcast delivery", func() bool { return len(conn.of(wire.AreaData)) == 1 })
		if got := conn.of(wire.AreaData)[0].Value(1); got != "hello" {
			t.Fatalf("room %d payload %v", i, got)
		}
	}
}

// 提交监听时的单独下发和周期下发共用节拍，不会出现两帧相同的 tick
func TestListenFlushAdvancesTick(t *testing.T) {
	hooks := newTestHooks()
	hooks.listen = allowAll
	h := newHarness(t, hooks, nil)
	a1, _ := h.area(t, "a1")
	a2, _ := h.area(t, "a2")
	a1.SetState([]byte("s1"))
	a2.SetState([]byte("s2"))
	s, conn := h.admit(t, "p1")
	for _, id := range []string{"a1", "a2"} {
		if ok, err := h.g.RequestListen(context.Background(), s.ID(), id, nil); !ok {
			t.Fatal(err)
		}
	}
	a1.Commit([]byte("s1'"), []byte("+1"))
	eventually(t, "queued", func() bool {
		snap, _ := h.g.Snapshot("p1")
		return snap.Pending == 1
	})
	if err := h.g.Flush(); err != nil {
		t.Fatal(err)
	}

	frames := conn.of(wire.StateUpdates)
	if len(frames) != 3 {
		t.Fatalf("state updates: %d", len(frames))
	}
	var last uint64
	for i, f := range frames {
		tick, err := f.Uint64(1)
		if err != nil {
			t.Fatal(err)
		}
		if i > 0 && tick <= last {
			t.Fatalf("tick did not advance: %d after %d", tick, last)
		}
		last = tick
	}
}
