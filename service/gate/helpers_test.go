package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"PPGate/service/area"
	"PPGate/service/events"
	"PPGate/service/fabric"
	"PPGate/service/wire"

	"go.uber.org/zap"
)

// fakeConn 记录发给客户端的帧
type fakeConn struct {
	mu     sync.Mutex
	frames []*wire.Frame
	closed bool
	code   int
}

func (c *fakeConn) Send(data []byte) error {
	f, err := wire.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	if !c.closed {
		c.closed, c.code = true, code
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) all() []*wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.Frame(nil), c.frames...)
}

func (c *fakeConn) of(kind wire.Kind) []*wire.Frame {
	var out []*wire.Frame
	for _, f := range c.all() {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) closeCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.closed
}

// deltas 按到达顺序展开所有 STATE_UPDATES
func (c *fakeConn) deltas(t *testing.T) []wire.Delta {
	t.Helper()
	var out []wire.Delta
	for _, f := range c.of(wire.StateUpdates) {
		ds, err := f.Deltas(0)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, ds...)
	}
	return out
}

func (c *fakeConn) indexOf(kind wire.Kind) int {
	for i, f := range c.all() {
		if f.Kind == kind {
			return i
		}
	}
	return -1
}

// testHooks 可配置的房间逻辑，记录回调
type testHooks struct {
	listen   func(areaID string) bool
	unlisten bool
	write    bool
	join     bool
	reconn   time.Duration
	onMsg    func(r *Room, s *Session, msg any)

	mu           sync.Mutex
	messages     []any
	joined       []string
	left         map[string]bool
	added        []string
	removed      []string
	writeAdded   []string
	writeRemoved []string
	reconnects   map[string]*Reconnection
	reconnErr    error
	disposed     int
}

func newTestHooks() *testHooks {
	return &testHooks{
		join:       true,
		left:       make(map[string]bool),
		reconnects: make(map[string]*Reconnection),
	}
}

func (h *testHooks) OnMessage(r *Room, s *Session, msg any) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	if h.onMsg != nil {
		h.onMsg(r, s, msg)
	}
}

func (h *testHooks) RequestJoin(map[string]any, bool) bool { return h.join }

func (h *testHooks) OnJoin(r *Room, s *Session, _ map[string]any) {
	h.mu.Lock()
	h.joined = append(h.joined, s.ID())
	h.mu.Unlock()
}

func (h *testHooks) OnLeave(r *Room, s *Session, consented bool) {
	var (
		rc  *Reconnection
		err error
	)
	if h.reconn > 0 && !consented {
		rc, err = r.AllowReconnection(s, h.reconn)
	}
	h.mu.Lock()
	h.left[s.ID()] = consented
	if rc != nil {
		h.reconnects[s.ID()] = rc
	}
	h.reconnErr = err
	h.mu.Unlock()
}

func (h *testHooks) OnDispose(*Room) error {
	h.mu.Lock()
	h.disposed++
	h.mu.Unlock()
	return nil
}

func (h *testHooks) RequestListen(_ *Session, areaID string, _ map[string]any) bool {
	return h.listen != nil && h.listen(areaID)
}

func (h *testHooks) RequestUnlisten(*Session, string, map[string]any) bool { return h.unlisten }

func (h *testHooks) RequestWrite(*Session, string, map[string]any) bool { return h.write }

func (h *testHooks) OnAddedListen(_ *Room, s *Session, areaID string, _ map[string]any) {
	h.mu.Lock()
	h.added = append(h.added, s.ID()+"@"+areaID)
	h.mu.Unlock()
}

func (h *testHooks) OnRemovedListen(_ *Room, s *Session, areaID string, _ map[string]any) {
	h.mu.Lock()
	h.removed = append(h.removed, s.ID()+"@"+areaID)
	h.mu.Unlock()
}

func (h *testHooks) OnAddedWrite(_ *Room, s *Session, areaID string) {
	h.mu.Lock()
	h.writeAdded = append(h.writeAdded, s.ID()+"@"+areaID)
	h.mu.Unlock()
}

func (h *testHooks) OnRemovedWrite(_ *Room, s *Session, areaID string) {
	h.mu.Lock()
	h.writeRemoved = append(h.writeRemoved, s.ID()+"@"+areaID)
	h.mu.Unlock()
}

func (h *testHooks) reconnection(id string) *Reconnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnects[id]
}

func allowAll(string) bool { return true }

// minimalHooks 只实现 OnMessage，策略全部走默认值
type minimalHooks struct{}

func (minimalHooks) OnMessage(*Room, *Session, any) {}

type harness struct {
	g   *Gateway
	fab *fabric.Memory
	ev  *events.Memory
}

func newHarness(t *testing.T, hooks Hooks, tweak func(*Config)) *harness {
	t.Helper()
	fab := fabric.NewMemory(zap.NewNop())
	ev := events.NewMemory()
	cfg := Config{
		RoomID:        "room1",
		Fabric:        fab,
		Events:        ev,
		Logger:        zap.NewNop(),
		FabricTimeout: time.Second,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	g, err := New(cfg, hooks)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
		_ = fab.Close()
	})
	return &harness{g: g, fab: fab, ev: ev}
}

func (h *harness) admit(t *testing.T, sessionID string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := h.g.Admit(conn, JoinRequest{SessionID: sessionID})
	if err != nil {
		t.Fatalf("admit %q: %v", sessionID, err)
	}
	return s, conn
}

// clientSend 模拟客户端发帧
func (h *harness) clientSend(s *Session, conn Conn, kind wire.Kind, args ...any) {
	h.g.HandleMessage(s, conn, wire.MustEncode(kind, args...))
}

// areaHooks shard 侧的模拟逻辑
type areaHooks struct {
	mu       sync.Mutex
	messages []any
}

func (a *areaHooks) OnMessage(_ *area.Area, _ area.Client, message any) {
	a.mu.Lock()
	a.messages = append(a.messages, message)
	a.mu.Unlock()
}

func (a *areaHooks) OnListen(*area.Area, area.Client, map[string]any) (map[string]any, error) {
	return map[string]any{"spawn": "north"}, nil
}

func (a *areaHooks) received() []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]any(nil), a.messages...)
}

func (h *harness) area(t *testing.T, id string) (*area.Area, *areaHooks) {
	t.Helper()
	hooks := &areaHooks{}
	a, err := area.New(area.Config{AreaID: id, Fabric: h.fab, Logger: zap.NewNop()}, hooks)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, hooks
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func members(t *testing.T, a *area.Area) []string {
	t.Helper()
	cs, err := a.Members()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.SessionID)
	}
	return out
}
