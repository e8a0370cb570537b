package gate

import (
	"context"
	"sort"
	"sync"

	"PPGate/service/storage"
	"PPGate/tools/errs"

	"go.uber.org/zap"
)

// Hub 一个进程里的所有房间。房间销毁后自动移除。
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*Gateway
	presence storage.Presence
	log      *zap.Logger
}

func NewHub(presence storage.Presence, log *zap.Logger) *Hub {
	if presence == nil {
		presence = storage.NewMemoryPresence()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]*Gateway), presence: presence, log: log}
}

func (h *Hub) Add(g *Gateway) error {
	h.mu.Lock()
	if _, dup := h.rooms[g.ID()]; dup {
		h.mu.Unlock()
		return errs.ErrArgs.WrapMsg("room already registered", "room", g.ID())
	}
	h.rooms[g.ID()] = g
	h.mu.Unlock()

	go func() {
		<-g.Done()
		h.mu.Lock()
		if h.rooms[g.ID()] == g {
			delete(h.rooms, g.ID())
		}
		h.mu.Unlock()
		h.log.Debug("room removed from hub", zap.String("room", g.ID()))
	}()
	return nil
}

func (h *Hub) Room(id string) (*Gateway, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.rooms[id]
	return g, ok
}

// Rooms 有序的房间 id
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Locate 查询会话的重连指针，返回持有它的房间 id；没有窗口时返回空串
func (h *Hub) Locate(ctx context.Context, sessionID string) (string, error) {
	room, ok, err := h.presence.Get(ctx, storage.ReconnectKey(sessionID))
	if err != nil {
		return "", errs.WrapMsg(err, "locate session", "session", sessionID)
	}
	if !ok {
		return "", nil
	}
	return room, nil
}

// Shutdown 关闭所有房间，返回第一个错误
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	rooms := make([]*Gateway, 0, len(h.rooms))
	for _, g := range h.rooms {
		rooms = append(rooms, g)
	}
	h.mu.RUnlock()

	var first error
	for _, g := range rooms {
		if err := g.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
