package gate

import (
	"sort"
	"time"

	"PPGate/service/wire"
)

// Conn 是会话底下的传输连接。Send 不能阻塞事件循环；Close 可重复调用。
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

type sessionState int

const (
	sessionActive    sessionState = iota
	sessionLeaving                // 已断开，处于重连窗口
	sessionDestroyed              // 已从所有 area 解除
)

// pendingLink 一次进行中的 LINK。回复前到达的 STATE_PATCH 先缓存在这里，
// 提交时只保留 seq 大于快照的部分。
type pendingLink struct {
	buffered []wire.Delta
	waiters  []doneFunc
}

type doneFunc func(ok bool, err error)

// Session 是房间里的一个参与者。字段只在事件循环上读写，
// 所以只能在回调里使用。
type Session struct {
	id       string
	options  map[string]any
	conn     Conn
	state    sessionState
	joinedAt time.Time

	listens     map[string]struct{}
	writeTarget string
	writing     string // 进行中的 WRITE 目标
	links       map[string]*pendingLink
	pending     []wire.Delta

	// UserData 留给房间逻辑挂自己的数据
	UserData any
}

func newSession(id string, conn Conn, options map[string]any, now time.Time) *Session {
	return &Session{
		id:       id,
		options:  options,
		conn:     conn,
		joinedAt: now,
		listens:  make(map[string]struct{}),
		links:    make(map[string]*pendingLink),
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Options() map[string]any { return s.options }
func (s *Session) JoinedAt() time.Time     { return s.joinedAt }
func (s *Session) WriteTarget() string     { return s.writeTarget }
func (s *Session) PendingDeltas() int      { return len(s.pending) }

func (s *Session) Connected() bool { return s.state == sessionActive && s.conn != nil }

func (s *Session) IsListening(area string) bool {
	_, ok := s.listens[area]
	return ok
}

// Listens 有序的监听列表
func (s *Session) Listens() []string {
	out := make([]string, 0, len(s.listens))
	for a := range s.listens {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *Session) enqueue(d wire.Delta) {
	s.pending = append(s.pending, d)
}

// purge 去掉某个 area 尚未下发的 delta
func (s *Session) purge(area string) {
	kept := s.pending[:0]
	for _, d := range s.pending {
		if d.AreaID != area {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = wire.Delta{}
	}
	s.pending = kept
}

// SessionSnapshot 会话的只读视图，可以跨 goroutine 使用
type SessionSnapshot struct {
	ID           string
	Listens      []string
	WriteTarget  string
	Pending      int
	Connected    bool
	Reconnecting bool
}

func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:           s.id,
		Listens:      s.Listens(),
		WriteTarget:  s.writeTarget,
		Pending:      len(s.pending),
		Connected:    s.Connected(),
		Reconnecting: s.state == sessionLeaving,
	}
}
