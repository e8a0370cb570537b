// Package events carries room lifecycle notifications (join, leave, lock,
// dispose, ...) out of the gateway. Emit is called on the room loop and must
// not block.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	Join               Type = "join"
	Reconnect          Type = "reconnect"
	Leave              Type = "leave"
	Lock               Type = "lock"
	Unlock             Type = "unlock"
	ReservationExpired Type = "reservation_expired"
	Dispose            Type = "dispose"
)

type Event struct {
	Type      Type           `json:"type"`
	RoomID    string         `json:"room_id"`
	SessionID string         `json:"session_id,omitempty"`
	At        time.Time      `json:"at"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

type Sink interface {
	Emit(e Event)
}

type nop struct{}

func (nop) Emit(Event) {}

// Nop 丢弃所有事件
var Nop Sink = nop{}

// Memory 记录所有事件，测试里用来断言
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Emit(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Count 某类事件的条数
func (m *Memory) Count(t Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type logSink struct{ log *zap.Logger }

// Log 把事件写进 zap
func Log(log *zap.Logger) Sink { return logSink{log: log} }

func (s logSink) Emit(e Event) {
	s.log.Info("room event",
		zap.String("type", string(e.Type)),
		zap.String("room", e.RoomID),
		zap.String("session", e.SessionID),
		zap.Any("attrs", e.Attrs))
}

type multi []Sink

// Multi 依次投递给多个 sink
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
