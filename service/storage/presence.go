package storage

import (
	"context"
	"sync"
	"time"
)

// Presence 跨实例共享的 key/value，带 TTL，后写覆盖先写。
// gateway 用它记录座位预留和重连指针。
type Presence interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Del(ctx context.Context, key string) error
}

// SeatKey 预留座位：gate:seat:<room>:<session> -> session
func SeatKey(roomID, sessionID string) string { return "gate:seat:" + roomID + ":" + sessionID }

// ReconnectKey 重连指针：gate:reconnect:<session> -> room
func ReconnectKey(sessionID string) string { return "gate:reconnect:" + sessionID }

type memEntry struct {
	value   string
	expires time.Time // 零值表示不过期
}

// MemoryPresence 单进程实现
type MemoryPresence struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{m: make(map[string]memEntry), now: time.Now}
}

func (p *MemoryPresence) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = e
	p.mu.Unlock()
	return nil
}

func (p *MemoryPresence) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !e.expires.After(p.now()) {
		delete(p.m, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (p *MemoryPresence) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}
