package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// presenceContract 两种实现共用；advance 推进实现自己的时钟
func presenceContract(t *testing.T, p Presence, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := p.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := p.SetEx(ctx, SeatKey("lobby", "s1"), "s1", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := p.Get(ctx, SeatKey("lobby", "s1")); !ok || v != "s1" {
		t.Fatalf("get = %q %v", v, ok)
	}
	// 后写覆盖
	_ = p.SetEx(ctx, ReconnectKey("s1"), "lobby", time.Minute)
	_ = p.SetEx(ctx, ReconnectKey("s1"), "arena", time.Minute)
	if v, _, _ := p.Get(ctx, ReconnectKey("s1")); v != "arena" {
		t.Fatalf("last writer should win, got %q", v)
	}

	advance(2 * time.Second)
	if _, ok, _ := p.Get(ctx, SeatKey("lobby", "s1")); ok {
		t.Fatalf("seat survived its ttl")
	}
	if _, ok, _ := p.Get(ctx, ReconnectKey("s1")); !ok {
		t.Fatalf("longer ttl expired early")
	}
	if err := p.Del(ctx, ReconnectKey("s1")); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, ReconnectKey("s1")); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestMemoryPresence(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewMemoryPresence()
	p.now = func() time.Time { return now }
	presenceContract(t, p, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewRedisPresence(rdb, "test:")
	presenceContract(t, p, mr.FastForward)

	_ = p.SetEx(context.Background(), "k", "v", 0)
	if !mr.Exists("test:k") {
		t.Fatalf("prefix not applied")
	}
}

func TestKeys(t *testing.T) {
	if SeatKey("r", "s") != "gate:seat:r:s" || ReconnectKey("s") != "gate:reconnect:s" {
		t.Fatalf("key layout changed")
	}
}
