package fabric

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPGate/tools/errs"
)

func collect(t *testing.T, m *Memory, subject string) (func() []string, Subscription) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []string
	)
	sub, err := m.Subscribe(subject, func(ctx context.Context, msg Message) error {
		mu.Lock()
		got = append(got, msg.Subject+"="+string(msg.Data))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}, sub
}

func waitLen(t *testing.T, f func() []string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := f(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %v", n, f())
	return nil
}

func TestPublishOrderAndWildcards(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()

	exact, _ := collect(t, m, "gate.lobby")
	star, _ := collect(t, m, "gate.*")
	tail, _ := collect(t, m, "gate.>")

	ctx := context.Background()
	for _, s := range []string{"1", "2", "3"} {
		if err := m.Publish(ctx, "gate.lobby", []byte(s), nil); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.Publish(ctx, "gate.lobby.extra", []byte("x"), nil)

	got := waitLen(t, exact, 3)
	if got[0] != "gate.lobby=1" || got[2] != "gate.lobby=3" {
		t.Fatalf("exact order %v", got)
	}
	waitLen(t, star, 3)
	waitLen(t, tail, 4)
	time.Sleep(20 * time.Millisecond)
	if n := len(star()); n != 3 {
		t.Fatalf("* matched %d messages", n)
	}
}

func TestRequestReply(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()

	_, err := m.Subscribe(AreaSubject("a1"), func(ctx context.Context, msg Message) error {
		return msg.Respond(append([]byte("re:"), msg.Data...))
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := m.Request(ctx, AreaSubject("a1"), []byte("ping"), map[string]string{"k": "v"})
	if err != nil || string(reply.Data) != "re:ping" {
		t.Fatalf("reply %q %v", reply.Data, err)
	}
}

func TestRequestNoResponder(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()
	_, err := m.Request(context.Background(), AreaSubject("nobody"), nil, nil)
	if !errors.Is(err, errs.ErrFabricUnavailable) {
		t.Fatalf("expected FabricUnavailable, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()
	_, _ = m.Subscribe("area.slow", func(ctx context.Context, msg Message) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Request(ctx, "area.slow", nil, nil); !errors.Is(err, errs.ErrFabricUnavailable) {
		t.Fatalf("expected timeout as FabricUnavailable, got %v", err)
	}
}

func TestPublishHasNoReply(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()
	errCh := make(chan error, 1)
	_, _ = m.Subscribe("x", func(ctx context.Context, msg Message) error {
		errCh <- msg.Respond([]byte("nope"))
		return nil
	})
	_ = m.Publish(context.Background(), "x", nil, nil)
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("respond on publish should fail")
		}
	case <-time.After(time.Second):
		t.Fatalf("handler not called")
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	m := NewMemory(nil)
	got, sub := collect(t, m, "s")
	_ = sub.Unsubscribe()
	_ = m.Publish(context.Background(), "s", []byte("1"), nil)
	time.Sleep(10 * time.Millisecond)
	if len(got()) != 0 {
		t.Fatalf("delivered after unsubscribe")
	}
	_ = m.Close()
	if err := m.Publish(context.Background(), "s", nil, nil); !errors.Is(err, errs.ErrFabricUnavailable) {
		t.Fatalf("publish after close: %v", err)
	}
	if _, err := m.Subscribe("s", nil); err == nil {
		t.Fatalf("subscribe after close")
	}
}

func TestBadSubjects(t *testing.T) {
	m := NewMemory(nil)
	defer m.Close()
	for _, s := range []string{"", "a..b", "a.>.b", "has space"} {
		if _, err := m.Subscribe(s, func(context.Context, Message) error { return nil }); err == nil {
			t.Errorf("subscribe %q accepted", s)
		}
	}
	if err := m.Publish(context.Background(), "gate.*", nil, nil); err == nil {
		t.Errorf("publish to wildcard accepted")
	}
	if !ValidToken("lobby-1") || ValidToken("a.b") || ValidToken("") {
		t.Errorf("ValidToken")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(func(context.Context, Message) error { order = append(order, "h"); return nil }, mw("a"), mw("b"))
	_ = h(context.Background(), Message{})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "h" {
		t.Fatalf("order %v", order)
	}
}
