package ids

import (
	"strconv"
	"sync"
	"testing"
)

func TestGeneratorUniqueConcurrent(t *testing.T) {
	g := NewGenerator(7)
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, n*4)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				id := g.Next()
				mu.Lock()
				if _, dup := seen[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %d", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestNodeOf(t *testing.T) {
	g := NewGenerator(513)
	if got := NodeOf(g.Next()); got != 513 {
		t.Fatalf("node = %d", got)
	}
	if NewGenerator(5000).nodeID != 1 {
		t.Fatalf("out of range node id must fall back to 1")
	}
}

func TestSessionID(t *testing.T) {
	a, b := SessionID(), SessionID()
	if a == b {
		t.Fatalf("session ids collide: %s", a)
	}
	if _, err := strconv.ParseInt(a, 36, 64); err != nil {
		t.Fatalf("not base36: %v", err)
	}
}
