package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func adminServer(t *testing.T, token string) (*gin.Engine, *harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newHarness(t, newTestHooks(), func(c *Config) { c.MaxSessions = 2 })
	hub := NewHub(nil, zap.NewNop())
	if err := hub.Add(h.g); err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	hub.RegisterAdmin(r, token)
	return r, h
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminRequiresToken(t *testing.T) {
	r, _ := adminServer(t, "s3cret")
	if w := do(r, http.MethodGet, "/rooms", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/rooms", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", w.Code)
	}
	w := do(r, http.MethodGet, "/rooms", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}
	var body struct {
		Rooms map[string]Stats `json:"rooms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body.Rooms["room1"]; !ok {
		t.Fatalf("rooms: %v", body.Rooms)
	}
}

func TestAdminLockAndReserve(t *testing.T) {
	r, h := adminServer(t, "")
	if w := do(r, http.MethodPost, "/rooms/room1/lock", ""); w.Code != http.StatusOK {
		t.Fatalf("lock: %d", w.Code)
	}
	if !h.g.Locked() {
		t.Fatal("room should be locked")
	}
	// 锁定时不能预留新座位
	if w := do(r, http.MethodPost, "/rooms/room1/reserve?sessionId=x1", ""); w.Code != http.StatusConflict {
		t.Fatalf("reserve while locked: %d %s", w.Code, w.Body)
	}
	if w := do(r, http.MethodPost, "/rooms/room1/unlock", ""); w.Code != http.StatusOK {
		t.Fatalf("unlock: %d", w.Code)
	}
	w := do(r, http.MethodPost, "/rooms/room1/reserve?sessionId=x1&ttlMs=1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reserve: %d %s", w.Code, w.Body)
	}
	if !h.g.HasReservation("x1") {
		t.Fatal("reservation missing")
	}
	if w := do(r, http.MethodPost, "/rooms/room1/reserve?ttlMs=abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad ttl: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/rooms/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown room: %d", w.Code)
	}
}

func TestAdminShutdown(t *testing.T) {
	r, h := adminServer(t, "")
	h.admit(t, "a")
	if w := do(r, http.MethodPost, "/rooms/room1/shutdown", ""); w.Code != http.StatusOK {
		t.Fatalf("shutdown: %d", w.Code)
	}
	if !h.g.Disposed() {
		t.Fatal("room should be disposed")
	}
}
