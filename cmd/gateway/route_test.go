package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPGate/service/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestRouteHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.NewMemory()
	_ = reg.Register(context.Background(), registry.Instance{
		Service: registry.GatewayService, ID: "gw1", Address: "10.0.0.5", Port: 8080,
		Metadata: map[string]string{registry.MetaRooms: "lobby"},
	})
	r := gin.New()
	r.GET("/route/:room", routeHandler(registry.NewBalancer(reg, registry.GatewayService), zap.NewNop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/route/lobby", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["node"] != "gw1" || body["url"] != "ws://10.0.0.5:8080/connect/lobby" {
		t.Fatalf("body %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/route/arena", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown room: %d", w.Code)
	}
}
