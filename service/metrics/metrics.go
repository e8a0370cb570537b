// Package metrics holds the process-wide Prometheus collectors. They register
// on the default registry and are exposed by cmd/gateway and cmd/shard at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ppgate"

var (
	// ActiveSessions 每个房间当前在线的会话
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "gate", Name: "active_sessions",
		Help: "Sessions currently registered per room.",
	}, []string{"room"})

	// Reservations 座位预留（含重连窗口）
	Reservations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "gate", Name: "reservations",
		Help: "Live seat reservations per room, reconnection windows included.",
	}, []string{"room"})

	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gate", Name: "joins_total",
		Help: "Admission attempts by result.",
	}, []string{"result"})

	Handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gate", Name: "handshakes_total",
		Help: "Membership handshakes by operation and result.",
	}, []string{"op", "result"})

	StateFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gate", Name: "state_flushes_total",
		Help: "STATE_UPDATES frames sent to sessions.",
	})

	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gate", Name: "dropped_frames_total",
		Help: "Inbound frames dropped by reason.",
	}, []string{"reason"})

	RoomsDisposed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gate", Name: "rooms_disposed_total",
		Help: "Rooms disposed.",
	})

	AreaMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "area", Name: "members",
		Help: "Linked clients per area.",
	}, []string{"area"})

	AreaFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "area", Name: "fanout_total",
		Help: "Frames fanned out from an area by kind.",
	}, []string{"area", "kind"})
)

// ForgetRoom 房间销毁后删除带 room 标签的序列
func ForgetRoom(roomID string) {
	ActiveSessions.DeleteLabelValues(roomID)
	Reservations.DeleteLabelValues(roomID)
}
