package gate

import (
	"time"

	"PPGate/logger"
	"PPGate/service/events"
	"PPGate/service/fabric"
	"PPGate/service/storage"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 关闭码
const (
	CloseConsented = 4000                           // 客户端主动离开
	CloseShutdown  = websocket.CloseGoingAway       // 1001 房间关闭
	CloseProtocol  = websocket.CloseProtocolError   // 1002 未知帧
	ClosePolicy    = websocket.ClosePolicyViolation // 1008 策略拒绝
	CloseCapacity  = websocket.CloseTryAgainLater   // 1013 满员或锁定
)

const (
	DefaultPatchInterval   = 50 * time.Millisecond
	DefaultSeatReservation = 3 * time.Second
	DefaultFabricTimeout   = 3 * time.Second
)

type Config struct {
	RoomID string
	// MaxSessions 0 表示不限
	MaxSessions int
	// PatchInterval 0 表示不自动下发，只能 Flush
	PatchInterval time.Duration
	// AutoDisposeTimeout 房间空置多久后销毁，0 表示不自动销毁
	AutoDisposeTimeout time.Duration
	SeatReservation    time.Duration
	FabricTimeout      time.Duration

	Fabric   fabric.Fabric
	Presence storage.Presence
	Events   events.Sink
	// Middlewares 作用于 gate.<room> 和 gates.broadcast 订阅
	Middlewares []fabric.Middleware
	Logger      *zap.Logger
}

// DefaultConfig 带默认下发间隔的配置
func DefaultConfig(roomID string, fab fabric.Fabric) Config {
	return Config{
		RoomID:          roomID,
		PatchInterval:   DefaultPatchInterval,
		SeatReservation: DefaultSeatReservation,
		FabricTimeout:   DefaultFabricTimeout,
		Fabric:          fab,
	}
}

func (c *Config) norm() {
	if c.SeatReservation <= 0 {
		c.SeatReservation = DefaultSeatReservation
	}
	if c.FabricTimeout <= 0 {
		c.FabricTimeout = DefaultFabricTimeout
	}
	if c.PatchInterval < 0 {
		c.PatchInterval = 0
	}
	if c.Presence == nil {
		c.Presence = storage.NewMemoryPresence()
	}
	if c.Events == nil {
		c.Events = events.Nop
	}
	if c.Logger == nil {
		c.Logger = logger.Named("gate")
	}
}
