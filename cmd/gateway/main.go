// Command gateway terminates client websockets for the configured rooms and
// relays membership and state between them and the area shards over NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPGate/global/config"
	"PPGate/logger"
	"PPGate/middleware"
	"PPGate/service/events"
	"PPGate/service/fabric"
	"PPGate/service/gate"
	"PPGate/service/kafka"
	"PPGate/service/mgo"
	"PPGate/service/nacos"
	"PPGate/service/natsx"
	"PPGate/service/registry"
	"PPGate/service/storage"
	"PPGate/service/storage/redis"
	"PPGate/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("config", "", "yaml config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("bad log level", zap.String("level", cfg.Log.Level))
	}
	ids.SetNodeID(cfg.NodeNum)
	log := logger.Named("gateway").With(zap.String("node", cfg.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) presence + 幂等表：redis 不可用时退回内存
	var (
		presence storage.Presence = storage.NewMemoryPresence()
		idem                      = natsx.NewMemIdem(cfg.IdemTTL())
	)
	if err := redis.InitRedis(cfg.RedisConfig()); err != nil {
		log.Warn("redis unavailable, presence stays in memory", zap.Error(err))
	} else {
		defer redis.CloseRedis()
		presence = storage.NewRedisPresence(redis.GetRedis(), cfg.Redis.Prefix)
		idem = natsx.NewRedisIdem(redis.GetRedis(), cfg.Redis.Prefix+"idem:")
	}

	// 2) 消息总线
	fab, err := natsx.NewNatsManager(cfg.NatsConfig(), logger.Named("natsx"))
	if err != nil {
		log.Error("connect nats", zap.Error(err))
		os.Exit(1)
	}
	defer fab.Close()

	// 3) 生命周期事件：日志，另按配置写 kafka 和 mongo
	sinks := []events.Sink{events.Log(logger.Named("events"))}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := kafka.NewEventSink(cfg.KafkaConfig(), logger.Named("kafka"))
		if err != nil {
			log.Warn("kafka sink disabled", zap.Error(err))
		} else {
			defer ks.Close()
			sinks = append(sinks, ks)
		}
	}
	if cfg.Mongo.URI != "" {
		cli, err := mgo.Connect(ctx, cfg.MongoConfig())
		if err != nil {
			log.Warn("mongo sink disabled", zap.Error(err))
		} else {
			defer cli.Disconnect(context.Background())
			ms := mgo.NewEventSink(cli, cfg.MongoConfig(), logger.Named("mgo"))
			// 后注册先执行：先把事件写完再断开
			defer ms.Close()
			sinks = append(sinks, ms)
		}
	}
	sink := events.Multi(sinks...)

	// 4) 房间
	hub := gate.NewHub(presence, logger.Named("hub"))
	for _, roomID := range cfg.Gate.Rooms {
		g, err := newRoom(cfg, roomID, fab, presence, sink, idem)
		if err != nil {
			log.Error("create room", zap.String("room", roomID), zap.Error(err))
			os.Exit(1)
		}
		_ = hub.Add(g)
		log.Info("room ready", zap.String("room", roomID))
	}

	// 5) 注册发现：配置了 nacos 时注册本节点并监听运行时配置
	var reg registry.Registry = registry.NewMemory()
	if len(cfg.Nacos.Addrs) > 0 {
		nr, err := nacos.NewRegistry(cfg.NacosConfig(), logger.Named("nacos"))
		if err != nil {
			log.Warn("nacos registry disabled", zap.Error(err))
		} else {
			reg = nr
		}
		if cfg.Nacos.DataID != "" {
			w, err := nacos.WatchConfig(cfg.NacosConfig(), cfg.Nacos.DataID, func(data string) { applyRuntime(hub, data, log) }, logger.Named("nacos"))
			if err != nil {
				log.Warn("nacos config watch disabled", zap.Error(err))
			} else {
				defer w.Close()
			}
		}
	}
	defer reg.Close()
	self, err := cfg.Instance(registry.GatewayService, cfg.Gate.HTTPAddr, registry.MetaRooms, cfg.Gate.Rooms)
	if err != nil {
		log.Error("build instance", zap.Error(err))
		os.Exit(1)
	}
	if err := reg.Register(ctx, self); err != nil {
		log.Warn("register gateway", zap.Error(err))
	}

	// 6) HTTP + WebSocket
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	middleware.Manager().Add(middleware.NodeHeader(cfg.NodeID))
	r.Use(middleware.Recovery(log), middleware.AccessLog(logger.Named("http")), middleware.Manager().Use())
	r.GET("/connect/:room", hub.HandleWS)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": cfg.NodeID, "rooms": hub.Rooms()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/route/:room", routeHandler(registry.NewBalancer(reg, registry.GatewayService), log))
	hub.RegisterAdmin(r.Group("/admin"), cfg.Gate.AdminToken)

	srv := &http.Server{Addr: cfg.Gate.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("[HTTP] listening", zap.String("addr", cfg.Gate.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 先摘除注册，再关房间，客户端收到 1001 后再停 HTTP
	if err := reg.Deregister(shutCtx, self); err != nil {
		log.Warn("deregister gateway", zap.Error(err))
	}
	if err := hub.Shutdown(shutCtx); err != nil {
		log.Warn("room shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}

func newRoom(cfg *config.AppConfig, roomID string, fab fabric.Fabric, presence storage.Presence,
	sink events.Sink, idem natsx.IdemStore) (*gate.Gateway, error) {
	rc := cfg.Gate.RoomConfig(roomID)
	rc.Fabric = fab
	rc.Presence = presence
	rc.Events = sink
	rc.Logger = logger.Named("gate")
	rc.Middlewares = []fabric.Middleware{natsx.NatsxIdemMiddleware(idem, cfg.IdemTTL(), cfg.NodeID+"/"+roomID)}
	return gate.New(rc, newLobbyHooks(cfg.Gate.Areas, cfg.Gate.ReconnectWindow(), logger.Named("lobby").With(zap.String("room", roomID))))
}

// applyRuntime 远端配置变更时只调整日志级别和下发间隔
func applyRuntime(hub *gate.Hub, data string, log *zap.Logger) {
	c, err := config.Parse([]byte(data))
	if err != nil {
		log.Warn("bad runtime config", zap.Error(err))
		return
	}
	if err := logger.SetLevel(c.Log.Level); err != nil {
		log.Warn("bad log level", zap.String("level", c.Log.Level))
	}
	for _, id := range hub.Rooms() {
		if g, ok := hub.Room(id); ok {
			_ = g.SetPatchInterval(c.Gate.RoomConfig(id).PatchInterval)
		}
	}
}
