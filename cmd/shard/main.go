// Command shard hosts the configured areas and serves them to gateways over
// NATS.
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
	"PPGate/service/area"
	"PPGate/service/nacos"
	"PPGate/service/natsx"
	"PPGate/service/registry"
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
	log := logger.Named("shard").With(zap.String("node", cfg.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fab, err := natsx.NewNatsManager(cfg.NatsConfig(), logger.Named("natsx"))
	if err != nil {
		log.Error("connect nats", zap.Error(err))
		os.Exit(1)
	}
	defer fab.Close()

	areas := make([]*area.Area, 0, len(cfg.Shard.Areas))
	for _, id := range cfg.Shard.Areas {
		alog := logger.Named("area")
		a, err := area.New(area.Config{AreaID: id, Fabric: fab, Logger: alog}, newWorldHooks(alog.With(zap.String("area", id))))
		if err != nil {
			log.Error("create area", zap.String("area", id), zap.Error(err))
			os.Exit(1)
		}
		areas = append(areas, a)
		log.Info("area ready", zap.String("area", id))
	}

	// 配置了 nacos 时注册本节点，元数据里带上承载的 area
	var reg registry.Registry = registry.NewMemory()
	if len(cfg.Nacos.Addrs) > 0 {
		if nr, err := nacos.NewRegistry(cfg.NacosConfig(), logger.Named("nacos")); err != nil {
			log.Warn("nacos registry disabled", zap.Error(err))
		} else {
			reg = nr
		}
	}
	defer reg.Close()
	self, err := cfg.Instance(registry.ShardService, cfg.Shard.HTTPAddr, registry.MetaAreas, cfg.Shard.Areas)
	if err != nil {
		log.Error("build instance", zap.Error(err))
		os.Exit(1)
	}
	if err := reg.Register(ctx, self); err != nil {
		log.Warn("register shard", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	middleware.Manager().Add(middleware.NodeHeader(cfg.NodeID))
	r.Use(middleware.Recovery(log), middleware.AccessLog(logger.Named("http")), middleware.Manager().Use())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": cfg.NodeID, "areas": cfg.Shard.Areas})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: cfg.Shard.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("[HTTP] listening", zap.String("addr", cfg.Shard.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := reg.Deregister(context.Background(), self); err != nil {
		log.Warn("deregister shard", zap.Error(err))
	}
	for _, a := range areas {
		if err := a.Close(); err != nil {
			log.Warn("close area", zap.String("area", a.ID()), zap.Error(err))
		}
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}
