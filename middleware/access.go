package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog 每个请求一行；websocket 升级的请求在连接结束时才记录
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			log.Warn("http", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Debug("http", fields...)
	}
}

// Recovery panic 转 500 并记录堆栈
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("http panic", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
		c.AbortWithStatus(500)
	})
}

// NodeHeader 在响应头里带上处理请求的节点，方便排查经 /route 转发后的落点
func NodeHeader(nodeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-PPGate-Node", nodeID)
	}
}
