package main

import (
	"net"
	"net/http"
	"strconv"

	"PPGate/service/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// routeHandler GET /route/:room，返回一个承载该房间的网关节点
func routeHandler(b *registry.Balancer, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		inst, ok, err := b.Pick(c.Request.Context(), registry.MetaRooms, room)
		if err != nil {
			log.Warn("[route] list gateways", zap.String("room", room), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no gateway hosts this room", "room": room})
			return
		}
		host := net.JoinHostPort(inst.Address, strconv.Itoa(inst.Port))
		c.JSON(http.StatusOK, gin.H{
			"room": room,
			"node": inst.ID,
			"url":  "ws://" + host + "/connect/" + room,
		})
	}
}
