package gate

import (
	"net/http"
	"strconv"
	"time"

	"PPGate/middleware"
	"PPGate/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterAdmin 管理接口，token 为空时不校验
//
//	GET  /rooms
//	GET  /rooms/:room
//	POST /rooms/:room/lock | unlock | shutdown
//	POST /rooms/:room/reserve?sessionId=&ttlMs=
func (h *Hub) RegisterAdmin(r gin.IRoutes, token string) {
	opt := middleware.RouteOpt{Token: token}
	middleware.GET(r, "/rooms", h.listRooms, opt)
	middleware.GET(r, "/rooms/:room", h.withRoom(h.roomStats), opt)
	middleware.POST(r, "/rooms/:room/lock", h.withRoom(func(c *gin.Context, g *Gateway) {
		h.reply(c, g, g.Lock())
	}), opt)
	middleware.POST(r, "/rooms/:room/unlock", h.withRoom(func(c *gin.Context, g *Gateway) {
		h.reply(c, g, g.Unlock())
	}), opt)
	middleware.POST(r, "/rooms/:room/reserve", h.withRoom(h.reserve), opt)
	middleware.POST(r, "/rooms/:room/shutdown", h.withRoom(func(c *gin.Context, g *Gateway) {
		h.reply(c, g, g.Shutdown(c.Request.Context()))
	}), opt)
}

func (h *Hub) listRooms(c *gin.Context) {
	out := make(map[string]Stats)
	for _, id := range h.Rooms() {
		if g, ok := h.Room(id); ok {
			out[id] = g.Stats()
		}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Hub) withRoom(fn func(c *gin.Context, g *Gateway)) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, ok := h.Room(c.Param("room"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "room": c.Param("room")})
			return
		}
		fn(c, g)
	}
}

func (h *Hub) roomStats(c *gin.Context, g *Gateway) {
	c.JSON(http.StatusOK, g.Stats())
}

func (h *Hub) reserve(c *gin.Context, g *Gateway) {
	var ttl time.Duration
	if v := c.Query("ttlMs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad ttlMs"})
			return
		}
		ttl = time.Duration(n) * time.Millisecond
	}
	id, err := g.ReserveSeat(c.Query("sessionId"), ttl)
	if err != nil {
		h.reply(c, g, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": g.ID(), "sessionId": id})
}

func (h *Hub) reply(c *gin.Context, g *Gateway, err error) {
	if err == nil {
		c.JSON(http.StatusOK, g.Stats())
		return
	}
	h.log.Info("[admin] request failed", zap.String("room", g.ID()), zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(httpStatus(err), gin.H{"code": errs.Code(err), "error": err.Error()})
}

func httpStatus(err error) int {
	switch errs.Code(err) {
	case errs.ArgsError, errs.ProtocolViolation:
		return http.StatusBadRequest
	case errs.PolicyRejected, errs.WriterConflict:
		return http.StatusForbidden
	case errs.CapacityExceeded:
		return http.StatusConflict
	case errs.Disposed, errs.Disconnecting:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
