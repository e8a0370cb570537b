package gate

import (
	"net/http"
	"sync"
	"time"

	"PPGate/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

const (
	sendQueueSize  = 256
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var errSlowConsumer = errs.ErrProtocolViolation.WithDetail("send queue full")

// wsConn 一个写协程独占 WriteMessage；Close 先把队列里的帧写完再发关闭帧
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeMsg  string
}

func newWsConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closing:
		return errs.ErrDisposed.WithDetail("connection closing")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		// 慢连接直接断开，不拖住房间
		_ = c.Close(CloseCapacity, "send queue full")
		return errSlowConsumer
	}
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeMsg = code, reason
		close(c.closing)
	})
	return nil
}

func (c *wsConn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		case <-c.closing:
			for {
				select {
				case data := <-c.send:
					if err := c.write(data); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeMsg)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// HandleWS GET /connect/:room?sessionId=...，其余查询参数作为加入选项。
// sessionId 对应的重连窗口在别的房间时返回 409 并给出房间 id。
func (h *Hub) HandleWS(c *gin.Context) {
	roomID := c.Param("room")
	sessionID := c.Query("sessionId")
	if sessionID != "" {
		owner, err := h.Locate(c.Request.Context(), sessionID)
		if err != nil {
			h.log.Warn("[HandleWS] locate session", zap.String("session", sessionID), zap.Error(err))
		} else if owner != "" && owner != roomID {
			c.JSON(http.StatusConflict, gin.H{"error": "session belongs to another room", "room": owner})
			return
		}
	}
	g, ok := h.Room(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "room": roomID})
		return
	}

	options := make(map[string]any)
	for k, v := range c.Request.URL.Query() {
		if k != "sessionId" && len(v) > 0 {
			options[k] = v[0]
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		h.log.Info("[HandleWS] upgrade websocket", zap.Error(err))
		return
	}
	conn := newWsConn(ws)
	s, err := g.Admit(conn, JoinRequest{SessionID: sessionID, Options: options})
	if err != nil {
		h.log.Debug("[HandleWS] admit", zap.String("room", roomID), zap.Error(err))
		<-conn.done
		return
	}
	readLoop(g, s, conn, h.log)
}

// readLoop 只读不写，出错即退出
func readLoop(g *Gateway, s *Session, conn *wsConn, log *zap.Logger) {
	conn.ws.SetReadLimit(maxMessageSize)
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			} else {
				log.Debug("[WS] read err", zap.String("session", s.ID()), zap.Error(err))
			}
			g.HandleClose(s, conn, code)
			_ = conn.Close(code, "")
			<-conn.done
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		g.HandleMessage(s, conn, data)
	}
}
