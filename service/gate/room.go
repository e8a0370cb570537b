package gate

import (
	"time"

	"PPGate/service/wire"
	"PPGate/tools/errs"
)

// Room 是回调拿到的房间句柄。它的方法直接操作房间状态，只能在回调里
// （也就是事件循环上）调用；在别的 goroutine 里用 Gateway 上的对应方法。
type Room struct {
	g *Gateway
}

func (r *Room) ID() string { return r.g.id }

func (r *Room) Lock()   { r.g.lock(true) }
func (r *Room) Unlock() { r.g.unlock(true) }

func (r *Room) Locked() bool { return r.g.locked }

// Sessions 当前在线会话，不含重连窗口内的会话
func (r *Room) Sessions() []*Session { return r.g.sessionList() }

func (r *Room) Session(id string) (*Session, bool) {
	s, ok := r.g.sessions[id]
	return s, ok
}

// AllowReconnection 在 OnLeave 里调用：保留会话及其 area 成员关系，
// 同一 session id 在 timeout 内重新接入即恢复
func (r *Room) AllowReconnection(s *Session, timeout time.Duration) (*Reconnection, error) {
	return r.g.allowReconnection(s, timeout)
}

// Send 发 ROOM_DATA 给一个会话
func (r *Room) Send(s *Session, message any) error {
	b, err := wire.Encode(wire.RoomData, message)
	if err != nil {
		return errs.ErrArgs.WrapMsg("payload not encodable", "err", err)
	}
	r.g.sendRaw(s, b)
	return nil
}

// Broadcast 发 ROOM_DATA 给所有在线会话，except 中的除外
func (r *Room) Broadcast(message any, except ...*Session) error {
	b, err := wire.Encode(wire.RoomData, message)
	if err != nil {
		return errs.ErrArgs.WrapMsg("payload not encodable", "err", err)
	}
	for _, s := range r.g.sessions {
		if !contains(except, s) {
			r.g.sendRaw(s, b)
		}
	}
	return nil
}

// Disconnect 以 code 关闭会话的连接并走离开流程
func (r *Room) Disconnect(s *Session, code int) {
	conn := s.conn
	if conn != nil {
		_ = conn.Close(code, "")
	}
	r.g.leave(s, conn, code)
}

// Listen 由房间逻辑发起监听，不经过 ListenRequester；done 可以为 nil
func (r *Room) Listen(s *Session, areaID string, options map[string]any, done func(ok bool, err error)) {
	if err := r.g.checkTarget(s, areaID); err != nil {
		callDone(done, false, err)
		return
	}
	r.g.addListen(s, areaID, options, func(ok bool, err error) { callDone(done, ok, err) })
}

// Write 由房间逻辑切换写目标，不经过 WriteRequester；done 可以为 nil
func (r *Room) Write(s *Session, areaID string, options map[string]any, done func(ok bool, err error)) {
	if err := r.g.checkTarget(s, areaID); err != nil {
		callDone(done, false, err)
		return
	}
	r.g.changeWrite(s, areaID, options, func(ok bool, err error) { callDone(done, ok, err) })
}

// Unlisten 由房间逻辑取消监听，不经过 UnlistenRequester
func (r *Room) Unlisten(s *Session, areaID string, options map[string]any) bool {
	if !s.IsListening(areaID) {
		return false
	}
	r.g.removeListen(s, areaID, options)
	return true
}

func (r *Room) SetPatchInterval(d time.Duration) { r.g.setPatchInterval(d) }

// Dispose 立即销毁房间，剩余连接以 1001 关闭
func (r *Room) Dispose() { r.g.dispose("requested") }

func callDone(done func(bool, error), ok bool, err error) {
	if done != nil {
		done(ok, err)
	}
}

func contains(list []*Session, s *Session) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
