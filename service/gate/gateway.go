// Package gate is the client-facing half of the system: a Gateway owns one
// room, admits WebSocket sessions into it, and brokers each session's
// listen/write membership in areas hosted by shards over the fabric. Queued
// area deltas are flushed to every session on a fixed patch interval.
//
// All room state lives on a single event loop. Public methods on Gateway
// either post to that loop or wait on it; hooks run on it.
package gate

import (
	"context"
	"sync/atomic"
	"time"

	"PPGate/service/events"
	"PPGate/service/fabric"
	"PPGate/service/metrics"
	"PPGate/service/storage"
	"PPGate/service/wire"
	"PPGate/tools/errs"
	"PPGate/tools/ids"
	"PPGate/tools/loop"
	"PPGate/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type JoinRequest struct {
	// SessionID 为空时分配新 id；非空时必须对应一个预留座位或重连窗口，
	// 否则按新会话处理
	SessionID string
	Options   map[string]any
}

type Gateway struct {
	cfg   Config
	id    string
	hooks Hooks
	fab   fabric.Fabric
	log   *zap.Logger
	loop  *loop.Loop
	// presence 单独一个有序队列，同一个 key 的写入和删除不会乱序
	presence *loop.Loop
	room     *Room
	subs     []fabric.Subscription
	done     chan struct{}

	disposedFlag atomic.Bool
	tickQueued   atomic.Bool

	// 以下字段只在事件循环上访问
	sessions         map[string]*Session
	reservations     map[string]*reservation
	locked           bool
	lockedExplicitly bool
	maxReached       bool
	disconnecting    bool
	disposed         bool
	disposeTimer     *time.Timer
	disposeGen       uint64
	patchInterval    time.Duration
	patchStop        chan struct{}
	clock            clock
}

// New 创建房间，订阅 gate.<room> 和 gates.broadcast，并启动事件循环。
// 房间一开始是空的，所以自动销毁计时立即开始。
func New(cfg Config, hooks Hooks) (*Gateway, error) {
	if !fabric.ValidToken(cfg.RoomID) {
		return nil, errs.ErrArgs.WrapMsg("invalid room id", "room", cfg.RoomID)
	}
	if cfg.Fabric == nil || hooks == nil {
		return nil, errs.ErrArgs.WrapMsg("fabric and hooks are required", "room", cfg.RoomID)
	}
	cfg.norm()
	log := cfg.Logger.With(zap.String("room", cfg.RoomID))
	g := &Gateway{
		cfg:          cfg,
		id:           cfg.RoomID,
		hooks:        hooks,
		fab:          cfg.Fabric,
		log:          log,
		loop:         loop.New(log),
		presence:     loop.New(log),
		done:         make(chan struct{}),
		sessions:     make(map[string]*Session),
		reservations: make(map[string]*reservation),
		clock:        newClock(time.Now),
	}
	g.room = &Room{g: g}
	g.loop.Start()
	g.presence.Start()

	handler := fabric.Chain(g.onFabric, cfg.Middlewares...)
	for _, subject := range []string{fabric.FrontSubject(g.id), fabric.BroadcastSubject} {
		sub, err := g.fab.Subscribe(subject, handler)
		if err != nil {
			g.unsubscribe()
			g.loop.Stop()
			g.presence.Stop()
			return nil, err
		}
		g.subs = append(g.subs, sub)
	}

	g.loop.Post(func() {
		g.setPatchInterval(cfg.PatchInterval)
		g.armAutoDispose(0)
	})
	return g, nil
}

func (g *Gateway) ID() string { return g.id }

// Room 回调里拿到的同一个句柄
func (g *Gateway) Room() *Room { return g.room }

// Done 房间销毁后关闭
func (g *Gateway) Done() <-chan struct{} { return g.done }

func (g *Gateway) Disposed() bool { return g.disposedFlag.Load() }

// Admit 接入一个连接。成功时已经发出 JOIN_ACK；失败时连接已按对应关闭码关闭。
func (g *Gateway) Admit(conn Conn, req JoinRequest) (*Session, error) {
	var (
		s   *Session
		err error
	)
	if cerr := g.loop.Call(func() { s, err = g.admit(conn, req) }); cerr != nil {
		g.refuse(conn, CloseShutdown, errs.ErrDisposed.WrapMsg("room disposed", "room", g.id))
		return nil, cerr
	}
	return s, err
}

// HandleMessage 投递客户端帧；conn 已不是会话当前连接时丢弃
func (g *Gateway) HandleMessage(s *Session, conn Conn, data []byte) {
	g.loop.Post(func() {
		if s.state != sessionActive || s.conn != conn {
			return
		}
		g.onClientFrame(s, data)
	})
}

// HandleClose 投递连接关闭
func (g *Gateway) HandleClose(s *Session, conn Conn, code int) {
	g.loop.Post(func() { g.leave(s, conn, code) })
}

// ReserveSeat 为即将接入的会话预留座位，ttl <= 0 时用 SeatReservation。
// 返回会话 id（sessionID 为空时分配）。
func (g *Gateway) ReserveSeat(sessionID string, ttl time.Duration) (string, error) {
	var err error
	if cerr := g.loop.Call(func() { sessionID, err = g.reserveSeat(sessionID, ttl) }); cerr != nil {
		return "", cerr
	}
	return sessionID, err
}

func (g *Gateway) HasReservation(sessionID string) bool {
	var ok bool
	_ = g.loop.Call(func() { _, ok = g.reservations[sessionID] })
	return ok
}

func (g *Gateway) Lock() error   { return g.loop.Call(func() { g.lock(true) }) }
func (g *Gateway) Unlock() error { return g.loop.Call(func() { g.unlock(true) }) }

func (g *Gateway) Locked() bool {
	var locked bool
	_ = g.loop.Call(func() { locked = g.locked })
	return locked
}

// Flush 立即下发一轮 STATE_UPDATES
func (g *Gateway) Flush() error {
	return g.loop.Call(g.broadcastPatch)
}

// SetPatchInterval 0 表示停止自动下发
func (g *Gateway) SetPatchInterval(d time.Duration) error {
	return g.loop.Call(func() { g.setPatchInterval(d) })
}

// Snapshot 在线会话或重连窗口内会话的视图
func (g *Gateway) Snapshot(sessionID string) (SessionSnapshot, bool) {
	var (
		snap SessionSnapshot
		ok   bool
	)
	_ = g.loop.Call(func() {
		if s := g.lookup(sessionID); s != nil {
			snap, ok = s.snapshot(), true
		}
	})
	return snap, ok
}

type Stats struct {
	Sessions         int  `json:"sessions"`
	Reservations     int  `json:"reservations"`
	Reconnections    int  `json:"reconnections"`
	Locked           bool `json:"locked"`
	LockedExplicitly bool `json:"lockedExplicitly"`
	Disposed         bool `json:"disposed"`
}

func (g *Gateway) Stats() Stats {
	st := Stats{Disposed: true}
	_ = g.loop.Call(func() {
		st = Stats{
			Sessions:         len(g.sessions),
			Reservations:     len(g.reservations),
			Locked:           g.locked,
			LockedExplicitly: g.lockedExplicitly,
			Disposed:         g.disposed,
		}
		for _, r := range g.reservations {
			if r.reconnect != nil {
				st.Reconnections++
			}
		}
	})
	return st
}

// Shutdown 以 1001 关闭所有连接，拒绝所有重连窗口，然后销毁房间
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.loop.Call(func() {
		if g.disposed {
			return
		}
		g.disconnecting = true
		for id, res := range g.reservations {
			g.dropReservation(id, res)
			if rc := res.reconnect; rc != nil {
				rc.settle(nil, errs.ErrDisconnecting.WrapMsg("room shutting down", "session", id))
				g.destroy(rc.session)
			}
		}
		for _, s := range g.sessionList() {
			conn := s.conn
			if conn != nil {
				_ = conn.Close(CloseShutdown, "room shutting down")
			}
			g.leave(s, conn, CloseShutdown)
		}
		g.dispose("shutdown")
	})
	if err != nil {
		return nil
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- 事件循环内 ----

func (g *Gateway) admit(conn Conn, req JoinRequest) (*Session, error) {
	if g.disposed || g.disconnecting {
		return nil, g.refuse(conn, CloseShutdown, errs.ErrDisposed.WrapMsg("room is closing", "room", g.id))
	}
	id := req.SessionID
	if id != "" && !fabric.ValidToken(id) {
		return nil, g.refuse(conn, CloseProtocol, errs.ErrProtocolViolation.WrapMsg("invalid session id"))
	}
	if _, dup := g.sessions[id]; dup {
		return nil, g.refuse(conn, ClosePolicy, errs.ErrPolicyRejected.WrapMsg("session already connected", "session", id))
	}
	res := g.reservations[id]
	if res == nil && (g.locked || g.full()) {
		return nil, g.refuse(conn, CloseCapacity, errs.ErrCapacityExceeded.WrapMsg("room is full or locked", "room", g.id))
	}
	var rc *Reconnection
	if res != nil {
		rc = res.reconnect
	}
	if !g.allowJoin(req.Options, rc == nil) {
		return nil, g.refuse(conn, ClosePolicy, errs.ErrPolicyRejected.WrapMsg("join rejected", "room", g.id))
	}

	var s *Session
	if rc != nil {
		s = rc.session
		s.conn = conn
		s.state = sessionActive
	} else {
		if id == "" {
			id = ids.SessionID()
		}
		s = newSession(id, conn, req.Options, time.Now())
	}
	if res != nil {
		g.dropReservation(s.id, res)
	}
	g.sessions[s.id] = s
	g.cancelAutoDispose()
	g.checkAutoLock()
	g.gauges()
	g.send(s, wire.JoinAck, s.id)

	if rc != nil {
		metrics.JoinsTotal.WithLabelValues("reconnected").Inc()
		rc.settle(s, nil)
		g.emit(events.Reconnect, s.id, nil)
		if h, ok := g.hooks.(ReconnectHandler); ok {
			g.callHook("OnReconnect", func() { h.OnReconnect(g.room, s) })
		}
	} else {
		metrics.JoinsTotal.WithLabelValues("joined").Inc()
		g.emit(events.Join, s.id, nil)
		if h, ok := g.hooks.(JoinHandler); ok {
			g.callHook("OnJoin", func() { h.OnJoin(g.room, s, req.Options) })
		}
	}
	return s, nil
}

// refuse 发 JOIN_ERROR 后关闭连接
func (g *Gateway) refuse(conn Conn, code int, err error) error {
	metrics.JoinsTotal.WithLabelValues("refused").Inc()
	if conn != nil {
		if b, eerr := wire.Encode(wire.JoinError, errs.Code(err), err.Error()); eerr == nil {
			_ = conn.Send(b)
		}
		_ = conn.Close(code, closeReason(err))
	}
	g.log.Debug("join refused", zap.Int("close", code), zap.Error(err))
	return err
}

func closeReason(err error) string {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return "refused"
}

// leave 从在线表移除会话。LeaveHandler 里开了重连窗口的会话保留成员关系，
// 否则立即解除所有 area。conn 非空时只处理当前连接。
func (g *Gateway) leave(s *Session, conn Conn, code int) {
	if s.state != sessionActive || (conn != nil && s.conn != conn) {
		return
	}
	if g.sessions[s.id] != s {
		return
	}
	delete(g.sessions, s.id)
	s.state = sessionLeaving
	s.conn = nil
	consented := code == CloseConsented

	if h, ok := g.hooks.(LeaveHandler); ok {
		g.callHook("OnLeave", func() { h.OnLeave(g.room, s, consented) })
	}
	res := g.reservations[s.id]
	reconnecting := res != nil && res.reconnect != nil && res.reconnect.session == s
	if !reconnecting {
		g.destroy(s)
	}
	g.emit(events.Leave, s.id, map[string]any{
		"consented":    consented,
		"code":         code,
		"reconnecting": reconnecting,
	})
	g.occupancyChanged()
}

// destroy 解除会话在所有 area 的成员关系
func (g *Gateway) destroy(s *Session) {
	if s.state == sessionDestroyed {
		return
	}
	s.state = sessionDestroyed
	for _, area := range s.Listens() {
		g.publishArea(area, wire.Unlink, s.id, nil)
	}
	s.listens = make(map[string]struct{})
	s.writeTarget = ""
	s.pending = nil
}

func (g *Gateway) reserveSeat(sessionID string, ttl time.Duration) (string, error) {
	if g.disposed || g.disconnecting {
		return "", errs.ErrDisposed.WrapMsg("room is closing", "room", g.id)
	}
	if ttl <= 0 {
		ttl = g.cfg.SeatReservation
	}
	if sessionID == "" {
		sessionID = ids.SessionID()
	} else if !fabric.ValidToken(sessionID) {
		return "", errs.ErrArgs.WrapMsg("invalid session id", "session", sessionID)
	}
	if _, ok := g.sessions[sessionID]; ok {
		return "", errs.ErrPolicyRejected.WrapMsg("session already connected", "session", sessionID)
	}
	if existing := g.reservations[sessionID]; existing != nil {
		if existing.reconnect != nil {
			return "", errs.ErrPolicyRejected.WrapMsg("session is reconnecting", "session", sessionID)
		}
		existing.timer.Stop()
		delete(g.reservations, sessionID)
	} else if g.locked || g.full() {
		return "", errs.ErrCapacityExceeded.WrapMsg("room is full or locked", "room", g.id)
	}

	res := &reservation{sessionID: sessionID, expiresAt: time.Now().Add(ttl)}
	res.timer = g.loop.AfterFunc(ttl, func() { g.expireReservation(res) })
	g.reservations[sessionID] = res
	g.presenceSet(storage.SeatKey(g.id, sessionID), sessionID, ttl)
	g.armAutoDispose(ttl)
	g.checkAutoLock()
	g.gauges()
	return sessionID, nil
}

// allowReconnection 只在 LeaveHandler 里有意义：会话已离线但还没解除成员关系
func (g *Gateway) allowReconnection(s *Session, timeout time.Duration) (*Reconnection, error) {
	if g.disposed || g.disconnecting {
		return nil, errs.ErrDisconnecting.WrapMsg("room is closing", "room", g.id)
	}
	if timeout <= 0 {
		return nil, errs.ErrArgs.WrapMsg("reconnection timeout must be positive")
	}
	if res := g.reservations[s.id]; res != nil && res.reconnect != nil && res.reconnect.session == s {
		return res.reconnect, nil
	}
	if s.state != sessionLeaving {
		return nil, errs.ErrUnknownSession.WrapMsg("session is not leaving", "session", s.id)
	}
	deadline := time.Now().Add(timeout)
	rc := newReconnection(s, deadline)
	res := &reservation{sessionID: s.id, expiresAt: deadline, reconnect: rc}
	res.timer = g.loop.AfterFunc(timeout, func() { g.expireReservation(res) })
	g.reservations[s.id] = res
	g.presenceSet(storage.SeatKey(g.id, s.id), s.id, timeout)
	g.presenceSet(storage.ReconnectKey(s.id), g.id, timeout)
	g.gauges()
	return rc, nil
}

func (g *Gateway) expireReservation(res *reservation) {
	if g.reservations[res.sessionID] != res {
		return
	}
	g.dropReservation(res.sessionID, res)
	if rc := res.reconnect; rc != nil {
		rc.settle(nil, errs.ErrReconnectionTimeout.WrapMsg("reconnection window expired", "session", res.sessionID))
		g.destroy(rc.session)
	}
	g.emit(events.ReservationExpired, res.sessionID, map[string]any{"reconnect": res.reconnect != nil})
	g.occupancyChanged()
}

// dropReservation 移除预留并清理 presence 记录
func (g *Gateway) dropReservation(id string, res *reservation) {
	res.timer.Stop()
	delete(g.reservations, id)
	g.presenceDel(storage.SeatKey(g.id, id))
	if res.reconnect != nil {
		g.presenceDel(storage.ReconnectKey(id))
	}
	g.gauges()
}

func (g *Gateway) occupancy() int { return len(g.sessions) + len(g.reservations) }

func (g *Gateway) full() bool {
	return g.cfg.MaxSessions > 0 && g.occupancy() >= g.cfg.MaxSessions
}

func (g *Gateway) checkAutoLock() {
	if !g.full() {
		return
	}
	g.maxReached = true
	if !g.locked {
		g.locked = true
		g.emit(events.Lock, "", map[string]any{"explicit": false})
	}
}

// occupancyChanged 会话或预留减少后：可能自动解锁，空房间开始销毁计时
func (g *Gateway) occupancyChanged() {
	if g.maxReached && !g.full() {
		g.maxReached = false
		if !g.lockedExplicitly {
			g.unlock(false)
		}
	}
	if g.occupancy() == 0 {
		g.armAutoDispose(0)
	}
}

func (g *Gateway) lock(explicit bool) {
	if explicit {
		g.lockedExplicitly = true
	}
	if g.locked {
		return
	}
	g.locked = true
	g.emit(events.Lock, "", map[string]any{"explicit": explicit})
}

func (g *Gateway) unlock(explicit bool) {
	if explicit {
		g.lockedExplicitly = false
	}
	if !g.locked {
		return
	}
	g.locked = false
	g.emit(events.Unlock, "", map[string]any{"explicit": explicit})
}

// armAutoDispose 空房间在 max(AutoDisposeTimeout, atLeast) 后销毁，
// 到期时仍不为空则不处理
func (g *Gateway) armAutoDispose(atLeast time.Duration) {
	d := g.cfg.AutoDisposeTimeout
	if d <= 0 || g.disposed {
		return
	}
	if atLeast > d {
		d = atLeast
	}
	g.cancelAutoDispose()
	gen := g.disposeGen
	g.disposeTimer = g.loop.AfterFunc(d, func() {
		if gen != g.disposeGen {
			return
		}
		g.disposeTimer = nil
		if g.occupancy() == 0 {
			g.dispose("empty")
		}
	})
}

func (g *Gateway) cancelAutoDispose() {
	g.disposeGen++
	if g.disposeTimer != nil {
		g.disposeTimer.Stop()
		g.disposeTimer = nil
	}
}

// dispose 只执行一次：停止计时器，拒绝剩余重连，调用 OnDispose，
// 退订消息总线，发出唯一的 dispose 事件，最后停止事件循环
func (g *Gateway) dispose(reason string) {
	if g.disposed {
		return
	}
	g.disposed = true
	g.disposedFlag.Store(true)
	g.stopPatchTicker()
	g.cancelAutoDispose()

	for id, res := range g.reservations {
		g.dropReservation(id, res)
		if rc := res.reconnect; rc != nil {
			rc.settle(nil, errs.ErrDisposed.WrapMsg("room disposed", "session", id))
			g.destroy(rc.session)
		}
	}
	for _, s := range g.sessionList() {
		if s.conn != nil {
			_ = s.conn.Close(CloseShutdown, "room disposed")
		}
		delete(g.sessions, s.id)
		g.destroy(s)
	}

	if h, ok := g.hooks.(DisposeHandler); ok {
		if err := safe.Call(func() error { return h.OnDispose(g.room) }); err != nil {
			g.log.Error("OnDispose failed", zap.Error(err))
		}
	}
	g.unsubscribe()
	g.emit(events.Dispose, "", map[string]any{"reason": reason})
	metrics.RoomsDisposed.Inc()
	metrics.ForgetRoom(g.id)
	g.log.Info("room disposed", zap.String("reason", reason))
	close(g.done)
	g.loop.Stop()
	// 排在前面的 presence 操作先执行完
	g.presence.Post(g.presence.Stop)
}

func (g *Gateway) unsubscribe() {
	for _, s := range g.subs {
		if err := s.Unsubscribe(); err != nil {
			g.log.Warn("unsubscribe", zap.Error(err))
		}
	}
	g.subs = nil
}

// lookup 在线会话，或重连窗口内的会话
func (g *Gateway) lookup(id string) *Session {
	if s, ok := g.sessions[id]; ok {
		return s
	}
	if res, ok := g.reservations[id]; ok && res.reconnect != nil {
		return res.reconnect.session
	}
	return nil
}

func (g *Gateway) sessionList() []*Session {
	out := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

// send 给在线会话发一帧；离线会话直接丢弃
func (g *Gateway) send(s *Session, kind wire.Kind, args ...any) {
	if s.conn == nil {
		return
	}
	b, err := wire.Encode(kind, args...)
	if err != nil {
		g.log.Error("encode client frame", zap.Stringer("kind", kind), zap.Error(err))
		return
	}
	g.sendRaw(s, b)
}

func (g *Gateway) sendRaw(s *Session, b []byte) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Send(b); err != nil {
		g.log.Debug("send to session", zap.String("session", s.id), zap.Error(err))
	}
}

func (g *Gateway) emit(t events.Type, sessionID string, attrs map[string]any) {
	g.cfg.Events.Emit(events.Event{Type: t, RoomID: g.id, SessionID: sessionID, At: time.Now(), Attrs: attrs})
}

func (g *Gateway) gauges() {
	metrics.ActiveSessions.WithLabelValues(g.id).Set(float64(len(g.sessions)))
	metrics.Reservations.WithLabelValues(g.id).Set(float64(len(g.reservations)))
}

// callHook 回调 panic 不影响后续的状态维护
func (g *Gateway) callHook(name string, fn func()) {
	if err := safe.Call(func() error { fn(); return nil }); err != nil {
		g.log.Error("hook panicked", zap.String("hook", name), zap.Error(err))
	}
}

// presence 读写不占用事件循环，按调用顺序在 g.presence 上执行
func (g *Gateway) presenceSet(key, value string, ttl time.Duration) {
	p, timeout := g.cfg.Presence, g.cfg.FabricTimeout
	g.presence.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.SetEx(ctx, key, value, ttl); err != nil {
			g.log.Warn("presence set", zap.String("key", key), zap.Error(err))
		}
	})
}

func (g *Gateway) presenceDel(key string) {
	p, timeout := g.cfg.Presence, g.cfg.FabricTimeout
	g.presence.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Del(ctx, key); err != nil {
			g.log.Warn("presence del", zap.String("key", key), zap.Error(err))
		}
	})
}

func (g *Gateway) publishArea(area string, kind wire.Kind, args ...any) {
	g.publish(fabric.AreaSubject(area), kind, args...)
}

func (g *Gateway) publish(subject string, kind wire.Kind, args ...any) {
	b, err := wire.Encode(kind, args...)
	if err != nil {
		g.log.Error("encode fabric frame", zap.Stringer("kind", kind), zap.Error(err))
		return
	}
	if err := g.fab.Publish(context.Background(), subject, b, fabric.WithMsgID(nil)); err != nil {
		g.log.Warn("publish", zap.String("subject", subject), zap.Stringer("kind", kind), zap.Error(err))
	}
}
