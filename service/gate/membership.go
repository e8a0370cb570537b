package gate

import (
	"context"

	"PPGate/service/fabric"
	"PPGate/service/metrics"
	"PPGate/service/wire"
	"PPGate/tools/errs"

	"go.uber.org/zap"
)

// RequestListen 让会话监听一个 area：先过 ListenRequester，再向 shard 发 LINK。
// 成功时快照已经下发给会话。
func (g *Gateway) RequestListen(ctx context.Context, sessionID, areaID string, options map[string]any) (bool, error) {
	return g.await(ctx, func(done doneFunc) {
		s := g.lookup(sessionID)
		if s == nil {
			done(false, errs.ErrUnknownSession.WrapMsg("no such session", "session", sessionID))
			return
		}
		g.requestListen(s, areaID, options, done)
	})
}

// RequestWrite 把会话的写目标切到 area，未监听时先隐式监听
func (g *Gateway) RequestWrite(ctx context.Context, sessionID, areaID string, options map[string]any) (bool, error) {
	return g.await(ctx, func(done doneFunc) {
		s := g.lookup(sessionID)
		if s == nil {
			done(false, errs.ErrUnknownSession.WrapMsg("no such session", "session", sessionID))
			return
		}
		g.requestWrite(s, areaID, options, done)
	})
}

func (g *Gateway) RequestUnlisten(ctx context.Context, sessionID, areaID string, options map[string]any) (bool, error) {
	return g.await(ctx, func(done doneFunc) {
		s := g.lookup(sessionID)
		if s == nil {
			done(false, errs.ErrUnknownSession.WrapMsg("no such session", "session", sessionID))
			return
		}
		g.requestUnlisten(s, areaID, options, done)
	})
}

type handshakeResult struct {
	ok  bool
	err error
}

// await 在事件循环上启动握手，等待它的完成回调
func (g *Gateway) await(ctx context.Context, start func(done doneFunc)) (bool, error) {
	ch := make(chan handshakeResult, 1)
	done := func(ok bool, err error) { ch <- handshakeResult{ok, err} }
	if !g.loop.Post(func() { start(done) }) {
		return false, errs.ErrDisposed.WrapMsg("room disposed", "room", g.id)
	}
	select {
	case r := <-ch:
		return r.ok, r.err
	case <-g.done:
		return false, errs.ErrDisposed.WrapMsg("room disposed", "room", g.id)
	case <-ctx.Done():
		return false, errs.Wrap(ctx.Err())
	}
}

// checkTarget 握手前的公共检查
func (g *Gateway) checkTarget(s *Session, areaID string) error {
	if g.disposed || g.disconnecting {
		return errs.ErrDisposed.WrapMsg("room is closing", "room", g.id)
	}
	if s.state == sessionDestroyed {
		return errs.ErrUnknownSession.WrapMsg("session is gone", "session", s.id)
	}
	if !fabric.ValidToken(areaID) {
		return errs.ErrUnknownArea.WrapMsg("invalid area id", "area", areaID)
	}
	return nil
}

func (g *Gateway) requestListen(s *Session, areaID string, opts map[string]any, done doneFunc) {
	if err := g.checkTarget(s, areaID); err != nil {
		done(false, err)
		return
	}
	if !g.allowListen(s, areaID, opts) {
		metrics.Handshakes.WithLabelValues("listen", "rejected").Inc()
		done(false, errs.ErrPolicyRejected.WrapMsg("listen rejected", "session", s.id, "area", areaID))
		return
	}
	g.addListen(s, areaID, opts, done)
}

// addListen 不经过策略检查。已在监听时直接成功；同一 area 的 LINK 进行中时合并等待。
func (g *Gateway) addListen(s *Session, areaID string, opts map[string]any, done doneFunc) {
	if s.IsListening(areaID) {
		done(true, nil)
		return
	}
	if pl := s.links[areaID]; pl != nil {
		pl.waiters = append(pl.waiters, done)
		return
	}
	data, err := wire.Encode(wire.Link, s.id, g.id, opts)
	if err != nil {
		done(false, errs.ErrArgs.WrapMsg("listen options not encodable", "area", areaID))
		return
	}
	pl := &pendingLink{waiters: []doneFunc{done}}
	s.links[areaID] = pl
	g.roundTrip(areaID, data, func(reply *wire.Frame, err error) {
		g.commitListen(s, areaID, opts, pl, reply, err)
	})
}

func (g *Gateway) commitListen(s *Session, areaID string, opts map[string]any, pl *pendingLink, reply *wire.Frame, err error) {
	if s.links[areaID] == pl {
		delete(s.links, areaID)
	}
	finish := func(ok bool, err error) {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		metrics.Handshakes.WithLabelValues("listen", result).Inc()
		for _, w := range pl.waiters {
			w(ok, err)
		}
	}
	if err != nil {
		g.log.Debug("listen failed", zap.String("session", s.id), zap.String("area", areaID), zap.Error(err))
		finish(false, err)
		return
	}
	if s.state == sessionDestroyed || g.disposed {
		// shard 已经建了成员，撤回
		g.publishArea(areaID, wire.Unlink, s.id, nil)
		finish(false, errs.ErrUnknownSession.WrapMsg("session left during listen", "session", s.id))
		return
	}

	resp, _ := reply.Map(0)
	seq, _ := reply.Uint64(2)
	if reply.Value(1) != nil {
		snapshot, _ := reply.Bytes(1)
		s.enqueue(wire.Delta{Kind: wire.DeltaSet, AreaID: areaID, Seq: seq, Data: snapshot})
	}
	for _, d := range pl.buffered {
		if d.Seq > seq {
			s.enqueue(d)
		}
	}
	s.listens[areaID] = struct{}{}
	merged := mergeOptions(opts, resp)

	// 快照先于 ADD_LISTEN 确认到达客户端
	g.flushSession(s)
	if h, ok := g.hooks.(ListenHandler); ok {
		g.callHook("OnAddedListen", func() { h.OnAddedListen(g.room, s, areaID, merged) })
	}
	g.send(s, wire.AddListen, areaID, merged)
	finish(true, nil)
}

func (g *Gateway) requestWrite(s *Session, areaID string, opts map[string]any, done doneFunc) {
	if err := g.checkTarget(s, areaID); err != nil {
		done(false, err)
		return
	}
	if !g.allowWrite(s, areaID, opts) {
		metrics.Handshakes.WithLabelValues("write", "rejected").Inc()
		done(false, errs.ErrPolicyRejected.WrapMsg("write rejected", "session", s.id, "area", areaID))
		return
	}
	g.changeWrite(s, areaID, opts, done)
}

// changeWrite 不经过策略检查。未监听的 area 先隐式监听（不经过 ListenRequester），
// WRITE 失败时撤回这次隐式监听。
func (g *Gateway) changeWrite(s *Session, areaID string, opts map[string]any, done doneFunc) {
	if s.writeTarget == areaID {
		done(true, nil)
		return
	}
	if s.writing != "" {
		done(false, errs.ErrPolicyRejected.WrapMsg("write change in progress", "session", s.id, "area", s.writing))
		return
	}
	s.writing = areaID
	if s.IsListening(areaID) {
		g.sendWrite(s, areaID, opts, false, done)
		return
	}
	implicit := s.links[areaID] == nil
	g.addListen(s, areaID, opts, func(ok bool, err error) {
		if !ok {
			s.writing = ""
			metrics.Handshakes.WithLabelValues("write", "failed").Inc()
			done(false, err)
			return
		}
		g.sendWrite(s, areaID, opts, implicit, done)
	})
}

func (g *Gateway) sendWrite(s *Session, areaID string, opts map[string]any, implicit bool, done doneFunc) {
	data, err := wire.Encode(wire.Write, s.id, g.id, opts)
	if err != nil {
		s.writing = ""
		done(false, errs.ErrArgs.WrapMsg("write options not encodable", "area", areaID))
		return
	}
	g.roundTrip(areaID, data, func(_ *wire.Frame, err error) {
		s.writing = ""
		if err == nil && (s.state == sessionDestroyed || g.disposed) {
			err = errs.ErrUnknownSession.WrapMsg("session left during write", "session", s.id)
		} else if err == nil && !s.IsListening(areaID) {
			// 等待期间已取消监听
			g.publishArea(areaID, wire.ReleaseWrite, s.id, nil)
			err = errs.ErrUnknownArea.WrapMsg("listen removed during write", "area", areaID)
		}
		if err != nil {
			g.log.Debug("write failed", zap.String("session", s.id), zap.String("area", areaID), zap.Error(err))
			if implicit && s.IsListening(areaID) && s.state != sessionDestroyed {
				g.removeListen(s, areaID, nil)
			}
			metrics.Handshakes.WithLabelValues("write", "failed").Inc()
			done(false, err)
			return
		}

		old := s.writeTarget
		s.writeTarget = areaID
		if old != "" && old != areaID {
			g.publishArea(old, wire.ReleaseWrite, s.id, nil)
			g.removedWrite(s, old)
		}
		if h, ok := g.hooks.(WriteHandler); ok {
			g.callHook("OnAddedWrite", func() { h.OnAddedWrite(g.room, s, areaID) })
		}
		g.send(s, wire.ChangeWrite, areaID, opts)
		metrics.Handshakes.WithLabelValues("write", "ok").Inc()
		done(true, nil)
	})
}

func (g *Gateway) requestUnlisten(s *Session, areaID string, opts map[string]any, done doneFunc) {
	if err := g.checkTarget(s, areaID); err != nil {
		done(false, err)
		return
	}
	if !s.IsListening(areaID) {
		done(false, errs.ErrUnknownArea.WrapMsg("not listening", "session", s.id, "area", areaID))
		return
	}
	if !g.allowUnlisten(s, areaID, opts) {
		metrics.Handshakes.WithLabelValues("unlisten", "rejected").Inc()
		done(false, errs.ErrPolicyRejected.WrapMsg("unlisten rejected", "session", s.id, "area", areaID))
		return
	}
	g.removeListen(s, areaID, opts)
	metrics.Handshakes.WithLabelValues("unlisten", "ok").Inc()
	done(true, nil)
}

// removeListen 本地立即生效，UNLINK 不等回复
func (g *Gateway) removeListen(s *Session, areaID string, opts map[string]any) {
	delete(s.listens, areaID)
	s.purge(areaID)
	if s.writeTarget == areaID {
		s.writeTarget = ""
		g.removedWrite(s, areaID)
	}
	g.publishArea(areaID, wire.Unlink, s.id, opts)
	if h, ok := g.hooks.(ListenHandler); ok {
		g.callHook("OnRemovedListen", func() { h.OnRemovedListen(g.room, s, areaID, opts) })
	}
	g.send(s, wire.RemoveListen, areaID, opts)
}

func (g *Gateway) removedWrite(s *Session, areaID string) {
	if h, ok := g.hooks.(WriteHandler); ok {
		g.callHook("OnRemovedWrite", func() { h.OnRemovedWrite(g.room, s, areaID) })
	}
}

// roundTrip 在独立 goroutine 里发请求，结果回投到事件循环。
// 房间销毁后结果被丢弃。
func (g *Gateway) roundTrip(areaID string, data []byte, cont func(*wire.Frame, error)) {
	subject := fabric.AreaSubject(areaID)
	timeout := g.cfg.FabricTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		msg, err := g.fab.Request(ctx, subject, data, nil)
		cancel()
		var reply *wire.Frame
		if err == nil {
			reply, err = parseReply(msg.Data)
		}
		g.loop.Post(func() { cont(reply, err) })
	}()
}

// parseReply REPLY_ERROR 转成对应码的 CodeError
func parseReply(data []byte) (*wire.Frame, error) {
	f, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case wire.ReplyOK:
		return f, nil
	case wire.ReplyError:
		code, err := f.Int(0)
		if err != nil {
			code = errs.ServerInternalError
		}
		reason, _ := f.Value(1).(string)
		return nil, errs.Wrap(&errs.CodeError{Code: code, Msg: "ShardRefused", Detail: reason})
	}
	return nil, errs.ErrProtocolViolation.WrapMsg("unexpected reply", "kind", f.Kind)
}

// mergeOptions resp 覆盖 req 中的同名键
func mergeOptions(req, resp map[string]any) map[string]any {
	out := make(map[string]any, len(req)+len(resp))
	for k, v := range req {
		out[k] = v
	}
	for k, v := range resp {
		out[k] = v
	}
	return out
}
