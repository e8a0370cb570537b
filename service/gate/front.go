package gate

import (
	"context"

	"PPGate/service/fabric"
	"PPGate/service/metrics"
	"PPGate/service/wire"

	"go.uber.org/zap"
)

// onFabric gate.<room> 和 gates.broadcast 上的帧，解码后投递到事件循环
func (g *Gateway) onFabric(_ context.Context, msg fabric.Message) error {
	f, err := wire.Decode(msg.Data)
	if err != nil {
		metrics.DroppedFrames.WithLabelValues("fabric_decode").Inc()
		g.log.Warn("drop undecodable fabric frame", zap.String("subject", msg.Subject), zap.Error(err))
		return nil
	}
	g.loop.Post(func() {
		if !g.disposed {
			g.onShardFrame(f)
		}
	})
	return nil
}

func (g *Gateway) onShardFrame(f *wire.Frame) {
	switch f.Kind {
	case wire.StatePatch:
		g.onStatePatch(f)
	case wire.AreaData:
		g.onAreaData(f)
	case wire.AddListen, wire.RemoveListen, wire.ChangeWrite, wire.WriteReleased:
		g.onShardMembership(f)
	default:
		metrics.DroppedFrames.WithLabelValues("fabric_kind").Inc()
		g.log.Warn("unexpected fabric frame", zap.Stringer("kind", f.Kind))
	}
}

// onStatePatch [STATE_PATCH, area, deltaKind, seq, data, sessionIds]
// 已监听的会话入队；LINK 还没回复的会话先缓存，提交时按 seq 过滤
func (g *Gateway) onStatePatch(f *wire.Frame) {
	area, err1 := f.String(0)
	kind, err2 := f.Int(1)
	seq, err3 := f.Uint64(2)
	data, err4 := f.Bytes(3)
	targets, err5 := f.Strings(4)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		metrics.DroppedFrames.WithLabelValues("fabric_args").Inc()
		g.log.Warn("bad state patch", zap.Error(err))
		return
	}
	d := wire.Delta{Kind: wire.DeltaKind(kind), AreaID: area, Seq: seq, Data: data}
	for _, id := range targets {
		s := g.lookup(id)
		if s == nil || s.state == sessionDestroyed {
			continue
		}
		if s.IsListening(area) {
			s.enqueue(d)
		} else if pl := s.links[area]; pl != nil {
			pl.buffered = append(pl.buffered, d)
		}
	}
}

// onAreaData [AREA_DATA, area, message, sessionIds]，sessionIds 为空表示房间内所有在线会话
func (g *Gateway) onAreaData(f *wire.Frame) {
	area, err1 := f.String(0)
	targets, err2 := f.Strings(2)
	if err := firstErr(err1, err2); err != nil {
		metrics.DroppedFrames.WithLabelValues("fabric_args").Inc()
		g.log.Warn("bad area data", zap.Error(err))
		return
	}
	b, err := wire.Encode(wire.AreaData, area, f.Value(1))
	if err != nil {
		g.log.Error("encode area data", zap.Error(err))
		return
	}
	if targets == nil {
		for _, s := range g.sessions {
			g.sendRaw(s, b)
		}
		return
	}
	for _, id := range targets {
		if s, ok := g.sessions[id]; ok {
			g.sendRaw(s, b)
		}
	}
}

// onShardMembership shard 主动发起的成员变更，不经过策略检查
func (g *Gateway) onShardMembership(f *wire.Frame) {
	sid, err1 := f.String(0)
	area, err2 := f.String(1)
	opts, err3 := f.Map(2)
	if err := firstErr(err1, err2, err3); err != nil {
		metrics.DroppedFrames.WithLabelValues("fabric_args").Inc()
		g.log.Warn("bad membership frame", zap.Stringer("kind", f.Kind), zap.Error(err))
		return
	}
	s := g.lookup(sid)
	if s == nil || s.state == sessionDestroyed {
		return
	}
	log := g.log.With(zap.String("session", sid), zap.String("area", area), zap.Stringer("kind", f.Kind))
	report := func(ok bool, err error) {
		if !ok {
			log.Debug("shard membership change failed", zap.Error(err))
		}
	}
	switch f.Kind {
	case wire.AddListen:
		if err := g.checkTarget(s, area); err != nil {
			report(false, err)
			return
		}
		g.addListen(s, area, opts, report)
	case wire.RemoveListen:
		if s.IsListening(area) {
			g.removeListen(s, area, opts)
		}
	case wire.ChangeWrite:
		if err := g.checkTarget(s, area); err != nil {
			report(false, err)
			return
		}
		g.changeWrite(s, area, opts, report)
	case wire.WriteReleased:
		if s.writeTarget == area {
			s.writeTarget = ""
			g.removedWrite(s, area)
		}
	}
}

// onClientFrame 客户端帧：未知类型按协议错误关闭连接，参数错误只丢弃
func (g *Gateway) onClientFrame(s *Session, data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		metrics.DroppedFrames.WithLabelValues("decode").Inc()
		g.log.Debug("drop undecodable client frame", zap.String("session", s.id), zap.Error(err))
		return
	}
	if !f.Kind.FromClient() {
		metrics.DroppedFrames.WithLabelValues("protocol").Inc()
		g.log.Info("protocol violation", zap.String("session", s.id), zap.Stringer("kind", f.Kind))
		conn := s.conn
		_ = conn.Close(CloseProtocol, "unexpected frame")
		g.leave(s, conn, CloseProtocol)
		return
	}

	switch f.Kind {
	case wire.Leave:
		conn := s.conn
		_ = conn.Close(CloseConsented, "")
		g.leave(s, conn, CloseConsented)
	case wire.RoomData:
		g.callHook("OnMessage", func() { g.hooks.OnMessage(g.room, s, f.Value(0)) })
	case wire.AreaData:
		if s.writeTarget == "" {
			metrics.DroppedFrames.WithLabelValues("no_write_target").Inc()
			return
		}
		g.publishArea(s.writeTarget, wire.AreaData, s.id, f.Value(0))
	case wire.GlobalData:
		g.publish(fabric.GlobalSubject, wire.GlobalData, s.id, f.Value(0))
	case wire.AddListen, wire.RemoveListen, wire.ChangeWrite:
		area, err1 := f.String(0)
		opts, err2 := f.Map(1)
		if err := firstErr(err1, err2); err != nil {
			metrics.DroppedFrames.WithLabelValues("args").Inc()
			g.log.Debug("bad membership request", zap.String("session", s.id), zap.Error(err))
			return
		}
		report := func(ok bool, err error) {
			if !ok {
				g.log.Debug("membership request failed", zap.String("session", s.id),
					zap.String("area", area), zap.Stringer("kind", f.Kind), zap.Error(err))
			}
		}
		switch f.Kind {
		case wire.AddListen:
			g.requestListen(s, area, opts, report)
		case wire.RemoveListen:
			g.requestUnlisten(s, area, opts, report)
		default:
			g.requestWrite(s, area, opts, report)
		}
	}
}

func firstErr(list ...error) error {
	for _, err := range list {
		if err != nil {
			return err
		}
	}
	return nil
}
