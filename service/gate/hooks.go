package gate

// Hooks 是房间逻辑。OnMessage 必须实现；其余能力通过可选接口发现，未实现时：
// RequestJoin 默认接受，RequestListen / RequestUnlisten / RequestWrite 默认拒绝。
//
// 回调都在房间事件循环上执行，拿到的 *Room 和 *Session 只能在回调内使用。
// 回调里不能调用 Gateway 上会等待事件循环的方法（Admit、RequestListen 等）。
type Hooks interface {
	// OnMessage 客户端发来的 ROOM_DATA
	OnMessage(r *Room, s *Session, message any)
}

type JoinRequester interface {
	RequestJoin(options map[string]any, isNew bool) bool
}

type JoinHandler interface {
	OnJoin(r *Room, s *Session, options map[string]any)
}

// ReconnectHandler 重连成功时代替 OnJoin
type ReconnectHandler interface {
	OnReconnect(r *Room, s *Session)
}

// LeaveHandler 在这里调用 r.AllowReconnection 可以保留会话
type LeaveHandler interface {
	OnLeave(r *Room, s *Session, consented bool)
}

type DisposeHandler interface {
	OnDispose(r *Room) error
}

type ListenRequester interface {
	RequestListen(s *Session, areaID string, options map[string]any) bool
}

type UnlistenRequester interface {
	RequestUnlisten(s *Session, areaID string, options map[string]any) bool
}

type WriteRequester interface {
	RequestWrite(s *Session, areaID string, options map[string]any) bool
}

type ListenHandler interface {
	OnAddedListen(r *Room, s *Session, areaID string, options map[string]any)
	OnRemovedListen(r *Room, s *Session, areaID string, options map[string]any)
}

type WriteHandler interface {
	OnAddedWrite(r *Room, s *Session, areaID string)
	OnRemovedWrite(r *Room, s *Session, areaID string)
}

func (g *Gateway) allowJoin(options map[string]any, isNew bool) (ok bool) {
	h, has := g.hooks.(JoinRequester)
	if !has {
		return true
	}
	g.callHook("RequestJoin", func() { ok = h.RequestJoin(options, isNew) })
	return ok
}

func (g *Gateway) allowListen(s *Session, areaID string, options map[string]any) (ok bool) {
	if h, has := g.hooks.(ListenRequester); has {
		g.callHook("RequestListen", func() { ok = h.RequestListen(s, areaID, options) })
	}
	return ok
}

func (g *Gateway) allowUnlisten(s *Session, areaID string, options map[string]any) (ok bool) {
	if h, has := g.hooks.(UnlistenRequester); has {
		g.callHook("RequestUnlisten", func() { ok = h.RequestUnlisten(s, areaID, options) })
	}
	return ok
}

func (g *Gateway) allowWrite(s *Session, areaID string, options map[string]any) (ok bool) {
	if h, has := g.hooks.(WriteRequester); has {
		g.callHook("RequestWrite", func() { ok = h.RequestWrite(s, areaID, options) })
	}
	return ok
}
