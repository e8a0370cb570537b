package main

import (
	"time"

	"PPGate/service/gate"
	"PPGate/tools/decode"

	"go.uber.org/zap"
)

const maxNameLen = 32

// joinOptions 来自 /connect 的查询参数
type joinOptions struct {
	Name  string `json:"name"`
	Spawn string `json:"spawn"` // 加入后自动监听的 area
}

type player struct {
	name string
}

// lobbyHooks 演示用的房间逻辑：聊天广播、area 白名单、断线保留会话
type lobbyHooks struct {
	areas     map[string]bool // 空表示不限
	reconnect time.Duration
	log       *zap.Logger
}

func newLobbyHooks(areas []string, reconnect time.Duration, log *zap.Logger) *lobbyHooks {
	h := &lobbyHooks{areas: make(map[string]bool), reconnect: reconnect, log: log}
	for _, a := range areas {
		h.areas[a] = true
	}
	return h
}

func (h *lobbyHooks) allowed(areaID string) bool {
	return len(h.areas) == 0 || h.areas[areaID]
}

func (h *lobbyHooks) RequestJoin(options map[string]any, isNew bool) bool {
	if !isNew {
		return true
	}
	opts, err := decode.DecodeMap[joinOptions](options)
	if err != nil {
		h.log.Debug("bad join options", zap.Error(err))
		return false
	}
	if len(opts.Name) > maxNameLen {
		return false
	}
	return opts.Spawn == "" || h.allowed(opts.Spawn)
}

func (h *lobbyHooks) OnJoin(r *gate.Room, s *gate.Session, options map[string]any) {
	opts, _ := decode.DecodeMap[joinOptions](options)
	name := opts.Name
	if name == "" {
		name = s.ID()
	}
	s.UserData = &player{name: name}
	if opts.Spawn != "" {
		r.Listen(s, opts.Spawn, nil, func(ok bool, err error) {
			if !ok {
				h.log.Info("spawn listen failed", zap.String("session", s.ID()), zap.String("area", opts.Spawn), zap.Error(err))
			}
		})
	}
	_ = r.Broadcast(map[string]any{"joined": name}, s)
}

func (h *lobbyHooks) OnReconnect(r *gate.Room, s *gate.Session) {
	h.log.Info("session back", zap.String("session", s.ID()), zap.Strings("listens", s.Listens()))
}

func (h *lobbyHooks) OnLeave(r *gate.Room, s *gate.Session, consented bool) {
	if consented || h.reconnect <= 0 {
		_ = r.Broadcast(map[string]any{"left": playerName(s)})
		return
	}
	rc, err := r.AllowReconnection(s, h.reconnect)
	if err != nil {
		h.log.Debug("no reconnection window", zap.String("session", s.ID()), zap.Error(err))
		return
	}
	rc.OnSettle(func(_ *gate.Session, err error) {
		if err != nil {
			_ = r.Broadcast(map[string]any{"left": playerName(s)})
		}
	})
}

func (h *lobbyHooks) OnDispose(r *gate.Room) error {
	h.log.Info("room disposed", zap.String("room", r.ID()))
	return nil
}

// OnMessage ROOM_DATA 原样带上发送者名字广播给所有人
func (h *lobbyHooks) OnMessage(r *gate.Room, s *gate.Session, message any) {
	_ = r.Broadcast(map[string]any{"from": playerName(s), "msg": message})
}

func (h *lobbyHooks) RequestListen(_ *gate.Session, areaID string, _ map[string]any) bool {
	return h.allowed(areaID)
}

func (h *lobbyHooks) RequestUnlisten(*gate.Session, string, map[string]any) bool { return true }

func (h *lobbyHooks) RequestWrite(_ *gate.Session, areaID string, _ map[string]any) bool {
	return h.allowed(areaID)
}

func playerName(s *gate.Session) string {
	if p, ok := s.UserData.(*player); ok {
		return p.name
	}
	return s.ID()
}
