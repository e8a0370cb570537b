package main

import (
	"PPGate/service/area"
	"PPGate/tools/decode"
	"PPGate/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// writeOp 写者发来的 AREA_DATA：{"set": {...}, "del": [...]}
type writeOp struct {
	Set map[string]any `json:"set"`
	Del []string       `json:"del"`
}

type listenOptions struct {
	Role string `json:"role"`
}

// worldHooks 演示用的 area 逻辑：一张 key/value 表，写者修改后整表作为快照、
// 改动部分作为 patch 提交
type worldHooks struct {
	state map[string]any
	log   *zap.Logger
}

func newWorldHooks(log *zap.Logger) *worldHooks {
	return &worldHooks{state: make(map[string]any), log: log}
}

func (w *worldHooks) OnMessage(a *area.Area, c area.Client, message any) {
	m, ok := message.(map[string]any)
	if !ok {
		_ = a.Send(c.SessionID, map[string]any{"error": "expected object"})
		return
	}
	op, err := decode.DecodeMap[writeOp](m)
	if err != nil {
		_ = a.Send(c.SessionID, map[string]any{"error": err.Error()})
		return
	}
	full, patch, err := w.apply(op)
	if err != nil {
		w.log.Warn("apply write", zap.String("session", c.SessionID), zap.Error(err))
		_ = a.Send(c.SessionID, map[string]any{"error": err.Error()})
		return
	}
	if patch == nil {
		return
	}
	a.Commit(full, patch)
}

// apply 修改状态并返回整表和本次改动的编码；没有改动时 patch 为 nil
func (w *worldHooks) apply(op *writeOp) (full, patch []byte, err error) {
	changed := make(map[string]any)
	for k, v := range op.Set {
		changed[k] = v
	}
	for _, k := range op.Del {
		if _, ok := w.state[k]; ok {
			changed[k] = nil
		}
	}
	if len(changed) == 0 {
		return nil, nil, nil
	}
	// 先编码改动，失败时状态不变
	if patch, err = encode(changed); err != nil {
		return nil, nil, err
	}
	for k, v := range changed {
		if v == nil {
			delete(w.state, k)
		} else {
			w.state[k] = v
		}
	}
	if full, err = encode(w.state); err != nil {
		return nil, nil, err
	}
	return full, patch, nil
}

func encode(m map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("unsupported value", "err", err)
	}
	return protojson.Marshal(st)
}

func (w *worldHooks) OnListen(a *area.Area, c area.Client, options map[string]any) (map[string]any, error) {
	opts, err := decode.DecodeMap[listenOptions](options)
	if err != nil {
		return nil, err
	}
	if opts.Role == "" {
		opts.Role = "viewer"
	}
	return map[string]any{"area": a.ID(), "role": opts.Role, "keys": len(w.state)}, nil
}

func (w *worldHooks) OnWrite(a *area.Area, c area.Client, _ map[string]any) error {
	w.log.Debug("writer changed", zap.String("area", a.ID()), zap.String("session", c.SessionID))
	return nil
}

func (w *worldHooks) OnReleaseWrite(a *area.Area, c area.Client, _ map[string]any) {
	w.log.Debug("writer released", zap.String("area", a.ID()), zap.String("session", c.SessionID))
}

func (w *worldHooks) OnGlobalMessage(a *area.Area, sessionID string, message any) {
	_ = a.BroadcastAll(map[string]any{"area": a.ID(), "from": sessionID, "msg": message})
}
