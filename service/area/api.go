package area

import (
	"context"
	"sort"

	"PPGate/service/fabric"
	"PPGate/service/metrics"
	"PPGate/service/wire"
	"PPGate/tools/errs"

	"go.uber.org/zap"
)

// 投递类方法只把任务放进事件循环，任何 goroutine（包括回调）都可以调用。

// SetState 替换全量状态，并以 SET 下发给所有监听者
func (a *Area) SetState(full []byte) {
	full = append([]byte(nil), full...)
	a.loop.Post(func() {
		if a.closed {
			return
		}
		a.seq++
		a.snapshot = full
		a.fanoutState(wire.DeltaSet, full)
	})
}

// Commit 记录新的全量状态，并把对应的增量以 PATCH 下发。
// full 必须已经包含 patch，新加入的监听者会拿 full 作为 SET。
func (a *Area) Commit(full, patch []byte) {
	full = append([]byte(nil), full...)
	patch = append([]byte(nil), patch...)
	a.loop.Post(func() {
		if a.closed {
			return
		}
		a.seq++
		a.snapshot = full
		a.fanoutState(wire.DeltaPatch, patch)
	})
}

// Send 发给单个成员
func (a *Area) Send(sessionID string, message any) error {
	if err := wire.Check(message); err != nil {
		return err
	}
	a.loop.Post(func() {
		c, ok := a.members[sessionID]
		if !ok || a.closed {
			return
		}
		a.toFront(c.FrontID, wire.AreaData, a.id, message, []string{sessionID})
	})
	return nil
}

// BroadcastListeners 发给当前所有成员（监听者和写者）
func (a *Area) BroadcastListeners(message any) error {
	if err := wire.Check(message); err != nil {
		return err
	}
	a.loop.Post(func() {
		if a.closed {
			return
		}
		for front, ids := range a.byFront(nil) {
			a.toFront(front, wire.AreaData, a.id, message, ids)
		}
	})
	return nil
}

// BroadcastAll 发给所有 gateway 上的所有会话，不论是否监听本 area
func (a *Area) BroadcastAll(message any) error {
	b, err := wire.Encode(wire.AreaData, a.id, message, nil)
	if err != nil {
		return err
	}
	a.loop.Post(func() {
		if a.closed {
			return
		}
		if err := a.fab.Publish(context.Background(), fabric.BroadcastSubject, b, fabric.WithMsgID(nil)); err != nil {
			a.log.Warn("broadcast all", zap.Error(err))
			return
		}
		metrics.AreaFanout.WithLabelValues(a.id, "BROADCAST_ALL").Inc()
	})
	return nil
}

// RemoveClientListener 让 gateway 取消该会话对本 area 的监听
func (a *Area) RemoveClientListener(sessionID string, options map[string]any) {
	a.loop.Post(func() {
		if c, ok := a.members[sessionID]; ok && !a.closed {
			a.toFront(c.FrontID, wire.RemoveListen, sessionID, a.id, options)
		}
	})
}

// AddClientToArea 让 gateway 为本 area 的成员再监听另一个 area
func (a *Area) AddClientToArea(sessionID, areaID string, options map[string]any) {
	a.loop.Post(func() {
		if c, ok := a.members[sessionID]; ok && !a.closed {
			a.toFront(c.FrontID, wire.AddListen, sessionID, areaID, options)
		}
	})
}

// SetClientWrite 让 gateway 把该会话的写目标切到本 area
func (a *Area) SetClientWrite(sessionID string, options map[string]any) {
	a.loop.Post(func() {
		if c, ok := a.members[sessionID]; ok && !a.closed {
			a.toFront(c.FrontID, wire.ChangeWrite, sessionID, a.id, options)
		}
	})
}

// ReleaseWriter 主动撤销写者，通知其 gateway
func (a *Area) ReleaseWriter(sessionID string, options map[string]any) {
	a.loop.Post(func() {
		if !a.closed {
			a.releaseWriter(sessionID, options, true)
		}
	})
}

// 查询类方法会等待事件循环，不能在回调里调用。

// Members 按 session 排序的成员快照
func (a *Area) Members() ([]Client, error) {
	var out []Client
	err := a.loop.Call(func() {
		out = make([]Client, 0, len(a.members))
		for _, c := range a.members {
			out = append(out, *c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, err
}

// Writer 当前写者
func (a *Area) Writer() (string, bool) {
	var w string
	_ = a.loop.Call(func() { w = a.writer })
	return w, w != ""
}

// Close 取消订阅并停止事件循环；之后的投递都是空操作
func (a *Area) Close() error {
	err := a.loop.Call(func() {
		a.closed = true
		a.unsubscribe()
		metrics.AreaMembers.DeleteLabelValues(a.id)
		a.loop.Stop()
	})
	if err != nil {
		return errs.ErrDisposed.WrapMsg("area already closed", "area", a.id)
	}
	return nil
}
