// Package area implements a simulation shard: the authority for one area's
// state and membership. Gateways reach it over the fabric on area.<id>; it
// answers LINK and WRITE requests, and pushes state and data back to the
// gateways that own the member sessions.
package area

import (
	"context"
	"sort"

	"PPGate/logger"
	"PPGate/service/fabric"
	"PPGate/service/metrics"
	"PPGate/service/wire"
	"PPGate/tools/errs"
	"PPGate/tools/loop"

	"go.uber.org/zap"
)

type Config struct {
	AreaID string
	Fabric fabric.Fabric
	Logger *zap.Logger
}

type Area struct {
	id    string
	hooks Hooks
	fab   fabric.Fabric
	loop  *loop.Loop
	log   *zap.Logger
	subs  []fabric.Subscription

	// 以下字段只在事件循环上访问
	members  map[string]*Client
	writer   string
	seq      uint64
	snapshot []byte
	closed   bool
}

// New 订阅 area.<id> 和 areas.global 并启动事件循环
func New(cfg Config, hooks Hooks) (*Area, error) {
	if !fabric.ValidToken(cfg.AreaID) {
		return nil, errs.ErrArgs.WrapMsg("invalid area id", "area", cfg.AreaID)
	}
	if cfg.Fabric == nil || hooks == nil {
		return nil, errs.ErrArgs.WrapMsg("fabric and hooks are required", "area", cfg.AreaID)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("area")
	}
	log := cfg.Logger.With(zap.String("area", cfg.AreaID))
	a := &Area{
		id:      cfg.AreaID,
		hooks:   hooks,
		fab:     cfg.Fabric,
		loop:    loop.New(log),
		log:     log,
		members: make(map[string]*Client),
	}
	a.loop.Start()

	for _, subject := range []string{fabric.AreaSubject(a.id), fabric.GlobalSubject} {
		sub, err := a.fab.Subscribe(subject, a.onFabric)
		if err != nil {
			a.unsubscribe()
			a.loop.Stop()
			return nil, err
		}
		a.subs = append(a.subs, sub)
	}
	return a, nil
}

func (a *Area) ID() string { return a.id }

func (a *Area) onFabric(_ context.Context, msg fabric.Message) error {
	if !a.loop.Post(func() { a.handle(msg) }) && msg.CanRespond() {
		_ = msg.Respond(wire.MustEncode(wire.ReplyError, errs.Disposed, "area closed"))
	}
	return nil
}

func (a *Area) handle(msg fabric.Message) {
	if a.closed {
		return
	}
	f, err := wire.Decode(msg.Data)
	if err != nil {
		a.log.Warn("drop undecodable frame", zap.String("subject", msg.Subject), zap.Error(err))
		a.replyError(msg, errs.DecodeFailure, "bad frame")
		return
	}
	switch f.Kind {
	case wire.Link:
		a.link(msg, f)
	case wire.Write:
		a.write(msg, f)
	case wire.Unlink:
		a.unlink(f)
	case wire.ReleaseWrite:
		sid, _ := f.String(0)
		opts, _ := f.Map(1)
		a.releaseWriter(sid, opts, false)
	case wire.AreaData:
		a.areaData(f)
	case wire.GlobalData:
		a.globalData(f)
	default:
		a.log.Warn("unexpected frame", zap.Stringer("kind", f.Kind))
		a.replyError(msg, errs.ProtocolViolation, "unexpected frame")
	}
}

func (a *Area) replyOK(msg fabric.Message, args ...any) {
	if !msg.CanRespond() {
		return
	}
	b, err := wire.Encode(wire.ReplyOK, args...)
	if err != nil {
		a.log.Error("encode reply", zap.Error(err))
		a.replyError(msg, errs.ServerInternalError, "reply not encodable")
		return
	}
	if err := msg.Respond(b); err != nil {
		a.log.Warn("respond", zap.Error(err))
	}
}

func (a *Area) replyError(msg fabric.Message, code int, reason string) {
	if !msg.CanRespond() {
		return
	}
	if err := msg.Respond(wire.MustEncode(wire.ReplyError, code, reason)); err != nil {
		a.log.Warn("respond", zap.Error(err))
	}
}

// link [LINK, session, front, options]：创建或更新 Listen 成员，
// 回复 [OK, responseOptions, snapshot, seq]
func (a *Area) link(msg fabric.Message, f *wire.Frame) {
	sid, err1 := f.String(0)
	front, err2 := f.String(1)
	opts, err3 := f.Map(2)
	if err1 != nil || err2 != nil || err3 != nil {
		a.replyError(msg, errs.DecodeFailure, "bad link frame")
		return
	}
	existing, exists := a.members[sid]
	view := Client{SessionID: sid, FrontID: front, Kind: Listen, Options: opts}
	if exists {
		view.Kind = existing.Kind
	}

	var resp map[string]any
	if h, ok := a.hooks.(ListenHandler); ok {
		r, err := h.OnListen(a, view, opts)
		if err != nil {
			a.log.Debug("listen rejected", zap.String("session", sid), zap.Error(err))
			a.replyError(msg, errs.PolicyRejected, err.Error())
			return
		}
		resp = r
	}
	if exists {
		existing.FrontID = front
		existing.Options = opts
	} else {
		c := view
		a.members[sid] = &c
		metrics.AreaMembers.WithLabelValues(a.id).Set(float64(len(a.members)))
	}
	// seq 为 0 表示还没有任何状态，不回快照
	var snapshot any
	if a.seq > 0 {
		snapshot = a.snapshot
	}
	a.replyOK(msg, resp, snapshot, a.seq)
}

// write [WRITE, session, front, options]：同一时刻只有一个写者
func (a *Area) write(msg fabric.Message, f *wire.Frame) {
	sid, err1 := f.String(0)
	front, err2 := f.String(1)
	opts, err3 := f.Map(2)
	if err1 != nil || err2 != nil || err3 != nil {
		a.replyError(msg, errs.DecodeFailure, "bad write frame")
		return
	}
	if a.writer != "" && a.writer != sid {
		a.replyError(msg, errs.WriterConflict, "area already has a writer")
		return
	}
	c, exists := a.members[sid]
	if exists && c.Kind == Write {
		a.replyOK(msg)
		return
	}
	view := Client{SessionID: sid, FrontID: front, Kind: Write, Options: opts}
	if h, ok := a.hooks.(WriteHandler); ok {
		if err := h.OnWrite(a, view, opts); err != nil {
			a.replyError(msg, errs.PolicyRejected, err.Error())
			return
		}
	}
	if !exists {
		c = &Client{SessionID: sid}
		a.members[sid] = c
		metrics.AreaMembers.WithLabelValues(a.id).Set(float64(len(a.members)))
	}
	c.FrontID = front
	c.Kind = Write
	c.Options = opts
	a.writer = sid
	a.replyOK(msg)
}

// unlink [UNLINK, session, options]
func (a *Area) unlink(f *wire.Frame) {
	sid, err := f.String(0)
	if err != nil {
		return
	}
	opts, _ := f.Map(1)
	c, ok := a.members[sid]
	if !ok {
		return
	}
	if a.writer == sid {
		a.writer = ""
		c.Kind = Listen
		if h, ok := a.hooks.(ReleaseWriteHandler); ok {
			h.OnReleaseWrite(a, *c, opts)
		}
	}
	delete(a.members, sid)
	metrics.AreaMembers.WithLabelValues(a.id).Set(float64(len(a.members)))
	if h, ok := a.hooks.(RemoveListenHandler); ok {
		h.OnRemoveListen(a, *c, opts)
	}
}

// releaseWriter 把写者降级为监听者。notify 为 true 时是本 area 主动释放，
// 需要通知 gateway 清掉 writeTarget；gateway 发来的 RELEASE_WRITE 已经换过目标，不用回通知。
func (a *Area) releaseWriter(sid string, opts map[string]any, notify bool) {
	if sid == "" || a.writer != sid {
		return
	}
	c := a.members[sid]
	a.writer = ""
	c.Kind = Listen
	if h, ok := a.hooks.(ReleaseWriteHandler); ok {
		h.OnReleaseWrite(a, *c, opts)
	}
	if notify {
		a.toFront(c.FrontID, wire.WriteReleased, sid, a.id)
	}
}

// areaData [AREA_DATA, session, message]，只接受写者
func (a *Area) areaData(f *wire.Frame) {
	sid, err := f.String(0)
	if err != nil {
		return
	}
	c, ok := a.members[sid]
	if !ok || c.Kind != Write {
		a.log.Debug("area data from non-writer", zap.String("session", sid))
		return
	}
	a.hooks.OnMessage(a, *c, f.Value(1))
}

// globalData [GLOBAL_DATA, session, message]
func (a *Area) globalData(f *wire.Frame) {
	h, ok := a.hooks.(GlobalHandler)
	if !ok {
		return
	}
	sid, _ := f.String(0)
	h.OnGlobalMessage(a, sid, f.Value(1))
}

func (a *Area) toFront(front string, kind wire.Kind, args ...any) {
	if front == "" {
		return
	}
	b, err := wire.Encode(kind, args...)
	if err != nil {
		a.log.Error("encode front frame", zap.Stringer("kind", kind), zap.Error(err))
		return
	}
	if err := a.fab.Publish(context.Background(), fabric.FrontSubject(front), b, fabric.WithMsgID(nil)); err != nil {
		a.log.Warn("publish to front", zap.String("front", front), zap.Error(err))
		return
	}
	metrics.AreaFanout.WithLabelValues(a.id, kind.String()).Inc()
}

// byFront 按 gateway 分组成员，组内 session 有序
func (a *Area) byFront(filter func(*Client) bool) map[string][]string {
	out := make(map[string][]string)
	for _, c := range a.members {
		if filter == nil || filter(c) {
			out[c.FrontID] = append(out[c.FrontID], c.SessionID)
		}
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

func (a *Area) fanoutState(kind wire.DeltaKind, data []byte) {
	for front, ids := range a.byFront(nil) {
		a.toFront(front, wire.StatePatch, a.id, kind, a.seq, data, ids)
	}
}

func (a *Area) unsubscribe() {
	for _, s := range a.subs {
		if err := s.Unsubscribe(); err != nil {
			a.log.Warn("unsubscribe", zap.Error(err))
		}
	}
	a.subs = nil
}
