package gate

import (
	"time"

	"PPGate/service/metrics"
	"PPGate/service/wire"

	"go.uber.org/zap"
)

// clock 下发节拍。tick 每轮加一，elapsed 为房间创建以来的毫秒数。
type clock struct {
	now   func() time.Time
	start time.Time
	tick  uint64
}

func newClock(now func() time.Time) clock {
	return clock{now: now, start: now()}
}

func (c *clock) step() (uint64, int64) {
	c.tick++
	return c.tick, c.elapsed()
}

func (c *clock) elapsed() int64 {
	return c.now().Sub(c.start).Milliseconds()
}

func (g *Gateway) setPatchInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.stopPatchTicker()
	g.patchInterval = d
	if d == 0 || g.disposed {
		return
	}
	stop := make(chan struct{})
	g.patchStop = stop
	go g.runTicker(d, stop)
}

// runTicker 上一轮下发还在队列里时不再投递
func (g *Gateway) runTicker(d time.Duration, stop chan struct{}) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !g.tickQueued.CompareAndSwap(false, true) {
				continue
			}
			g.loop.Post(func() {
				g.tickQueued.Store(false)
				// 已被 setPatchInterval 替换的 ticker
				if g.patchStop != stop {
					return
				}
				g.broadcastPatch()
			})
		case <-stop:
			return
		case <-g.loop.Stopping():
			return
		}
	}
}

func (g *Gateway) stopPatchTicker() {
	if g.patchStop != nil {
		close(g.patchStop)
		g.patchStop = nil
	}
}

// broadcastPatch 每个在线会话把队列里的 delta 打成一帧 STATE_UPDATES
func (g *Gateway) broadcastPatch() {
	if g.disposed {
		return
	}
	tick, elapsed := g.clock.step()
	for _, s := range g.sessions {
		g.flush(s, tick, elapsed)
	}
}

// flushSession 单独下发一个会话的队列。同样推进节拍，客户端看到的 tick 严格递增
func (g *Gateway) flushSession(s *Session) {
	if s.conn == nil || len(s.pending) == 0 {
		return
	}
	tick, elapsed := g.clock.step()
	g.flush(s, tick, elapsed)
}

func (g *Gateway) flush(s *Session, tick uint64, elapsed int64) {
	if s.conn == nil || len(s.pending) == 0 {
		return
	}
	b, err := wire.Encode(wire.StateUpdates, s.pending, tick, elapsed)
	s.pending = nil
	if err != nil {
		g.log.Error("encode state updates", zap.String("session", s.id), zap.Error(err))
		return
	}
	g.sendRaw(s, b)
	metrics.StateFlushes.Inc()
}
