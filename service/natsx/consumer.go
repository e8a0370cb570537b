package natsx

import (
	"context"

	"PPGate/service/fabric"
	"PPGate/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type natsSub struct {
	c   *NatsxClient
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	s.c.untrack(s.sub)
	return s.sub.Unsubscribe()
}

// subscribe Core 订阅；NATS 对单个订阅按到达顺序串行回调
func (c *NatsxClient) subscribe(subject string, h fabric.Handler) (fabric.Subscription, error) {
	cb := func(m *nats.Msg) {
		var respond func([]byte) error
		if m.Reply != "" {
			respond = m.Respond
		}
		msg := fabric.NewMessage(m.Subject, append([]byte(nil), m.Data...), headerToMap(m.Header), respond)
		if err := h(context.Background(), msg); err != nil {
			c.log.Debug("handler error", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
	sub, err := c.nc.Subscribe(subject, cb)
	if err != nil {
		return nil, errs.ErrFabricUnavailable.WrapMsg("subscribe failed", "subject", subject, "err", err)
	}
	_ = sub.SetPendingLimits(c.cfg.PendingMsgs, c.cfg.PendingBytes)
	c.track(sub)
	return &natsSub{c: c, sub: sub}, nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
