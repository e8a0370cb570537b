package natsx

import (
	"context"
	"errors"

	"PPGate/service/fabric"
	"PPGate/tools/errs"

	"github.com/nats-io/nats.go"
)

func toMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	// 用 NewMsg 构造更安全
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(toMsg(subject, data, hdr)); err != nil {
		return errs.ErrFabricUnavailable.WrapMsg("publish failed", "subject", subject, "err", err)
	}
	return nil
}

func (c *NatsxClient) request(ctx context.Context, subject string, data []byte, hdr map[string]string) (fabric.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	reply, err := c.nc.RequestMsgWithContext(ctx, toMsg(subject, data, hdr))
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fabric.Message{}, fabric.ErrNoResponder.WrapMsg("subject", subject)
		}
		return fabric.Message{}, errs.ErrFabricUnavailable.WrapMsg("request failed", "subject", subject, "err", err)
	}
	return fabric.NewMessage(reply.Subject, reply.Data, headerToMap(reply.Header), nil), nil
}
