package natsx

import (
	"context"

	"PPGate/service/fabric"
	"PPGate/tools/errs"

	"go.uber.org/zap"
)

// NatsManager 统一门面：实现 fabric.Fabric，gateway 和 shard 只依赖接口
type NatsManager struct {
	client *NatsxClient
	mws    []fabric.Middleware
}

var _ fabric.Fabric = (*NatsManager)(nil)

// NewNatsManager 初始化；middlewares 作用于本连接上的所有订阅
func NewNatsManager(cfg NatsxConfig, log *zap.Logger, middlewares ...fabric.Middleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &NatsManager{client: c, mws: middlewares}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if m == nil || m.client == nil {
		return errs.ErrFabricUnavailable.WrapMsg("manager not initialized")
	}
	return m.client.sendCore(subject, data, hdr)
}

func (m *NatsManager) Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (fabric.Message, error) {
	if m == nil || m.client == nil {
		return fabric.Message{}, errs.ErrFabricUnavailable.WrapMsg("manager not initialized")
	}
	return m.client.request(ctx, subject, data, hdr)
}

func (m *NatsManager) Subscribe(subject string, h fabric.Handler) (fabric.Subscription, error) {
	if m == nil || m.client == nil {
		return nil, errs.ErrFabricUnavailable.WrapMsg("manager not initialized")
	}
	return m.client.subscribe(subject, fabric.Chain(h, m.mws...))
}
