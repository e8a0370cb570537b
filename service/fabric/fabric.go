// Package fabric is the messaging layer between gateways and shards:
// fire-and-forget publish, request/reply and subject subscriptions.
// natsx provides the NATS implementation; Memory serves single-process
// deployments and tests.
package fabric

import (
	"context"
	"strings"

	"PPGate/tools"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string

	respond func(data []byte) error
}

// NewMessage 供 Fabric 实现构造带回复能力的消息
func NewMessage(subject string, data []byte, header map[string]string, respond func([]byte) error) Message {
	return Message{Subject: subject, Data: data, Header: header, respond: respond}
}

// Respond 回复 request；publish 过来的消息没有回复地址
func (m Message) Respond(data []byte) error {
	if m.respond == nil {
		return ErrNoReply
	}
	return m.respond(data)
}

// CanRespond 是否带回复地址
func (m Message) CanRespond() bool { return m.respond != nil }

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、幂等、指标等）
type Middleware func(Handler) Handler

// Chain 组合中间件，mws[0] 在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type Subscription interface {
	Unsubscribe() error
}

type Fabric interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
	// Request 等待第一个回复；ctx 决定超时
	Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (Message, error)
	Subscribe(subject string, h Handler) (Subscription, error)
	Close() error
}

const (
	HeaderMsgID = "Nats-Msg-Id"

	GlobalSubject    = "areas.global"
	BroadcastSubject = "gates.broadcast"
)

// AreaSubject shard 的请求入口
func AreaSubject(areaID string) string { return "area." + areaID }

// FrontSubject gateway 房间的入口，shard 往这里投递
func FrontSubject(roomID string) string { return "gate." + roomID }

// ValidToken id 能否作为 subject 的一段
func ValidToken(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, ". *>\t\r\n")
}

// WithMsgID 补上 Nats-Msg-Id，接收端的幂等中间件据此去重
func WithMsgID(hdr map[string]string) map[string]string {
	if hdr == nil {
		hdr = make(map[string]string, 1)
	}
	if hdr[HeaderMsgID] == "" {
		hdr[HeaderMsgID] = tools.RandMsgID()
	}
	return hdr
}
