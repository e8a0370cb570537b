package fabric

import (
	"context"
	"strings"
	"sync"

	"PPGate/tools/errs"
	"PPGate/tools/loop"

	"go.uber.org/zap"
)

// Memory 进程内总线，subject 语义与 NATS 一致（支持 * 和 >）。
// 每个订阅有自己的投递协程，同一订阅内按发送顺序处理。
type Memory struct {
	mu     sync.RWMutex
	subs   map[uint64]*memSub
	nextID uint64
	closed bool
	log    *zap.Logger
}

type memSub struct {
	id      uint64
	pattern []string
	h       Handler
	loop    *loop.Loop
	m       *Memory
}

func NewMemory(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{subs: make(map[uint64]*memSub), log: log}
}

func (m *Memory) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	return m.deliver(subject, data, hdr, nil)
}

func (m *Memory) Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (Message, error) {
	reply := make(chan Message, 1)
	respond := func(b []byte) error {
		select {
		case reply <- Message{Subject: subject, Data: append([]byte(nil), b...)}:
		default:
			// 只取第一个回复
		}
		return nil
	}
	if err := m.deliver(subject, data, hdr, respond); err != nil {
		return Message{}, err
	}
	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return Message{}, errs.ErrFabricUnavailable.WrapMsg("request timeout", "subject", subject)
	}
}

func (m *Memory) deliver(subject string, data []byte, hdr map[string]string, respond func([]byte) error) error {
	tokens, ok := splitSubject(subject, false)
	if !ok {
		return ErrBadSubject.WrapMsg(subject)
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed.Wrap()
	}
	targets := make([]*memSub, 0, 2)
	for _, s := range m.subs {
		if match(s.pattern, tokens) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	if respond != nil && len(targets) == 0 {
		return ErrNoResponder.WrapMsg("subject", subject)
	}
	for _, s := range targets {
		msg := NewMessage(subject, append([]byte(nil), data...), copyHeader(hdr), respond)
		h := s.h
		s.loop.Post(func() {
			if err := h(context.Background(), msg); err != nil {
				m.log.Debug("handler error", zap.String("subject", msg.Subject), zap.Error(err))
			}
		})
	}
	return nil
}

func (m *Memory) Subscribe(subject string, h Handler) (Subscription, error) {
	pattern, ok := splitSubject(subject, true)
	if !ok {
		return nil, ErrBadSubject.WrapMsg(subject)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed.Wrap()
	}
	m.nextID++
	s := &memSub{id: m.nextID, pattern: pattern, h: h, loop: loop.New(m.log), m: m}
	s.loop.Start()
	m.subs[s.id] = s
	return s, nil
}

func (s *memSub) Unsubscribe() error {
	s.m.mu.Lock()
	delete(s.m.subs, s.id)
	s.m.mu.Unlock()
	s.loop.Stop()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, s := range m.subs {
		s.loop.Stop()
		delete(m.subs, id)
	}
	return nil
}

func splitSubject(subject string, wildcard bool) ([]string, bool) {
	if subject == "" {
		return nil, false
	}
	tokens := strings.Split(subject, ".")
	for i, t := range tokens {
		if t == "" || strings.ContainsAny(t, " \t\r\n") {
			return nil, false
		}
		if t == "*" || t == ">" {
			if !wildcard || (t == ">" && i != len(tokens)-1) {
				return nil, false
			}
		}
	}
	return tokens, true
}

func match(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}

func copyHeader(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
