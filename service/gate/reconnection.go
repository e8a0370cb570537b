package gate

import (
	"context"
	"sync"
	"time"
)

type ReconnectionState int32

const (
	ReconnectionPending ReconnectionState = iota
	ReconnectionResolved
	ReconnectionRejected
)

func (s ReconnectionState) String() string {
	switch s {
	case ReconnectionResolved:
		return "resolved"
	case ReconnectionRejected:
		return "rejected"
	}
	return "pending"
}

// Reconnection 重连窗口，只会结算一次：同一个会话在窗口内重新接入则 resolved，
// 窗口过期或房间关闭则 rejected。
type Reconnection struct {
	session  *Session
	deadline time.Time
	done     chan struct{}

	mu     sync.Mutex
	state  ReconnectionState
	result *Session
	err    error

	// 只在事件循环上访问
	settleFns []func(*Session, error)
}

func newReconnection(s *Session, deadline time.Time) *Reconnection {
	return &Reconnection{session: s, deadline: deadline, done: make(chan struct{})}
}

func (r *Reconnection) SessionID() string     { return r.session.id }
func (r *Reconnection) Deadline() time.Time   { return r.deadline }
func (r *Reconnection) Done() <-chan struct{} { return r.done }

func (r *Reconnection) State() ReconnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait 阻塞直到结算，不能在回调里调用，回调里用 OnSettle
func (r *Reconnection) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnSettle 注册结算回调，在事件循环上执行。已经结算则立即执行。
// 只能在回调里调用。
func (r *Reconnection) OnSettle(fn func(s *Session, err error)) {
	r.mu.Lock()
	state, res, err := r.state, r.result, r.err
	r.mu.Unlock()
	if state != ReconnectionPending {
		fn(res, err)
		return
	}
	r.settleFns = append(r.settleFns, fn)
}

func (r *Reconnection) settle(s *Session, err error) bool {
	r.mu.Lock()
	if r.state != ReconnectionPending {
		r.mu.Unlock()
		return false
	}
	if err != nil {
		r.state = ReconnectionRejected
	} else {
		r.state = ReconnectionResolved
	}
	r.result, r.err = s, err
	r.mu.Unlock()
	close(r.done)

	fns := r.settleFns
	r.settleFns = nil
	for _, fn := range fns {
		fn(s, err)
	}
	return true
}

// reservation 座位预留；reconnect 非空时是某个已断开会话的重连窗口
type reservation struct {
	sessionID string
	expiresAt time.Time
	timer     *time.Timer
	reconnect *Reconnection
}
