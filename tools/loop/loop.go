// Package loop is the single-threaded executor behind every Gateway room and
// every Shard. State owned by a loop is touched only from tasks running on it,
// so it needs no mutex.
package loop

import (
	"sync"
	"time"

	"PPGate/tools/errs"
	"PPGate/tools/safe"

	"go.uber.org/zap"
)

type Loop struct {
	mu    sync.Mutex
	queue []func()
	spare []func()

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      *zap.Logger
}

func New(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
}

// Start 启动事件循环协程
func (l *Loop) Start() { go l.run() }

// Post 投递任务，不阻塞；队列无上限，因此循环内部也可以安全调用。
// 循环已停止时返回 false。
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call 投递并等待执行完成。不能在循环内部调用。
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errs.ErrDisposed.Wrap()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// 停止前刚好执行完的任务也算成功
		select {
		case <-finished:
			return nil
		default:
			return errs.ErrDisposed.Wrap()
		}
	}
}

// AfterFunc 定时器回调在循环上执行
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Stop 停止循环，剩余任务丢弃。可以在循环内部调用。
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Stopping 在 Stop 之后关闭
func (l *Loop) Stopping() <-chan struct{} { return l.quit }

// Done 在循环协程退出后关闭
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		// 双缓冲交换，执行期间新投递的任务进入另一块
		l.mu.Lock()
		batch := l.queue
		l.queue = l.spare[:0]
		l.mu.Unlock()

		for i, fn := range batch {
			select {
			case <-l.quit:
				return
			default:
			}
			if err := safe.Call(func() error { fn(); return nil }); err != nil {
				l.log.Error("loop task panicked", zap.Error(err))
			}
			batch[i] = nil
		}
		l.mu.Lock()
		l.spare = batch[:0]
		pending := len(l.queue) > 0
		l.mu.Unlock()
		if pending {
			select {
			case l.wake <- struct{}{}:
			default:
			}
		}
	}
}
