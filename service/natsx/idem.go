package natsx

import (
	"context"
	"sync"
	"time"

	"PPGate/service/fabric"

	"github.com/redis/go-redis/v9"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu     sync.Mutex
	m      map[string]time.Time // key -> 过期时间
	ttl    time.Duration
	writes int
	now    func() time.Time
}

const sweepEvery = 1024

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	// 写够一定次数顺手清一遍过期 key，不单独起协程
	mi.writes++
	if mi.writes >= sweepEvery {
		mi.writes = 0
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
	}
	return false, nil
}

// ----- Redis 实现（多进程共享） -----
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string) IdemStore {
	if prefix == "" {
		prefix = "ppgate:idem:"
	}
	return &redisIdem{rdb: rdb, prefix: prefix}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{fabric.HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ----- 幂等中间件 -----
// 只对带 msgID 的消息去重；状态补丁等无 ID 的消息内容可能相同，不能按内容去重。
// 存储出错时放行。
// scope 区分订阅者：同一条广播会被多个房间各收一次，key 不带 scope 时只有第一个房间能处理。
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration, scope string) fabric.Middleware {
	return func(next fabric.Handler) fabric.Handler {
		return func(ctx context.Context, msg fabric.Message) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			seen, err := store.SeenOnce(ctx, idemKey(scope, msg.Subject, id), ttl)
			if err == nil && seen {
				// 已处理过，直接跳过
				return nil
			}
			return next(ctx, msg)
		}
	}
}

func idemKey(scope, subject, id string) string {
	if scope == "" {
		return subject + "|" + id
	}
	return scope + "|" + subject + "|" + id
}
