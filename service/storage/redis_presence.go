package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPresence key 统一加前缀，方便与其他业务共用一个库
type RedisPresence struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPresence(rdb redis.UniversalClient, prefix string) *RedisPresence {
	return &RedisPresence{rdb: rdb, prefix: prefix}
}

func (p *RedisPresence) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := p.rdb.Set(ctx, p.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "presence set %s", key)
	}
	return nil
}

func (p *RedisPresence) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := p.rdb.Get(ctx, p.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "presence get %s", key)
	}
	return val, true, nil
}

func (p *RedisPresence) Del(ctx context.Context, key string) error {
	if err := p.rdb.Del(ctx, p.prefix+key).Err(); err != nil {
		return errors.Wrapf(err, "presence del %s", key)
	}
	return nil
}
