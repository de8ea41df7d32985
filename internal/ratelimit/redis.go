package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "daochan:ratelimit:"

// RedisLimiter shares fixed windows between server replicas.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter connects to the Redis server at url.
func NewRedisLimiter(ctx context.Context, url string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLimiter{client: client}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	k := redisKeyPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpireNX(ctx, k, p.Window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	if count > p.Limit {
		retry := ttl.Val()
		if retry < 0 {
			retry = p.Window
		}
		return Decision{RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Remaining: p.Limit - count}, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
