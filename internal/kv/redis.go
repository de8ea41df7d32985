package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisKeyPrefix = "daochan:"
	redisChannel   = "daochan:storage"
)

// RedisStore persists values in Redis and publishes every change on a
// pub/sub channel, so instances in other processes observe each other's
// writes.
type RedisStore struct {
	*notifier
	rdb    *redis.Client
	pubsub *redis.PubSub
	log    zerolog.Logger
	done   chan struct{}
}

// NewRedisStore connects to the Redis server at url, for example
// "redis://localhost:6379/0".
func NewRedisStore(ctx context.Context, url string, log zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: connection failed: %w", err)
	}

	// Changes published before the subscription is confirmed would be lost.
	pubsub := rdb.Subscribe(ctx, redisChannel)
	if _, err := pubsub.Receive(pingCtx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("redis: subscribe failed: %w", err)
	}

	s := &RedisStore{
		notifier: newNotifier(),
		rdb:      rdb,
		pubsub:   pubsub,
		log:      log.With().Str("component", "kv").Logger(),
		done:     make(chan struct{}),
	}
	go s.relay()
	return s, nil
}

// relay forwards changes made by other instances to local subscribers.
func (s *RedisStore) relay() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed storage change")
			continue
		}
		if c.Origin == s.origin {
			continue
		}
		s.publish(c)
	}
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, redisKeyPrefix+FullKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key, value string) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+FullKey(namespace, key), value, 0).Err(); err != nil {
		return err
	}
	return s.announce(ctx, s.set(namespace, key, value))
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+FullKey(namespace, key)).Err(); err != nil {
		return err
	}
	return s.announce(ctx, s.deleted(namespace, key))
}

func (s *RedisStore) announce(ctx context.Context, c Change) error {
	s.publish(c)

	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, redisChannel, payload).Err()
}

func (s *RedisStore) Close() error {
	err := s.pubsub.Close()
	<-s.done
	if cerr := s.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Store = (*RedisStore)(nil)
