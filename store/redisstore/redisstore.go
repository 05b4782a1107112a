// Package redisstore persists onboarding state in Redis.
package redisstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding/store"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "onboarding"

// Store implements store.Store and store.Batcher using plain string keys.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option customizes the store.
type Option func(*Store)

// WithTTL expires every written key after ttl. Zero keeps keys forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New returns a store writing keys as "<prefix>:<key>".
func New(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	s := &Store{client: client, prefix: prefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Key returns the namespaced redis key.
func (s *Store) Key(key string) string {
	return s.prefix + ":" + key
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, store.Wrap("get", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return store.Wrap("set", key, s.client.Set(ctx, s.Key(key), value, s.ttl).Err())
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return store.Wrap("remove", key, s.client.Del(ctx, s.Key(key)).Err())
}

// Apply sends all ops in a MULTI/EXEC block.
func (s *Store) Apply(ctx context.Context, ops ...store.Op) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			if op.Delete {
				pipe.Del(ctx, s.Key(op.Key))
				continue
			}
			pipe.Set(ctx, s.Key(op.Key), op.Value, s.ttl)
		}
		return nil
	})
	return store.Wrap("apply", "", err)
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Batcher = (*Store)(nil)
)
