package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a TokenStore backed by a single Redis key.
type RedisStore struct {
	rdb      *redis.Client
	key      string
	ownsConn bool
}

// NewRedisStore wraps a caller-owned client. The credential lives at prefix+storageKey.
func NewRedisStore(rdb *redis.Client, prefix, storageKey string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("session: nil redis client")
	}
	if storageKey == "" {
		return nil, errors.New("session: empty storage key")
	}
	return &RedisStore{rdb: rdb, key: prefix + storageKey}, nil
}

// DialRedisStore connects using cfg and returns a store that owns the client.
func DialRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("session: connect redis: %w", err)
	}

	st, err := NewRedisStore(rdb, cfg.RedisPrefix, cfg.StorageKey)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	st.ownsConn = true
	return st, nil
}

// Load returns the stored credential.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	v, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// Save stores the credential without expiry; the server decides its lifetime.
func (s *RedisStore) Save(ctx context.Context, credential string) error {
	return s.rdb.Set(ctx, s.key, credential, 0).Err()
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

// Close releases the client when the store owns it.
func (s *RedisStore) Close() error {
	if !s.ownsConn {
		return nil
	}
	return s.rdb.Close()
}
