package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transferbook/txprovider/internal/kvstore"
)

var ErrInvalidConfig = errors.New("kvstore/redisstore: invalid config")

// Client is the subset of redis.Cmdable used by Store. *redis.Client satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Config struct {
	// Prefix namespaces keys, joined with ":". Empty means no prefix.
	Prefix string
}

type Store struct {
	client Client
	prefix string
}

var _ kvstore.Store = (*Store)(nil)

func New(client Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrInvalidConfig)
	}
	return &Store{client: client, prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), ":")}, nil
}

// Dial connects to the Redis server at addr and verifies it with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("%w: missing addr", ErrInvalidConfig)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("kvstore/redisstore: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kvstore.ValidateKey(key); err != nil {
		return "", err
	}
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", kvstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore/redisstore: get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore/redisstore: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("kvstore/redisstore: delete: %w", err)
	}
	return nil
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}
