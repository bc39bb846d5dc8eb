package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transferbook/txprovider/internal/kvstore"
)

type fakeRedis struct {
	data   map[string]string
	getErr error
	ttls   []time.Duration
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string]string)} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = value.(string)
	f.ttls = append(f.ttls, expiration)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestNew_RequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStore_SetGetDeleteWithPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFakeRedis()
	s, err := New(f, Config{Prefix: " txprovider: "})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Get(ctx, "transactionCount"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("Get absent: got %v", err)
	}
	if err := s.Set(ctx, "transactionCount", "9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := f.data["txprovider:transactionCount"]; got != "9" {
		t.Fatalf("stored under prefixed key: got %q (data=%v)", got, f.data)
	}
	if f.ttls[0] != 0 {
		t.Fatalf("expected no expiry, got %s", f.ttls[0])
	}
	v, err := s.Get(ctx, "transactionCount")
	if err != nil || v != "9" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}
	if err := s.Delete(ctx, "transactionCount"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "transactionCount"); err != nil {
		t.Fatalf("Delete idempotent: %v", err)
	}
	if _, err := s.Get(ctx, "transactionCount"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("Get after delete: got %v", err)
	}
}

func TestStore_WrapsBackendErrors(t *testing.T) {
	t.Parallel()

	f := newFakeRedis()
	f.getErr = errors.New("connection refused")
	s, err := New(f, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Get(context.Background(), "transactionCount")
	if err == nil || errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !errors.Is(err, f.getErr) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestStore_RejectsInvalidKey(t *testing.T) {
	t.Parallel()

	s, err := New(newFakeRedis(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set(context.Background(), "", "1"); !errors.Is(err, kvstore.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
