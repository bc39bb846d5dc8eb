package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
)

var (
	ErrInvalidConfig = errors.New("kvstore: invalid config")
	ErrInvalidKey    = errors.New("kvstore: invalid key")
	ErrNotFound      = errors.New("kvstore: not found")
)

// Store is a durable string key/value store, the Go counterpart of browser local storage.
//
// Semantics:
// - Get returns ErrNotFound for absent keys.
// - Set overwrites (last write wins).
// - Delete is idempotent.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Config selects one of the in-tree drivers. Postgres and Redis stores live in subpackages
// and are constructed directly by their callers.
type Config struct {
	Driver string

	// Path is the JSON file backing DriverFile.
	Path string
}

func New(cfg Config) (Store, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverMemory
	}
	return v
}

// ValidateKey rejects empty keys and keys with surrounding whitespace or control characters.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if key != strings.TrimSpace(key) {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	return nil
}
