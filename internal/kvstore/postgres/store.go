package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transferbook/txprovider/internal/kvstore"
)

var ErrInvalidConfig = errors.New("kvstore/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

var _ kvstore.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("kvstore/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return "", err
	}

	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kvstore.ErrNotFound
		}
		return "", fmt.Errorf("kvstore/postgres: get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("kvstore/postgres: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kvstore/postgres: delete: %w", err)
	}
	return nil
}
