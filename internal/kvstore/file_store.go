package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all keys in one JSON object on disk. Writes replace the file atomically
// via rename. It is safe for concurrent use within one process.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: missing file path", ErrInvalidConfig)
	}
	s := &FileStore{path: path, data: make(map[string]string)}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("kvstore: read %s: %w", path, err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("kvstore: decode %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.flushLocked(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("kvstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: replace %s: %w", s.path, err)
	}
	return nil
}
