package eth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNoncer struct {
	mu    sync.Mutex
	nonce uint64
	calls int
	err   error
}

func (f *fakeNoncer) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.nonce, nil
}

func TestNonceManager_Next_InitializesFromBackendOnce(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	backend := &fakeNoncer{nonce: 5}

	m := NewNonceManager(backend, addr)

	n0, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n0 != 5 {
		t.Fatalf("nonce: got %d want %d", n0, 5)
	}

	n1, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n1 != 6 {
		t.Fatalf("nonce: got %d want %d", n1, 6)
	}

	if backend.calls != 1 {
		t.Fatalf("backend calls: got %d want %d", backend.calls, 1)
	}
}

func TestNonceManager_Invalidate_ReloadsFromBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 10}
	m := NewNonceManager(backend, common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"))

	_, _ = m.Next(ctx) // 10, never broadcast
	m.Invalidate()

	n, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n != 10 {
		t.Fatalf("nonce after Invalidate: got %d want %d", n, 10)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls: got %d want %d", backend.calls, 2)
	}
}

func TestNonceManager_Next_PropagatesBackendError(t *testing.T) {
	backend := &fakeNoncer{err: errors.New("boom")}
	m := NewNonceManager(backend, common.Address{})

	if _, err := m.Next(context.Background()); err == nil {
		t.Fatalf("expected error")
	}

	backend.err = nil
	backend.nonce = 3
	n, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n != 3 {
		t.Fatalf("nonce: got %d want 3", n)
	}
}
