package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager allocates nonces for one account inside a single process.
//
// The first Next loads the pending nonce from the node; later calls count up locally. When a
// reserved nonce is never broadcast the caller must Invalidate, otherwise every following
// transaction would sit behind a gap.
type NonceManager struct {
	backend PendingNoncer
	addr    common.Address

	mu   sync.Mutex
	next uint64
	have bool
}

func NewNonceManager(backend PendingNoncer, addr common.Address) *NonceManager {
	return &NonceManager{
		backend: backend,
		addr:    addr,
	}
}

func (m *NonceManager) Address() common.Address { return m.addr }

// Next returns the next nonce and reserves it.
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.have {
		n, err := m.backend.PendingNonceAt(ctx, m.addr)
		if err != nil {
			return 0, err
		}
		m.next = n
		m.have = true
	}

	n := m.next
	m.next++
	return n, nil
}

// Invalidate drops the local counter so the next call reloads it from the node.
func (m *NonceManager) Invalidate() {
	m.mu.Lock()
	m.have = false
	m.mu.Unlock()
}
