package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/transferbook/txprovider/internal/kvstore"
	"github.com/transferbook/txprovider/internal/transfers"
	"github.com/transferbook/txprovider/internal/wallet"
)

var (
	alice   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	carol   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	txOne   = common.HexToHash("0x1111")
	txTwo   = common.HexToHash("0x2222")
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type walletCall struct {
	method string
	params []any
}

type fakeWallet struct {
	mu        sync.Mutex
	calls     []walletCall
	responses map[string]json.RawMessage
	errs      map[string]error
}

func (w *fakeWallet) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, walletCall{method: method, params: params})
	if err, ok := w.errs[method]; ok {
		return nil, err
	}
	raw, ok := w.responses[method]
	if !ok {
		return nil, &wallet.RequestError{Code: wallet.CodeMethodNotFound, Message: "method not found"}
	}
	return raw, nil
}

func (w *fakeWallet) methods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.calls))
	for i, c := range w.calls {
		out[i] = c.method
	}
	return out
}

func (w *fakeWallet) lastArgs(t *testing.T, method string) wallet.TxArgs {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.calls) - 1; i >= 0; i-- {
		if w.calls[i].method == method {
			args, ok := w.calls[i].params[0].(wallet.TxArgs)
			if !ok {
				t.Fatalf("%s params[0]: got %T", method, w.calls[i].params[0])
			}
			return args
		}
	}
	t.Fatalf("no %s call recorded", method)
	return wallet.TxArgs{}
}

func accountsJSON(addrs ...common.Address) json.RawMessage {
	b, _ := json.Marshal(addrs)
	return b
}

func hashJSON(h common.Hash) json.RawMessage {
	b, _ := json.Marshal(h)
	return b
}

// sendingWallet authorizes alice and accepts transfers with txOne.
func sendingWallet() *fakeWallet {
	return &fakeWallet{responses: map[string]json.RawMessage{
		wallet.MethodAccounts:        accountsJSON(alice),
		wallet.MethodRequestAccounts: accountsJSON(alice),
		wallet.MethodSendTransaction: hashJSON(txOne),
	}}
}

type fakePending struct {
	hash    common.Hash
	receipt *types.Receipt
	err     error
	// onWait runs before Wait returns.
	onWait func()
}

func (p *fakePending) Hash() common.Hash { return p.hash }

func (p *fakePending) Wait(context.Context) (*types.Receipt, error) {
	if p.onWait != nil {
		p.onWait()
	}
	return p.receipt, p.err
}

type addCall struct {
	from     common.Address
	receiver string
	amount   *big.Int
	message  string
	keyword  string
}

type fakeContract struct {
	mu       sync.Mutex
	adds     []addCall
	addErr   error
	pending  *fakePending
	count    *big.Int
	countErr error
	records  []transfers.Record
	events   []transfers.TransferEvent
}

func newFakeContract(count int64) *fakeContract {
	return &fakeContract{
		pending: &fakePending{
			hash: txTwo,
			receipt: &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				TxHash:      txTwo,
				BlockNumber: big.NewInt(88),
			},
		},
		count: big.NewInt(count),
	}
}

func (c *fakeContract) AddToBlockchain(_ context.Context, from common.Address, receiver string, amount *big.Int, message, keyword string) (PendingTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds = append(c.adds, addCall{from: from, receiver: receiver, amount: amount, message: message, keyword: keyword})
	if c.addErr != nil {
		return nil, c.addErr
	}
	return c.pending, nil
}

func (c *fakeContract) GetTransactionCount(context.Context) (*big.Int, error) {
	if c.countErr != nil {
		return nil, c.countErr
	}
	return new(big.Int).Set(c.count), nil
}

func (c *fakeContract) GetAllTransactions(context.Context) ([]transfers.Record, error) {
	if c.countErr != nil {
		return nil, c.countErr
	}
	return c.records, nil
}

func (c *fakeContract) TransferEvents(*types.Receipt) ([]transfers.TransferEvent, error) {
	return c.events, nil
}

type recordingSink struct {
	mu   sync.Mutex
	subs []Submission
	err  error
}

func (s *recordingSink) Record(_ context.Context, sub Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return s.err
}

type failingStore struct {
	kvstore.Store
	setErr error
	getErr error
}

func (s failingStore) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s failingStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

type harness struct {
	p        *Provider
	wallet   *fakeWallet
	contract *fakeContract
	store    *kvstore.MemoryStore
	alerts   *AlertBuffer
}

func newHarness(t *testing.T, w *fakeWallet, c *fakeContract) harness {
	t.Helper()
	return newHarnessWithStore(t, w, c, kvstore.NewMemoryStore())
}

// newHarnessWithStore builds the provider over a store the caller may have seeded.
func newHarnessWithStore(t *testing.T, w *fakeWallet, c *fakeContract, store *kvstore.MemoryStore) harness {
	t.Helper()
	h := harness{
		wallet:   w,
		contract: c,
		store:    store,
		alerts:   NewAlertBuffer(0, nil),
	}
	cfg := Config{
		Contract: c,
		Store:    h.store,
		Alerter:  h.alerts,
		Log:      discard,
	}
	if w != nil {
		cfg.Wallet = w
	}
	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p
	return h
}

func alertMessages(b *AlertBuffer) []string {
	var out []string
	for _, a := range b.Alerts() {
		out = append(out, a.Message)
	}
	return out
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if pe.Kind != want {
		t.Fatalf("kind: got %s want %s (err=%v)", pe.Kind, want, err)
	}
	return pe
}
