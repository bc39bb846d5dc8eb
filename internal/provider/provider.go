package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/transferbook/txprovider/internal/kvstore"
	"github.com/transferbook/txprovider/internal/metrics"
	"github.com/transferbook/txprovider/internal/transfers"
	"github.com/transferbook/txprovider/internal/wallet"
)

// CounterKey is the store key mirroring the contract's transaction count.
const CounterKey = "transactionCount"

// PendingTx is a submitted record transaction.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*types.Receipt, error)
}

// Contract is the transfer-log contract as seen by the provider.
type Contract interface {
	AddToBlockchain(ctx context.Context, from common.Address, receiver string, amount *big.Int, message, keyword string) (PendingTx, error)
	GetTransactionCount(ctx context.Context) (*big.Int, error)
	GetAllTransactions(ctx context.Context) ([]transfers.Record, error)
	TransferEvents(receipt *types.Receipt) ([]transfers.TransferEvent, error)
}

// Sink receives every recorded submission. Sink errors are logged and never fail a send.
type Sink interface {
	Record(ctx context.Context, sub Submission) error
}

type Config struct {
	// Wallet is the injected wallet. Nil means no wallet is present.
	Wallet   wallet.Wallet
	Contract Contract

	// Store mirrors the transaction count. Defaults to an in-memory store.
	Store   kvstore.Store
	Alerter Alerter
	Sinks   []Sink
	Metrics *metrics.Provider
	Log     *slog.Logger

	Now func() time.Time
}

// Provider holds wallet session, form and submission state for one user.
//
// State is guarded for memory safety only. Concurrent SendTransaction calls are not
// serialized and the last write wins.
type Provider struct {
	wallet   wallet.Wallet
	contract Contract
	store    kvstore.Store
	alerter  Alerter
	sinks    []Sink
	metrics  *metrics.Provider
	log      *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	account   common.Address
	connected bool
	form      FormData
	loading   bool
	count     *big.Int
	phase     Phase
	outcome   Outcome
	lastErr   error

	// notifyMu is held while a snapshot is taken and delivered, so subscribers see
	// changes in order and the last delivery reflects the current state.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	nextSub  int
	subs     map[int]func(Snapshot)
}

// contractBinding adapts *transfers.Contract to Contract.
type contractBinding struct {
	*transfers.Contract
}

func (b contractBinding) AddToBlockchain(ctx context.Context, from common.Address, receiver string, amount *big.Int, message, keyword string) (PendingTx, error) {
	return b.Contract.AddToBlockchain(ctx, from, receiver, amount, message, keyword)
}

// BindContract wraps a transfers binding for use in Config.
func BindContract(c *transfers.Contract) Contract {
	return contractBinding{Contract: c}
}

// New builds a provider and re-hydrates the transaction count from the store.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Contract == nil {
		return nil, fmt.Errorf("%w: nil contract", ErrInvalidConfig)
	}
	if cfg.Store == nil {
		cfg.Store = kvstore.NewMemoryStore()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = LogAlerter{Log: cfg.Log}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Provider{
		wallet:   cfg.Wallet,
		contract: cfg.Contract,
		store:    cfg.Store,
		alerter:  cfg.Alerter,
		sinks:    append([]Sink(nil), cfg.Sinks...),
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		now:      cfg.Now,
		subs:     make(map[int]func(Snapshot)),
	}

	raw, err := p.store.Get(ctx, CounterKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("provider: load %s: %w", CounterKey, err)
	default:
		n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok {
			p.log.Warn("ignoring stored transaction count", "value", raw)
			break
		}
		p.count = n
		p.metrics.SetTransactionCount(n)
	}
	return p, nil
}

// Mount runs the on-mount connection check. Failures are reported, not returned.
func (p *Provider) Mount(ctx context.Context) {
	if err := p.CheckConnection(ctx); err != nil {
		p.log.Warn("connection check failed", "err", err)
	}
}

// CheckConnection adopts the first already-authorized account without prompting.
// Zero accounts is not an error.
func (p *Provider) CheckConnection(ctx context.Context) error {
	const op = "check connection"
	if p.wallet == nil {
		p.alert(ctx, AlertInstallWallet)
		p.log.Error("no wallet", "op", op)
		return &Error{Op: op, Kind: KindWalletAbsent, Err: wallet.ErrNoWallet}
	}

	accounts, err := wallet.Accounts(ctx, p.wallet)
	if err != nil {
		p.log.Error("list accounts", "err", err)
		return &Error{Op: op, Kind: accountKind(err), Err: err}
	}
	if len(accounts) == 0 {
		p.log.Info("no accounts found")
		return nil
	}
	p.log.Info("accounts", "accounts", accounts)
	p.setAccount(accounts[0])
	return nil
}

// ConnectWallet asks the wallet to authorize accounts and adopts the first one.
func (p *Provider) ConnectWallet(ctx context.Context) error {
	const op = "connect wallet"
	if p.wallet == nil {
		p.alert(ctx, AlertGetWallet)
		p.log.Error("no wallet", "op", op)
		return &Error{Op: op, Kind: KindWalletAbsent, Err: wallet.ErrNoWallet}
	}

	accounts, err := wallet.RequestAccounts(ctx, p.wallet)
	if err != nil {
		p.log.Error("request accounts", "err", err)
		return &Error{Op: op, Kind: accountKind(err), Err: err}
	}
	if len(accounts) == 0 {
		p.log.Error("request accounts", "err", ErrNoAccounts)
		return &Error{Op: op, Kind: KindWalletRejected, Err: ErrNoAccounts}
	}
	p.setAccount(accounts[0])
	return nil
}

func accountKind(err error) Kind {
	if errors.Is(err, wallet.ErrNoWallet) {
		return KindWalletAbsent
	}
	return KindWalletRejected
}

// CurrentAccount returns the checksummed connected account, or "" when not connected.
func (p *Provider) CurrentAccount() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ""
	}
	return p.account.Hex()
}

// HandleChange replaces one form field and leaves the others untouched. Values are not
// validated.
func (p *Provider) HandleChange(f Field, value string) error {
	p.mu.Lock()
	next, err := p.form.with(f, value)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.form = next
	p.mu.Unlock()
	p.notify()
	return nil
}

func (p *Provider) SetFormData(fd FormData) {
	p.mu.Lock()
	p.form = fd
	p.mu.Unlock()
	p.notify()
}

func (p *Provider) FormData() FormData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.form
}

func (p *Provider) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// TransactionCount returns a copy of the cached count, or nil when unknown.
func (p *Provider) TransactionCount() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneInt(p.count)
}

// RecordedTransfers reads every record stored by the contract.
func (p *Provider) RecordedTransfers(ctx context.Context) ([]transfers.Record, error) {
	records, err := p.contract.GetAllTransactions(ctx)
	if err != nil {
		p.log.Error("get all transactions", "err", err)
		return nil, &Error{Op: "recorded transfers", Kind: KindContractCallFailed, Err: err}
	}
	return records, nil
}

// Snapshot is a consistent copy of the provider state.
type Snapshot struct {
	CurrentAccount   string
	Connected        bool
	Form             FormData
	Loading          bool
	TransactionCount *big.Int
	Phase            Phase
	LastOutcome      Outcome
	LastError        error
}

func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Provider) snapshotLocked() Snapshot {
	s := Snapshot{
		Connected:        p.connected,
		Form:             p.form,
		Loading:          p.loading,
		TransactionCount: cloneInt(p.count),
		Phase:            p.phase,
		LastOutcome:      p.outcome,
		LastError:        p.lastErr,
	}
	if p.connected {
		s.CurrentAccount = p.account.Hex()
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every state change. fn runs on the
// goroutine that made the change, one call at a time. It must not block or change provider
// state. The returned func unregisters it.
func (p *Provider) Subscribe(fn func(Snapshot)) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

func (p *Provider) notify() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	snap := p.Snapshot()

	p.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (p *Provider) setAccount(a common.Address) {
	p.mu.Lock()
	p.account = a
	p.connected = true
	p.mu.Unlock()
	p.notify()
}

func (p *Provider) alert(ctx context.Context, msg string) {
	p.metrics.IncAlerts()
	p.alerter.Alert(ctx, msg)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
