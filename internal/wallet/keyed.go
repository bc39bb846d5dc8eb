package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/transferbook/txprovider/internal/eth"
)

var ErrInvalidKeyedConfig = errors.New("wallet: invalid keyed wallet config")

// KeyedBackend is the node access a KeyedWallet needs to build and broadcast transactions.
// *ethclient.Client satisfies it.
type KeyedBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type KeyedConfig struct {
	ChainID            *big.Int
	MinTipCap          *big.Int
	GasLimitMultiplier float64

	// Approver defaults to AutoApprove.
	Approver Approver

	// Authorized makes the accounts visible to eth_accounts before any eth_requestAccounts,
	// the state of a wallet the user already connected to this application.
	Authorized bool

	Log *slog.Logger
}

// KeyedWallet is an in-process wallet holding secp256k1 keys. It answers account and
// transaction requests itself and forwards every other method (eth_call, receipts, ...) to a
// node.
type KeyedWallet struct {
	backend KeyedBackend
	fwd     Caller
	cfg     KeyedConfig

	signers map[common.Address]eth.Signer
	order   []common.Address
	nonces  map[common.Address]*eth.NonceManager

	mu         sync.Mutex
	authorized bool
}

func NewKeyedWallet(backend KeyedBackend, fwd Caller, signers []eth.Signer, cfg KeyedConfig) (*KeyedWallet, error) {
	if backend == nil || len(signers) == 0 {
		return nil, ErrInvalidKeyedConfig
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidKeyedConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}
	if cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative min tip", ErrInvalidKeyedConfig)
	}
	if cfg.Approver == nil {
		cfg.Approver = AutoApprove{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	w := &KeyedWallet{
		backend:    backend,
		fwd:        fwd,
		cfg:        cfg,
		signers:    make(map[common.Address]eth.Signer, len(signers)),
		nonces:     make(map[common.Address]*eth.NonceManager, len(signers)),
		authorized: cfg.Authorized,
	}
	for _, s := range signers {
		if s == nil {
			return nil, ErrInvalidKeyedConfig
		}
		addr := s.Address()
		if (addr == common.Address{}) {
			return nil, ErrInvalidKeyedConfig
		}
		if _, ok := w.signers[addr]; ok {
			return nil, fmt.Errorf("%w: duplicate signer address %s", ErrInvalidKeyedConfig, addr)
		}
		w.signers[addr] = s
		w.order = append(w.order, addr)
		w.nonces[addr] = eth.NewNonceManager(backend, addr)
	}
	return w, nil
}

func (w *KeyedWallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case MethodAccounts:
		if !w.isAuthorized() {
			return json.Marshal([]common.Address{})
		}
		return json.Marshal(w.order)
	case MethodRequestAccounts:
		if !w.isAuthorized() {
			if !w.cfg.Approver.ApproveAccounts(ctx, w.addresses()) {
				return nil, userRejected()
			}
			w.mu.Lock()
			w.authorized = true
			w.mu.Unlock()
		}
		return json.Marshal(w.order)
	case MethodChainID:
		return json.Marshal((*hexutil.Big)(w.cfg.ChainID))
	case MethodSendTransaction:
		h, err := w.sendTransaction(ctx, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(h)
	default:
		if w.fwd == nil {
			return nil, &RequestError{Code: CodeUnsupportedMethod, Message: "unsupported method " + method}
		}
		var raw json.RawMessage
		if err := w.fwd.CallContext(ctx, &raw, method, params...); err != nil {
			return nil, err
		}
		return raw, nil
	}
}

func (w *KeyedWallet) isAuthorized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.authorized
}

func (w *KeyedWallet) addresses() []common.Address {
	return append([]common.Address(nil), w.order...)
}

func (w *KeyedWallet) sendTransaction(ctx context.Context, params []any) (common.Hash, error) {
	if !w.isAuthorized() {
		return common.Hash{}, &RequestError{Code: CodeUnauthorized, Message: "accounts not authorized"}
	}
	args, err := decodeTxArgs(params)
	if err != nil {
		return common.Hash{}, err
	}

	from := w.order[0]
	if args.From != nil {
		from = *args.From
	}
	signer, ok := w.signers[from]
	if !ok {
		return common.Hash{}, &RequestError{Code: CodeUnauthorized, Message: "unknown from address " + from.Hex()}
	}
	if !common.IsHexAddress(args.To) {
		return common.Hash{}, &RequestError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid to address %q", args.To)}
	}
	to := common.HexToAddress(args.To)

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	if value.Sign() < 0 {
		return common.Hash{}, &RequestError{Code: CodeInvalidParams, Message: "negative value"}
	}

	if !w.cfg.Approver.ConfirmTransaction(ctx, args) {
		return common.Hash{}, userRejected()
	}

	gas := uint64(0)
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	}
	if gas == 0 {
		est, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: args.Data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("wallet: estimate gas: %w", err)
		}
		gas = eth.ApplyGasMultiplier(est, w.cfg.GasLimitMultiplier)
	}

	suggestedTip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: suggest tip: %w", err)
	}
	header, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: latest header: %w", err)
	}
	if header.BaseFee == nil {
		return common.Hash{}, errors.New("wallet: missing baseFee in latest header")
	}
	tipCap, feeCap, err := eth.Calc1559Fees(header.BaseFee, suggestedTip, w.cfg.MinTipCap)
	if err != nil {
		return common.Hash{}, err
	}

	nm := w.nonces[from]
	nonce, err := nm.Next(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: pending nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      args.Data,
	})
	signed, err := signer.SignTx(tx, w.cfg.ChainID)
	if err != nil {
		nm.Invalidate()
		return common.Hash{}, err
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		nm.Invalidate()
		return common.Hash{}, fmt.Errorf("wallet: broadcast: %w", err)
	}

	w.cfg.Log.Info("transaction broadcast", "from", from.Hex(), "to", to.Hex(), "nonce", nonce, "gas", gas, "tx", signed.Hash().Hex())
	return signed.Hash(), nil
}

// decodeTxArgs normalizes the first request param, which callers may pass as a TxArgs value
// or as a generic JSON object.
func decodeTxArgs(params []any) (TxArgs, error) {
	if len(params) == 0 || params[0] == nil {
		return TxArgs{}, &RequestError{Code: CodeInvalidParams, Message: "missing transaction object"}
	}
	b, err := json.Marshal(params[0])
	if err != nil {
		return TxArgs{}, &RequestError{Code: CodeInvalidParams, Message: err.Error()}
	}
	var args TxArgs
	if err := json.Unmarshal(b, &args); err != nil {
		return TxArgs{}, &RequestError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return args, nil
}
