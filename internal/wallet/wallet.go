// Package wallet models the browser-injected wallet as an injectable dependency.
//
// A Wallet answers EIP-1193 style requests ({method, params}). The helpers in this file give
// the handful of methods the provider needs typed signatures.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSendTransaction = "eth_sendTransaction"
	MethodCall            = "eth_call"
	MethodGetReceipt      = "eth_getTransactionReceipt"
	MethodChainID         = "eth_chainId"
)

// EIP-1193 provider error codes and the JSON-RPC codes wallets commonly surface.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternal          = -32603
)

// NativeTransferGas is the fixed gas allowance for a plain value transfer (0x5208).
const NativeTransferGas uint64 = 21000

var (
	// ErrNoWallet is returned when no wallet has been injected.
	ErrNoWallet = errors.New("wallet: no wallet object found")

	ErrInvalidResponse = errors.New("wallet: invalid response")
)

type Wallet interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// RequestError is a provider error carrying an EIP-1193 / JSON-RPC code.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("wallet: request failed (%d): %s", e.Code, e.Message)
}

// ErrorCode matches go-ethereum's rpc.Error so both error sources classify the same way.
func (e *RequestError) ErrorCode() int { return e.Code }

func userRejected() error {
	return &RequestError{Code: CodeUserRejected, Message: "User rejected the request."}
}

// ErrorCode extracts the provider error code from err, or 0 when it carries none.
func ErrorCode(err error) int {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return 0
}

// IsUserRejected reports whether the wallet's user declined the request.
func IsUserRejected(err error) bool {
	return ErrorCode(err) == CodeUserRejected
}

// TxArgs is the eth_sendTransaction / eth_call parameter object.
//
// To stays a raw string: the provider forwards whatever the form holds and leaves validation
// to the wallet.
type TxArgs struct {
	From  *common.Address `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

func Accounts(ctx context.Context, w Wallet) ([]common.Address, error) {
	return accounts(ctx, w, MethodAccounts)
}

// RequestAccounts asks the wallet to authorize its accounts, which may prompt the user.
func RequestAccounts(ctx context.Context, w Wallet) ([]common.Address, error) {
	return accounts(ctx, w, MethodRequestAccounts)
}

func accounts(ctx context.Context, w Wallet, method string) ([]common.Address, error) {
	var out []common.Address
	if err := request(ctx, w, &out, method); err != nil {
		return nil, err
	}
	return out, nil
}

func SendTransaction(ctx context.Context, w Wallet, args TxArgs) (common.Hash, error) {
	var h common.Hash
	if err := request(ctx, w, &h, MethodSendTransaction, args); err != nil {
		return common.Hash{}, err
	}
	return h, nil
}

// Call runs a read-only call against the latest block.
func Call(ctx context.Context, w Wallet, args TxArgs) ([]byte, error) {
	var out hexutil.Bytes
	if err := request(ctx, w, &out, MethodCall, args, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// TransactionReceipt returns ethereum.NotFound while the transaction is pending.
func TransactionReceipt(ctx context.Context, w Wallet, txHash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	if err := request(ctx, w, &r, MethodGetReceipt, txHash); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func ChainID(ctx context.Context, w Wallet) (*big.Int, error) {
	var id hexutil.Big
	if err := request(ctx, w, &id, MethodChainID); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

func request(ctx context.Context, w Wallet, out any, method string, params ...any) error {
	if w == nil {
		return ErrNoWallet
	}
	raw, err := w.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s: empty result", ErrInvalidResponse, method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
	}
	return nil
}

// Chain adapts a Wallet to the read interfaces used for confirmations.
type Chain struct {
	Wallet Wallet
}

func (c Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return TransactionReceipt(ctx, c.Wallet, txHash)
}

// Observed wraps w so observe sees the method and outcome of every request. A nil w stays
// nil so callers can still detect a missing wallet.
func Observed(w Wallet, observe func(method string, err error)) Wallet {
	if w == nil || observe == nil {
		return w
	}
	return observedWallet{w: w, observe: observe}
}

type observedWallet struct {
	w       Wallet
	observe func(method string, err error)
}

func (o observedWallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	raw, err := o.w.Request(ctx, method, params...)
	o.observe(method, err)
	return raw, err
}
