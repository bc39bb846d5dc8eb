package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var ErrInvalidRPCConfig = errors.New("wallet: invalid rpc config")

// Caller is the subset of *rpc.Client the RPC wallet needs.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// RPCWallet forwards every request to a JSON-RPC endpoint whose node (or signer daemon)
// manages the accounts, e.g. geth with an unlocked keystore, anvil or clef.
type RPCWallet struct {
	client Caller
	closer func()
	log    *slog.Logger
}

// DialRPC connects to rawURL (http, ws or ipc).
func DialRPC(ctx context.Context, rawURL string, log *slog.Logger) (*RPCWallet, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidRPCConfig)
	}
	c, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial %s: %w", rawURL, err)
	}
	w, err := NewRPCWallet(c, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	w.closer = c.Close
	return w, nil
}

func NewRPCWallet(c Caller, log *slog.Logger) (*RPCWallet, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil client", ErrInvalidRPCConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RPCWallet{client: c, log: log}, nil
}

func (w *RPCWallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	raw, err := w.call(ctx, method, params...)
	if err != nil && method == MethodRequestAccounts && ErrorCode(err) == CodeMethodNotFound {
		// Nodes expose their accounts without an authorization step.
		w.log.Debug("eth_requestAccounts unsupported, falling back to eth_accounts")
		return w.call(ctx, MethodAccounts)
	}
	return raw, err
}

func (w *RPCWallet) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := w.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (w *RPCWallet) Close() {
	if w.closer != nil {
		w.closer()
	}
}
