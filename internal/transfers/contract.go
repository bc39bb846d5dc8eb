package transfers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/transferbook/txprovider/internal/eth"
	"github.com/transferbook/txprovider/internal/wallet"
)

var (
	ErrInvalidConfig = errors.New("transfers: invalid config")
	ErrInvalidInput  = errors.New("transfers: invalid input")
)

// Record mirrors Transactions.TransferStruct.
type Record struct {
	Sender    common.Address
	Receiver  common.Address
	Amount    *big.Int
	Message   string
	Timestamp time.Time
	Keyword   string
}

type recordABI struct {
	Sender    common.Address
	Receiver  common.Address
	Amount    *big.Int
	Message   string
	Timestamp *big.Int
	Keyword   string
}

// TransferEvent is a decoded Transactions.Transfer log.
type TransferEvent struct {
	From      common.Address
	Receiver  common.Address
	Amount    *big.Int
	Message   string
	Timestamp *big.Int
	Keyword   string
}

type Config struct {
	Address common.Address

	// ReceiptPollInterval paces Wait. Defaults to eth.DefaultReceiptPollInterval.
	ReceiptPollInterval time.Duration
	Sleep               func(ctx context.Context, d time.Duration) error
}

// Contract is a binding for the Transactions contract. Reads and writes both go through the
// injected wallet, the way a browser dapp talks to its chain.
type Contract struct {
	w   wallet.Wallet
	abi abi.ABI
	cfg Config
}

func NewContract(w wallet.Wallet, cfg Config) (*Contract, error) {
	if (cfg.Address == common.Address{}) {
		return nil, fmt.Errorf("%w: missing contract address", ErrInvalidConfig)
	}
	parsed, err := loadABI()
	if err != nil {
		return nil, err
	}
	return &Contract{w: w, abi: parsed, cfg: cfg}, nil
}

func (c *Contract) Address() common.Address { return c.cfg.Address }

// PendingTx is the handle for a submitted contract transaction.
type PendingTx struct {
	hash common.Hash
	c    *Contract
}

func (p *PendingTx) Hash() common.Hash { return p.hash }

// Wait blocks until the transaction is mined. A reverted transaction returns its receipt
// together with eth.ErrReverted.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	return eth.WaitMined(ctx, wallet.Chain{Wallet: p.c.w}, p.hash, eth.WaitConfig{
		PollInterval: p.c.cfg.ReceiptPollInterval,
		Sleep:        p.c.cfg.Sleep,
	})
}

// PackAddToBlockchain returns calldata for addToBlockchain(receiver, amount, message, keyword).
func PackAddToBlockchain(receiver string, amount *big.Int, message, keyword string) ([]byte, error) {
	parsed, err := loadABI()
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(receiver) {
		return nil, fmt.Errorf("%w: receiver %q is not an address", ErrInvalidInput, receiver)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be >= 0", ErrInvalidInput)
	}
	b, err := parsed.Pack("addToBlockchain", common.HexToAddress(receiver), amount, message, keyword)
	if err != nil {
		return nil, fmt.Errorf("transfers: pack addToBlockchain: %w", err)
	}
	return b, nil
}

// AddToBlockchain sends addToBlockchain from the given account and returns without waiting.
func (c *Contract) AddToBlockchain(ctx context.Context, from common.Address, receiver string, amount *big.Int, message, keyword string) (*PendingTx, error) {
	data, err := PackAddToBlockchain(receiver, amount, message, keyword)
	if err != nil {
		return nil, err
	}
	args := wallet.TxArgs{To: c.cfg.Address.Hex(), Data: data}
	if (from != common.Address{}) {
		args.From = &from
	}
	h, err := wallet.SendTransaction(ctx, c.w, args)
	if err != nil {
		return nil, fmt.Errorf("transfers: send addToBlockchain: %w", err)
	}
	return &PendingTx{hash: h, c: c}, nil
}

func (c *Contract) GetTransactionCount(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "getTransactionCount")
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("transfers: getTransactionCount: unexpected type %T", out[0])
	}
	return n, nil
}

func (c *Contract) GetAllTransactions(ctx context.Context) ([]Record, error) {
	out, err := c.call(ctx, "getAllTransactions")
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]recordABI)).(*[]recordABI)

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		rec := Record{
			Sender:   r.Sender,
			Receiver: r.Receiver,
			Amount:   r.Amount,
			Message:  r.Message,
			Keyword:  r.Keyword,
		}
		if r.Timestamp != nil && r.Timestamp.IsInt64() {
			rec.Timestamp = time.Unix(r.Timestamp.Int64(), 0).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("transfers: pack %s: %w", method, err)
	}
	res, err := wallet.Call(ctx, c.w, wallet.TxArgs{To: c.cfg.Address.Hex(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("transfers: call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("transfers: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("transfers: %s returned no values", method)
	}
	return out, nil
}

// TransferEvents decodes the Transfer logs this contract emitted in receipt.
func (c *Contract) TransferEvents(receipt *types.Receipt) ([]TransferEvent, error) {
	if receipt == nil {
		return nil, nil
	}
	ev := c.abi.Events["Transfer"]

	var out []TransferEvent
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.cfg.Address || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		var te TransferEvent
		if err := c.abi.UnpackIntoInterface(&te, "Transfer", l.Data); err != nil {
			return nil, fmt.Errorf("transfers: unpack Transfer log %d: %w", l.Index, err)
		}
		out = append(out, te)
	}
	return out, nil
}
