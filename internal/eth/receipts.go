package eth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrReverted = errors.New("eth: transaction reverted")

const DefaultReceiptPollInterval = 2 * time.Second

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type WaitConfig struct {
	PollInterval time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// WaitMined polls until txHash has a receipt. There is no deadline besides ctx.
//
// A receipt with failed status is returned together with ErrReverted.
func WaitMined(ctx context.Context, r ReceiptReader, txHash common.Hash, cfg WaitConfig) (*types.Receipt, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultReceiptPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	for {
		receipt, err := r.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, txHash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if err := cfg.Sleep(ctx, cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
