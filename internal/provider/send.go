package provider

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/transferbook/txprovider/internal/idempotency"
	"github.com/transferbook/txprovider/internal/metrics"
	"github.com/transferbook/txprovider/internal/units"
	"github.com/transferbook/txprovider/internal/wallet"
)

// Phase is the step a submission is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWalletTransferPending
	PhaseContractCallPending
	PhaseConfirming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWalletTransferPending:
		return "wallet_transfer_pending"
	case PhaseContractCallPending:
		return "contract_call_pending"
	case PhaseConfirming:
		return "confirming"
	default:
		return "unknown"
	}
}

// Outcome is how the last submission ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCounterUpdated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCounterUpdated:
		return "counter_updated"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Submission describes a completed transfer and its on-chain record.
type Submission struct {
	ID               common.Hash
	From             common.Address
	To               string
	AmountWei        *big.Int
	Message          string
	Keyword          string
	TransferTxHash   common.Hash
	RecordTxHash     common.Hash
	RecordBlock      uint64
	TransactionCount *big.Int
	// RecordedAt is the contract's block timestamp from the Transfer event, zero if the
	// receipt carried none.
	RecordedAt time.Time
}

// SendTransaction sends the form amount to AddressTo as a native transfer, records the
// transfer on the contract, waits for the record to be mined and refreshes the count.
//
// The two transactions are independent: a failure after the transfer leaves it in place.
// If confirmation fails the loading flag stays set.
func (p *Provider) SendTransaction(ctx context.Context) (Submission, error) {
	const op = "send transaction"
	start := p.now()

	if p.wallet == nil {
		// Proceeds anyway; the transfer request below fails with KindWalletAbsent.
		p.alert(ctx, AlertGetWallet)
	}

	p.mu.Lock()
	form := p.form
	from := p.account
	p.mu.Unlock()

	amount, err := units.ParseEther(form.Amount)
	if err != nil {
		return Submission{}, p.fail(op, KindInvalidAmount, err, start)
	}

	p.setPhase(PhaseWalletTransferPending)
	gas := hexutil.Uint64(wallet.NativeTransferGas)
	args := wallet.TxArgs{
		To:    form.AddressTo,
		Gas:   &gas,
		Value: (*hexutil.Big)(amount),
	}
	if (from != common.Address{}) {
		args.From = &from
	}
	transferHash, err := wallet.SendTransaction(ctx, p.wallet, args)
	if err != nil {
		return Submission{}, p.fail(op, transferKind(err), err, start)
	}
	p.log.Info("native transfer sent", "tx", transferHash.Hex(), "to", form.AddressTo, "amount_wei", amount.String())

	p.setPhase(PhaseContractCallPending)
	pending, err := p.contract.AddToBlockchain(ctx, from, form.AddressTo, amount, form.Message, form.Keyword)
	if err != nil {
		return Submission{}, p.fail(op, KindContractCallFailed, err, start)
	}
	recordHash := pending.Hash()

	p.setLoading(true, PhaseConfirming)
	p.log.Info("loading", "tx", recordHash.Hex())
	receipt, err := pending.Wait(ctx)
	if err != nil {
		return Submission{}, p.fail(op, KindContractCallFailed, err, start)
	}
	p.setLoading(false, PhaseConfirming)
	p.log.Info("success", "tx", recordHash.Hex())

	count, err := p.contract.GetTransactionCount(ctx)
	if err != nil {
		return Submission{}, p.fail(op, KindContractCallFailed, err, start)
	}

	sub := Submission{
		ID:               idempotency.SubmissionIDV1(transferHash, recordHash),
		From:             from,
		To:               form.AddressTo,
		AmountWei:        amount,
		Message:          form.Message,
		Keyword:          form.Keyword,
		TransferTxHash:   transferHash,
		RecordTxHash:     recordHash,
		TransactionCount: cloneInt(count),
	}
	if receipt != nil && receipt.BlockNumber != nil {
		sub.RecordBlock = receipt.BlockNumber.Uint64()
	}
	events, err := p.contract.TransferEvents(receipt)
	if err != nil {
		p.log.Warn("decode transfer events", "tx", recordHash.Hex(), "err", err)
	}
	for _, ev := range events {
		if ev.Timestamp != nil && ev.Timestamp.IsInt64() {
			sub.RecordedAt = time.Unix(ev.Timestamp.Int64(), 0).UTC()
			break
		}
	}

	p.mu.Lock()
	p.count = cloneInt(count)
	p.phase = PhaseIdle
	p.outcome = OutcomeCounterUpdated
	p.lastErr = nil
	p.mu.Unlock()
	p.metrics.SetTransactionCount(count)
	p.metrics.ObserveSubmission(metrics.OutcomeRecorded, "", p.now().Sub(start))
	p.notify()

	if err := p.store.Set(ctx, CounterKey, count.String()); err != nil {
		p.log.Error("persist transaction count", "key", CounterKey, "err", err)
	}

	for _, s := range p.sinks {
		if err := s.Record(ctx, sub); err != nil {
			p.log.Error("record submission", "submission_id", sub.ID.Hex(), "err", err)
		}
	}
	return sub, nil
}

func transferKind(err error) Kind {
	switch {
	case errors.Is(err, wallet.ErrNoWallet):
		return KindWalletAbsent
	case wallet.IsUserRejected(err):
		return KindWalletRejected
	default:
		return KindTransferFailed
	}
}

// fail ends the submission as failed. The loading flag is left as it is.
func (p *Provider) fail(op string, kind Kind, cause error, start time.Time) error {
	err := &Error{Op: op, Kind: kind, Err: cause}
	p.log.Error("send transaction failed", "kind", kind.String(), "err", cause)

	p.mu.Lock()
	p.phase = PhaseIdle
	p.outcome = OutcomeFailed
	p.lastErr = err
	p.mu.Unlock()
	p.metrics.ObserveSubmission(metrics.OutcomeFailed, kind.String(), p.now().Sub(start))
	p.notify()
	return err
}

func (p *Provider) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
	p.notify()
}

func (p *Provider) setLoading(v bool, ph Phase) {
	p.mu.Lock()
	p.loading = v
	p.phase = ph
	p.mu.Unlock()
	p.metrics.SetLoading(v)
	p.notify()
}
