package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/transferbook/txprovider/internal/eth"
	"github.com/transferbook/txprovider/internal/wallet"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	sender       = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	receiver     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type request struct {
	method string
	params []any
}

type fakeWallet struct {
	requests  []request
	responses map[string][]json.RawMessage
	errs      map[string]error
}

func (w *fakeWallet) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	w.requests = append(w.requests, request{method: method, params: params})
	if err, ok := w.errs[method]; ok {
		return nil, err
	}
	queue := w.responses[method]
	if len(queue) == 0 {
		return nil, &wallet.RequestError{Code: wallet.CodeMethodNotFound, Message: "method not found"}
	}
	raw := queue[0]
	if len(queue) > 1 {
		w.responses[method] = queue[1:]
	}
	return raw, nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestContract(t *testing.T, w wallet.Wallet) *Contract {
	t.Helper()
	c, err := NewContract(w, Config{Address: contractAddr, Sleep: noSleep})
	if err != nil {
		t.Fatalf("NewContract: %v", err)
	}
	return c
}

func receiptJSON(t *testing.T, status uint64, txHash common.Hash, logs []*types.Log) json.RawMessage {
	t.Helper()
	if logs == nil {
		logs = []*types.Log{}
	}
	return mustJSON(t, &types.Receipt{
		Status:            status,
		CumulativeGasUsed: 50_000,
		GasUsed:           50_000,
		Logs:              logs,
		TxHash:            txHash,
		BlockNumber:       big.NewInt(7),
		BlockHash:         common.HexToHash("0xb10c"),
	})
}

func TestNewContract_RequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewContract(&fakeWallet{}, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPackAddToBlockchain_SelectorAndArgs(t *testing.T) {
	t.Parallel()

	data, err := PackAddToBlockchain(receiver, big.NewInt(1500), "hi", "cat")
	if err != nil {
		t.Fatalf("PackAddToBlockchain: %v", err)
	}
	parsed, err := loadABI()
	if err != nil {
		t.Fatalf("loadABI: %v", err)
	}
	m := parsed.Methods["addToBlockchain"]
	if string(data[:4]) != string(m.ID) {
		t.Fatalf("selector: got %x want %x", data[:4], m.ID)
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := args[0].(common.Address); got != common.HexToAddress(receiver) {
		t.Fatalf("receiver: got %s", got)
	}
	if got := args[1].(*big.Int); got.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("amount: got %s", got)
	}
	if args[2].(string) != "hi" || args[3].(string) != "cat" {
		t.Fatalf("strings: got %v", args[2:])
	}
}

func TestPackAddToBlockchain_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := PackAddToBlockchain("not-an-address", big.NewInt(1), "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad receiver: got %v", err)
	}
	if _, err := PackAddToBlockchain(receiver, big.NewInt(-1), "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := PackAddToBlockchain(receiver, nil, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil amount: got %v", err)
	}
}

func TestAddToBlockchain_SendsThroughWalletAndWaits(t *testing.T) {
	t.Parallel()

	txHash := common.HexToHash("0x1234")
	w := &fakeWallet{responses: map[string][]json.RawMessage{
		wallet.MethodSendTransaction: {mustJSON(t, txHash)},
		// First poll: not yet mined.
		wallet.MethodGetReceipt: {json.RawMessage("null"), receiptJSON(t, types.ReceiptStatusSuccessful, txHash, nil)},
	}}
	c := newTestContract(t, w)

	pending, err := c.AddToBlockchain(context.Background(), sender, receiver, big.NewInt(10), "m", "k")
	if err != nil {
		t.Fatalf("AddToBlockchain: %v", err)
	}
	if pending.Hash() != txHash {
		t.Fatalf("hash: got %s want %s", pending.Hash(), txHash)
	}

	args, ok := w.requests[0].params[0].(wallet.TxArgs)
	if !ok {
		t.Fatalf("params[0]: got %T", w.requests[0].params[0])
	}
	if args.To != contractAddr.Hex() {
		t.Fatalf("to: got %s", args.To)
	}
	if args.From == nil || *args.From != sender {
		t.Fatalf("from: got %v", args.From)
	}
	if args.Value != nil || args.Gas != nil {
		t.Fatalf("expected no value/gas on record call, got value=%v gas=%v", args.Value, args.Gas)
	}

	receipt, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if receipt.TxHash != txHash {
		t.Fatalf("receipt hash: got %s", receipt.TxHash)
	}
	if got := len(w.requests); got != 3 {
		t.Fatalf("requests: got %d want 3", got)
	}
}

func TestPendingTxWait_Reverted(t *testing.T) {
	t.Parallel()

	txHash := common.HexToHash("0xdead")
	w := &fakeWallet{responses: map[string][]json.RawMessage{
		wallet.MethodSendTransaction: {mustJSON(t, txHash)},
		wallet.MethodGetReceipt:      {receiptJSON(t, types.ReceiptStatusFailed, txHash, nil)},
	}}
	c := newTestContract(t, w)

	pending, err := c.AddToBlockchain(context.Background(), sender, receiver, big.NewInt(1), "", "")
	if err != nil {
		t.Fatalf("AddToBlockchain: %v", err)
	}
	receipt, err := pending.Wait(context.Background())
	if !errors.Is(err, eth.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusFailed {
		t.Fatalf("expected failed receipt, got %+v", receipt)
	}
}

func TestAddToBlockchain_WalletErrorIsWrapped(t *testing.T) {
	t.Parallel()

	rejected := &wallet.RequestError{Code: wallet.CodeUserRejected, Message: "User denied"}
	w := &fakeWallet{errs: map[string]error{wallet.MethodSendTransaction: rejected}}
	c := newTestContract(t, w)

	_, err := c.AddToBlockchain(context.Background(), sender, receiver, big.NewInt(1), "", "")
	if !wallet.IsUserRejected(err) {
		t.Fatalf("expected user rejection to survive wrapping, got %v", err)
	}
}

func TestGetTransactionCount(t *testing.T) {
	t.Parallel()

	parsed, err := loadABI()
	if err != nil {
		t.Fatalf("loadABI: %v", err)
	}
	out, err := parsed.Methods["getTransactionCount"].Outputs.Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	w := &fakeWallet{responses: map[string][]json.RawMessage{
		wallet.MethodCall: {mustJSON(t, hexutil.Bytes(out))},
	}}
	c := newTestContract(t, w)

	n, err := c.GetTransactionCount(context.Background())
	if err != nil {
		t.Fatalf("GetTransactionCount: %v", err)
	}
	if n.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("count: got %s want 42", n)
	}

	args := w.requests[0].params[0].(wallet.TxArgs)
	if len(args.Data) != 4 || string(args.Data) != string(parsed.Methods["getTransactionCount"].ID) {
		t.Fatalf("calldata: got %x", args.Data)
	}
	if w.requests[0].params[1] != "latest" {
		t.Fatalf("block tag: got %v", w.requests[0].params[1])
	}
}

func TestGetTransactionCount_EmptyResultFails(t *testing.T) {
	t.Parallel()

	w := &fakeWallet{responses: map[string][]json.RawMessage{
		wallet.MethodCall: {json.RawMessage(`"0x"`)},
	}}
	c := newTestContract(t, w)

	if _, err := c.GetTransactionCount(context.Background()); err == nil {
		t.Fatalf("expected error for empty return data")
	}
}

func TestGetAllTransactions(t *testing.T) {
	t.Parallel()

	parsed, err := loadABI()
	if err != nil {
		t.Fatalf("loadABI: %v", err)
	}
	in := []recordABI{
		{
			Sender:    sender,
			Receiver:  common.HexToAddress(receiver),
			Amount:    big.NewInt(1e18),
			Message:   "rent",
			Timestamp: big.NewInt(1_700_000_000),
			Keyword:   "house",
		},
		{
			Sender:    common.HexToAddress(receiver),
			Receiver:  sender,
			Amount:    big.NewInt(5),
			Message:   "",
			Timestamp: big.NewInt(1_700_000_100),
			Keyword:   "gift",
		},
	}
	out, err := parsed.Methods["getAllTransactions"].Outputs.Pack(in)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	w := &fakeWallet{responses: map[string][]json.RawMessage{
		wallet.MethodCall: {mustJSON(t, hexutil.Bytes(out))},
	}}
	c := newTestContract(t, w)

	got, err := c.GetAllTransactions(context.Background())
	if err != nil {
		t.Fatalf("GetAllTransactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records: got %d want 2", len(got))
	}
	if got[0].Sender != sender || got[0].Message != "rent" || got[0].Keyword != "house" {
		t.Fatalf("record 0: %+v", got[0])
	}
	if got[0].Amount.Cmp(big.NewInt(1e18)) != 0 {
		t.Fatalf("amount: got %s", got[0].Amount)
	}
	if !got[1].Timestamp.Equal(time.Unix(1_700_000_100, 0)) {
		t.Fatalf("timestamp: got %s", got[1].Timestamp)
	}
}

func TestTransferEvents(t *testing.T) {
	t.Parallel()

	parsed, err := loadABI()
	if err != nil {
		t.Fatalf("loadABI: %v", err)
	}
	ev := parsed.Events["Transfer"]
	data, err := ev.Inputs.Pack(sender, common.HexToAddress(receiver), big.NewInt(99), "hello", big.NewInt(1_700_000_000), "wave")
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}

	c := newTestContract(t, &fakeWallet{})
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: contractAddr, Topics: []common.Hash{ev.ID}, Data: data, Index: 0},
		// Same event from another contract is ignored.
		{Address: common.HexToAddress("0x01"), Topics: []common.Hash{ev.ID}, Data: data, Index: 1},
		// Unrelated topic is ignored.
		{Address: contractAddr, Topics: []common.Hash{common.HexToHash("0x02")}, Data: nil, Index: 2},
	}}

	got, err := c.TransferEvents(receipt)
	if err != nil {
		t.Fatalf("TransferEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events: got %d want 1", len(got))
	}
	if got[0].From != sender || got[0].Receiver != common.HexToAddress(receiver) {
		t.Fatalf("addresses: %+v", got[0])
	}
	if got[0].Amount.Cmp(big.NewInt(99)) != 0 || got[0].Message != "hello" || got[0].Keyword != "wave" {
		t.Fatalf("event: %+v", got[0])
	}

	none, err := c.TransferEvents(nil)
	if err != nil || none != nil {
		t.Fatalf("nil receipt: got %v, %v", none, err)
	}
}
