package wallet

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func TestPromptApprover(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptApprover(strings.NewReader("y\nno\nYES\n"), &out)
	ctx := context.Background()

	if !p.ApproveAccounts(ctx, []common.Address{common.HexToAddress("0x01")}) {
		t.Fatalf("expected approval for 'y'")
	}
	tx := TxArgs{To: "0x0000000000000000000000000000000000000002", Value: (*hexutil.Big)(big.NewInt(5))}
	if p.ConfirmTransaction(ctx, tx) {
		t.Fatalf("expected rejection for 'no'")
	}
	if !p.ConfirmTransaction(ctx, tx) {
		t.Fatalf("expected approval for 'YES'")
	}
	// Input exhausted.
	if p.ConfirmTransaction(ctx, tx) {
		t.Fatalf("expected rejection on EOF")
	}
	if !strings.Contains(out.String(), "value 5 wei") {
		t.Fatalf("prompt output: %q", out.String())
	}
}
