package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Approver stands in for the wallet's confirmation UI. It decides whether the user authorizes
// account access and each outgoing transaction.
type Approver interface {
	ApproveAccounts(ctx context.Context, accounts []common.Address) bool
	ConfirmTransaction(ctx context.Context, tx TxArgs) bool
}

// AutoApprove accepts every prompt.
type AutoApprove struct{}

func (AutoApprove) ApproveAccounts(context.Context, []common.Address) bool { return true }
func (AutoApprove) ConfirmTransaction(context.Context, TxArgs) bool        { return true }

// PromptApprover asks on a terminal-like stream and accepts only "y" or "yes".
type PromptApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{in: bufio.NewReader(in), out: out}
}

func (p *PromptApprover) ApproveAccounts(ctx context.Context, accounts []common.Address) bool {
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Hex())
	}
	return p.ask(ctx, fmt.Sprintf("Connect accounts %s? [y/N] ", strings.Join(names, ", ")))
}

func (p *PromptApprover) ConfirmTransaction(ctx context.Context, tx TxArgs) bool {
	value := "0"
	if tx.Value != nil {
		value = tx.Value.ToInt().String()
	}
	return p.ask(ctx, fmt.Sprintf("Send transaction to %s (value %s wei, %d data bytes)? [y/N] ", tx.To, value, len(tx.Data)))
}

func (p *PromptApprover) ask(ctx context.Context, question string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	if _, err := io.WriteString(p.out, question); err != nil {
		return false
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
