package provider

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("provider: invalid config")
	ErrNoAccounts    = errors.New("provider: wallet returned no accounts")
	ErrUnknownField  = errors.New("provider: unknown form field")
)

// Kind classifies why a provider operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindWalletAbsent means no wallet is configured.
	KindWalletAbsent
	// KindWalletRejected means the user declined, or the wallet refused, an account or
	// transfer request.
	KindWalletRejected
	// KindTransferFailed means the native transfer request failed for a reason other than
	// a user rejection.
	KindTransferFailed
	// KindContractCallFailed covers the record call, its confirmation and the count read.
	KindContractCallFailed
	// KindInvalidAmount means the form amount is not a decimal ether value.
	KindInvalidAmount
)

func (k Kind) String() string {
	switch k {
	case KindWalletAbsent:
		return "wallet_absent"
	case KindWalletRejected:
		return "wallet_rejected"
	case KindTransferFailed:
		return "transfer_failed"
	case KindContractCallFailed:
		return "contract_call_failed"
	case KindInvalidAmount:
		return "invalid_amount"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognized names map to KindUnknown.
func ParseKind(s string) Kind {
	for k := KindWalletAbsent; k <= KindInvalidAmount; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Error is returned by every failing provider operation. Err is the original cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
