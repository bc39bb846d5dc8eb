package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the precision of the chain's native currency (wei per ether = 10^18).
const EtherDecimals = 18

var ErrInvalidAmount = errors.New("units: invalid amount")

// ParseEther converts a decimal ether string ("1.5") into wei.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

// ParseUnits converts a decimal string into its smallest-unit integer for a currency with the
// given number of decimals.
//
// The sign is kept: "-1" parses to -10^decimals. Only plain decimal notation is accepted, so
// exponents ("1e3") and a leading "+" are rejected. Fractions finer than the currency precision
// are rejected rather than truncated.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidAmount, decimals)
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.ContainsAny(s, "eE+") {
		return nil, fmt.Errorf("%w: %q is not plain decimal notation", ErrInvalidAmount, amount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.Exponent() < -decimals {
		// NewFromString keeps trailing zeros in the exponent; only real digits matter.
		if !d.Equal(d.Truncate(decimals)) {
			return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, amount, decimals)
		}
	}
	return d.Shift(decimals).BigInt(), nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
