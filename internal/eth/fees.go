package eth

import (
	"errors"
	"math"
	"math/big"
)

// WeiPerGwei scales gwei-denominated flags into wei.
var WeiPerGwei = big.NewInt(1_000_000_000)

var ErrInvalidFeeArgs = errors.New("eth: invalid fee args")

// Calc1559Fees returns EIP-1559 fee caps for a transaction built from the latest header.
//
// Policy:
// - tipCap = max(suggestedTipCap, minTipCap)
// - feeCap = 2*baseFee + tipCap
func Calc1559Fees(baseFee, suggestedTipCap, minTipCap *big.Int) (tipCap, feeCap *big.Int, err error) {
	if baseFee == nil || suggestedTipCap == nil || minTipCap == nil {
		return nil, nil, ErrInvalidFeeArgs
	}
	if baseFee.Sign() < 0 || suggestedTipCap.Sign() < 0 || minTipCap.Sign() < 0 {
		return nil, nil, ErrInvalidFeeArgs
	}

	tip := new(big.Int).Set(suggestedTipCap)
	if tip.Cmp(minTipCap) < 0 {
		tip.Set(minTipCap)
	}

	fee := new(big.Int).Mul(baseFee, big.NewInt(2))
	fee.Add(fee, tip)

	return tip, fee, nil
}

// ApplyGasMultiplier scales an estimate, never returning less than the estimate itself.
func ApplyGasMultiplier(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	f := math.Ceil(float64(est) * mult)
	if f >= math.MaxUint64 || math.IsNaN(f) {
		return est
	}
	out := uint64(f)
	if out < est {
		// float error; fall back to the estimate.
		return est
	}
	return out
}
