package math

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveWeight = errors.New("weight must be positive")
	ErrZeroTotal         = errors.New("weights sum to zero")
	ErrSumMismatch       = errors.New("weights do not sum to one")
)

// intentSumTolerance bounds how far human-entered fractional weights may
// drift from 1 before they are rejected.
var intentSumTolerance = decimal.New(1, -10)

// NormalizeWeights rescales weights proportionally so they sum exactly to
// scale. Each entry is floored; the rounding remainder goes to the LAST
// entry. Inputs are not modified.
func NormalizeWeights(weights []*big.Int, scale *big.Int) ([]*big.Int, error) {
	total := new(big.Int)
	for i, w := range weights {
		if w == nil || w.Sign() <= 0 {
			return nil, fmt.Errorf("entry %d: %w", i, ErrNonPositiveWeight)
		}
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return nil, ErrZeroTotal
	}

	out := make([]*big.Int, len(weights))
	if total.Cmp(scale) == 0 {
		for i, w := range weights {
			out[i] = new(big.Int).Set(w)
		}
		return out, nil
	}

	assigned := new(big.Int)
	for i, w := range weights {
		out[i] = MulDiv(w, scale, total, RoundDown)
		assigned.Add(assigned, out[i])
	}
	last := out[len(out)-1]
	last.Add(last, new(big.Int).Sub(scale, assigned))
	return out, nil
}

// RoundWithFixedSum rounds values to integers summing exactly to target
// using the largest-remainder method: every value is floored, then the
// units still missing go to the entries with the largest fractional parts
// (earlier entries win ties).
func RoundWithFixedSum(values []decimal.Decimal, target *big.Int) ([]*big.Int, error) {
	type frac struct {
		idx  int
		part decimal.Decimal
	}

	out := make([]*big.Int, len(values))
	fracs := make([]frac, len(values))
	floored := new(big.Int)
	for i, v := range values {
		f := v.Floor()
		out[i] = f.BigInt()
		floored.Add(floored, out[i])
		fracs[i] = frac{idx: i, part: v.Sub(f)}
	}

	missing := new(big.Int).Sub(target, floored)
	if missing.Sign() < 0 || missing.Cmp(big.NewInt(int64(len(values)))) > 0 {
		return nil, fmt.Errorf("cannot reach %s from floored sum %s", target, floored)
	}

	sort.SliceStable(fracs, func(i, j int) bool {
		return fracs[i].part.GreaterThan(fracs[j].part)
	})
	for k := int64(0); k < missing.Int64(); k++ {
		o := out[fracs[k].idx]
		o.Add(o, big.NewInt(1))
	}
	return out, nil
}

// ScaleIntent turns fractional weights (summing to 1 within tolerance)
// into integer weights at intentDecimals summing exactly to
// 10^intentDecimals.
func ScaleIntent(weights []decimal.Decimal, intentDecimals uint8) ([]*big.Int, error) {
	sum := decimal.Zero
	for i, w := range weights {
		if !w.IsPositive() {
			return nil, fmt.Errorf("entry %d: %w", i, ErrNonPositiveWeight)
		}
		sum = sum.Add(w)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(intentSumTolerance) {
		return nil, fmt.Errorf("%w: got %s", ErrSumMismatch, sum)
	}

	factor := decimal.NewFromBigInt(Pow10(intentDecimals), 0)
	scaled := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		scaled[i] = w.Mul(factor)
	}
	return RoundWithFixedSum(scaled, Pow10(intentDecimals))
}
