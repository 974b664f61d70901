package math

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// SmoothFeeController sets the per-epoch protocol fee rate that steers the
// protocol buffer toward a target fraction of total assets. The error term
// is zeroed inside a deadband, exponentially smoothed, scaled by a
// proportional gain, and the resulting fee may move at most maxChange per
// epoch. The fee never goes negative.
type SmoothFeeController struct {
	targetRatio decimal.Decimal
	maxChange   decimal.Decimal
	smoothing   decimal.Decimal
	deadband    decimal.Decimal
	gain        decimal.Decimal

	previousFee   decimal.Decimal
	smoothedError decimal.Decimal
}

// FeeControllerState is the mutable part of the controller, captured for
// snapshots and rollback.
type FeeControllerState struct {
	PreviousFee   decimal.Decimal `json:"previous_fee"`
	SmoothedError decimal.Decimal `json:"smoothed_error"`
}

func NewSmoothFeeController(targetRatio, maxChange, smoothing, deadband, gain decimal.Decimal) *SmoothFeeController {
	return &SmoothFeeController{
		targetRatio: targetRatio,
		maxChange:   maxChange,
		smoothing:   smoothing,
		deadband:    deadband,
		gain:        gain,
	}
}

// Next advances the controller by one epoch and returns the new fee rate.
// With no assets under management there is nothing to steer; the previous
// rate is returned and the state is left as is.
func (c *SmoothFeeController) Next(buffer, totalAssets *big.Int) decimal.Decimal {
	if totalAssets == nil || totalAssets.Sign() <= 0 {
		return c.previousFee
	}

	ratio := decimal.NewFromBigInt(buffer, 0).Div(decimal.NewFromBigInt(totalAssets, 0))
	errTerm := c.targetRatio.Sub(ratio)
	if errTerm.Abs().LessThan(c.deadband) {
		errTerm = decimal.Zero
	}

	one := decimal.NewFromInt(1)
	c.smoothedError = c.smoothing.Mul(errTerm).Add(one.Sub(c.smoothing).Mul(c.smoothedError))

	target := c.gain.Mul(c.smoothedError)
	change := target.Sub(c.previousFee)
	if change.GreaterThan(c.maxChange) {
		change = c.maxChange
	} else if change.LessThan(c.maxChange.Neg()) {
		change = c.maxChange.Neg()
	}

	fee := c.previousFee.Add(change)
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	c.previousFee = fee
	return fee
}

// Rate returns the most recent fee rate without advancing.
func (c *SmoothFeeController) Rate() decimal.Decimal {
	return c.previousFee
}

func (c *SmoothFeeController) State() FeeControllerState {
	return FeeControllerState{PreviousFee: c.previousFee, SmoothedError: c.smoothedError}
}

func (c *SmoothFeeController) Restore(s FeeControllerState) {
	c.previousFee = s.PreviousFee
	c.smoothedError = s.SmoothedError
}

// ApplyRate returns floor(amount * rate) in amount's units. Negative
// amounts and rates yield zero.
func ApplyRate(amount *big.Int, rate decimal.Decimal) *big.Int {
	if amount.Sign() <= 0 || !rate.IsPositive() {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(rate).Floor().BigInt()
}
