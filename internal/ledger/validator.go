package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every token is zero-sum across holders
// and its issuer account.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for token, total := range totals {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", token.Hex(), total)
		}
	}

	return nil
}

// ValidateHoldersNonNegative verifies no holder account went negative.
func (v *InvariantValidator) ValidateHoldersNonNegative() error {
	for key := range v.tracker.balances {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}
