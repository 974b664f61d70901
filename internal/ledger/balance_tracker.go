package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) slot(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.slot(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.slot(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(b)
}

// SetBalance overwrites a balance. Used only by snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, amount *big.Int) {
	bt.balances[key] = new(big.Int).Set(amount)
}

// TotalSupply is the negated issuer balance.
func (bt *BalanceTracker) TotalSupply(token common.Address) *big.Int {
	return new(big.Int).Neg(bt.GetBalance(NewIssuerAccountKey(token)))
}

// ValidateNonNegative checks that a holder balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if key.IsIssuer() {
		return nil
	}
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks that key holds at least required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	balance := bt.GetBalance(key)
	if balance.Cmp(required) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, key.AccountPath(), balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per token (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[common.Address]*big.Int {
	totals := make(map[common.Address]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.Token]
		if !ok {
			t = new(big.Int)
			totals[key.Token] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// Restore replaces every balance with the given snapshot.
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]*big.Int) {
	bt.balances = make(map[AccountKey]*big.Int, len(snapshot))
	for k, v := range snapshot {
		bt.balances[k] = new(big.Int).Set(v)
	}
}
