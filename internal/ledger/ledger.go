package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the in-memory token and vault-share book. Every movement is
// applied to the tracker immediately and recorded as a journal entry; the
// core drains the pending entries into one batch per command.
//
// Not thread-safe: only accessed from the deterministic core.
type Ledger struct {
	tracker   *BalanceTracker
	validator *InvariantValidator
	pending   []Journal
}

func New() *Ledger {
	tracker := NewBalanceTracker()
	return &Ledger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
	}
}

// Tracker exposes the underlying balances for digests and snapshots.
func (l *Ledger) Tracker() *BalanceTracker {
	return l.tracker
}

// Validator exposes the invariant checks.
func (l *Ledger) Validator() *InvariantValidator {
	return l.validator
}

func (l *Ledger) record(jt JournalType, token common.Address, debit, credit AccountKey, amount *big.Int) {
	j := Journal{
		JournalID:     uuid.New(),
		DebitAccount:  debit,
		CreditAccount: credit,
		Token:         token,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
	}
	l.tracker.ApplyJournal(j)
	l.pending = append(l.pending, j)
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %v", amount)
	}
	if from == IssuerAddress || to == IssuerAddress {
		return fmt.Errorf("transfer to or from the issuer account")
	}
	if from == to {
		return nil
	}
	src := NewAccountKey(token, from)
	if err := l.tracker.ValidateSufficient(src, amount); err != nil {
		return err
	}
	l.record(JournalTypeTransfer, token, NewAccountKey(token, to), src, amount)
	return nil
}

// Mint issues amount of token to holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive, got %v", amount)
	}
	if to == IssuerAddress {
		return fmt.Errorf("mint to the issuer account")
	}
	l.record(JournalTypeMint, token, NewAccountKey(token, to), NewIssuerAccountKey(token), amount)
	return nil
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("burn amount must be positive, got %v", amount)
	}
	src := NewAccountKey(token, from)
	if err := l.tracker.ValidateSufficient(src, amount); err != nil {
		return err
	}
	l.record(JournalTypeBurn, token, NewIssuerAccountKey(token), src, amount)
	return nil
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	return l.tracker.GetBalance(NewAccountKey(token, holder))
}

// TotalSupply returns the outstanding supply of token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	return l.tracker.TotalSupply(token)
}

// Drain returns the journals recorded since the last drain as one batch
// stamped with the command's reference and sequence. Returns nil when
// nothing moved.
func (l *Ledger) Drain(eventRef string, sequence int64) *Batch {
	if len(l.pending) == 0 {
		return nil
	}
	batch := &Batch{
		BatchID:  uuid.New(),
		EventRef: eventRef,
		Sequence: sequence,
		Journals: l.pending,
	}
	for i := range batch.Journals {
		batch.Journals[i].BatchID = batch.BatchID
		batch.Journals[i].EventRef = eventRef
		batch.Journals[i].Sequence = sequence
	}
	l.pending = nil
	return batch
}

// Checkpoint captures balances and the pending journal position so a
// failed command can be rolled back as a unit.
type Checkpoint struct {
	balances map[AccountKey]*big.Int
	pending  int
}

func (l *Ledger) Checkpoint() Checkpoint {
	return Checkpoint{
		balances: l.tracker.Snapshot(),
		pending:  len(l.pending),
	}
}

// Rollback restores the state captured by cp.
func (l *Ledger) Rollback(cp Checkpoint) {
	l.tracker.Restore(cp.balances)
	if cp.pending <= len(l.pending) {
		l.pending = l.pending[:cp.pending]
	}
}
