package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMint
	JournalTypeBurn
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	Token         common.Address
	Amount        *big.Int // always positive
	JournalType   JournalType
}

// Batch is the set of journal entries produced by one command or tick.
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Sequence int64
	Journals []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two distinct accounts of the same token, so the batch is
// balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Token != j.Token || j.CreditAccount.Token != j.Token {
			return fmt.Errorf("journal %s moves across tokens", j.JournalID)
		}
	}

	return nil
}
