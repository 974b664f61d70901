// internal/event/admin.go
package event

import (
	"math/big"
	"time"

	"Orion/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TokenListed registers a token's decimals and adds it to (or, with
// Delist, removes it from) the investable universe.
type TokenListed struct {
	CommandID uuid.UUID      `json:"command_id"`
	Caller    common.Address `json:"caller"`
	Token     common.Address `json:"token"`
	Decimals  uint8          `json:"decimals"`
	Delist    bool           `json:"delist,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *TokenListed) IdempotencyKey() string   { return e.CommandID.String() }
func (e *TokenListed) EventType() EventType     { return EventTypeTokenListed }
func (e *TokenListed) VaultID() *common.Address { return nil }
func (e *TokenListed) SourceSequence() int64    { return 0 }
func (e *TokenListed) OccurredAt() time.Time    { return e.Timestamp }

// FundsCredited books tokens that arrived from outside the protocol, such
// as a bridged transfer observed on chain. Owner only.
type FundsCredited struct {
	CreditID  uuid.UUID      `json:"credit_id"`
	Caller    common.Address `json:"caller"`
	Token     common.Address `json:"token"`
	Holder    common.Address `json:"holder"`
	Amount    *big.Int       `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *FundsCredited) IdempotencyKey() string   { return e.CreditID.String() }
func (e *FundsCredited) EventType() EventType     { return EventTypeFundsCredited }
func (e *FundsCredited) VaultID() *common.Address { return nil }
func (e *FundsCredited) SourceSequence() int64    { return 0 }
func (e *FundsCredited) OccurredAt() time.Time    { return e.Timestamp }

// AdapterSet maps an asset to a price adapter. The adapter itself holds
// live backends and is not serialized; Kind is recorded instead.
type AdapterSet struct {
	CommandID uuid.UUID          `json:"command_id"`
	Caller    common.Address     `json:"caller"`
	Asset     common.Address     `json:"asset"`
	Kind      oracle.AdapterKind `json:"kind"`
	Adapter   oracle.Adapter     `json:"-"`
	Timestamp time.Time          `json:"timestamp"`
}

func (e *AdapterSet) IdempotencyKey() string   { return e.CommandID.String() }
func (e *AdapterSet) EventType() EventType     { return EventTypeAdapterSet }
func (e *AdapterSet) VaultID() *common.Address { return nil }
func (e *AdapterSet) SourceSequence() int64    { return 0 }
func (e *AdapterSet) OccurredAt() time.Time    { return e.Timestamp }
