// internal/event/vault.go
package event

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type VaultCreated struct {
	CommandID uuid.UUID      `json:"command_id"`
	Caller    common.Address `json:"caller"`
	Curator   common.Address `json:"curator"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *VaultCreated) IdempotencyKey() string   { return e.CommandID.String() }
func (e *VaultCreated) EventType() EventType     { return EventTypeVaultCreated }
func (e *VaultCreated) VaultID() *common.Address { return nil }
func (e *VaultCreated) SourceSequence() int64    { return 0 }
func (e *VaultCreated) OccurredAt() time.Time    { return e.Timestamp }

// IntentWeight is one raw (token, weight) pair as submitted by a curator.
// Weights are rescaled to the intent precision when stored.
type IntentWeight struct {
	Token  common.Address `json:"token"`
	Weight *big.Int       `json:"weight"`
}

// IntentSubmitted replaces a vault's intent. Nonce orders a curator's
// submissions per vault; a nonce at or below the last applied one is stale.
type IntentSubmitted struct {
	CommandID uuid.UUID      `json:"command_id"`
	Caller    common.Address `json:"caller"`
	Vault     common.Address `json:"vault"`
	Nonce     int64          `json:"nonce"`
	Weights   []IntentWeight `json:"weights"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *IntentSubmitted) IdempotencyKey() string   { return e.CommandID.String() }
func (e *IntentSubmitted) EventType() EventType     { return EventTypeIntentSubmitted }
func (e *IntentSubmitted) VaultID() *common.Address { return &e.Vault }
func (e *IntentSubmitted) SourceSequence() int64    { return e.Nonce }
func (e *IntentSubmitted) OccurredAt() time.Time    { return e.Timestamp }

type DepositRequested struct {
	RequestID uuid.UUID      `json:"request_id"`
	Caller    common.Address `json:"caller"`
	Vault     common.Address `json:"vault"`
	Amount    *big.Int       `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *DepositRequested) IdempotencyKey() string   { return e.RequestID.String() }
func (e *DepositRequested) EventType() EventType     { return EventTypeDepositRequested }
func (e *DepositRequested) VaultID() *common.Address { return &e.Vault }
func (e *DepositRequested) SourceSequence() int64    { return 0 }
func (e *DepositRequested) OccurredAt() time.Time    { return e.Timestamp }

type WithdrawRequested struct {
	RequestID uuid.UUID      `json:"request_id"`
	Caller    common.Address `json:"caller"`
	Vault     common.Address `json:"vault"`
	Shares    *big.Int       `json:"shares"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *WithdrawRequested) IdempotencyKey() string   { return e.RequestID.String() }
func (e *WithdrawRequested) EventType() EventType     { return EventTypeWithdrawRequested }
func (e *WithdrawRequested) VaultID() *common.Address { return &e.Vault }
func (e *WithdrawRequested) SourceSequence() int64    { return 0 }
func (e *WithdrawRequested) OccurredAt() time.Time    { return e.Timestamp }
