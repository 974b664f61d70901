package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVaultCreated
	EventTypeIntentSubmitted
	EventTypeDepositRequested
	EventTypeWithdrawRequested
	EventTypeTokenListed
	EventTypeFundsCredited
	EventTypeAdapterSet
	EventTypeUpkeepPerformed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Vault context (nil for protocol-wide events)
	Vault *common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event and its outcome
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// VaultID returns the vault context (nil for protocol-wide events)
	VaultID() *common.Address

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeVaultCreated:
		return "VaultCreated"
	case EventTypeIntentSubmitted:
		return "IntentSubmitted"
	case EventTypeDepositRequested:
		return "DepositRequested"
	case EventTypeWithdrawRequested:
		return "WithdrawRequested"
	case EventTypeTokenListed:
		return "TokenListed"
	case EventTypeFundsCredited:
		return "FundsCredited"
	case EventTypeAdapterSet:
		return "AdapterSet"
	case EventTypeUpkeepPerformed:
		return "UpkeepPerformed"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeVaultCreated; et <= EventTypeUpkeepPerformed; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
