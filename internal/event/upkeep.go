// internal/event/upkeep.go
package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// UpkeepPerformed drives one orchestrator tick. Now is the tick time the
// keeper observed; Payload is what CheckUpkeep returned, possibly with a
// proof artifact attached.
type UpkeepPerformed struct {
	UpkeepID uuid.UUID      `json:"upkeep_id"`
	Caller   common.Address `json:"caller"`
	Target   string         `json:"target"`
	Payload  []byte         `json:"payload"`
	Now      time.Time      `json:"now"`
}

func (e *UpkeepPerformed) IdempotencyKey() string   { return e.UpkeepID.String() }
func (e *UpkeepPerformed) EventType() EventType     { return EventTypeUpkeepPerformed }
func (e *UpkeepPerformed) VaultID() *common.Address { return nil }
func (e *UpkeepPerformed) SourceSequence() int64    { return 0 }
func (e *UpkeepPerformed) OccurredAt() time.Time    { return e.Now }
