package orchestrator

import (
	"encoding/json"
	"fmt"

	"Orion/internal/proof"
	"Orion/internal/protocol"
)

// Upkeep is the payload exchanged between CheckUpkeep and PerformUpkeep.
// It pins the phase and epoch the scheduler observed so a stale payload
// cannot drive a later phase. Proof-gated LO phases carry an artifact.
type Upkeep struct {
	Phase    uint8           `json:"phase"`
	Epoch    uint64          `json:"epoch"`
	Artifact *proof.Artifact `json:"artifact,omitempty"`
}

func EncodeUpkeep(u Upkeep) []byte {
	b, err := json.Marshal(u)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode upkeep: %v", err))
	}
	return b
}

func DecodeUpkeep(payload []byte) (Upkeep, error) {
	var u Upkeep
	if len(payload) == 0 {
		return u, fmt.Errorf("empty upkeep payload: %w", protocol.ErrPhaseMismatch)
	}
	if err := json.Unmarshal(payload, &u); err != nil {
		return u, fmt.Errorf("malformed upkeep payload: %v: %w", err, protocol.ErrPhaseMismatch)
	}
	return u, nil
}

// WithArtifact re-encodes payload with art attached.
func WithArtifact(payload []byte, art proof.Artifact) ([]byte, error) {
	u, err := DecodeUpkeep(payload)
	if err != nil {
		return nil, err
	}
	u.Artifact = &art
	return EncodeUpkeep(u), nil
}
