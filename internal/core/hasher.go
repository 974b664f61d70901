package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const GenesisHashSeed = "Orion:genesis:v1"

// StateHasher chains a hash over every applied event so two replicas that
// applied the same log can be compared by their tip.
type StateHasher struct {
	prevHash common.Hash
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// GenesisHash is the chain root.
func GenesisHash() [32]byte {
	return crypto.Keccak256Hash([]byte(GenesisHashSeed))
}

// ComputeHash advances the chain tip:
// state_hash[N] = keccak256(prev_hash || uint64be(sequence) || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	h.prevHash = crypto.Keccak256Hash(h.prevHash[:], seq[:], stateDigest)
	return h.prevHash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash moves the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
