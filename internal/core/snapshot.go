package core

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"Orion/internal/event"
	"Orion/internal/ledger"
	"Orion/internal/orchestrator"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotState is the complete in-memory state of the core. Price
// adapters are not part of it; they are re-registered at startup.
type SnapshotState struct {
	Sequence        int64                     `json:"sequence"` // last applied
	StateHash       [32]byte                  `json:"state_hash"`
	Balances        []BalanceEntry            `json:"balances"`
	Tokens          []protocol.TokenEntry     `json:"tokens"`
	Vaults          vault.DirectoryState      `json:"vaults"`
	ISO             orchestrator.ISOState     `json:"iso"`
	LO              orchestrator.LOState      `json:"lo"`
	Handoff         orchestrator.HandoffState `json:"handoff"`
	IntentNonces    map[common.Address]int64  `json:"intent_nonces"`
	IdempotencyKeys []string                  `json:"idempotency_keys"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// BalanceEntry is one ledger account in a snapshot.
type BalanceEntry struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount *big.Int       `json:"amount"`
}

// CreateSnapshotState captures the current state. at is the versioned
// time of the last applied event.
func (c *DeterministicCore) CreateSnapshotState(at time.Time) *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(at)
}

func (c *DeterministicCore) snapshotLocked(at time.Time) *SnapshotState {
	balances := c.ledger.Tracker().Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for k, amt := range balances {
		if amt.Sign() == 0 {
			continue
		}
		entries = append(entries, BalanceEntry{Token: k.Token, Holder: k.Holder, Amount: amt})
	}
	sortBalances(entries)

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        entries,
		Tokens:          c.cfg.Tokens(),
		Vaults:          c.vaults.State(),
		ISO:             c.iso.State(),
		LO:              c.lo.State(),
		Handoff:         c.handoff.State(),
		IntentNonces:    c.nonces.State(),
		IdempotencyKeys: c.idempotency.Keys(),
		CreatedAt:       at,
	}
}

// RestoreFromSnapshot replaces the core's state with snap. Events after
// snap.Sequence are then fed through Replay.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	balances := make(map[ledger.AccountKey]*big.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		balances[ledger.NewAccountKey(b.Token, b.Holder)] = new(big.Int).Set(b.Amount)
	}
	c.ledger.Tracker().Restore(balances)
	c.ledger.Drain("", 0)

	c.cfg.RestoreTokens(snap.Tokens)
	c.vaults.Restore(snap.Vaults)
	c.iso.Restore(snap.ISO)
	c.lo.Restore(snap.LO)
	c.handoff.Restore(snap.Handoff)
	c.nonces.Restore(snap.IntentNonces)
	c.idempotency.Warm(snap.IdempotencyKeys)
}

// Replay re-applies a logged event during recovery and checks it lands on
// the logged sequence and state hash. Nothing is emitted.
func (c *DeterministicCore) Replay(ctx context.Context, env *event.EventEnvelope, evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay sequence %d, core expects %d", env.Sequence, c.sequence)
	}
	if env.PrevHash != c.hasher.GetPrevHash() {
		return fmt.Errorf("replay %d: prev hash %x does not match chain tip %x", env.Sequence, env.PrevHash, c.hasher.GetPrevHash())
	}
	if _, err := c.apply(ctx, evt, true); err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if tip := c.hasher.GetPrevHash(); tip != env.StateHash {
		return fmt.Errorf("replay %d: state hash %x, logged %x", env.Sequence, tip, env.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

func sortBalances(entries []BalanceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Token[:], entries[j].Token[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(entries[i].Holder[:], entries[j].Holder[:]) < 0
	})
}
