package persistence_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"Orion/internal/core"
	"Orion/internal/event"
	"Orion/internal/oracle"
	"Orion/internal/orchestrator"
	"Orion/internal/persistence"
	"Orion/internal/protocol"
	"Orion/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	owner   = testutil.Addr(0xa1)
	auto    = testutil.Addr(0xa2)
	curator = testutil.Addr(0xb1)
	alice   = testutil.Addr(0xd1)
	usdc    = testutil.Addr(0xc1)
	weth    = testutil.Addr(0xc2)

	t0 = time.Unix(1_700_000_000, 0).UTC()
)

// --- Test helpers ---

type staticAdapter struct{ price *big.Int }

func (a staticAdapter) Kind() oracle.AdapterKind { return oracle.KindChainlinkFeed }

func (a staticAdapter) Validate(context.Context, common.Address) error { return nil }

func (a staticAdapter) PriceData(context.Context, common.Address) (*big.Int, uint8, error) {
	return new(big.Int).Set(a.price), 18, nil
}

func newConfig() *protocol.Config {
	return protocol.NewConfig(usdc, 6, protocol.Roles{
		Owner:                      owner,
		Automation:                 auto,
		InternalStatesOrchestrator: testutil.Addr(0xa3),
		LiquidityOrchestrator:      testutil.Addr(0xa4),
	})
}

func newCore(cfg *protocol.Config, persist chan core.CoreOutput) *core.DeterministicCore {
	c := core.NewDeterministicCore(cfg, nil, 0, persist, nil, nil, nil)
	ctx := context.Background()
	c.Registry().SetAdapter(ctx, owner, usdc, oracle.NewFixedUnderlying(cfg))
	c.Registry().SetAdapter(ctx, owner, weth, staticAdapter{price: big.NewInt(2000)})
	return c
}

func apply(t *testing.T, c *core.DeterministicCore, evt event.Event) {
	t.Helper()
	if err := c.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("ProcessEvent(%s): %v", evt.EventType(), err)
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// seed lists weth, funds alice, creates a vault with an intent and a
// queued deposit.
func seed(t *testing.T, c *core.DeterministicCore, persist chan core.CoreOutput) common.Address {
	t.Helper()
	apply(t, c, &event.TokenListed{CommandID: uuid.New(), Caller: owner, Token: weth, Decimals: 18, Timestamp: t0})
	apply(t, c, &event.FundsCredited{CreditID: uuid.New(), Caller: owner, Token: usdc, Holder: alice, Amount: testutil.Amount(t, "5000000"), Timestamp: t0})
	apply(t, c, &event.VaultCreated{CommandID: uuid.New(), Caller: owner, Curator: curator, Timestamp: t0})
	outs := drain(persist)
	addr := outs[len(outs)-1].Vaults[0].Address
	for _, o := range outs {
		persist <- o
	}
	apply(t, c, &event.IntentSubmitted{
		CommandID: uuid.New(), Caller: curator, Vault: addr, Nonce: 1,
		Weights:   []event.IntentWeight{{Token: usdc, Weight: big.NewInt(1)}, {Token: weth, Weight: big.NewInt(1)}},
		Timestamp: t0,
	})
	apply(t, c, &event.DepositRequested{RequestID: uuid.New(), Caller: alice, Vault: addr, Amount: big.NewInt(1_000_000), Timestamp: t0})
	return addr
}

// memLog is an in-memory EventSource fed from core outputs.
type memLog struct {
	rows     []persistence.EventRow
	snap     *core.SnapshotState
	verified []int64
}

func (m *memLog) append(outs []core.CoreOutput) {
	for _, o := range outs {
		row, _ := persistence.RowsFromOutput(o)
		m.rows = append(m.rows, row)
		if o.Snapshot != nil {
			m.snap = o.Snapshot
		}
	}
}

func (m *memLog) LoadLatestSnapshot(context.Context) (*core.SnapshotState, error) {
	return m.snap, nil
}

func (m *memLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, r := range m.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memLog) MarkVerified(_ context.Context, seq int64) error {
	m.verified = append(m.verified, seq)
	return nil
}

// ============================================================================
// Test: Row conversion
// ============================================================================

func TestRowsFromOutput(t *testing.T) {
	persist := make(chan core.CoreOutput, 64)
	c := newCore(newConfig(), persist)
	addr := seed(t, c, persist)
	outs := drain(persist)

	last := outs[len(outs)-1]
	row, journals := persistence.RowsFromOutput(last)
	if row.EventType != "DepositRequested" {
		t.Fatalf("expected DepositRequested, got %s", row.EventType)
	}
	if row.Vault == nil || *row.Vault != addr.Hex() {
		t.Errorf("vault column = %v", row.Vault)
	}
	if len(journals) != 1 || journals[0].Amount != "1000000" || journals[0].Token != usdc.Hex() {
		t.Fatalf("unexpected journals: %+v", journals)
	}

	env, err := row.Envelope()
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if env.Sequence != last.Envelope.Sequence || env.StateHash != last.Envelope.StateHash || env.PrevHash != last.Envelope.PrevHash {
		t.Error("envelope does not survive the row")
	}

	row.EventType = "TradeFill"
	if _, err := row.Envelope(); err == nil {
		t.Error("expected an error for an unknown event type")
	}
}

// ============================================================================
// Test: Recovery
// ============================================================================

func TestRecover_ColdStart(t *testing.T) {
	persist := make(chan core.CoreOutput, 64)
	c := newCore(newConfig(), persist)
	seed(t, c, persist)
	log := &memLog{}
	log.append(drain(persist))

	restored := newCore(newConfig(), nil)
	n, err := persistence.Recover(context.Background(), restored, log, zerolog.Nop())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != len(log.rows) {
		t.Errorf("replayed %d of %d", n, len(log.rows))
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Fatal("state hash differs after cold replay")
	}
	if len(log.verified) != 0 {
		t.Error("nothing to verify without a snapshot")
	}
}

func TestRecover_FromTickSnapshot(t *testing.T) {
	persist := make(chan core.CoreOutput, 64)
	c := newCore(newConfig(), persist)
	addr := seed(t, c, persist)

	_, payload := c.CheckUpkeep(orchestrator.TargetISO, t0)
	if _, err := c.PerformUpkeep(context.Background(), orchestrator.TargetISO, t0, payload); err != nil {
		t.Fatalf("upkeep: %v", err)
	}
	apply(t, c, &event.DepositRequested{RequestID: uuid.New(), Caller: alice, Vault: addr, Amount: big.NewInt(42), Timestamp: t0})

	log := &memLog{}
	log.append(drain(persist))
	if log.snap == nil {
		t.Fatal("tick did not carry a snapshot")
	}

	restored := newCore(newConfig(), nil)
	n, err := persistence.Recover(context.Background(), restored, log, zerolog.Nop())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the tail to replay, got %d", n)
	}
	if restored.GetStateHash() != c.GetStateHash() || restored.GetSequence() != c.GetSequence() {
		t.Fatal("recovered core differs from the live one")
	}
	if restored.Status().ISOPhase != orchestrator.ISOPreprocessing {
		t.Errorf("iso phase not restored: %s", restored.Status().ISOPhase)
	}
	if len(log.verified) != 1 || log.verified[0] != log.snap.Sequence {
		t.Errorf("snapshot not marked verified: %v", log.verified)
	}
}

func TestRecover_DetectsTamperedLog(t *testing.T) {
	persist := make(chan core.CoreOutput, 64)
	c := newCore(newConfig(), persist)
	seed(t, c, persist)
	log := &memLog{}
	log.append(drain(persist))
	log.rows[2].StateHash[0] ^= 0xff

	_, err := persistence.Recover(context.Background(), newCore(newConfig(), nil), log, zerolog.Nop())
	if err == nil {
		t.Fatal("expected a hash mismatch")
	}
}

// ============================================================================
// Test: Postgres round trip (integration)
// ============================================================================

func TestWorker_PersistsAndRecovers(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	persist := make(chan core.CoreOutput, 64)
	c := newCore(newConfig(), persist)
	seed(t, c, persist)
	_, payload := c.CheckUpkeep(orchestrator.TargetISO, t0)
	if _, err := c.PerformUpkeep(context.Background(), orchestrator.TargetISO, t0, payload); err != nil {
		t.Fatalf("upkeep: %v", err)
	}
	close(persist)

	worker := persistence.NewPersistenceWorker(db, persist, 100, 50*time.Millisecond, nil, zerolog.Nop())
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("worker: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if latest != c.GetSequence()-1 {
		t.Errorf("latest sequence %d, want %d", latest, c.GetSequence()-1)
	}

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate(context.Background(), "VaultCreated", "missing")
	if err != nil || dup {
		t.Errorf("unexpected duplicate lookup result %v, %v", dup, err)
	}

	restored := newCore(newConfig(), nil)
	if _, err := persistence.Recover(context.Background(), restored, sm, zerolog.Nop()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Fatal("recovered state hash differs")
	}
}
