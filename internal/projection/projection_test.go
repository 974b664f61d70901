package projection_test

import (
	"math/big"
	"testing"
	"time"

	"Orion/internal/core"
	"Orion/internal/event"
	"Orion/internal/ledger"
	"Orion/internal/orchestrator"
	"Orion/internal/projection"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	vlt   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

// ============================================================================
// Test: Balance deltas
// ============================================================================

func TestBalanceDeltas_NetsPerAccount(t *testing.T) {
	l := ledger.New()
	if err := l.Mint(usdc, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.Transfer(usdc, alice, vlt, big.NewInt(30)); err != nil {
		t.Fatal(err)
	}
	if err := l.Transfer(usdc, vlt, alice, big.NewInt(30)); err != nil {
		t.Fatal(err)
	}
	batch := l.Drain("evt-1", 7)

	deltas := projection.BalanceDeltas(batch)
	// vault nets to zero and is dropped
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %+v", deltas)
	}
	got := map[string]int64{}
	for _, d := range deltas {
		if d.Token != usdc.Hex() {
			t.Errorf("unexpected token %s", d.Token)
		}
		got[d.Holder] = d.Delta.Int64()
	}
	if got[alice.Hex()] != 100 {
		t.Errorf("alice delta %d, want 100", got[alice.Hex()])
	}
	if got[ledger.IssuerAddress.Hex()] != -100 {
		t.Errorf("issuer delta %d, want -100", got[ledger.IssuerAddress.Hex()])
	}
	if deltas[0].Holder > deltas[1].Holder {
		t.Error("deltas not sorted")
	}
}

func TestBalanceDeltas_NilBatch(t *testing.T) {
	if d := projection.BalanceDeltas(nil); d != nil {
		t.Fatalf("expected nil, got %+v", d)
	}
}

// ============================================================================
// Test: Settlement rows
// ============================================================================

func TestSettlementFromOutput(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0).UTC()
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 42, EventType: event.EventTypeUpkeepPerformed, Timestamp: ts},
		Tick: &orchestrator.TickResult{
			Target:  orchestrator.TargetISO,
			Epoch:   3,
			From:    "BUFFERING",
			To:      "POSTPROCESSING",
			Vaults:  []common.Address{vlt},
			FeeRate: decimal.RequireFromString("0.0025"),
			Buffer:  big.NewInt(5_000),
			Settlement: &orchestrator.Settlement{
				Epoch: 3,
				Sells: []orchestrator.Order{{Vault: vlt, Token: weth}},
			},
		},
	}

	row, ok := projection.SettlementFromOutput(out)
	if !ok {
		t.Fatal("tick output should yield a row")
	}
	if row.Sequence != 42 || row.Epoch != 3 || row.Target != "iso" {
		t.Errorf("unexpected row %+v", row)
	}
	if row.Sells != 1 || row.Buys != 0 || row.Vaults != 1 {
		t.Errorf("counts: sells=%d buys=%d vaults=%d", row.Sells, row.Buys, row.Vaults)
	}
	if row.Buffer == nil || *row.Buffer != "5000" {
		t.Errorf("buffer: %v", row.Buffer)
	}
	if row.FeeRate == nil || *row.FeeRate != "0.0025" {
		t.Errorf("fee rate: %v", row.FeeRate)
	}
	if row.Slippage != nil {
		t.Errorf("slippage should be NULL, got %s", *row.Slippage)
	}

	out.Tick = nil
	if _, ok := projection.SettlementFromOutput(out); ok {
		t.Error("command output should not yield a settlement row")
	}
}

// ============================================================================
// Test: Vault rows
// ============================================================================

func TestVaultRowFromState(t *testing.T) {
	s := vault.State{
		Address:     vlt,
		Curator:     alice,
		TotalAssets: big.NewInt(1_000_000),
		SharePrice:  new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		Deposits:    []vault.DepositRequest{{Requester: alice, Amount: big.NewInt(5)}},
		Intent: []vault.IntentItem{
			{Token: usdc, Weight: big.NewInt(400_000)},
			{Token: weth, Weight: big.NewInt(600_000)},
		},
		Holdings:    map[common.Address]*big.Int{weth: big.NewInt(7), usdc: big.NewInt(9)},
		SyncedEpoch: 2,
	}

	row, err := projection.VaultRowFromState(s)
	if err != nil {
		t.Fatal(err)
	}
	if row.SharePrice != "1000000000000000000" || row.DepositQueue != 1 || row.WithdrawQueue != 0 {
		t.Errorf("unexpected row %+v", row)
	}
	wantIntent := `[{"token":"` + usdc.Hex() + `","weight":"400000"},{"token":"` + weth.Hex() + `","weight":"600000"}]`
	if string(row.Intent) != wantIntent {
		t.Errorf("intent json:\n got %s\nwant %s", row.Intent, wantIntent)
	}
	wantHoldings := `{"` + usdc.Hex() + `":"9","` + weth.Hex() + `":"7"}`
	if string(row.Holdings) != wantHoldings {
		t.Errorf("holdings json:\n got %s\nwant %s", row.Holdings, wantHoldings)
	}
}
