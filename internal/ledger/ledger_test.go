package ledger_test

import (
	"Orion/internal/ledger"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewAccountKey(usdc, alice)
	expected := "holder:" + alice.Hex() + ":" + usdc.Hex()
	if key.AccountPath() != expected {
		t.Errorf("got %q, want %q", key.AccountPath(), expected)
	}
}

func TestAccountKey_IssuerPath(t *testing.T) {
	key := ledger.NewIssuerAccountKey(usdc)
	if !key.IsIssuer() {
		t.Fatal("issuer key should report IsIssuer")
	}
	if key.AccountPath() != "issuer:"+usdc.Hex() {
		t.Errorf("got %q", key.AccountPath())
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if bt.GetBalance(ledger.NewAccountKey(usdc, alice)).Sign() != 0 {
		t.Error("initial balance should be 0")
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewAccountKey(usdc, alice),
			CreditAccount: ledger.NewIssuerAccountKey(usdc),
			Token:         usdc,
			Amount:        big.NewInt(500_000),
			JournalType:   ledger.JournalTypeMint,
		}},
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if bt.GetBalance(ledger.NewAccountKey(usdc, alice)).Int64() != 500_000 {
		t.Errorf("expected 500_000 after batch apply")
	}
	if bt.TotalSupply(usdc).Int64() != 500_000 {
		t.Errorf("supply: got %s, want 500000", bt.TotalSupply(usdc))
	}
}

func TestBalanceTracker_SnapshotIsDeepCopy(t *testing.T) {
	l := ledger.New()
	if err := l.Mint(usdc, alice, big.NewInt(1_000)); err != nil {
		t.Fatal(err)
	}

	snap := l.Tracker().Snapshot()
	snap[ledger.NewAccountKey(usdc, alice)].SetInt64(7)

	if l.BalanceOf(usdc, alice).Int64() != 1_000 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewAccountKey(usdc, alice),
			CreditAccount: ledger.NewAccountKey(usdc, bob),
			Token:         usdc,
			Amount:        big.NewInt(0),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewAccountKey(usdc, alice)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			Token:         usdc,
			Amount:        big.NewInt(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_CrossToken_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewAccountKey(vault, alice),
			CreditAccount: ledger.NewAccountKey(usdc, bob),
			Token:         usdc,
			Amount:        big.NewInt(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("cross-token journal should fail validation")
	}
}

// ============================================================================
// Test: Ledger movements
// ============================================================================

func TestLedger_TransferInsufficient(t *testing.T) {
	l := ledger.New()
	if err := l.Mint(usdc, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	err := l.Transfer(usdc, alice, bob, big.NewInt(101))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if l.BalanceOf(usdc, alice).Int64() != 100 {
		t.Error("failed transfer must not move funds")
	}
}

func TestLedger_MintBurnZeroSum(t *testing.T) {
	l := ledger.New()
	shares := l.Shares(vault)

	if err := shares.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatal(err)
	}
	if err := shares.Transfer(alice, vault, big.NewInt(400)); err != nil {
		t.Fatal(err)
	}
	if err := shares.Burn(vault, big.NewInt(400)); err != nil {
		t.Fatal(err)
	}

	if shares.TotalSupply().Int64() != 600 {
		t.Errorf("supply: got %s, want 600", shares.TotalSupply())
	}
	if err := l.Validator().ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should be zero-sum: %v", err)
	}
	if err := l.Validator().ValidateHoldersNonNegative(); err != nil {
		t.Errorf("holders should be non-negative: %v", err)
	}
}

func TestLedger_DrainStampsBatch(t *testing.T) {
	l := ledger.New()
	tok := l.Token(usdc, vault)
	_ = l.Mint(usdc, alice, big.NewInt(50))
	if err := tok.TransferFrom(alice, vault, big.NewInt(50)); err != nil {
		t.Fatal(err)
	}

	batch := l.Drain("cmd-1", 9)
	if batch == nil || len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %+v", batch)
	}
	for _, j := range batch.Journals {
		if j.BatchID != batch.BatchID || j.EventRef != "cmd-1" || j.Sequence != 9 {
			t.Errorf("journal not stamped: %+v", j)
		}
	}
	if err := batch.Validate(); err != nil {
		t.Errorf("drained batch should validate: %v", err)
	}
	if l.Drain("cmd-2", 10) != nil {
		t.Error("second drain should be empty")
	}
}

func TestLedger_RollbackRestoresBalancesAndJournals(t *testing.T) {
	l := ledger.New()
	_ = l.Mint(usdc, alice, big.NewInt(10))
	cp := l.Checkpoint()

	_ = l.Transfer(usdc, alice, bob, big.NewInt(4))
	l.Rollback(cp)

	if l.BalanceOf(usdc, bob).Sign() != 0 || l.BalanceOf(usdc, alice).Int64() != 10 {
		t.Error("rollback should restore balances")
	}
	batch := l.Drain("x", 1)
	if batch == nil || len(batch.Journals) != 1 {
		t.Errorf("rollback should drop journals recorded after the checkpoint")
	}
}
