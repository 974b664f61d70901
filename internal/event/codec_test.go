package event_test

import (
	"math/big"
	"testing"
	"time"

	"Orion/internal/event"
	"Orion/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

func TestDecode_IntentSubmitted(t *testing.T) {
	in := &event.IntentSubmitted{
		CommandID: uuid.New(),
		Caller:    common.HexToAddress("0xb1"),
		Vault:     common.HexToAddress("0xe1"),
		Nonce:     7,
		Weights: []event.IntentWeight{
			{Token: common.HexToAddress("0xc1"), Weight: big.NewInt(2)},
			{Token: common.HexToAddress("0xc2"), Weight: big.NewInt(3)},
		},
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
	payload, err := event.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := event.Decode(event.EventTypeIntentSubmitted, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(*event.IntentSubmitted)
	if !ok {
		t.Fatalf("expected *IntentSubmitted, got %T", out)
	}
	if got.IdempotencyKey() != in.IdempotencyKey() || got.SourceSequence() != 7 {
		t.Errorf("key/nonce mismatch: %s/%d", got.IdempotencyKey(), got.SourceSequence())
	}
	if *got.VaultID() != in.Vault {
		t.Errorf("vault mismatch: %s", got.VaultID().Hex())
	}
	if len(got.Weights) != 2 || got.Weights[1].Weight.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("weights not preserved: %+v", got.Weights)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte("{}")); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestParseEventType_RoundTrip(t *testing.T) {
	for et := event.EventTypeVaultCreated; et <= event.EventTypeUpkeepPerformed; et++ {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("ParseEventType(%q) = %v, want %v", et.String(), got, et)
		}
	}
	if event.ParseEventType("TradeFill") != event.EventTypeUnknown {
		t.Error("unexpected match for foreign type")
	}
}

// Payloads are replayed from the log, so their layout must stay stable.
func TestEncode_GoldenPayloads(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0).UTC()

	created, err := event.Encode(&event.VaultCreated{
		CommandID: uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Caller:    common.HexToAddress("0xa1"),
		Curator:   common.HexToAddress("0xb1"),
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.AssertGolden(t, "vault_created.json", created)

	deposit, err := event.Encode(&event.DepositRequested{
		RequestID: uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Caller:    common.HexToAddress("0xd1"),
		Vault:     common.HexToAddress("0xe1"),
		Amount:    big.NewInt(1_000_000_000),
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.AssertGolden(t, "deposit_requested.json", deposit)
}
