package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Orion/internal/core"
	"Orion/internal/observability"
	"Orion/internal/orchestrator"
	"Orion/internal/protocol"
	"Orion/internal/query"
	"Orion/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const vaultHex = "0x00000000000000000000000000000000000000E1"

type fakeQueries struct {
	lastLimit  int
	lastBefore *int64
	lastTarget *string
}

func (f *fakeQueries) GetVault(_ context.Context, addr common.Address) (*query.VaultResponse, error) {
	if addr != common.HexToAddress(vaultHex) {
		return nil, fmt.Errorf("vault %s: %w", addr.Hex(), query.ErrNotFound)
	}
	return &query.VaultResponse{Address: addr.Hex(), TotalAssets: "1000", AsOfSequence: 9}, nil
}

func (f *fakeQueries) ListVaults(context.Context) ([]query.VaultResponse, error) { return nil, nil }

func (f *fakeQueries) GetVaultHistory(_ context.Context, _ common.Address, limit int, before *int64) ([]query.VaultHistoryEntry, error) {
	f.lastLimit, f.lastBefore = limit, before
	return []query.VaultHistoryEntry{{Sequence: 3}}, nil
}

func (f *fakeQueries) GetBalance(_ context.Context, token, holder common.Address) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{Token: token.Hex(), Holder: holder.Hex(), Balance: "42"}, nil
}

func (f *fakeQueries) GetSettlements(_ context.Context, target *string, limit int, before *int64) ([]query.SettlementResponse, error) {
	f.lastTarget, f.lastLimit, f.lastBefore = target, limit, before
	return nil, nil
}

func (f *fakeQueries) GetJournalHistory(context.Context, common.Address, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (f *fakeQueries) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type fakeAdmin struct {
	credited *big.Int
	curator  common.Address
	err      error
}

func (f *fakeAdmin) CreateVault(_ context.Context, curator common.Address) (uuid.UUID, error) {
	f.curator = curator
	return uuid.New(), f.err
}

func (f *fakeAdmin) ListToken(context.Context, common.Address, uint8, bool) (uuid.UUID, error) {
	return uuid.New(), f.err
}

func (f *fakeAdmin) CreditFunds(_ context.Context, _, _ common.Address, amount *big.Int) (uuid.UUID, error) {
	if amount.Sign() <= 0 {
		return uuid.Nil, protocol.ErrAmountMustBeGreaterThanZero
	}
	f.credited = amount
	return uuid.New(), f.err
}

type fakeCore struct{}

func (fakeCore) Status() core.Status {
	return core.Status{
		ISOPhase: orchestrator.ISOBuffering,
		ISOEpoch: 4,
		LOPhase:  orchestrator.LOIdle,
		LOEpoch:  3,
		Buffer:   big.NewInt(500),
		FeeRate:  decimal.RequireFromString("0.001"),
	}
}

func (fakeCore) GetSequence() int64     { return 17 }
func (fakeCore) GetStateHash() [32]byte { return [32]byte{0xab} }

type fakeEventLog struct{}

func (fakeEventLog) GetLatestSequence(context.Context) (int64, error) { return 16, nil }

func newTestServer(t *testing.T) (*httptest.Server, *fakeQueries, *fakeAdmin) {
	t.Helper()
	q := &fakeQueries{}
	a := &fakeAdmin{}
	hc := observability.NewHealthChecker()
	s := server.NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &server.ServerDeps{
		Queries:         q,
		Admin:           a,
		Core:            fakeCore{},
		EventLog:        fakeEventLog{},
		RebuildBalances: func(context.Context) error { return nil },
		HealthChecker:   hc,
		Logger:          zerolog.Nop(),
	})
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, q, a
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// ============================================================================
// Test: Read routes
// ============================================================================

func TestGetVault(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var v query.VaultResponse
	if code := getJSON(t, ts.URL+"/v1/vaults/"+vaultHex, &v); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if v.TotalAssets != "1000" || v.AsOfSequence != 9 {
		t.Errorf("unexpected vault %+v", v)
	}

	other := "0x00000000000000000000000000000000000000E2"
	if code := getJSON(t, ts.URL+"/v1/vaults/"+other, nil); code != http.StatusNotFound {
		t.Errorf("unknown vault: status %d, want 404", code)
	}
	if code := getJSON(t, ts.URL+"/v1/vaults/not-an-address", nil); code != http.StatusBadRequest {
		t.Errorf("malformed address: status %d, want 400", code)
	}
}

func TestVaultHistory_Pagination(t *testing.T) {
	ts, q, _ := newTestServer(t)

	var body struct {
		History []query.VaultHistoryEntry `json:"history"`
	}
	if code := getJSON(t, ts.URL+"/v1/vaults/"+vaultHex+"/history?limit=10&before=99", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.History) != 1 {
		t.Errorf("history: %+v", body.History)
	}
	if q.lastLimit != 10 || q.lastBefore == nil || *q.lastBefore != 99 {
		t.Errorf("page params not forwarded: limit=%d before=%v", q.lastLimit, q.lastBefore)
	}

	if code := getJSON(t, ts.URL+"/v1/vaults/"+vaultHex+"/history?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", code)
	}
}

func TestSettlements_TargetFilter(t *testing.T) {
	ts, q, _ := newTestServer(t)

	var body map[string]json.RawMessage
	if code := getJSON(t, ts.URL+"/v1/settlements?target=lo", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if string(body["settlements"]) != "[]" {
		t.Errorf("empty list should encode as [], got %s", body["settlements"])
	}
	if q.lastTarget == nil || *q.lastTarget != "lo" {
		t.Errorf("target not forwarded: %v", q.lastTarget)
	}
	if code := getJSON(t, ts.URL+"/v1/settlements?target=xyz", nil); code != http.StatusBadRequest {
		t.Errorf("bad target: status %d", code)
	}
}

func TestStatus_ReadsLiveCore(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var st server.StatusResponse
	if code := getJSON(t, ts.URL+"/v1/status", &st); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if st.Sequence != 17 || st.ISO.Phase != "BUFFERING" || st.ISO.Epoch != 4 {
		t.Errorf("unexpected iso status %+v", st)
	}
	if st.ISO.Buffer != "500" || st.ISO.FeeRate != "0.001" {
		t.Errorf("buffer/fee: %s %s", st.ISO.Buffer, st.ISO.FeeRate)
	}
	if st.LO.Phase != "IDLE" || st.LO.PendingSettlement {
		t.Errorf("unexpected lo status %+v", st.LO)
	}
	if !strings.HasPrefix(st.StateHash, "ab00") {
		t.Errorf("state hash %s", st.StateHash)
	}
}

// ============================================================================
// Test: Admin routes
// ============================================================================

func TestCreditFunds(t *testing.T) {
	ts, _, a := newTestServer(t)

	body := `{"token":"0x00000000000000000000000000000000000000C1","holder":"` + vaultHex + `","amount":"123456789012345678901234567890"}`
	code, out := postJSON(t, ts.URL+"/v1/admin/credits", body)
	if code != http.StatusOK {
		t.Fatalf("status %d: %v", code, out)
	}
	if a.credited == nil || a.credited.String() != "123456789012345678901234567890" {
		t.Errorf("credited %v", a.credited)
	}
	if out["command_id"] == "" || out["sequence"] != float64(17) {
		t.Errorf("unexpected response %v", out)
	}

	zero := `{"token":"0x00000000000000000000000000000000000000C1","holder":"` + vaultHex + `","amount":"0"}`
	if code, _ := postJSON(t, ts.URL+"/v1/admin/credits", zero); code != http.StatusUnprocessableEntity {
		t.Errorf("zero credit: status %d, want 422", code)
	}
	if code, _ := postJSON(t, ts.URL+"/v1/admin/credits", `{"amount":"1","extra":true}`); code != http.StatusBadRequest {
		t.Errorf("unknown field: status %d, want 400", code)
	}
}

func TestCreateVault_MapsCoreErrors(t *testing.T) {
	ts, _, a := newTestServer(t)

	code, _ := postJSON(t, ts.URL+"/v1/admin/vaults", `{"curator":"`+vaultHex+`"}`)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if a.curator != common.HexToAddress(vaultHex) {
		t.Errorf("curator %s", a.curator.Hex())
	}

	a.err = fmt.Errorf("VaultCreated x: %w", protocol.ErrNotAuthorized)
	if code, _ := postJSON(t, ts.URL+"/v1/admin/vaults", `{"curator":"`+vaultHex+`"}`); code != http.StatusForbidden {
		t.Errorf("unauthorized: status %d, want 403", code)
	}
}

func TestListToken_RequiresDecimals(t *testing.T) {
	ts, _, _ := newTestServer(t)

	token := `"0x00000000000000000000000000000000000000C2"`
	if code, _ := postJSON(t, ts.URL+"/v1/admin/tokens", `{"token":`+token+`}`); code != http.StatusBadRequest {
		t.Errorf("missing decimals: status %d", code)
	}
	if code, _ := postJSON(t, ts.URL+"/v1/admin/tokens", `{"token":`+token+`,"decimals":18}`); code != http.StatusOK {
		t.Errorf("listing: status %d", code)
	}
	if code, _ := postJSON(t, ts.URL+"/v1/admin/tokens", `{"token":`+token+`,"delist":true}`); code != http.StatusOK {
		t.Errorf("delisting: status %d", code)
	}
}

func TestEventLogInfo(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body map[string]int64
	if code := getJSON(t, ts.URL+"/v1/admin/events/head", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["last_sequence"] != 16 || body["core_sequence"] != 17 {
		t.Errorf("unexpected body %v", body)
	}
}

// ============================================================================
// Test: Probes
// ============================================================================

func TestProbes(t *testing.T) {
	ts, _, _ := newTestServer(t)

	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz: %d", code)
	}
	// the checker starts not ready
	if code := getJSON(t, ts.URL+"/readyz", nil); code != http.StatusServiceUnavailable {
		t.Errorf("readyz: %d, want 503", code)
	}
}
