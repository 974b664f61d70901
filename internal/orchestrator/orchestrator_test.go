package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"Orion/internal/ledger"
	"Orion/internal/orchestrator"
	"Orion/internal/proof"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	auto    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	isoRole = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	loRole  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	curator = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth    = common.HexToAddress("0x00000000000000000000000000000000000000c2")

	t0 = time.Unix(1_700_000_000, 0)
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

// --- fakes ---

type fakePrices struct {
	prices map[common.Address]*big.Int
	fail   error
}

func (p *fakePrices) GetPrice(_ context.Context, asset common.Address) (*big.Int, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	price, ok := p.prices[asset]
	if !ok {
		return nil, protocol.ErrAdapterNotSet
	}
	return new(big.Int).Set(price), nil
}

// directDriver drives the orchestrators without the core.
type directDriver struct {
	iso *orchestrator.ISO
	lo  *orchestrator.LO
}

func (d *directDriver) CheckUpkeep(target orchestrator.Target, now time.Time) (bool, []byte) {
	if target == orchestrator.TargetISO {
		return d.iso.CheckUpkeep(now)
	}
	return d.lo.CheckUpkeep(now)
}

func (d *directDriver) PerformUpkeep(ctx context.Context, target orchestrator.Target, now time.Time, payload []byte) (orchestrator.TickResult, error) {
	if target == orchestrator.TargetISO {
		return d.iso.PerformUpkeep(ctx, auto, now, payload)
	}
	return d.lo.PerformUpkeep(ctx, auto, now, payload)
}

func (d *directDriver) LegOrders() (orchestrator.LOPhase, uint64, []orchestrator.Order) {
	return d.lo.LegOrders()
}

type harness struct {
	cfg      *protocol.Config
	ledger   *ledger.Ledger
	dir      *vault.Directory
	prices   *fakePrices
	handoff  *orchestrator.Handoff
	iso      *orchestrator.ISO
	lo       *orchestrator.LO
	attester *proof.Attester
	keeper   *orchestrator.Keeper
}

func newHarness(t *testing.T, fee protocol.FeeConfig, minibatch int) *harness {
	t.Helper()
	cfg := protocol.NewConfig(usdc, 6, protocol.Roles{
		Owner:                      owner,
		Automation:                 auto,
		InternalStatesOrchestrator: isoRole,
		LiquidityOrchestrator:      loRole,
	})
	cfg.Fee = fee
	cfg.MinibatchSize = minibatch
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.RegisterToken(owner, weth, 18))
	require.NoError(t, cfg.Whitelist(owner, weth))

	l := ledger.New()
	require.NoError(t, l.Mint(usdc, alice, bi("10000000000")))
	dir := vault.NewDirectory(cfg, func(addr common.Address) (vault.TokenTransfer, vault.ShareLedger, vault.MarketLeg) {
		return l.Token(usdc, addr), l.Shares(addr), l.Token(usdc, addr)
	})
	prices := &fakePrices{prices: map[common.Address]*big.Int{
		usdc: bi("1000000000000000000"),
		weth: bi("2000000000000000000000"),
	}}
	att, err := proof.GenerateAttester()
	require.NoError(t, err)

	handoff := orchestrator.NewHandoff()
	iso := orchestrator.NewISO(cfg, prices, dir, handoff)
	lo := orchestrator.NewLO(cfg, dir, handoff, proof.NewAttestationVerifier(att.Address()))
	h := &harness{cfg: cfg, ledger: l, dir: dir, prices: prices, handoff: handoff, iso: iso, lo: lo, attester: att}
	h.keeper = orchestrator.NewKeeper(&directDriver{iso: iso, lo: lo}, orchestrator.PaperExecutor{}, att, time.Second, zerolog.Nop())
	return h
}

func flatFee() protocol.FeeConfig {
	fc := protocol.DefaultFeeConfig()
	fc.MaxFeeChange = decimal.Zero
	return fc
}

func (h *harness) newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := h.dir.Create(owner, curator)
	require.NoError(t, err)
	require.NoError(t, v.SubmitIntent(curator, []vault.IntentItem{
		{Token: usdc, Weight: big.NewInt(50)},
		{Token: weth, Weight: big.NewInt(50)},
	}))
	return v
}

// perform runs one ISO upkeep with the payload CheckUpkeep hands out.
func (h *harness) perform(t *testing.T, now time.Time) orchestrator.TickResult {
	t.Helper()
	_, payload := h.iso.CheckUpkeep(now)
	res, err := h.iso.PerformUpkeep(context.Background(), auto, now, payload)
	require.NoError(t, err)
	return res
}

// runEpoch drives both orchestrators until the epoch settles.
func (h *harness) runEpoch(t *testing.T, now time.Time) {
	t.Helper()
	startEpoch := h.iso.Epoch()
	for i := 0; i < 100; i++ {
		require.NoError(t, h.keeper.Tick(context.Background(), now))
		_, pending := h.handoff.Pending()
		if h.iso.Epoch() > startEpoch && h.iso.Phase() == orchestrator.ISOIdle &&
			h.lo.Phase() == orchestrator.LOIdle && !pending {
			return
		}
	}
	t.Fatalf("epoch did not settle: iso=%s lo=%s", h.iso.Phase(), h.lo.Phase())
}

// ===========================================================================
// Epoch gating
// ===========================================================================

func TestISO_StartGate(t *testing.T) {
	h := newHarness(t, flatFee(), 8)

	needed, _ := h.iso.CheckUpkeep(t0)
	require.True(t, needed)
	h.perform(t, t0)
	assert.Equal(t, orchestrator.ISOPreprocessing, h.iso.Phase())
	assert.Equal(t, t0.Add(24*time.Hour), h.iso.NextUpdateTime())

	for h.iso.Phase() != orchestrator.ISOIdle {
		h.perform(t, t0)
	}

	// settlement pending and epoch not elapsed
	needed, payload := h.iso.CheckUpkeep(t0.Add(time.Hour))
	assert.False(t, needed)
	_, err := h.iso.PerformUpkeep(context.Background(), auto, t0.Add(time.Hour), payload)
	require.ErrorIs(t, err, protocol.ErrUpkeepNotNeeded)

	// epoch elapsed but the LO has not consumed the settlement
	needed, _ = h.iso.CheckUpkeep(t0.Add(25 * time.Hour))
	assert.False(t, needed)
}

func TestISO_LinearPhaseSequence(t *testing.T) {
	h := newHarness(t, flatFee(), 2)
	for i := 0; i < 3; i++ {
		h.newVault(t)
	}

	var got []string
	for {
		res := h.perform(t, t0)
		got = append(got, res.From+">"+res.To)
		if res.To == "IDLE" {
			break
		}
	}
	want := []string{
		"IDLE>PREPROCESSING",
		"PREPROCESSING>PREPROCESSING",
		"PREPROCESSING>BUFFERING",
		"BUFFERING>POSTPROCESSING",
		"POSTPROCESSING>POSTPROCESSING",
		"POSTPROCESSING>BUILDING_ORDERS",
		"BUILDING_ORDERS>BUILDING_ORDERS",
		"BUILDING_ORDERS>SELLING_LEG",
		"SELLING_LEG>BUYING_LEG",
		"BUYING_LEG>IDLE",
	}
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(1), h.iso.Epoch())
}

func TestISO_RejectsStaleOrForeignCalls(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	_, stale := h.iso.CheckUpkeep(t0)
	h.perform(t, t0)

	_, err := h.iso.PerformUpkeep(context.Background(), auto, t0, stale)
	require.ErrorIs(t, err, protocol.ErrPhaseMismatch)

	_, payload := h.iso.CheckUpkeep(t0)
	_, err = h.iso.PerformUpkeep(context.Background(), alice, t0, payload)
	require.ErrorIs(t, err, protocol.ErrNotAuthorized)

	_, err = h.iso.PerformUpkeep(context.Background(), auto, t0, []byte("{"))
	require.ErrorIs(t, err, protocol.ErrPhaseMismatch)
	assert.Equal(t, orchestrator.ISOPreprocessing, h.iso.Phase())
}

func TestISO_PriceFailureAbortsStart(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	h.prices.fail = fmt.Errorf("feed down: %w", protocol.ErrStalePrice)

	_, payload := h.iso.CheckUpkeep(t0)
	_, err := h.iso.PerformUpkeep(context.Background(), auto, t0, payload)
	require.ErrorIs(t, err, protocol.ErrStalePrice)
	assert.Equal(t, orchestrator.ISOIdle, h.iso.Phase())
	assert.True(t, h.iso.NextUpdateTime().IsZero())

	h.prices.fail = nil
	h.perform(t, t0)
	assert.Equal(t, orchestrator.ISOPreprocessing, h.iso.Phase())
}

// ===========================================================================
// Full epochs
// ===========================================================================

func TestEpochs_DepositMarkToMarketAndRedeem(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := h.newVault(t)
	shares := h.ledger.Shares(v.Address())

	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)

	// epoch 0: deposit counted, half goes into weth at 2000
	h.runEpoch(t, t0)
	assert.Equal(t, "1000000000", v.TotalAssets().String())
	assert.Equal(t, "1000000000000000000", v.SharePrice().String())
	assert.Equal(t, "1000000000", shares.BalanceOf(alice).String())
	assert.Equal(t, "250000000000000000", v.Holdings()[weth].String())
	assert.Equal(t, "500000000", v.Cash().String())

	// epoch 1: weth +10%, alice redeems a tenth of her shares
	h.prices.prices[weth] = bi("2200000000000000000000")
	_, err = v.RequestWithdraw(alice, bi("100000000"))
	require.NoError(t, err)

	h.runEpoch(t, t0.Add(24*time.Hour))
	assert.Equal(t, "1050000000000000000", v.SharePrice().String())
	assert.Equal(t, "945000000", v.TotalAssets().String())
	assert.Equal(t, "900000000", shares.TotalSupply().String())
	assert.Equal(t, "9105000000", h.ledger.BalanceOf(usdc, alice).String())
	assert.Equal(t, uint64(2), h.iso.Epoch())
	assert.Equal(t, orchestrator.ISOIdle, h.iso.Phase())
	assert.Equal(t, orchestrator.LOIdle, h.lo.Phase())
}

func TestEpochs_FeeAccruesToBuffer(t *testing.T) {
	h := newHarness(t, protocol.DefaultFeeConfig(), 8)
	v := h.newVault(t)
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)

	h.runEpoch(t, t0)
	assert.True(t, h.iso.FeeRate().IsZero(), "no assets, no fee")

	h.prices.prices[weth] = bi("2200000000000000000000")
	h.runEpoch(t, t0.Add(24*time.Hour))
	assert.Equal(t, "0.0005", h.iso.FeeRate().String())
	assert.Equal(t, "500000", h.iso.Buffer().String())
	assert.Equal(t, "1049500000000000000", v.SharePrice().String())
	assert.Equal(t, "1049500000", v.TotalAssets().String())
}

func TestEpochs_VaultWithoutIntentKeepsCash(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v, err := h.dir.Create(owner, curator)
	require.NoError(t, err)
	_, err = v.RequestDeposit(alice, bi("5000000"))
	require.NoError(t, err)

	h.runEpoch(t, t0)
	assert.Equal(t, "5000000", v.Cash().String())
	assert.Equal(t, "5000000", v.TotalAssets().String())
}

// ===========================================================================
// LO proof gating
// ===========================================================================

// toSellingLeg runs epoch 0 to the LO's selling leg with one weth sell
// order outstanding.
func toSellingLeg(t *testing.T, h *harness) *vault.Vault {
	t.Helper()
	v := h.newVault(t)
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)
	h.runEpoch(t, t0)

	h.prices.prices[weth] = bi("4000000000000000000000")
	for i := 0; i < 20 && h.lo.Phase() != orchestrator.LOSellingLeg; i++ {
		require.NoError(t, h.keeper.Tick(context.Background(), t0.Add(24*time.Hour)))
	}
	phase, _, orders := h.lo.LegOrders()
	require.Equal(t, orchestrator.LOSellingLeg, phase)
	require.Len(t, orders, 1)
	return v
}

func attestFills(t *testing.T, att *proof.Attester, epoch uint64, phase orchestrator.LOPhase, fills []vault.Fill) []byte {
	t.Helper()
	state, err := json.Marshal(fills)
	require.NoError(t, err)
	art, err := att.Attest(epoch, uint8(phase), state)
	require.NoError(t, err)
	_, payload := loPayload(phase, epoch)
	out, err := orchestrator.WithArtifact(payload, art)
	require.NoError(t, err)
	return out
}

func loPayload(phase orchestrator.LOPhase, epoch uint64) (bool, []byte) {
	return true, orchestrator.EncodeUpkeep(orchestrator.Upkeep{Phase: uint8(phase), Epoch: epoch})
}

func TestLO_TradingLegRejectsBadProofs(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := toSellingLeg(t, h)
	_, epoch, orders := h.lo.LegOrders()
	sell := orders[0]
	before := v.Holdings()

	goodFill := vault.Fill{Vault: sell.Vault, Token: sell.Token, Side: vault.SideSell, Quantity: sell.Quantity, Value: sell.Value}
	foreign, err := proof.GenerateAttester()
	require.NoError(t, err)

	overfill := goodFill
	overfill.Quantity = new(big.Int).Add(sell.Quantity, big.NewInt(1))
	wrongSide := goodFill
	wrongSide.Side = vault.SideBuy

	_, bare := loPayload(orchestrator.LOSellingLeg, epoch)
	state, err := json.Marshal([]vault.Fill{goodFill})
	require.NoError(t, err)
	misbound, err := h.attester.Attest(epoch, uint8(orchestrator.LOBuyingLeg), state)
	require.NoError(t, err)
	wrongPhase, err := orchestrator.WithArtifact(bare, misbound)
	require.NoError(t, err)
	cases := []struct {
		name    string
		payload []byte
	}{
		{"missing artifact", bare},
		{"foreign attester", attestFills(t, foreign, epoch, orchestrator.LOSellingLeg, []vault.Fill{goodFill})},
		{"wrong phase commitment", wrongPhase},
		{"overfill", attestFills(t, h.attester, epoch, orchestrator.LOSellingLeg, []vault.Fill{overfill})},
		{"wrong side", attestFills(t, h.attester, epoch, orchestrator.LOSellingLeg, []vault.Fill{wrongSide})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.lo.PerformUpkeep(context.Background(), auto, t0, tc.payload)
			require.ErrorIs(t, err, protocol.ErrInvalidProof)
			assert.Equal(t, orchestrator.LOSellingLeg, h.lo.Phase())
			assert.Equal(t, before, v.Holdings())
		})
	}

	res, err := h.lo.PerformUpkeep(context.Background(), auto, t0,
		attestFills(t, h.attester, epoch, orchestrator.LOSellingLeg, []vault.Fill{goodFill}))
	require.NoError(t, err)
	assert.Len(t, res.Fills, 1)
	assert.Equal(t, orchestrator.LOBuyingLeg, h.lo.Phase())
}

func TestLO_PartialFillsAndSlippage(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	toSellingLeg(t, h)
	_, epoch, orders := h.lo.LegOrders()
	sell := orders[0]

	half := new(big.Int).Quo(sell.Quantity, big.NewInt(2))
	expected := new(big.Int).Quo(new(big.Int).Mul(sell.Value, half), sell.Quantity)
	short := new(big.Int).Sub(expected, big.NewInt(1_000))
	fill := vault.Fill{Vault: sell.Vault, Token: sell.Token, Side: vault.SideSell, Quantity: half, Value: short}

	_, err := h.lo.PerformUpkeep(context.Background(), auto, t0,
		attestFills(t, h.attester, epoch, orchestrator.LOSellingLeg, []vault.Fill{fill}))
	require.NoError(t, err)

	_, buyEpoch, _ := h.lo.LegOrders()
	res, err := h.lo.PerformUpkeep(context.Background(), auto, t0,
		attestFills(t, h.attester, buyEpoch, orchestrator.LOBuyingLeg, []vault.Fill{}))
	require.NoError(t, err)
	assert.Equal(t, "1000", res.Slippage.String())
	assert.Equal(t, orchestrator.LOIdle, h.lo.Phase())
	assert.Equal(t, "1000", h.handoff.TakeSlippage().String())
}

func TestLO_IdleWithoutSettlement(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	needed, payload := h.lo.CheckUpkeep(t0)
	assert.False(t, needed)
	_, err := h.lo.PerformUpkeep(context.Background(), auto, t0, payload)
	require.ErrorIs(t, err, protocol.ErrUpkeepNotNeeded)
}

// ===========================================================================
// Snapshots
// ===========================================================================

func TestISO_StateRestore(t *testing.T) {
	h := newHarness(t, protocol.DefaultFeeConfig(), 1)
	h.newVault(t)
	h.newVault(t)

	h.perform(t, t0)
	h.perform(t, t0)
	snap := h.iso.State()

	for h.iso.Phase() != orchestrator.ISOIdle {
		h.perform(t, t0)
	}
	h.iso.Restore(snap)
	assert.Equal(t, orchestrator.ISOPreprocessing, h.iso.Phase())
	assert.Equal(t, uint64(0), h.iso.Epoch())
	assert.Equal(t, snap, h.iso.State())
}

func TestHandoff_PublishAck(t *testing.T) {
	ho := orchestrator.NewHandoff()
	require.NoError(t, ho.Publish(&orchestrator.Settlement{Epoch: 3}))
	require.ErrorIs(t, ho.Publish(&orchestrator.Settlement{Epoch: 4}), protocol.ErrPhaseMismatch)
	require.ErrorIs(t, ho.Ack(2, big.NewInt(0)), protocol.ErrPhaseMismatch)
	require.NoError(t, ho.Ack(3, big.NewInt(-5)))
	_, pending := ho.Pending()
	assert.False(t, pending)
	assert.Equal(t, "-5", ho.TakeSlippage().String())
}

// ===========================================================================
// Settlement liveness
// ===========================================================================

func (h *harness) withExecutor(e orchestrator.Executor) {
	h.keeper = orchestrator.NewKeeper(&directDriver{iso: h.iso, lo: h.lo}, e, h.attester, time.Second, zerolog.Nop())
}

// newWethVault creates a vault whose intent is fully invested in weth.
func (h *harness) newWethVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := h.dir.Create(owner, curator)
	require.NoError(t, err)
	require.NoError(t, v.SubmitIntent(curator, []vault.IntentItem{{Token: weth, Weight: big.NewInt(1)}}))
	return v
}

// finishISO runs the ISO alone until it publishes its settlement.
func (h *harness) finishISO(t *testing.T, now time.Time) {
	t.Helper()
	for {
		if res := h.perform(t, now); res.To == "IDLE" {
			return
		}
	}
}

// performLO runs one LO upkeep outside the trading legs.
func (h *harness) performLO(t *testing.T, now time.Time) {
	t.Helper()
	_, payload := h.lo.CheckUpkeep(now)
	_, err := h.lo.PerformUpkeep(context.Background(), auto, now, payload)
	require.NoError(t, err)
}

func TestEpochs_RedeemFromFullyInvestedVault(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := h.newWethVault(t)
	shares := h.ledger.Shares(v.Address())
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)

	h.runEpoch(t, t0)
	require.Equal(t, 0, v.Cash().Sign())
	require.Equal(t, "500000000000000000", v.Holdings()[weth].String())

	_, err = v.RequestWithdraw(alice, bi("100000000"))
	require.NoError(t, err)

	// fulfil finds no cash, the sell leg raises it and pays the redemption
	h.runEpoch(t, t0.Add(24*time.Hour))
	assert.Empty(t, v.WithdrawRequests())
	assert.Equal(t, "900000000", shares.TotalSupply().String())
	assert.Equal(t, "900000000", v.TotalAssets().String())
	assert.Equal(t, "450000000000000000", v.Holdings()[weth].String())
	assert.Equal(t, 0, v.Cash().Sign())
	assert.Equal(t, "9100000000", h.ledger.BalanceOf(usdc, alice).String())

	needed, _ := h.iso.CheckUpkeep(t0.Add(48 * time.Hour))
	assert.True(t, needed, "next epoch can start")
}

func TestEpochs_UnfundedRedeemIsDeferred(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := h.newWethVault(t)
	shares := h.ledger.Shares(v.Address())
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)
	h.runEpoch(t, t0)

	_, err = v.RequestWithdraw(alice, bi("100000000"))
	require.NoError(t, err)
	day1 := t0.Add(24 * time.Hour)
	h.finishISO(t, day1)
	require.Equal(t, "900000000", v.TotalAssets().String())

	h.performLO(t, day1)
	h.performLO(t, day1)
	_, epoch, orders := h.lo.LegOrders()
	require.Len(t, orders, 1)
	sell := orders[0]

	// only half the sell executes, so cash covers half the redemption
	half := new(big.Int).Quo(sell.Quantity, big.NewInt(2))
	fill := vault.Fill{Vault: sell.Vault, Token: sell.Token, Side: vault.SideSell, Quantity: half,
		Value: new(big.Int).Quo(sell.Value, big.NewInt(2))}
	res, err := h.lo.PerformUpkeep(context.Background(), auto, day1,
		attestFills(t, h.attester, epoch, orchestrator.LOSellingLeg, []vault.Fill{fill}))
	require.NoError(t, err)
	require.Len(t, res.Deferred, 1)
	assert.Empty(t, res.Withdrawals)
	assert.Equal(t, "1000000000", v.TotalAssets().String(), "deferred redemption is back in total assets")
	assert.Equal(t, "50000000", v.Cash().String())

	_, err = h.lo.PerformUpkeep(context.Background(), auto, day1,
		attestFills(t, h.attester, epoch, orchestrator.LOBuyingLeg, []vault.Fill{}))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.LOIdle, h.lo.Phase())

	// next epoch counts the redemption again and sells the rest
	h.runEpoch(t, t0.Add(48*time.Hour))
	assert.Empty(t, v.WithdrawRequests())
	assert.Equal(t, "900000000", shares.TotalSupply().String())
	assert.Equal(t, "900000000", v.TotalAssets().String())
	assert.Equal(t, "9100000000", h.ledger.BalanceOf(usdc, alice).String())
}

func TestEpochs_BuySlippageCappedAtCash(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	h.withExecutor(orchestrator.PaperExecutor{SlippageBps: 10})
	v := h.newWethVault(t)
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)

	h.runEpoch(t, t0)
	assert.Equal(t, orchestrator.LOIdle, h.lo.Phase())
	assert.Equal(t, 0, v.Cash().Sign())
	assert.Equal(t, "499500499500499500", v.Holdings()[weth].String())
	assert.Equal(t, "999001", h.handoff.TakeSlippage().String())
}

func TestEpochs_RequestBetweenISOAndLOWaitsForNextEpoch(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := h.newVault(t)
	shares := h.ledger.Shares(v.Address())
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)
	h.runEpoch(t, t0)

	day1 := t0.Add(24 * time.Hour)
	h.finishISO(t, day1)
	_, err = v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.keeper.Tick(context.Background(), day1))
		if _, pending := h.handoff.Pending(); !pending {
			break
		}
	}
	require.Equal(t, orchestrator.LOIdle, h.lo.Phase())
	require.Len(t, v.DepositRequests(), 1, "late deposit is left for the next epoch")
	assert.False(t, v.DepositRequests()[0].Synced)
	assert.Equal(t, "1000000000", shares.TotalSupply().String())
	assert.Equal(t, "1000000000", v.TotalAssets().String())

	h.runEpoch(t, t0.Add(48*time.Hour))
	assert.Empty(t, v.DepositRequests())
	assert.Equal(t, "2000000000", shares.TotalSupply().String())
	assert.Equal(t, "2000000000", v.TotalAssets().String())
	assert.Equal(t, "1000000000000000000", v.SharePrice().String())
	assert.Equal(t, "500000000000000000", v.Holdings()[weth].String())
	assert.Equal(t, "1000000000", v.Cash().String())
}

func TestISO_PostprocessingReplayDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t, flatFee(), 8)
	v := h.newVault(t)
	_, err := v.RequestDeposit(alice, bi("1000000000"))
	require.NoError(t, err)
	h.runEpoch(t, t0)

	h.prices.prices[weth] = bi("2200000000000000000000")
	_, err = v.RequestDeposit(alice, bi("500000000"))
	require.NoError(t, err)
	_, err = v.RequestWithdraw(alice, bi("100000000"))
	require.NoError(t, err)

	day1 := t0.Add(24 * time.Hour)
	for h.iso.Phase() != orchestrator.ISOPostprocessing {
		h.perform(t, day1)
	}
	snap := h.iso.State()

	h.perform(t, day1)
	require.Equal(t, int64(1), v.SyncedEpoch())
	require.Equal(t, "1445000000", v.TotalAssets().String())
	require.Equal(t, "1050000000000000000", v.SharePrice().String())

	// the same slice again: the vault is already synced for this epoch
	h.iso.Restore(snap)
	res := h.perform(t, day1)
	assert.Equal(t, []common.Address{v.Address()}, res.Vaults)
	assert.Equal(t, orchestrator.ISOBuildingOrders, h.iso.Phase())
	assert.Equal(t, "1445000000", v.TotalAssets().String())
	assert.Equal(t, "1050000000000000000", v.SharePrice().String())
	assert.Equal(t, int64(1), v.SyncedEpoch())
}
