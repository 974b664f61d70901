package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	fpmath "Orion/internal/math"
	"Orion/internal/proof"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// LO is the Liquidity Orchestrator. It executes the settlement the ISO
// published: first the synced deposits and the redemptions cash already
// covers, then the sell leg, which also pays the remaining redemptions out
// of its proceeds, then the buy leg. Only the trading legs need a proof.
//
// Not thread-safe: driven only from the deterministic core.
type LO struct {
	cfg      *protocol.Config
	vaults   *vault.Directory
	handoff  *Handoff
	verifier proof.Verifier

	phase      LOPhase
	cursor     int
	settlement *Settlement
	slippage   *big.Int
}

func NewLO(cfg *protocol.Config, vaults *vault.Directory, handoff *Handoff, verifier proof.Verifier) *LO {
	return &LO{
		cfg:      cfg,
		vaults:   vaults,
		handoff:  handoff,
		verifier: verifier,
		slippage: new(big.Int),
	}
}

func (l *LO) Phase() LOPhase { return l.phase }

// Epoch is the epoch of the settlement being executed, or of the pending
// one while idle.
func (l *LO) Epoch() uint64 {
	if l.settlement != nil {
		return l.settlement.Epoch
	}
	if s, ok := l.handoff.Pending(); ok {
		return s.Epoch
	}
	return 0
}

// LegOrders returns the orders the current trading leg may fill.
func (l *LO) LegOrders() (LOPhase, uint64, []Order) {
	if l.settlement == nil {
		return l.phase, l.Epoch(), nil
	}
	switch l.phase {
	case LOSellingLeg:
		return l.phase, l.settlement.Epoch, cloneOrders(l.settlement.Sells)
	case LOBuyingLeg:
		return l.phase, l.settlement.Epoch, cloneOrders(l.settlement.Buys)
	default:
		return l.phase, l.settlement.Epoch, nil
	}
}

func (l *LO) CheckUpkeep(time.Time) (bool, []byte) {
	payload := EncodeUpkeep(Upkeep{Phase: uint8(l.phase), Epoch: l.Epoch()})
	if l.phase != LOIdle {
		return true, payload
	}
	_, pending := l.handoff.Pending()
	return pending, payload
}

func (l *LO) PerformUpkeep(ctx context.Context, caller common.Address, now time.Time, payload []byte) (TickResult, error) {
	if caller != l.cfg.Roles.Automation {
		return TickResult{}, protocol.ErrNotAuthorized
	}
	u, err := DecodeUpkeep(payload)
	if err != nil {
		return TickResult{}, err
	}
	if u.Phase != uint8(l.phase) || u.Epoch != l.Epoch() {
		return TickResult{}, fmt.Errorf("payload for %s/%d, lo at %s/%d: %w",
			LOPhase(u.Phase), u.Epoch, l.phase, l.Epoch(), protocol.ErrPhaseMismatch)
	}
	ctx = protocol.WithNow(ctx, now)

	res := TickResult{Target: TargetLO, Epoch: l.Epoch(), From: l.phase.String()}
	switch l.phase {
	case LOIdle:
		err = l.start()
	case LOFulfillDepositAndRedeem:
		err = l.fulfill(&res)
	case LOSellingLeg:
		res.Fills, err = l.trade(ctx, u.Artifact, l.settlement.Sells, vault.SideSell)
		if err == nil {
			err = l.redeemRemaining(&res)
		}
		if err == nil {
			l.phase = LOBuyingLeg
		}
	case LOBuyingLeg:
		res.Fills, err = l.trade(ctx, u.Artifact, l.settlement.Buys, vault.SideBuy)
		if err == nil {
			res.Slippage = new(big.Int).Set(l.slippage)
			err = l.finish()
		}
	default:
		panic(fmt.Sprintf("FATAL: lo in unknown phase %d", l.phase))
	}
	if err != nil {
		return TickResult{}, err
	}
	res.To = l.phase.String()
	return res, nil
}

func (l *LO) start() error {
	s, ok := l.handoff.Pending()
	if !ok {
		return protocol.ErrUpkeepNotNeeded
	}
	l.settlement = s
	l.slippage = new(big.Int)
	l.cursor = 0
	l.phase = LOFulfillDepositAndRedeem
	return nil
}

func (l *LO) fulfill(res *TickResult) error {
	all := l.vaults.All()
	end := l.cursor + l.cfg.MinibatchSize
	if end > len(all) {
		end = len(all)
	}
	self := l.cfg.Roles.LiquidityOrchestrator
	for _, v := range all[min(l.cursor, len(all)):end] {
		deposits, err := v.ProcessDepositRequests(self)
		if err != nil {
			return fmt.Errorf("vault %s deposits: %w", v.Address().Hex(), err)
		}
		withdrawals, err := v.ProcessWithdrawRequests(self)
		if err != nil {
			return fmt.Errorf("vault %s withdrawals: %w", v.Address().Hex(), err)
		}
		res.Vaults = append(res.Vaults, v.Address())
		res.Deposits = append(res.Deposits, deposits...)
		res.Withdrawals = append(res.Withdrawals, withdrawals...)
	}
	if end >= len(all) {
		l.cursor = 0
		l.phase = LOSellingLeg
	} else {
		l.cursor = end
	}
	return nil
}

// redeemRemaining pays the withdrawals the fulfil phase could not cover
// and defers the ones the sell proceeds still cannot, so the leg always
// completes.
func (l *LO) redeemRemaining(res *TickResult) error {
	self := l.cfg.Roles.LiquidityOrchestrator
	for _, v := range l.vaults.All() {
		paid, err := v.ProcessWithdrawRequests(self)
		if err != nil {
			return fmt.Errorf("vault %s withdrawals: %w", v.Address().Hex(), err)
		}
		deferred, err := v.DeferWithdrawRequests(self)
		if err != nil {
			return fmt.Errorf("vault %s deferrals: %w", v.Address().Hex(), err)
		}
		if len(paid) == 0 && len(deferred) == 0 {
			continue
		}
		res.Vaults = append(res.Vaults, v.Address())
		res.Withdrawals = append(res.Withdrawals, paid...)
		res.Deferred = append(res.Deferred, deferred...)
	}
	return nil
}

type orderKey struct {
	vault common.Address
	token common.Address
}

// trade verifies the artifact for the current leg, checks that every fill
// stays within the leg's orders and books the fills into the vaults. A buy
// costing more than the vault's remaining cash is cut down pro rata to
// what the cash pays for. The returned fills are the ones booked.
func (l *LO) trade(ctx context.Context, art *proof.Artifact, orders []Order, side vault.Side) ([]vault.Fill, error) {
	epoch := l.settlement.Epoch
	if art == nil {
		return nil, fmt.Errorf("%s needs a proof: %w", l.phase, protocol.ErrInvalidProof)
	}
	if err := proof.Check(ctx, l.verifier, *art, epoch, uint8(l.phase)); err != nil {
		return nil, err
	}
	var fills []vault.Fill
	if err := json.Unmarshal(art.ComputedState, &fills); err != nil {
		return nil, fmt.Errorf("computed state is not a fill list: %v: %w", err, protocol.ErrInvalidProof)
	}

	remaining := make(map[orderKey]Order, len(orders))
	for _, o := range orders {
		remaining[orderKey{o.Vault, o.Token}] = o.clone()
	}
	type booked struct {
		v    *vault.Vault
		fill vault.Fill
		slip *big.Int
	}
	plan := make([]booked, 0, len(fills))
	cash := make(map[common.Address]*big.Int)
	for i, f := range fills {
		key := orderKey{f.Vault, f.Token}
		o, ok := remaining[key]
		if !ok || f.Side != side || f.Quantity == nil || f.Quantity.Sign() <= 0 || f.Value == nil || f.Value.Sign() < 0 {
			return nil, fmt.Errorf("fill %d outside the %s orders: %w", i, l.phase, protocol.ErrInvalidProof)
		}
		if f.Quantity.Cmp(o.Quantity) > 0 {
			return nil, fmt.Errorf("fill %d exceeds order quantity: %w", i, protocol.ErrInvalidProof)
		}
		v, err := l.vaults.Get(f.Vault)
		if err != nil {
			return nil, err
		}
		if side == vault.SideBuy {
			left, ok := cash[f.Vault]
			if !ok {
				left = v.Cash()
				cash[f.Vault] = left
			}
			if f.Value.Cmp(left) > 0 {
				f = capBuy(f, left)
			}
			if f.Quantity.Sign() == 0 {
				continue
			}
			left.Sub(left, f.Value)
		}
		expected := fpmath.MulDiv(o.Value, f.Quantity, o.Quantity, fpmath.RoundDown)
		slip := new(big.Int).Sub(f.Value, expected)
		if side == vault.SideSell {
			slip.Neg(slip)
		}
		plan = append(plan, booked{v: v, fill: f, slip: slip})

		// partial fills share the pro-rata value of what is left
		o.Value.Sub(o.Value, expected)
		o.Quantity.Sub(o.Quantity, f.Quantity)
		if o.Quantity.Sign() == 0 {
			delete(remaining, key)
		} else {
			remaining[key] = o
		}
	}

	self := l.cfg.Roles.LiquidityOrchestrator
	out := make([]vault.Fill, 0, len(plan))
	for _, b := range plan {
		if err := b.v.ApplyFill(self, b.fill); err != nil {
			return nil, fmt.Errorf("vault %s: %w", b.v.Address().Hex(), err)
		}
		l.slippage.Add(l.slippage, b.slip)
		out = append(out, b.fill)
	}
	return out, nil
}

// capBuy scales a buy down to the units cash pays for at the fill's own
// price. The quantity rounds down and the cost rounds up, so the cost
// never exceeds cash.
func capBuy(f vault.Fill, cash *big.Int) vault.Fill {
	qty := fpmath.MulDiv(f.Quantity, cash, f.Value, fpmath.RoundDown)
	return vault.Fill{
		Vault:    f.Vault,
		Token:    f.Token,
		Side:     f.Side,
		Quantity: qty,
		Value:    fpmath.MulDiv(f.Value, qty, f.Quantity, fpmath.RoundUp),
	}
}

func (l *LO) finish() error {
	if err := l.handoff.Ack(l.settlement.Epoch, l.slippage); err != nil {
		return err
	}
	l.settlement = nil
	l.slippage = new(big.Int)
	l.cursor = 0
	l.phase = LOIdle
	return nil
}

// --- snapshot ---

type LOState struct {
	Phase      LOPhase     `json:"phase"`
	Cursor     int         `json:"cursor"`
	Settlement *Settlement `json:"settlement,omitempty"`
	Slippage   *big.Int    `json:"slippage"`
}

func (l *LO) State() LOState {
	return LOState{
		Phase:      l.phase,
		Cursor:     l.cursor,
		Settlement: l.settlement.clone(),
		Slippage:   new(big.Int).Set(l.slippage),
	}
}

func (l *LO) Restore(s LOState) {
	l.phase = s.Phase
	l.cursor = s.Cursor
	l.settlement = s.Settlement.clone()
	l.slippage = new(big.Int)
	if s.Slippage != nil {
		l.slippage.Set(s.Slippage)
	}
}
