package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceSource is the registry surface the ISO reads.
type PriceSource interface {
	GetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// TickResult describes what one PerformUpkeep did.
type TickResult struct {
	Target      Target
	Epoch       uint64
	From        string
	To          string
	Vaults      []common.Address
	FeeRate     decimal.Decimal
	Buffer      *big.Int
	Deposits    []vault.DepositFulfilled
	Withdrawals []vault.WithdrawFulfilled
	Deferred    []vault.WithdrawRequest
	Fills       []vault.Fill
	Slippage    *big.Int
	Settlement  *Settlement
}

// ISO is the Internal States Orchestrator. Once per epoch it marks every
// vault to market, runs the buffer fee controller, pushes the new total
// assets and share price into each vault and builds the rebalancing
// orders that it hands to the liquidity orchestrator.
//
// Not thread-safe: driven only from the deterministic core.
type ISO struct {
	cfg     *protocol.Config
	prices  PriceSource
	vaults  *vault.Directory
	handoff *Handoff
	fee     *fpmath.SmoothFeeController

	phase          ISOPhase
	epoch          uint64
	nextUpdateTime time.Time
	cursor         int

	prevPrices map[common.Address]*big.Int
	curPrices  map[common.Address]*big.Int
	pnl        map[common.Address]*big.Int
	fees       map[common.Address]*big.Int
	feeRate    decimal.Decimal
	buffer     *big.Int
	orders     []Order
	sells      []Order
}

func NewISO(cfg *protocol.Config, prices PriceSource, vaults *vault.Directory, handoff *Handoff) *ISO {
	return &ISO{
		cfg:     cfg,
		prices:  prices,
		vaults:  vaults,
		handoff: handoff,
		fee: fpmath.NewSmoothFeeController(
			cfg.Fee.TargetBufferRatio,
			cfg.Fee.MaxFeeChange,
			cfg.Fee.SmoothingFactor,
			cfg.Fee.Deadband,
			cfg.Fee.Gain,
		),
		prevPrices: make(map[common.Address]*big.Int),
		curPrices:  make(map[common.Address]*big.Int),
		pnl:        make(map[common.Address]*big.Int),
		fees:       make(map[common.Address]*big.Int),
		buffer:     new(big.Int),
	}
}

func (s *ISO) Phase() ISOPhase { return s.phase }
func (s *ISO) Epoch() uint64 { return s.epoch }
func (s *ISO) NextUpdateTime() time.Time { return s.nextUpdateTime }
func (s *ISO) Buffer() *big.Int { return new(big.Int).Set(s.buffer) }
func (s *ISO) FeeRate() decimal.Decimal { return s.feeRate }

// CheckUpkeep reports whether PerformUpkeep would make progress at now and
// returns the payload to pass to it.
func (s *ISO) CheckUpkeep(now time.Time) (bool, []byte) {
	payload := EncodeUpkeep(Upkeep{Phase: uint8(s.phase), Epoch: s.epoch})
	if s.phase != ISOIdle {
		return true, payload
	}
	return s.startable(now), payload
}

func (s *ISO) startable(now time.Time) bool {
	if now.Before(s.nextUpdateTime) {
		return false
	}
	_, pending := s.handoff.Pending()
	return !pending
}

// PerformUpkeep advances the state machine by one tick. A failed tick
// leaves phase and cursor unchanged.
func (s *ISO) PerformUpkeep(ctx context.Context, caller common.Address, now time.Time, payload []byte) (TickResult, error) {
	if caller != s.cfg.Roles.Automation {
		return TickResult{}, protocol.ErrNotAuthorized
	}
	u, err := DecodeUpkeep(payload)
	if err != nil {
		return TickResult{}, err
	}
	if u.Phase != uint8(s.phase) || u.Epoch != s.epoch {
		return TickResult{}, fmt.Errorf("payload for %s/%d, iso at %s/%d: %w",
			ISOPhase(u.Phase), u.Epoch, s.phase, s.epoch, protocol.ErrPhaseMismatch)
	}
	ctx = protocol.WithNow(ctx, now)

	res := TickResult{Target: TargetISO, Epoch: s.epoch, From: s.phase.String()}
	switch s.phase {
	case ISOIdle:
		err = s.start(ctx, now)
	case ISOPreprocessing:
		res.Vaults, err = s.preprocess()
	case ISOBuffering:
		err = s.bufferEpoch()
		res.FeeRate = s.feeRate
		res.Buffer = s.Buffer()
	case ISOPostprocessing:
		res.Vaults, err = s.postprocess()
	case ISOBuildingOrders:
		res.Vaults, err = s.buildOrders()
	case ISOSellingLeg:
		s.sellingLeg()
	case ISOBuyingLeg:
		res.Settlement, err = s.buyingLeg()
	default:
		panic(fmt.Sprintf("FATAL: iso in unknown phase %d", s.phase))
	}
	if err != nil {
		return TickResult{}, err
	}
	res.To = s.phase.String()
	return res, nil
}

// --- phases ---

func (s *ISO) start(ctx context.Context, now time.Time) error {
	if !s.startable(now) {
		return protocol.ErrUpkeepNotNeeded
	}
	cur, err := s.snapshotPrices(ctx)
	if err != nil {
		return err
	}
	prev := make(map[common.Address]*big.Int, len(cur))
	for token, p := range cur {
		if old, ok := s.prevPrices[token]; ok {
			prev[token] = new(big.Int).Set(old)
		} else {
			prev[token] = new(big.Int).Set(p)
		}
	}
	s.prevPrices = prev
	s.curPrices = cur
	s.pnl = make(map[common.Address]*big.Int)
	s.fees = make(map[common.Address]*big.Int)
	s.orders = nil
	s.sells = nil
	s.nextUpdateTime = now.Add(s.cfg.EpochDuration)
	s.cursor = 0
	s.phase = ISOPreprocessing
	return nil
}

// snapshotPrices reads the price of the base asset, every whitelisted
// token and every token any vault still holds. Any failure aborts.
func (s *ISO) snapshotPrices(ctx context.Context) (map[common.Address]*big.Int, error) {
	tokens := map[common.Address]struct{}{s.cfg.BaseAsset: {}}
	for _, t := range s.cfg.Universe() {
		tokens[t] = struct{}{}
	}
	for _, v := range s.vaults.All() {
		for t, amt := range v.Holdings() {
			if amt.Sign() > 0 {
				tokens[t] = struct{}{}
			}
		}
	}

	out := make(map[common.Address]*big.Int, len(tokens))
	for _, t := range sortedAddresses(tokens) {
		p, err := s.prices.GetPrice(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("price snapshot %s: %w", t.Hex(), err)
		}
		out[t] = p
	}
	return out, nil
}

func (s *ISO) batch() ([]*vault.Vault, bool) {
	all := s.vaults.All()
	end := s.cursor + s.cfg.MinibatchSize
	if end >= len(all) {
		end = len(all)
	}
	var batch []*vault.Vault
	if s.cursor < len(all) {
		batch = all[s.cursor:end]
	}
	return batch, end >= len(all)
}

func (s *ISO) advance(last bool, next ISOPhase) {
	if last {
		s.cursor = 0
		s.phase = next
		return
	}
	s.cursor += s.cfg.MinibatchSize
}

func (s *ISO) preprocess() ([]common.Address, error) {
	batch, last := s.batch()
	pnl := make(map[common.Address]*big.Int, len(batch))
	for _, v := range batch {
		p, err := s.vaultPnL(v)
		if err != nil {
			return nil, err
		}
		pnl[v.Address()] = p
	}
	for addr, p := range pnl {
		s.pnl[addr] = p
	}
	s.advance(last, ISOBuffering)
	return addresses(batch), nil
}

// vaultPnL marks the non-cash holdings from the previous to the current
// price, in base-asset units.
func (s *ISO) vaultPnL(v *vault.Vault) (*big.Int, error) {
	total := new(big.Int)
	for token, amt := range v.Holdings() {
		if token == s.cfg.BaseAsset || amt.Sign() == 0 {
			continue
		}
		cur, ok := s.curPrices[token]
		if !ok {
			return nil, fmt.Errorf("no price snapshot for %s: %w", token.Hex(), protocol.ErrAdapterNotSet)
		}
		dec, ok := s.cfg.TokenDecimals(token)
		if !ok {
			return nil, fmt.Errorf("no decimals for %s: %w", token.Hex(), protocol.ErrInvalidPrice)
		}
		total.Add(total, s.valueOf(amt, cur, dec))
		total.Sub(total, s.valueOf(amt, s.prevPrices[token], dec))
	}
	return total, nil
}

func (s *ISO) bufferEpoch() error {
	tvl := new(big.Int)
	for _, v := range s.vaults.All() {
		tvl.Add(tvl, v.TotalAssets())
	}
	rate := s.fee.Next(s.buffer, tvl)

	collected := new(big.Int)
	fees := make(map[common.Address]*big.Int)
	for _, v := range s.vaults.All() {
		ceiling := new(big.Int).Add(v.TotalAssets(), s.pnlOf(v.Address()))
		fee := fpmath.ApplyRate(v.TotalAssets(), rate)
		if ceiling.Sign() <= 0 {
			fee = new(big.Int)
		} else if fee.Cmp(ceiling) > 0 {
			fee = ceiling
		}
		fees[v.Address()] = fee
		collected.Add(collected, fee)
	}

	buffer := new(big.Int).Add(s.buffer, collected)
	buffer.Sub(buffer, s.handoff.TakeSlippage())
	if buffer.Sign() < 0 {
		buffer.SetInt64(0)
	}

	s.fees = fees
	s.feeRate = rate
	s.buffer = buffer
	s.phase = ISOPostprocessing
	return nil
}

func (s *ISO) pnlOf(addr common.Address) *big.Int {
	if p, ok := s.pnl[addr]; ok {
		return p
	}
	return new(big.Int)
}

func (s *ISO) feeOf(addr common.Address) *big.Int {
	if f, ok := s.fees[addr]; ok {
		return f
	}
	return new(big.Int)
}

type vaultUpdate struct {
	v           *vault.Vault
	totalAssets *big.Int
	sharePrice  *big.Int
}

func (s *ISO) postprocess() ([]common.Address, error) {
	batch, last := s.batch()
	epoch := int64(s.epoch)
	scale := fpmath.Pow10(vault.SharePriceDecimals)

	var updates []vaultUpdate
	for _, v := range batch {
		if v.SyncedEpoch() == epoch {
			continue
		}
		delta := new(big.Int).Sub(s.pnlOf(v.Address()), s.feeOf(v.Address()))

		price := v.SharePrice()
		if shares := v.TotalShares(); shares.Sign() > 0 {
			price.Add(price, fpmath.MulDiv(delta, scale, shares, fpmath.RoundDown))
		}
		if price.Sign() <= 0 {
			price.SetInt64(1)
		}

		// priced per request, the way the LO will pay them
		redeemed := new(big.Int)
		for _, r := range v.WithdrawRequests() {
			if !r.Synced {
				redeemed.Add(redeemed, fpmath.MulDiv(r.Shares, price, scale, fpmath.RoundDown))
			}
		}
		total := v.TotalAssets()
		total.Add(total, v.UnsyncedDeposits())
		total.Sub(total, redeemed)
		total.Add(total, delta)
		if total.Sign() < 0 {
			total.SetInt64(0)
		}
		updates = append(updates, vaultUpdate{v: v, totalAssets: total, sharePrice: price})
	}

	self := s.cfg.Roles.InternalStatesOrchestrator
	for _, u := range updates {
		if err := u.v.SetTotalAssets(self, u.totalAssets); err != nil {
			return nil, fmt.Errorf("vault %s: %w", u.v.Address().Hex(), err)
		}
		if err := u.v.SetSharePrice(self, u.sharePrice); err != nil {
			return nil, fmt.Errorf("vault %s: %w", u.v.Address().Hex(), err)
		}
		if err := u.v.MarkSynced(self, epoch); err != nil {
			return nil, fmt.Errorf("vault %s: %w", u.v.Address().Hex(), err)
		}
	}
	s.advance(last, ISOBuildingOrders)
	return addresses(batch), nil
}

func (s *ISO) buildOrders() ([]common.Address, error) {
	batch, last := s.batch()
	var orders []Order
	for _, v := range batch {
		vo, err := s.vaultOrders(v)
		if err != nil {
			return nil, err
		}
		orders = append(orders, vo...)
	}
	s.orders = append(s.orders, orders...)
	s.advance(last, ISOSellingLeg)
	return addresses(batch), nil
}

// vaultOrders diffs the intent's target units against current holdings.
// Tokens held but absent from the intent are sold off. A vault with no
// intent keeps its portfolio.
func (s *ISO) vaultOrders(v *vault.Vault) ([]Order, error) {
	intent := v.Intent()
	if len(intent) == 0 {
		return nil, nil
	}
	totalAssets := v.TotalAssets()
	scale := s.cfg.IntentScale()
	holdings := v.Holdings()

	targets := make(map[common.Address]*big.Int)
	var tokens []common.Address
	for _, it := range intent {
		if it.Token == s.cfg.BaseAsset {
			continue
		}
		price, dec, err := s.priceAndDecimals(it.Token)
		if err != nil {
			return nil, err
		}
		value := fpmath.MulDiv(totalAssets, it.Weight, scale, fpmath.RoundDown)
		targets[it.Token] = s.unitsFor(value, price, dec)
		tokens = append(tokens, it.Token)
	}
	held := make(map[common.Address]struct{})
	for token, amt := range holdings {
		if token == s.cfg.BaseAsset || amt.Sign() == 0 {
			continue
		}
		if _, ok := targets[token]; !ok {
			held[token] = struct{}{}
		}
	}
	tokens = append(tokens, sortedAddresses(held)...)

	var orders []Order
	for _, token := range tokens {
		target, ok := targets[token]
		if !ok {
			target = new(big.Int)
		}
		current, ok := holdings[token]
		if !ok {
			current = new(big.Int)
		}
		diff := new(big.Int).Sub(target, current)
		if diff.Sign() == 0 {
			continue
		}
		price, dec, err := s.priceAndDecimals(token)
		if err != nil {
			return nil, err
		}
		side := vault.SideBuy
		if diff.Sign() < 0 {
			side = vault.SideSell
			diff.Neg(diff)
		}
		orders = append(orders, Order{
			Vault:    v.Address(),
			Token:    token,
			Side:     side,
			Quantity: diff,
			Price:    new(big.Int).Set(price),
			Value:    s.valueOf(diff, price, dec),
		})
	}
	return orders, nil
}

func (s *ISO) sellingLeg() {
	var sells []Order
	for _, o := range s.orders {
		if o.Side == vault.SideSell {
			sells = append(sells, o)
		}
	}
	s.sells = sells
	s.phase = ISOBuyingLeg
}

func (s *ISO) buyingLeg() (*Settlement, error) {
	var buys []Order
	for _, o := range s.orders {
		if o.Side == vault.SideBuy {
			buys = append(buys, o)
		}
	}
	settlement := &Settlement{
		Epoch:      s.epoch,
		Sells:      cloneOrders(s.sells),
		Buys:       buys,
		SellTotals: totals(s.sells),
		BuyTotals:  totals(buys),
		Prices:     cloneAmounts(s.curPrices),
	}
	if err := s.handoff.Publish(settlement); err != nil {
		return nil, err
	}

	s.prevPrices = cloneAmounts(s.curPrices)
	s.orders = nil
	s.sells = nil
	s.cursor = 0
	s.epoch++
	s.phase = ISOIdle
	return settlement, nil
}

// --- valuation ---

func (s *ISO) priceAndDecimals(token common.Address) (*big.Int, uint8, error) {
	price, ok := s.curPrices[token]
	if !ok {
		return nil, 0, fmt.Errorf("no price snapshot for %s: %w", token.Hex(), protocol.ErrAdapterNotSet)
	}
	dec, ok := s.cfg.TokenDecimals(token)
	if !ok {
		return nil, 0, fmt.Errorf("no decimals for %s: %w", token.Hex(), protocol.ErrInvalidPrice)
	}
	return price, dec, nil
}

// valueOf returns amount units of a dec-decimal token at price, in
// base-asset units.
func (s *ISO) valueOf(amount, price *big.Int, dec uint8) *big.Int {
	num := new(big.Int).Mul(price, fpmath.Pow10(s.cfg.BaseDecimals))
	den := new(big.Int).Mul(fpmath.Pow10(dec), fpmath.Pow10(s.cfg.PriceDecimals))
	return fpmath.MulDiv(amount, num, den, fpmath.RoundDown)
}

// unitsFor is the inverse of valueOf.
func (s *ISO) unitsFor(value, price *big.Int, dec uint8) *big.Int {
	num := new(big.Int).Mul(fpmath.Pow10(dec), fpmath.Pow10(s.cfg.PriceDecimals))
	den := new(big.Int).Mul(price, fpmath.Pow10(s.cfg.BaseDecimals))
	return fpmath.MulDiv(value, num, den, fpmath.RoundDown)
}

func addresses(vs []*vault.Vault) []common.Address {
	out := make([]common.Address, len(vs))
	for i, v := range vs {
		out[i] = v.Address()
	}
	return out
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// --- snapshot ---

type ISOState struct {
	Phase          ISOPhase                    `json:"phase"`
	Epoch          uint64                      `json:"epoch"`
	NextUpdateTime time.Time                   `json:"next_update_time"`
	Cursor         int                         `json:"cursor"`
	PrevPrices     map[common.Address]*big.Int `json:"prev_prices"`
	CurPrices      map[common.Address]*big.Int `json:"cur_prices"`
	PnL            map[common.Address]*big.Int `json:"pnl"`
	Fees           map[common.Address]*big.Int `json:"fees"`
	FeeRate        decimal.Decimal             `json:"fee_rate"`
	Buffer         *big.Int                    `json:"buffer"`
	Orders         []Order                     `json:"orders"`
	Sells          []Order                     `json:"sells"`
	Controller     fpmath.FeeControllerState   `json:"controller"`
}

func (s *ISO) State() ISOState {
	return ISOState{
		Phase:          s.phase,
		Epoch:          s.epoch,
		NextUpdateTime: s.nextUpdateTime,
		Cursor:         s.cursor,
		PrevPrices:     cloneAmounts(s.prevPrices),
		CurPrices:      cloneAmounts(s.curPrices),
		PnL:            cloneAmounts(s.pnl),
		Fees:           cloneAmounts(s.fees),
		FeeRate:        s.feeRate,
		Buffer:         new(big.Int).Set(s.buffer),
		Orders:         cloneOrders(s.orders),
		Sells:          cloneOrders(s.sells),
		Controller:     s.fee.State(),
	}
}

func (s *ISO) Restore(st ISOState) {
	s.phase = st.Phase
	s.epoch = st.Epoch
	s.nextUpdateTime = st.NextUpdateTime
	s.cursor = st.Cursor
	s.prevPrices = orEmpty(cloneAmounts(st.PrevPrices))
	s.curPrices = orEmpty(cloneAmounts(st.CurPrices))
	s.pnl = orEmpty(cloneAmounts(st.PnL))
	s.fees = orEmpty(cloneAmounts(st.Fees))
	s.feeRate = st.FeeRate
	s.buffer = new(big.Int)
	if st.Buffer != nil {
		s.buffer.Set(st.Buffer)
	}
	s.orders = cloneOrders(st.Orders)
	s.sells = cloneOrders(st.Sells)
	s.fee.Restore(st.Controller)
}

func orEmpty(m map[common.Address]*big.Int) map[common.Address]*big.Int {
	if m == nil {
		return make(map[common.Address]*big.Int)
	}
	return m
}
