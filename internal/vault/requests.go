package vault

import (
	"encoding/binary"
	"fmt"
	"math/big"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SubmitIntent replaces the curator intent. Weights are rescaled to the
// intent scale with the rounding remainder on the last entry. On any error
// the previous intent is kept.
func (v *Vault) SubmitIntent(caller common.Address, items []IntentItem) error {
	if caller != v.curator {
		return protocol.ErrNotAuthorized
	}
	if len(items) == 0 {
		return protocol.ErrEmptyIntent
	}

	seen := make(map[common.Address]struct{}, len(items))
	weights := make([]*big.Int, len(items))
	for i, it := range items {
		if it.Token == (common.Address{}) {
			return fmt.Errorf("intent entry %d: %w", i, protocol.ErrZeroAddress)
		}
		if !v.cfg.IsWhitelisted(it.Token) {
			return fmt.Errorf("intent entry %d (%s): %w", i, it.Token.Hex(), protocol.ErrTokenNotWhitelisted)
		}
		if _, dup := seen[it.Token]; dup {
			return fmt.Errorf("intent entry %d: duplicate token %s: %w", i, it.Token.Hex(), protocol.ErrInvalidTotalAmount)
		}
		seen[it.Token] = struct{}{}
		weights[i] = it.Weight
	}

	normalized, err := fpmath.NormalizeWeights(weights, v.cfg.IntentScale())
	if err != nil {
		return fmt.Errorf("%v: %w", err, protocol.ErrInvalidTotalAmount)
	}

	next := make([]IntentItem, len(items))
	for i, it := range items {
		next[i] = IntentItem{Token: it.Token, Weight: normalized[i]}
	}
	v.intent = next
	return nil
}

// RequestDeposit escrows amount of the base asset and queues it. No shares
// are minted until the liquidity orchestrator processes the queue.
func (v *Vault) RequestDeposit(caller common.Address, amount *big.Int) (uuid.UUID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return uuid.Nil, protocol.ErrAmountMustBeGreaterThanZero
	}
	if err := v.asset.TransferFrom(caller, v.address, amount); err != nil {
		return uuid.Nil, fmt.Errorf("escrow deposit: %v: %w", err, protocol.ErrTransferFailed)
	}
	req := DepositRequest{ID: v.nextRequestID(), Requester: caller, Amount: new(big.Int).Set(amount)}
	v.deposits = append(v.deposits, req)
	return req.ID, nil
}

// RequestWithdraw escrows shares in the vault and queues the redemption.
func (v *Vault) RequestWithdraw(caller common.Address, shares *big.Int) (uuid.UUID, error) {
	if shares == nil || shares.Sign() <= 0 {
		return uuid.Nil, protocol.ErrSharesMustBeGreaterThanZero
	}
	if v.shares.BalanceOf(caller).Cmp(shares) < 0 {
		return uuid.Nil, protocol.ErrNotEnoughShares
	}
	if err := v.shares.Transfer(caller, v.address, shares); err != nil {
		return uuid.Nil, fmt.Errorf("escrow shares: %v: %w", err, protocol.ErrTransferFailed)
	}
	req := WithdrawRequest{ID: v.nextRequestID(), Requester: caller, Shares: new(big.Int).Set(shares)}
	v.withdrawals = append(v.withdrawals, req)
	return req.ID, nil
}

// nextRequestID derives the next queue entry ID from the vault address and
// a per-vault counter, so replaying the same commands yields the same IDs.
func (v *Vault) nextRequestID() uuid.UUID {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], v.requestSeq)
	v.requestSeq++
	return uuid.NewSHA1(uuid.NameSpaceOID, append(v.address.Bytes(), seq[:]...))
}

func (v *Vault) DepositRequests() []DepositRequest {
	out := make([]DepositRequest, len(v.deposits))
	for i, r := range v.deposits {
		out[i] = DepositRequest{ID: r.ID, Requester: r.Requester, Amount: new(big.Int).Set(r.Amount), Synced: r.Synced}
	}
	return out
}

func (v *Vault) WithdrawRequests() []WithdrawRequest {
	out := make([]WithdrawRequest, len(v.withdrawals))
	for i, r := range v.withdrawals {
		out[i] = WithdrawRequest{ID: r.ID, Requester: r.Requester, Shares: new(big.Int).Set(r.Shares), Synced: r.Synced}
	}
	return out
}

// PendingDeposits is the base asset escrowed by queued deposits.
func (v *Vault) PendingDeposits() *big.Int {
	total := new(big.Int)
	for _, r := range v.deposits {
		total.Add(total, r.Amount)
	}
	return total
}

// PendingWithdrawShares is the shares escrowed by queued withdrawals.
func (v *Vault) PendingWithdrawShares() *big.Int {
	total := new(big.Int)
	for _, r := range v.withdrawals {
		total.Add(total, r.Shares)
	}
	return total
}

// UnsyncedDeposits is the part of PendingDeposits no ISO update has
// counted yet.
func (v *Vault) UnsyncedDeposits() *big.Int {
	total := new(big.Int)
	for _, r := range v.deposits {
		if !r.Synced {
			total.Add(total, r.Amount)
		}
	}
	return total
}

// DepositFulfilled reports one processed deposit.
type DepositFulfilled struct {
	ID        uuid.UUID
	Requester common.Address
	Assets    *big.Int
	Shares    *big.Int
}

// WithdrawFulfilled reports one processed redemption.
type WithdrawFulfilled struct {
	ID        uuid.UUID
	Requester common.Address
	Shares    *big.Int
	Assets    *big.Int
}

func (v *Vault) enter() error {
	if !v.draining.CompareAndSwap(false, true) {
		return protocol.ErrReentrantCall
	}
	return nil
}

func (v *Vault) exit() { v.draining.Store(false) }

// ProcessDepositRequests drains the synced deposits, minting shares at the
// share price current at processing time. A deposit too small to mint a
// single share unit is refunded. Deposits queued after the last ISO update
// stay for the next epoch. Entries are removed by swap-and-pop, so
// processing order is not request order.
func (v *Vault) ProcessDepositRequests(caller common.Address) ([]DepositFulfilled, error) {
	if caller != v.cfg.Roles.LiquidityOrchestrator {
		return nil, protocol.ErrNotAuthorized
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	var done []DepositFulfilled
	for i := 0; i < len(v.deposits); {
		req := v.deposits[i]
		if !req.Synced {
			i++
			continue
		}
		shares := v.PreviewDeposit(req.Amount)
		if shares.Sign() == 0 {
			if err := v.asset.Transfer(req.Requester, req.Amount); err != nil {
				return done, fmt.Errorf("refund dust deposit %s: %v: %w", req.ID, err, protocol.ErrTransferFailed)
			}
		} else {
			if err := v.shares.Mint(req.Requester, shares); err != nil {
				return done, fmt.Errorf("mint for deposit %s: %v: %w", req.ID, err, protocol.ErrTransferFailed)
			}
			cash := v.holding(v.cfg.BaseAsset)
			cash.Add(cash, req.Amount)
		}
		v.deposits = swapPop(v.deposits, i)
		done = append(done, DepositFulfilled{ID: req.ID, Requester: req.Requester, Assets: req.Amount, Shares: shares})
	}
	return done, nil
}

// ProcessWithdrawRequests pays the synced withdrawals that base cash can
// cover in full: escrowed shares are burned and their value at the
// current share price is transferred. The rest stay queued, so a fully
// invested vault can be drained again once its sell leg has raised cash.
func (v *Vault) ProcessWithdrawRequests(caller common.Address) ([]WithdrawFulfilled, error) {
	if caller != v.cfg.Roles.LiquidityOrchestrator {
		return nil, protocol.ErrNotAuthorized
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	cash := v.holding(v.cfg.BaseAsset)
	var done []WithdrawFulfilled
	for i := 0; i < len(v.withdrawals); {
		req := v.withdrawals[i]
		assets := v.PreviewRedeem(req.Shares)
		if !req.Synced || cash.Cmp(assets) < 0 {
			i++
			continue
		}
		if err := v.shares.Burn(v.address, req.Shares); err != nil {
			return done, fmt.Errorf("burn for withdrawal %s: %v: %w", req.ID, err, protocol.ErrTransferFailed)
		}
		if assets.Sign() > 0 {
			if err := v.asset.Transfer(req.Requester, assets); err != nil {
				return done, fmt.Errorf("pay withdrawal %s: %v: %w", req.ID, err, protocol.ErrTransferFailed)
			}
			cash.Sub(cash, assets)
		}
		v.withdrawals = swapPop(v.withdrawals, i)
		done = append(done, WithdrawFulfilled{ID: req.ID, Requester: req.Requester, Shares: req.Shares, Assets: assets})
	}
	return done, nil
}

// DeferWithdrawRequests hands the synced withdrawals that could not be paid
// back to the next epoch. Their value is credited back to total assets and
// they are counted again, at the next share price, by the next ISO update.
func (v *Vault) DeferWithdrawRequests(caller common.Address) ([]WithdrawRequest, error) {
	if caller != v.cfg.Roles.LiquidityOrchestrator {
		return nil, protocol.ErrNotAuthorized
	}
	var deferred []WithdrawRequest
	for i := range v.withdrawals {
		req := &v.withdrawals[i]
		if !req.Synced {
			continue
		}
		v.totalAssets.Add(v.totalAssets, v.PreviewRedeem(req.Shares))
		req.Synced = false
		deferred = append(deferred, WithdrawRequest{ID: req.ID, Requester: req.Requester, Shares: new(big.Int).Set(req.Shares)})
	}
	return deferred, nil
}

// swapPop removes q[i] by moving the last element into its slot.
func swapPop[T any](q []T, i int) []T {
	last := len(q) - 1
	q[i] = q[last]
	var zero T
	q[last] = zero
	return q[:last]
}
