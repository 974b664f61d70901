package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SharePriceDecimals is the fixed-point precision of the share price
// (base-asset units per share unit).
const SharePriceDecimals uint8 = 18

// TokenTransfer moves the base asset. Transfer pays out of the vault.
type TokenTransfer interface {
	TransferFrom(from, to common.Address, amount *big.Int) error
	Transfer(to common.Address, amount *big.Int) error
	BalanceOf(who common.Address) *big.Int
}

// ShareLedger is the vault's share book.
type ShareLedger interface {
	Mint(to common.Address, shares *big.Int) error
	Burn(from common.Address, shares *big.Int) error
	Transfer(from, to common.Address, shares *big.Int) error
	BalanceOf(who common.Address) *big.Int
	TotalSupply() *big.Int
}

// MarketLeg settles the base-asset side of executed trades with the
// outside market.
type MarketLeg interface {
	Issue(to common.Address, amount *big.Int) error
	Retire(from common.Address, amount *big.Int) error
}

// IntentItem is one (token, weight) pair of a curator intent.
type IntentItem struct {
	Token  common.Address `json:"token"`
	Weight *big.Int       `json:"weight"`
}

// Synced marks a request the ISO has already folded into total assets.
// Only synced requests are processed by the liquidity orchestrator.
type DepositRequest struct {
	ID        uuid.UUID      `json:"id"`
	Requester common.Address `json:"requester"`
	Amount    *big.Int       `json:"amount"`
	Synced    bool           `json:"synced"`
}

type WithdrawRequest struct {
	ID        uuid.UUID      `json:"id"`
	Requester common.Address `json:"requester"`
	Shares    *big.Int       `json:"shares"`
	Synced    bool           `json:"synced"`
}

// Vault is the accounting of one curated vault: total assets, share
// price, the async request queues, the curator intent and the portfolio
// holdings (base cash included). Mutations are gated by role.
type Vault struct {
	address common.Address
	curator common.Address
	cfg     *protocol.Config

	asset  TokenTransfer
	shares ShareLedger
	market MarketLeg

	totalAssets *big.Int
	sharePrice  *big.Int
	deposits    []DepositRequest
	withdrawals []WithdrawRequest
	intent      []IntentItem
	holdings    map[common.Address]*big.Int
	syncedEpoch int64
	requestSeq  uint64

	draining atomic.Bool
}

func newVault(address, curator common.Address, cfg *protocol.Config, asset TokenTransfer, shares ShareLedger, market MarketLeg) *Vault {
	return &Vault{
		address:     address,
		curator:     curator,
		cfg:         cfg,
		asset:       asset,
		shares:      shares,
		market:      market,
		totalAssets: new(big.Int),
		sharePrice:  fpmath.Pow10(SharePriceDecimals),
		holdings:    make(map[common.Address]*big.Int),
		syncedEpoch: -1,
	}
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Curator() common.Address { return v.curator }

func (v *Vault) TotalAssets() *big.Int { return new(big.Int).Set(v.totalAssets) }
func (v *Vault) SharePrice() *big.Int  { return new(big.Int).Set(v.sharePrice) }
func (v *Vault) TotalShares() *big.Int { return v.shares.TotalSupply() }

// SyncedEpoch is the last epoch whose ISO update has been applied, -1 if
// none.
func (v *Vault) SyncedEpoch() int64 { return v.syncedEpoch }

// Intent returns a copy of the current intent.
func (v *Vault) Intent() []IntentItem {
	out := make([]IntentItem, len(v.intent))
	for i, it := range v.intent {
		out[i] = IntentItem{Token: it.Token, Weight: new(big.Int).Set(it.Weight)}
	}
	return out
}

// Holdings returns a copy of the portfolio. Base cash is keyed by the base
// asset.
func (v *Vault) Holdings() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(v.holdings))
	for k, amt := range v.holdings {
		out[k] = new(big.Int).Set(amt)
	}
	return out
}

func (v *Vault) holding(token common.Address) *big.Int {
	h, ok := v.holdings[token]
	if !ok {
		h = new(big.Int)
		v.holdings[token] = h
	}
	return h
}

// Cash is the base asset available for redemptions and purchases.
func (v *Vault) Cash() *big.Int {
	return new(big.Int).Set(v.holding(v.cfg.BaseAsset))
}

// --- conversions ---

// PreviewDeposit returns the shares minted for assets at the current share
// price, rounded down.
func (v *Vault) PreviewDeposit(assets *big.Int) *big.Int {
	return fpmath.MulDiv(assets, fpmath.Pow10(SharePriceDecimals), v.sharePrice, fpmath.RoundDown)
}

// PreviewRedeem returns the assets released for shares at the current
// share price, rounded down.
func (v *Vault) PreviewRedeem(shares *big.Int) *big.Int {
	return previewRedeemAt(shares, v.sharePrice)
}

func previewRedeemAt(shares, sharePrice *big.Int) *big.Int {
	return fpmath.MulDiv(shares, sharePrice, fpmath.Pow10(SharePriceDecimals), fpmath.RoundDown)
}

// The ERC-4626 read surface, so nested vaults can be priced.

func (v *Vault) Asset(context.Context) (common.Address, error) { return v.cfg.BaseAsset, nil }

func (v *Vault) Decimals(context.Context) (uint8, error) { return v.cfg.BaseDecimals, nil }

func (v *Vault) ConvertToAssets(_ context.Context, shares *big.Int) (*big.Int, error) {
	return v.PreviewRedeem(shares), nil
}

// --- ISO entry points ---

func (v *Vault) SetSharePrice(caller common.Address, price *big.Int) error {
	if caller != v.cfg.Roles.InternalStatesOrchestrator {
		return protocol.ErrNotAuthorized
	}
	if price == nil || price.Sign() <= 0 {
		return protocol.ErrZeroPrice
	}
	v.sharePrice = new(big.Int).Set(price)
	return nil
}

func (v *Vault) SetTotalAssets(caller common.Address, total *big.Int) error {
	if caller != v.cfg.Roles.InternalStatesOrchestrator {
		return protocol.ErrNotAuthorized
	}
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("total assets %v: %w", total, protocol.ErrInvalidTotalAmount)
	}
	v.totalAssets = new(big.Int).Set(total)
	return nil
}

// MarkSynced records that the ISO update for epoch has been applied. Every
// request queued at this point was counted by that update and becomes
// eligible for processing.
func (v *Vault) MarkSynced(caller common.Address, epoch int64) error {
	if caller != v.cfg.Roles.InternalStatesOrchestrator {
		return protocol.ErrNotAuthorized
	}
	v.syncedEpoch = epoch
	for i := range v.deposits {
		v.deposits[i].Synced = true
	}
	for i := range v.withdrawals {
		v.withdrawals[i].Synced = true
	}
	return nil
}

// --- synchronous ERC-4626 entry points: always rejected ---

func (v *Vault) Deposit(*big.Int, common.Address) error {
	return protocol.ErrSynchronousDepositDisabled
}

func (v *Vault) Mint(*big.Int, common.Address) error {
	return protocol.ErrSynchronousMintDisabled
}

func (v *Vault) Withdraw(*big.Int, common.Address, common.Address) error {
	return protocol.ErrSynchronousWithdrawDisabled
}

func (v *Vault) Redeem(*big.Int, common.Address, common.Address) error {
	return protocol.ErrSynchronousRedeemDisabled
}
