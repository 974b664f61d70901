package oracle

import (
	"context"
	"fmt"
	"math/big"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// VaultReader is the ERC-4626 read surface the share adapters need.
type VaultReader interface {
	Asset(ctx context.Context) (common.Address, error)
	Decimals(ctx context.Context) (uint8, error)
	ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error)
}

// VaultSource resolves an asset address to its vault reader.
type VaultSource interface {
	Vault(asset common.Address) (VaultReader, error)
}

// assetsPerShare returns the underlying redeemable for one whole share.
func assetsPerShare(ctx context.Context, v VaultReader) (*big.Int, error) {
	shareDecimals, err := v.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("share decimals: %v: %w", err, protocol.ErrInvalidPrice)
	}
	assets, err := v.ConvertToAssets(ctx, fpmath.Pow10(shareDecimals))
	if err != nil {
		return nil, fmt.Errorf("convertToAssets: %v: %w", err, protocol.ErrInvalidPrice)
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("vault reports %v assets per share: %w", assets, protocol.ErrInvalidPrice)
	}
	return assets, nil
}

// VaultShare prices shares of an ERC-4626 vault whose underlying already is
// the protocol base asset. No numeraire composition is done.
type VaultShare struct {
	cfg    *protocol.Config
	vaults VaultSource
}

func NewVaultShare(cfg *protocol.Config, vaults VaultSource) *VaultShare {
	return &VaultShare{cfg: cfg, vaults: vaults}
}

func (a *VaultShare) Kind() AdapterKind { return KindVaultShare }

func (a *VaultShare) Validate(ctx context.Context, asset common.Address) error {
	return validateBaseVault(ctx, a.cfg, a.vaults, asset)
}

func (a *VaultShare) PriceData(ctx context.Context, asset common.Address) (*big.Int, uint8, error) {
	return baseVaultPrice(ctx, a.cfg, a.vaults, asset)
}

func validateBaseVault(ctx context.Context, cfg *protocol.Config, vaults VaultSource, asset common.Address) error {
	v, err := vaults.Vault(asset)
	if err != nil {
		return invalidAdapter("%s is not a vault: %v", asset.Hex(), err)
	}
	underlying, err := v.Asset(ctx)
	if err != nil {
		return invalidAdapter("%s exposes no underlying: %v", asset.Hex(), err)
	}
	if underlying != cfg.BaseAsset {
		return invalidAdapter("%s underlying %s is not the base asset", asset.Hex(), underlying.Hex())
	}
	if _, err := v.Decimals(ctx); err != nil {
		return invalidAdapter("%s decimals unreadable: %v", asset.Hex(), err)
	}
	return nil
}

func baseVaultPrice(ctx context.Context, cfg *protocol.Config, vaults VaultSource, asset common.Address) (*big.Int, uint8, error) {
	v, err := vaults.Vault(asset)
	if err != nil {
		return nil, 0, fmt.Errorf("vault %s: %v: %w", asset.Hex(), err, protocol.ErrInvalidPrice)
	}
	price, err := assetsPerShare(ctx, v)
	if err != nil {
		return nil, 0, fmt.Errorf("vault %s: %w", asset.Hex(), err)
	}
	return price, cfg.BaseDecimals, nil
}

// OrionVaultShare prices shares of a vault managed by this protocol,
// making vault-of-vault allocations possible. The nested vault is read
// through the in-process vault directory rather than over RPC.
type OrionVaultShare struct {
	cfg    *protocol.Config
	vaults VaultSource
}

func NewOrionVaultShare(cfg *protocol.Config, vaults VaultSource) *OrionVaultShare {
	return &OrionVaultShare{cfg: cfg, vaults: vaults}
}

func (a *OrionVaultShare) Kind() AdapterKind { return KindOrionVaultShare }

func (a *OrionVaultShare) Validate(ctx context.Context, asset common.Address) error {
	if _, err := a.vaults.Vault(asset); err != nil {
		return invalidAdapter("%s is not a registered vault: %v", asset.Hex(), err)
	}
	return validateBaseVault(ctx, a.cfg, a.vaults, asset)
}

func (a *OrionVaultShare) PriceData(ctx context.Context, asset common.Address) (*big.Int, uint8, error) {
	return baseVaultPrice(ctx, a.cfg, a.vaults, asset)
}

// UnderlyingPricer is the registry surface the composed adapter needs.
type UnderlyingPricer interface {
	GetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
	Adapter(asset common.Address) (Adapter, bool)
	PriceDecimals() uint8
}

// ComposedVaultShare prices shares of a vault whose underlying is NOT the
// base asset: share -> underlying via the vault, underlying -> numeraire
// via the registry. The multiply happens before the single division.
type ComposedVaultShare struct {
	cfg      *protocol.Config
	vaults   VaultSource
	registry UnderlyingPricer
	rounding fpmath.RoundingMode
}

func NewComposedVaultShare(cfg *protocol.Config, vaults VaultSource, registry UnderlyingPricer, rounding fpmath.RoundingMode) *ComposedVaultShare {
	return &ComposedVaultShare{cfg: cfg, vaults: vaults, registry: registry, rounding: rounding}
}

func (a *ComposedVaultShare) Kind() AdapterKind { return KindComposedVaultShare }

func (a *ComposedVaultShare) Validate(ctx context.Context, asset common.Address) error {
	v, err := a.vaults.Vault(asset)
	if err != nil {
		return invalidAdapter("%s is not a vault: %v", asset.Hex(), err)
	}
	underlying, err := v.Asset(ctx)
	if err != nil || underlying == (common.Address{}) {
		return invalidAdapter("%s exposes no underlying asset", asset.Hex())
	}
	if underlying == a.cfg.BaseAsset {
		return invalidAdapter("%s underlying is the base asset; use VaultShare", asset.Hex())
	}
	if _, ok := a.registry.Adapter(underlying); !ok {
		return invalidAdapter("underlying %s has no registered price", underlying.Hex())
	}
	declared, err := v.Decimals(ctx)
	if err != nil {
		return invalidAdapter("%s decimals unreadable: %v", asset.Hex(), err)
	}
	recorded, ok := a.cfg.TokenDecimals(asset)
	if !ok || recorded != declared {
		return invalidAdapter("%s declares %d decimals, protocol records %d (known=%t)", asset.Hex(), declared, recorded, ok)
	}
	return nil
}

func (a *ComposedVaultShare) PriceData(ctx context.Context, asset common.Address) (*big.Int, uint8, error) {
	v, err := a.vaults.Vault(asset)
	if err != nil {
		return nil, 0, fmt.Errorf("vault %s: %v: %w", asset.Hex(), err, protocol.ErrInvalidPrice)
	}
	underlying, err := v.Asset(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("vault %s underlying: %v: %w", asset.Hex(), err, protocol.ErrInvalidPrice)
	}
	underlyingDecimals, ok := a.cfg.TokenDecimals(underlying)
	if !ok {
		return nil, 0, fmt.Errorf("underlying %s has no recorded decimals: %w", underlying.Hex(), protocol.ErrInvalidPrice)
	}

	perShare, err := assetsPerShare(ctx, v)
	if err != nil {
		return nil, 0, fmt.Errorf("vault %s: %w", asset.Hex(), err)
	}
	underlyingPrice, err := a.registry.GetPrice(ctx, underlying)
	if err != nil {
		return nil, 0, fmt.Errorf("underlying %s of %s: %w", underlying.Hex(), asset.Hex(), err)
	}

	price := fpmath.MulDiv(perShare, underlyingPrice, fpmath.Pow10(underlyingDecimals), a.rounding)
	if price.Sign() <= 0 {
		return nil, 0, fmt.Errorf("composed price of %s rounds to zero: %w", asset.Hex(), protocol.ErrInvalidPrice)
	}
	return price, a.registry.PriceDecimals(), nil
}
