package oracle

import (
	"context"
	"fmt"
	"math/big"

	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// AdapterKind discriminates the closed set of adapter variants.
type AdapterKind int32

const (
	KindUnknown AdapterKind = iota
	KindFixedUnderlying
	KindChainlinkFeed
	KindVaultShare
	KindComposedVaultShare
	KindOrionVaultShare
)

func (k AdapterKind) String() string {
	switch k {
	case KindFixedUnderlying:
		return "FixedUnderlying"
	case KindChainlinkFeed:
		return "ChainlinkFeed"
	case KindVaultShare:
		return "VaultShare"
	case KindComposedVaultShare:
		return "ComposedVaultShare"
	case KindOrionVaultShare:
		return "OrionVaultShare"
	default:
		return "Unknown"
	}
}

// Adapter produces the raw price of one asset in the protocol numeraire.
// PriceData returns either a positive price with its decimal precision or
// a typed error; never zero.
type Adapter interface {
	Kind() AdapterKind

	// Validate is called once when the adapter is registered for asset.
	Validate(ctx context.Context, asset common.Address) error

	PriceData(ctx context.Context, asset common.Address) (*big.Int, uint8, error)
}

func invalidAdapter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", protocol.ErrInvalidAdapter, fmt.Sprintf(format, args...))
}

// FixedUnderlying prices the protocol base asset at exactly one unit.
type FixedUnderlying struct {
	cfg *protocol.Config
}

func NewFixedUnderlying(cfg *protocol.Config) *FixedUnderlying {
	return &FixedUnderlying{cfg: cfg}
}

func (a *FixedUnderlying) Kind() AdapterKind { return KindFixedUnderlying }

func (a *FixedUnderlying) Validate(_ context.Context, asset common.Address) error {
	if asset != a.cfg.BaseAsset {
		return invalidAdapter("fixed price only applies to the base asset, got %s", asset.Hex())
	}
	return nil
}

func (a *FixedUnderlying) PriceData(_ context.Context, _ common.Address) (*big.Int, uint8, error) {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.cfg.BaseDecimals)), nil), a.cfg.BaseDecimals, nil
}
