package vault

import (
	"fmt"
	"math/big"

	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

type Side int8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Fill is one executed trade for a vault. Value is the base asset
// exchanged for Quantity units of Token.
type Fill struct {
	Vault    common.Address `json:"vault"`
	Token    common.Address `json:"token"`
	Side     Side           `json:"side"`
	Quantity *big.Int       `json:"quantity"`
	Value    *big.Int       `json:"value"`
}

// ApplyFill books an executed trade into the holdings. The base leg is
// settled with the market through MarketLeg.
func (v *Vault) ApplyFill(caller common.Address, f Fill) error {
	if caller != v.cfg.Roles.LiquidityOrchestrator {
		return protocol.ErrNotAuthorized
	}
	if f.Token == v.cfg.BaseAsset || f.Token == (common.Address{}) {
		return fmt.Errorf("fill token %s: %w", f.Token.Hex(), protocol.ErrInvalidTotalAmount)
	}
	if f.Quantity == nil || f.Quantity.Sign() <= 0 || f.Value == nil || f.Value.Sign() < 0 {
		return protocol.ErrAmountMustBeGreaterThanZero
	}

	cash := v.holding(v.cfg.BaseAsset)
	pos := v.holding(f.Token)
	switch f.Side {
	case SideSell:
		if pos.Cmp(f.Quantity) < 0 {
			return fmt.Errorf("sell %s of %s, hold %s: %w", f.Quantity, f.Token.Hex(), pos, protocol.ErrInsufficientLiquidity)
		}
		if f.Value.Sign() > 0 {
			if err := v.market.Issue(v.address, f.Value); err != nil {
				return fmt.Errorf("settle sell proceeds: %v: %w", err, protocol.ErrTransferFailed)
			}
		}
		pos.Sub(pos, f.Quantity)
		cash.Add(cash, f.Value)
	case SideBuy:
		if cash.Cmp(f.Value) < 0 {
			return fmt.Errorf("buy costs %s, cash %s: %w", f.Value, cash, protocol.ErrInsufficientLiquidity)
		}
		if f.Value.Sign() > 0 {
			if err := v.market.Retire(v.address, f.Value); err != nil {
				return fmt.Errorf("settle buy cost: %v: %w", err, protocol.ErrTransferFailed)
			}
		}
		cash.Sub(cash, f.Value)
		pos.Add(pos, f.Quantity)
	default:
		return fmt.Errorf("unknown side %d", f.Side)
	}
	return nil
}
