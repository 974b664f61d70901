package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// ChangeFunc is notified after an adapter mapping changes.
type ChangeFunc func(asset common.Address, kind AdapterKind)

// Registry maps each asset to its price adapter and serves every price at
// the protocol's canonical precision.
type Registry struct {
	cfg *protocol.Config

	mu       sync.RWMutex
	adapters map[common.Address]Adapter
	onChange ChangeFunc
}

func NewRegistry(cfg *protocol.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		adapters: make(map[common.Address]Adapter),
	}
}

// OnChange installs the change notification callback.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) PriceDecimals() uint8 {
	return r.cfg.PriceDecimals
}

// SetAdapter validates adapter against asset and, only on success,
// replaces the mapping. Validation runs without the lock held because
// composed adapters read back into the registry.
func (r *Registry) SetAdapter(ctx context.Context, caller, asset common.Address, adapter Adapter) error {
	if caller != r.cfg.Roles.Owner {
		return protocol.ErrNotAuthorized
	}
	if asset == (common.Address{}) || adapter == nil {
		return protocol.ErrZeroAddress
	}
	if err := adapter.Validate(ctx, asset); err != nil {
		return fmt.Errorf("set adapter for %s: %w", asset.Hex(), err)
	}

	r.mu.Lock()
	r.adapters[asset] = adapter
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(asset, adapter.Kind())
	}
	return nil
}

// Adapter returns the adapter registered for asset.
func (r *Registry) Adapter(asset common.Address) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[asset]
	return a, ok
}

// GetPrice returns the price of one whole unit of asset in the numeraire,
// scaled to PriceDecimals. It has no side effects.
func (r *Registry) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	adapter, ok := r.Adapter(asset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset.Hex(), protocol.ErrAdapterNotSet)
	}

	raw, decimals, err := adapter.PriceData(ctx, asset)
	if err != nil {
		return nil, err
	}
	if raw == nil || raw.Sign() <= 0 {
		return nil, fmt.Errorf("%s adapter returned %v for %s: %w", adapter.Kind(), raw, asset.Hex(), protocol.ErrInvalidPrice)
	}

	price := fpmath.Convert(raw, decimals, r.cfg.PriceDecimals)
	if price.Sign() == 0 {
		return nil, fmt.Errorf("price of %s vanishes at %d decimals: %w", asset.Hex(), r.cfg.PriceDecimals, protocol.ErrInvalidPrice)
	}
	return price, nil
}

// Entries returns a copy of the current mapping.
func (r *Registry) Entries() map[common.Address]Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[common.Address]Adapter, len(r.adapters))
	for k, v := range r.adapters {
		out[k] = v
	}
	return out
}

// Restore replaces the mapping wholesale. Used for rollback only.
func (r *Registry) Restore(entries map[common.Address]Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[common.Address]Adapter, len(entries))
	for k, v := range entries {
		r.adapters[k] = v
	}
}
