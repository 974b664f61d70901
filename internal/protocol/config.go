package protocol

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	DefaultPriceDecimals         uint8 = 18
	DefaultCuratorIntentDecimals uint8 = 6
	DefaultMinibatchSize               = 8
	DefaultEpochDuration               = 24 * time.Hour
)

// Roles holds the addresses allowed to drive each privileged entry point.
type Roles struct {
	Owner                      common.Address
	Automation                 common.Address
	InternalStatesOrchestrator common.Address
	LiquidityOrchestrator      common.Address
}

// FeeConfig parameterizes the buffer fee controller run during the ISO
// Buffering phase. Ratios are fractions of total protocol assets.
type FeeConfig struct {
	TargetBufferRatio decimal.Decimal
	MaxFeeChange      decimal.Decimal
	SmoothingFactor   decimal.Decimal
	Deadband          decimal.Decimal
	Gain              decimal.Decimal
}

// DefaultFeeConfig mirrors the reference buffer simulation parameters.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		TargetBufferRatio: decimal.RequireFromString("0.02"),
		MaxFeeChange:      decimal.RequireFromString("0.0005"),
		SmoothingFactor:   decimal.RequireFromString("0.1"),
		Deadband:          decimal.RequireFromString("0.001"),
		Gain:              decimal.NewFromInt(1),
	}
}

// Config is the protocol-wide lookup object threaded through every
// component: base asset, precisions, role addresses and the investable
// universe. The static fields are set once at startup; the token tables are
// guarded because owner operations may mutate them while readers run.
type Config struct {
	BaseAsset             common.Address
	BaseDecimals          uint8
	PriceDecimals         uint8
	CuratorIntentDecimals uint8
	EpochDuration         time.Duration
	MinibatchSize         int
	Roles                 Roles
	Fee                   FeeConfig

	mu        sync.RWMutex
	decimals  map[common.Address]uint8
	whitelist map[common.Address]struct{}
	order     []common.Address
}

// NewConfig builds a Config with defaults for everything but the base asset.
func NewConfig(baseAsset common.Address, baseDecimals uint8, roles Roles) *Config {
	c := &Config{
		BaseAsset:    baseAsset,
		BaseDecimals: baseDecimals,
		Roles:        roles,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.PriceDecimals == 0 {
		c.PriceDecimals = DefaultPriceDecimals
	}
	if c.CuratorIntentDecimals == 0 {
		c.CuratorIntentDecimals = DefaultCuratorIntentDecimals
	}
	if c.EpochDuration == 0 {
		c.EpochDuration = DefaultEpochDuration
	}
	if c.MinibatchSize <= 0 {
		c.MinibatchSize = DefaultMinibatchSize
	}
	if c.Fee.SmoothingFactor.IsZero() && c.Fee.MaxFeeChange.IsZero() {
		c.Fee = DefaultFeeConfig()
	}
	if c.decimals == nil {
		c.decimals = make(map[common.Address]uint8)
	}
	if c.whitelist == nil {
		c.whitelist = make(map[common.Address]struct{})
	}
	if c.BaseAsset != (common.Address{}) {
		c.decimals[c.BaseAsset] = c.BaseDecimals
	}
}

// Validate checks the static fields. Token tables are validated on insert.
func (c *Config) Validate() error {
	if c.BaseAsset == (common.Address{}) {
		return fmt.Errorf("base asset: %w", ErrZeroAddress)
	}
	if c.Roles.Owner == (common.Address{}) {
		return fmt.Errorf("owner role: %w", ErrZeroAddress)
	}
	if c.Roles.Automation == (common.Address{}) {
		return fmt.Errorf("automation role: %w", ErrZeroAddress)
	}
	if c.Roles.InternalStatesOrchestrator == (common.Address{}) || c.Roles.LiquidityOrchestrator == (common.Address{}) {
		return fmt.Errorf("orchestrator role: %w", ErrZeroAddress)
	}
	if c.EpochDuration <= 0 {
		return fmt.Errorf("epoch duration must be positive, got %s", c.EpochDuration)
	}
	if c.MinibatchSize <= 0 {
		return fmt.Errorf("minibatch size must be positive, got %d", c.MinibatchSize)
	}
	if c.Fee.SmoothingFactor.LessThanOrEqual(decimal.Zero) || c.Fee.SmoothingFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee smoothing factor must be in (0, 1], got %s", c.Fee.SmoothingFactor)
	}
	if c.Fee.MaxFeeChange.IsNegative() || c.Fee.Deadband.IsNegative() || c.Fee.TargetBufferRatio.IsNegative() {
		return fmt.Errorf("fee parameters must be non-negative")
	}
	return nil
}

// IntentScale returns 10^CuratorIntentDecimals, the exact sum every stored
// intent's weights must reach.
func (c *Config) IntentScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.CuratorIntentDecimals)), nil)
}

// RegisterToken records the decimal precision of a token. Owner only.
func (c *Config) RegisterToken(caller, token common.Address, decimals uint8) error {
	if caller != c.Roles.Owner {
		return ErrNotAuthorized
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals[token] = decimals
	return nil
}

// TokenDecimals returns the recorded precision of token.
func (c *Config) TokenDecimals(token common.Address) (uint8, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.decimals[token]
	return d, ok
}

// Whitelist adds token to the investable universe. Owner only; the token's
// decimals must already be registered.
func (c *Config) Whitelist(caller, token common.Address) error {
	if caller != c.Roles.Owner {
		return ErrNotAuthorized
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	if token == c.BaseAsset {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.decimals[token]; !ok {
		return fmt.Errorf("token %s has no registered decimals", token.Hex())
	}
	if _, ok := c.whitelist[token]; ok {
		return nil
	}
	c.whitelist[token] = struct{}{}
	c.order = append(c.order, token)
	return nil
}

// Unwhitelist removes token from the investable universe. Owner only.
// The base asset cannot be removed.
func (c *Config) Unwhitelist(caller, token common.Address) error {
	if caller != c.Roles.Owner {
		return ErrNotAuthorized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.whitelist[token]; !ok {
		return fmt.Errorf("%s: %w", token.Hex(), ErrTokenNotWhitelisted)
	}
	delete(c.whitelist, token)
	for i, t := range c.order {
		if t == token {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// IsWhitelisted reports whether token may appear in an intent. The base
// asset is always investable.
func (c *Config) IsWhitelisted(token common.Address) bool {
	if token == c.BaseAsset {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.whitelist[token]
	return ok
}

// Universe returns the whitelisted tokens in insertion order, base asset
// excluded.
func (c *Config) Universe() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]common.Address, len(c.order))
	copy(out, c.order)
	return out
}

// TokenEntry is one row of the token tables.
type TokenEntry struct {
	Token       common.Address `json:"token"`
	Decimals    uint8          `json:"decimals"`
	Whitelisted bool           `json:"whitelisted"`
}

// Tokens returns the token tables, whitelisted tokens first in universe
// order, then the remaining registered tokens sorted by address.
func (c *Config) Tokens() []TokenEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TokenEntry, 0, len(c.decimals))
	for _, t := range c.order {
		out = append(out, TokenEntry{Token: t, Decimals: c.decimals[t], Whitelisted: true})
	}
	rest := make([]common.Address, 0, len(c.decimals))
	for t := range c.decimals {
		if _, ok := c.whitelist[t]; !ok {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return bytes.Compare(rest[i][:], rest[j][:]) < 0 })
	for _, t := range rest {
		out = append(out, TokenEntry{Token: t, Decimals: c.decimals[t]})
	}
	return out
}

// RestoreTokens replaces the token tables wholesale. Used for rollback and
// snapshot recovery only.
func (c *Config) RestoreTokens(entries []TokenEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals = make(map[common.Address]uint8, len(entries)+1)
	c.whitelist = make(map[common.Address]struct{}, len(entries))
	c.order = c.order[:0:0]
	for _, e := range entries {
		c.decimals[e.Token] = e.Decimals
		if e.Whitelisted && e.Token != c.BaseAsset {
			c.whitelist[e.Token] = struct{}{}
			c.order = append(c.order, e.Token)
		}
	}
	if c.BaseAsset != (common.Address{}) {
		c.decimals[c.BaseAsset] = c.BaseDecimals
	}
}
