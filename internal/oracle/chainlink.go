package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// InverseDecimals is the fixed precision of inverted feed prices.
const InverseDecimals uint8 = 18

// RoundData is one AggregatorV3 latestRoundData response.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// FeedReader is the Chainlink-shaped oracle collaborator.
type FeedReader interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}

// FeedConfig is the per-asset configuration of a ChainlinkFeed. MinPrice
// and MaxPrice bound the raw answer, in the feed's own decimals.
type FeedConfig struct {
	Feed         FeedReader
	Inverse      bool
	MaxStaleness time.Duration
	MinPrice     *big.Int
	MaxPrice     *big.Int
}

// ChainlinkFeed prices assets from Chainlink aggregators. Feed configs are
// the one mutable adapter field and only its owner may set them. They live
// outside the core checkpoint, so they are set during startup wiring and
// frozen by Seal before the core applies any event.
type ChainlinkFeed struct {
	owner common.Address

	mu      sync.RWMutex
	configs map[common.Address]FeedConfig
	sealed  bool
}

func NewChainlinkFeed(owner common.Address) *ChainlinkFeed {
	return &ChainlinkFeed{
		owner:   owner,
		configs: make(map[common.Address]FeedConfig),
	}
}

func (a *ChainlinkFeed) Kind() AdapterKind { return KindChainlinkFeed }

// ConfigureFeed sets or replaces the feed config for asset.
func (a *ChainlinkFeed) ConfigureFeed(ctx context.Context, caller, asset common.Address, fc FeedConfig) error {
	if caller != a.owner {
		return protocol.ErrNotAuthorized
	}
	if asset == (common.Address{}) || fc.Feed == nil {
		return protocol.ErrZeroAddress
	}
	if fc.MaxStaleness <= 0 {
		return invalidAdapter("max staleness must be positive")
	}
	if fc.MinPrice == nil || fc.MaxPrice == nil || fc.MinPrice.Sign() <= 0 || fc.MinPrice.Cmp(fc.MaxPrice) >= 0 {
		return invalidAdapter("price bounds must satisfy 0 < min < max")
	}
	if _, err := fc.Feed.Decimals(ctx); err != nil {
		return invalidAdapter("feed decimals unreadable: %v", err)
	}

	fc.MinPrice = new(big.Int).Set(fc.MinPrice)
	fc.MaxPrice = new(big.Int).Set(fc.MaxPrice)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return fmt.Errorf("feed configs are sealed: %w", protocol.ErrNotAuthorized)
	}
	a.configs[asset] = fc
	return nil
}

// Seal rejects every later ConfigureFeed.
func (a *ChainlinkFeed) Seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// FeedConfig returns the config for asset.
func (a *ChainlinkFeed) FeedConfig(asset common.Address) (FeedConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fc, ok := a.configs[asset]
	return fc, ok
}

func (a *ChainlinkFeed) Validate(ctx context.Context, asset common.Address) error {
	fc, ok := a.FeedConfig(asset)
	if !ok {
		return invalidAdapter("no feed configured for %s", asset.Hex())
	}
	if _, err := fc.Feed.Decimals(ctx); err != nil {
		return invalidAdapter("feed decimals unreadable: %v", err)
	}
	return nil
}

func (a *ChainlinkFeed) PriceData(ctx context.Context, asset common.Address) (*big.Int, uint8, error) {
	fc, ok := a.FeedConfig(asset)
	if !ok {
		return nil, 0, fmt.Errorf("no feed configured for %s: %w", asset.Hex(), protocol.ErrAdapterNotSet)
	}

	round, err := fc.Feed.LatestRoundData(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("latest round for %s: %v: %w", asset.Hex(), err, protocol.ErrInvalidPrice)
	}
	decimals, err := fc.Feed.Decimals(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("feed decimals for %s: %v: %w", asset.Hex(), err, protocol.ErrInvalidPrice)
	}

	if err := checkRound(round, fc, protocol.Now(ctx)); err != nil {
		return nil, 0, fmt.Errorf("feed for %s: %w", asset.Hex(), err)
	}

	if !fc.Inverse {
		return new(big.Int).Set(round.Answer), decimals, nil
	}

	scaled := fpmath.Convert(round.Answer, decimals, InverseDecimals)
	if scaled.Sign() == 0 {
		return nil, 0, fmt.Errorf("feed for %s: answer vanishes at %d decimals: %w", asset.Hex(), InverseDecimals, protocol.ErrInvalidPrice)
	}
	inverted := new(big.Int).Quo(fpmath.Pow10(2*InverseDecimals), scaled)
	if inverted.Sign() == 0 {
		return nil, 0, fmt.Errorf("feed for %s: inverse rounds to zero: %w", asset.Hex(), protocol.ErrInvalidPrice)
	}
	return inverted, InverseDecimals, nil
}

// checkRound runs the feed health checks in their fixed order; the first
// violated check decides the error.
func checkRound(r RoundData, fc FeedConfig, now time.Time) error {
	if r.Answer == nil || r.Answer.Sign() <= 0 {
		return fmt.Errorf("non-positive answer %v: %w", r.Answer, protocol.ErrInvalidPrice)
	}

	nowSec := big.NewInt(now.Unix())
	updatedAt := orZero(r.UpdatedAt)
	age := new(big.Int).Sub(nowSec, updatedAt)
	if age.Cmp(big.NewInt(int64(fc.MaxStaleness/time.Second))) > 0 {
		return fmt.Errorf("answer is %ss old: %w", age, protocol.ErrStalePrice)
	}

	if orZero(r.AnsweredInRound).Cmp(orZero(r.RoundID)) < 0 {
		return fmt.Errorf("answered in round %v < round %v: %w", r.AnsweredInRound, r.RoundID, protocol.ErrStalePrice)
	}

	if updatedAt.Sign() == 0 {
		return fmt.Errorf("round never updated: %w", protocol.ErrInvalidPrice)
	}

	if orZero(r.StartedAt).Cmp(nowSec) > 0 {
		return fmt.Errorf("round started in the future: %w", protocol.ErrInvalidPrice)
	}

	if r.Answer.Cmp(fc.MinPrice) < 0 || r.Answer.Cmp(fc.MaxPrice) > 0 {
		return fmt.Errorf("answer %s outside [%s, %s]: %w", r.Answer, fc.MinPrice, fc.MaxPrice, protocol.ErrPriceOutOfBounds)
	}

	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
