package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"Orion/internal/core"
	"Orion/internal/event"
	fpmath "Orion/internal/math"
	"Orion/internal/oracle"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// oracleEntry is one entry of the `oracles:` section of the protocol file.
type oracleEntry struct {
	Asset        string `yaml:"asset"`
	Kind         string `yaml:"kind"`
	Feed         string `yaml:"feed"`
	Inverse      bool   `yaml:"inverse"`
	MaxStaleness string `yaml:"max_staleness"`
	MinPrice     string `yaml:"min_price"`
	MaxPrice     string `yaml:"max_price"`
	Rounding     string `yaml:"rounding"`
}

func loadOracleEntries(path string) ([]oracleEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol config: %w", err)
	}
	return parseOracleEntries(content)
}

func parseOracleEntries(content []byte) ([]oracleEntry, error) {
	var doc struct {
		Oracles []oracleEntry `yaml:"oracles"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse oracles: %w", err)
	}
	return doc.Oracles, nil
}

// adapterFactory builds adapters from entries. Chainlink feeds share one
// ChainlinkFeed whose per-asset config is set before registration and
// sealed once every entry is wired.
type adapterFactory struct {
	cfg       *protocol.Config
	registry  oracle.UnderlyingPricer
	vaults    oracle.VaultSource
	chain     bind.ContractCaller
	chainlink *oracle.ChainlinkFeed
}

func newAdapterFactory(cfg *protocol.Config, c *core.DeterministicCore, chain bind.ContractCaller) *adapterFactory {
	return &adapterFactory{
		cfg:       cfg,
		registry:  c.Registry(),
		vaults:    c.Vaults(),
		chain:     chain,
		chainlink: oracle.NewChainlinkFeed(cfg.Roles.Owner),
	}
}

func (f *adapterFactory) build(ctx context.Context, asset common.Address, entry oracleEntry) (oracle.Adapter, error) {
	switch entry.Kind {
	case "fixed_underlying":
		return oracle.NewFixedUnderlying(f.cfg), nil

	case "chainlink":
		if f.chain == nil {
			return nil, fmt.Errorf("chainlink adapter needs ORION_RPC_URL")
		}
		fc, err := f.feedConfig(entry)
		if err != nil {
			return nil, err
		}
		if err := f.chainlink.ConfigureFeed(ctx, f.cfg.Roles.Owner, asset, fc); err != nil {
			return nil, err
		}
		return f.chainlink, nil

	case "vault_share", "composed_vault_share":
		if f.chain == nil {
			return nil, fmt.Errorf("%s adapter needs ORION_RPC_URL", entry.Kind)
		}
		source := oracle.NewERC4626Source(f.chain)
		if entry.Kind == "vault_share" {
			return oracle.NewVaultShare(f.cfg, source), nil
		}
		mode, err := fpmath.ParseRoundingMode(entry.Rounding)
		if err != nil {
			return nil, err
		}
		return oracle.NewComposedVaultShare(f.cfg, source, f.registry, mode), nil

	case "orion_vault_share":
		return oracle.NewOrionVaultShare(f.cfg, f.vaults), nil

	default:
		return nil, fmt.Errorf("unknown adapter kind %q", entry.Kind)
	}
}

func (f *adapterFactory) feedConfig(entry oracleEntry) (oracle.FeedConfig, error) {
	if !common.IsHexAddress(entry.Feed) {
		return oracle.FeedConfig{}, fmt.Errorf("feed: malformed address %q", entry.Feed)
	}
	feed, err := oracle.NewAggregatorV3(common.HexToAddress(entry.Feed), f.chain)
	if err != nil {
		return oracle.FeedConfig{}, err
	}
	fc := oracle.FeedConfig{Feed: feed, Inverse: entry.Inverse}
	if entry.MaxStaleness != "" {
		if fc.MaxStaleness, err = time.ParseDuration(entry.MaxStaleness); err != nil {
			return oracle.FeedConfig{}, fmt.Errorf("max_staleness: %w", err)
		}
	}
	if fc.MinPrice, err = optionalInt("min_price", entry.MinPrice); err != nil {
		return oracle.FeedConfig{}, err
	}
	if fc.MaxPrice, err = optionalInt("max_price", entry.MaxPrice); err != nil {
		return oracle.FeedConfig{}, err
	}
	return fc, nil
}

func optionalInt(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	return v, nil
}

// wireAdapters registers every configured adapter through the core, so
// each mapping is logged as an AdapterSet event. Adapters are not
// serialized, which makes this a startup step after every recovery.
// Entries are applied in file order; composed adapters must follow the
// adapter of their underlying.
func wireAdapters(ctx context.Context, c *core.DeterministicCore, factory *adapterFactory, entries []oracleEntry, logger zerolog.Logger) error {
	for i, entry := range entries {
		if !common.IsHexAddress(entry.Asset) {
			return fmt.Errorf("oracles[%d].asset: malformed address %q", i, entry.Asset)
		}
		asset := common.HexToAddress(entry.Asset)

		adapter, err := factory.build(ctx, asset, entry)
		if err != nil {
			return fmt.Errorf("oracles[%d]: %w", i, err)
		}
		evt := &event.AdapterSet{
			CommandID: uuid.New(),
			Caller:    factory.cfg.Roles.Owner,
			Asset:     asset,
			Adapter:   adapter,
			Timestamp: time.Now().UTC(),
		}
		if err := c.ProcessEvent(ctx, evt); err != nil {
			return fmt.Errorf("oracles[%d]: %w", i, err)
		}
		logger.Info().
			Str("asset", asset.Hex()).
			Stringer("kind", adapter.Kind()).
			Msg("price adapter set")
	}
	factory.chainlink.Seal()
	return nil
}
