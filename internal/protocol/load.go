package protocol

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileConfig models the YAML protocol file. Addresses, durations and
// ratios are strings so that parse errors name the offending field.
type fileConfig struct {
	BaseAsset             string `yaml:"base_asset"`
	BaseDecimals          uint8  `yaml:"base_decimals"`
	PriceDecimals         uint8  `yaml:"price_decimals"`
	CuratorIntentDecimals uint8  `yaml:"curator_intent_decimals"`
	EpochDuration         string `yaml:"epoch_duration"`
	MinibatchSize         int    `yaml:"minibatch_size"`

	Roles struct {
		Owner                      string `yaml:"owner"`
		Automation                 string `yaml:"automation"`
		InternalStatesOrchestrator string `yaml:"internal_states_orchestrator"`
		LiquidityOrchestrator      string `yaml:"liquidity_orchestrator"`
	} `yaml:"roles"`

	Fee struct {
		TargetBufferRatio string `yaml:"target_buffer_ratio"`
		MaxFeeChange      string `yaml:"max_fee_change"`
		SmoothingFactor   string `yaml:"smoothing_factor"`
		Deadband          string `yaml:"deadband"`
		Gain              string `yaml:"gain"`
	} `yaml:"fee"`

	Tokens []struct {
		Address     string `yaml:"address"`
		Decimals    uint8  `yaml:"decimals"`
		Whitelisted bool   `yaml:"whitelisted"`
	} `yaml:"tokens"`
}

// Load parses the YAML protocol file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("protocol config path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol config: %w", err)
	}
	return Parse(content)
}

// Parse decodes a YAML protocol document.
func Parse(content []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return nil, fmt.Errorf("parse protocol config: %w", err)
	}

	cfg := &Config{
		BaseDecimals:          fc.BaseDecimals,
		PriceDecimals:         fc.PriceDecimals,
		CuratorIntentDecimals: fc.CuratorIntentDecimals,
		MinibatchSize:         fc.MinibatchSize,
	}

	var err error
	if cfg.BaseAsset, err = parseAddress("base_asset", fc.BaseAsset); err != nil {
		return nil, err
	}
	if cfg.Roles.Owner, err = parseAddress("roles.owner", fc.Roles.Owner); err != nil {
		return nil, err
	}
	if cfg.Roles.Automation, err = parseAddress("roles.automation", fc.Roles.Automation); err != nil {
		return nil, err
	}
	if cfg.Roles.InternalStatesOrchestrator, err = parseAddress("roles.internal_states_orchestrator", fc.Roles.InternalStatesOrchestrator); err != nil {
		return nil, err
	}
	if cfg.Roles.LiquidityOrchestrator, err = parseAddress("roles.liquidity_orchestrator", fc.Roles.LiquidityOrchestrator); err != nil {
		return nil, err
	}

	if fc.EpochDuration != "" {
		d, err := time.ParseDuration(fc.EpochDuration)
		if err != nil {
			return nil, fmt.Errorf("epoch_duration: %w", err)
		}
		cfg.EpochDuration = d
	}

	fee := DefaultFeeConfig()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"fee.target_buffer_ratio", fc.Fee.TargetBufferRatio, &fee.TargetBufferRatio},
		{"fee.max_fee_change", fc.Fee.MaxFeeChange, &fee.MaxFeeChange},
		{"fee.smoothing_factor", fc.Fee.SmoothingFactor, &fee.SmoothingFactor},
		{"fee.deadband", fc.Fee.Deadband, &fee.Deadband},
		{"fee.gain", fc.Fee.Gain, &fee.Gain},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	cfg.Fee = fee

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for i, tok := range fc.Tokens {
		addr, err := parseAddress(fmt.Sprintf("tokens[%d].address", i), tok.Address)
		if err != nil {
			return nil, err
		}
		if err := cfg.RegisterToken(cfg.Roles.Owner, addr, tok.Decimals); err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if tok.Whitelisted {
			if err := cfg.Whitelist(cfg.Roles.Owner, addr); err != nil {
				return nil, fmt.Errorf("tokens[%d]: %w", i, err)
			}
		}
	}

	return cfg, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s: %w", field, ErrZeroAddress)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: malformed address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}
