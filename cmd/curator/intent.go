package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Portfolio is the curator's target allocation as fractional weights.
type Portfolio struct {
	Vault   string `yaml:"vault"`
	Curator string `yaml:"curator"`
	Nonce   int64  `yaml:"nonce"`
	Weights []struct {
		Token  string `yaml:"token"`
		Weight string `yaml:"weight"`
	} `yaml:"weights"`
}

func loadPortfolio(path string) (*Portfolio, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	var p Portfolio
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}
	return &p, nil
}

// intentMessage is the IntentSubmitted command as published on NATS.
type intentMessage struct {
	CommandID   string         `json:"command_id"`
	Caller      string         `json:"caller"`
	Vault       string         `json:"vault"`
	Nonce       int64          `json:"nonce"`
	Weights     []intentWeight `json:"weights"`
	TimestampUs int64          `json:"timestamp_us"`
}

type intentWeight struct {
	Token  string `json:"token"`
	Weight string `json:"weight"`
}

// prepareIntent validates p against the protocol config and scales its
// weights to the curator intent decimals, summing exactly to one.
func prepareIntent(cfg *protocol.Config, p *Portfolio, now time.Time) (*intentMessage, error) {
	if !common.IsHexAddress(p.Vault) {
		return nil, fmt.Errorf("vault: malformed address %q", p.Vault)
	}
	if !common.IsHexAddress(p.Curator) {
		return nil, fmt.Errorf("curator: malformed address %q", p.Curator)
	}
	if p.Nonce <= 0 {
		return nil, fmt.Errorf("nonce must be positive, got %d", p.Nonce)
	}
	if len(p.Weights) == 0 {
		return nil, protocol.ErrEmptyIntent
	}

	tokens := make([]common.Address, len(p.Weights))
	fractions := make([]decimal.Decimal, len(p.Weights))
	seen := make(map[common.Address]bool, len(p.Weights))
	for i, w := range p.Weights {
		if !common.IsHexAddress(w.Token) {
			return nil, fmt.Errorf("weights[%d].token: malformed address %q", i, w.Token)
		}
		token := common.HexToAddress(w.Token)
		if !cfg.IsWhitelisted(token) {
			return nil, fmt.Errorf("weights[%d]: %s: %w", i, token.Hex(), protocol.ErrTokenNotWhitelisted)
		}
		if seen[token] {
			return nil, fmt.Errorf("weights[%d]: duplicate token %s", i, token.Hex())
		}
		seen[token] = true

		f, err := decimal.NewFromString(w.Weight)
		if err != nil {
			return nil, fmt.Errorf("weights[%d].weight: %w", i, err)
		}
		tokens[i] = token
		fractions[i] = f
	}

	scaled, err := fpmath.ScaleIntent(fractions, cfg.CuratorIntentDecimals)
	if err != nil {
		if errors.Is(err, fpmath.ErrSumMismatch) {
			return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidTotalAmount, err)
		}
		return nil, err
	}

	msg := &intentMessage{
		CommandID:   uuid.New().String(),
		Caller:      common.HexToAddress(p.Curator).Hex(),
		Vault:       common.HexToAddress(p.Vault).Hex(),
		Nonce:       p.Nonce,
		TimestampUs: now.UnixMicro(),
	}
	for i, token := range tokens {
		msg.Weights = append(msg.Weights, intentWeight{Token: token.Hex(), Weight: scaled[i].String()})
	}
	return msg, nil
}

func (m *intentMessage) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
