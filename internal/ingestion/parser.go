package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"Orion/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. Only shape is checked here; authorization and domain
// rules are the core's job.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "VaultCreated":
		return parseVaultCreated(raw.Data)
	case "IntentSubmitted":
		return parseIntentSubmitted(raw.Data)
	case "DepositRequested":
		return parseDepositRequested(raw.Data)
	case "WithdrawRequested":
		return parseWithdrawRequested(raw.Data)
	case "TokenListed":
		return parseTokenListed(raw.Data)
	case "FundsCredited":
		return parseFundsCredited(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Addresses are
// 0x-prefixed hex, token amounts are base-10 strings in token units.

type vaultCreatedJSON struct {
	CommandID   string `json:"command_id"`
	Caller      string `json:"caller"`
	Curator     string `json:"curator"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseVaultCreated(data []byte) (*event.VaultCreated, error) {
	var j vaultCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultCreated: %w", err)
	}
	id, err := parseUUID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	curator, err := parseAddress("curator", j.Curator)
	if err != nil {
		return nil, err
	}
	return &event.VaultCreated{
		CommandID: id,
		Caller:    caller,
		Curator:   curator,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

type intentWeightJSON struct {
	Token  string `json:"token"`
	Weight string `json:"weight"`
}

type intentJSON struct {
	CommandID   string             `json:"command_id"`
	Caller      string             `json:"caller"`
	Vault       string             `json:"vault"`
	Nonce       int64              `json:"nonce"`
	Weights     []intentWeightJSON `json:"weights"`
	TimestampUs int64              `json:"timestamp_us"`
}

func parseIntentSubmitted(data []byte) (*event.IntentSubmitted, error) {
	var j intentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IntentSubmitted: %w", err)
	}
	id, err := parseUUID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := parseAddress("vault", j.Vault)
	if err != nil {
		return nil, err
	}
	if j.Nonce <= 0 {
		return nil, fmt.Errorf("nonce must be positive, got %d", j.Nonce)
	}
	weights := make([]event.IntentWeight, 0, len(j.Weights))
	for i, w := range j.Weights {
		token, err := parseAddress(fmt.Sprintf("weights[%d].token", i), w.Token)
		if err != nil {
			return nil, err
		}
		weight, err := parseAmount(fmt.Sprintf("weights[%d].weight", i), w.Weight)
		if err != nil {
			return nil, err
		}
		weights = append(weights, event.IntentWeight{Token: token, Weight: weight})
	}
	return &event.IntentSubmitted{
		CommandID: id,
		Caller:    caller,
		Vault:     vaultAddr,
		Nonce:     j.Nonce,
		Weights:   weights,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

type requestJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Vault       string `json:"vault"`
	Amount      string `json:"amount"`
	Shares      string `json:"shares"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *requestJSON) common() (uuid.UUID, common.Address, common.Address, error) {
	id, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return uuid.Nil, common.Address{}, common.Address{}, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return uuid.Nil, common.Address{}, common.Address{}, err
	}
	vaultAddr, err := parseAddress("vault", j.Vault)
	if err != nil {
		return uuid.Nil, common.Address{}, common.Address{}, err
	}
	return id, caller, vaultAddr, nil
}

func parseDepositRequested(data []byte) (*event.DepositRequested, error) {
	var j requestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequested: %w", err)
	}
	id, caller, vaultAddr, err := j.common()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.DepositRequested{
		RequestID: id,
		Caller:    caller,
		Vault:     vaultAddr,
		Amount:    amount,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

func parseWithdrawRequested(data []byte) (*event.WithdrawRequested, error) {
	var j requestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawRequested: %w", err)
	}
	id, caller, vaultAddr, err := j.common()
	if err != nil {
		return nil, err
	}
	shares, err := parseAmount("shares", j.Shares)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawRequested{
		RequestID: id,
		Caller:    caller,
		Vault:     vaultAddr,
		Shares:    shares,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

type tokenListedJSON struct {
	CommandID   string `json:"command_id"`
	Caller      string `json:"caller"`
	Token       string `json:"token"`
	Decimals    uint8  `json:"decimals"`
	Delist      bool   `json:"delist"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTokenListed(data []byte) (*event.TokenListed, error) {
	var j tokenListedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TokenListed: %w", err)
	}
	id, err := parseUUID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", j.Token)
	if err != nil {
		return nil, err
	}
	return &event.TokenListed{
		CommandID: id,
		Caller:    caller,
		Token:     token,
		Decimals:  j.Decimals,
		Delist:    j.Delist,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

type fundsCreditedJSON struct {
	CreditID    string `json:"credit_id"`
	Caller      string `json:"caller"`
	Token       string `json:"token"`
	Holder      string `json:"holder"`
	Amount      string `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundsCredited(data []byte) (*event.FundsCredited, error) {
	var j fundsCreditedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundsCredited: %w", err)
	}
	id, err := parseUUID("credit_id", j.CreditID)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", j.Token)
	if err != nil {
		return nil, err
	}
	holder, err := parseAddress("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.FundsCredited{
		CreditID:  id,
		Caller:    caller,
		Token:     token,
		Holder:    holder,
		Amount:    amount,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

// UpkeepTrigger asks the keeper to run at Now. A zero Now means "when
// received".
type UpkeepTrigger struct {
	Now time.Time
}

type upkeepTriggerJSON struct {
	NowUs int64 `json:"now_us"`
}

// ParseUpkeepTrigger decodes an orion.upkeep.* message. An empty body is
// a valid trigger.
func ParseUpkeepTrigger(raw RawEvent) (UpkeepTrigger, error) {
	var j upkeepTriggerJSON
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &j); err != nil {
			return UpkeepTrigger{}, fmt.Errorf("parse UpkeepTrigger: %w", err)
		}
	}
	if j.NowUs > 0 {
		return UpkeepTrigger{Now: time.UnixMicro(j.NowUs).UTC()}, nil
	}
	return UpkeepTrigger{Now: raw.Timestamp}, nil
}

// --- field helpers ---

func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

// parseAddress accepts only well-formed hex. The zero address is left for
// the core to reject so the error carries its sentinel.
func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse %s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid integer %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: negative amount", field)
	}
	return v, nil
}

func parseTimestamp(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
