package projection

import (
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"Orion/internal/core"
	"Orion/internal/ledger"
	"Orion/internal/vault"
)

// SettlementRow is one orchestrator transition in projections.epoch_settlements.
type SettlementRow struct {
	Sequence   int64
	Epoch      uint64
	Target     string
	FromPhase  string
	ToPhase    string
	Vaults     int
	Sells      int
	Buys       int
	Fills      int
	Buffer     *string
	FeeRate    *string
	Slippage   *string
	RecordedAt time.Time
}

// SettlementFromOutput returns the settlement row of an UpkeepPerformed
// output, or false for commands.
func SettlementFromOutput(out core.CoreOutput) (SettlementRow, bool) {
	t := out.Tick
	if t == nil {
		return SettlementRow{}, false
	}
	row := SettlementRow{
		Sequence:   out.Envelope.Sequence,
		Epoch:      t.Epoch,
		Target:     string(t.Target),
		FromPhase:  t.From,
		ToPhase:    t.To,
		Vaults:     len(t.Vaults),
		Fills:      len(t.Fills),
		Buffer:     numeric(t.Buffer),
		Slippage:   numeric(t.Slippage),
		RecordedAt: out.Envelope.Timestamp,
	}
	if t.Settlement != nil {
		row.Sells = len(t.Settlement.Sells)
		row.Buys = len(t.Settlement.Buys)
	}
	if t.Buffer != nil {
		rate := t.FeeRate.String()
		row.FeeRate = &rate
	}
	return row, true
}

// VaultRow is the current accounting of one vault in projections.vaults.
type VaultRow struct {
	Vault         string
	Curator       string
	TotalAssets   string
	SharePrice    string
	SyncedEpoch   int64
	DepositQueue  int
	WithdrawQueue int
	Intent        []byte
	Holdings      []byte
}

type intentJSON struct {
	Token  string `json:"token"`
	Weight string `json:"weight"`
}

// VaultRowFromState flattens s. Intent and holdings are stored as JSON
// with hex keys and base-10 amounts, holdings sorted by token.
func VaultRowFromState(s vault.State) (VaultRow, error) {
	intent := make([]intentJSON, 0, len(s.Intent))
	for _, item := range s.Intent {
		intent = append(intent, intentJSON{Token: item.Token.Hex(), Weight: item.Weight.String()})
	}
	intentData, err := json.Marshal(intent)
	if err != nil {
		return VaultRow{}, err
	}

	holdings := make(map[string]string, len(s.Holdings))
	for token, amount := range s.Holdings {
		holdings[token.Hex()] = amount.String()
	}
	// encoding/json sorts map keys
	holdingsData, err := json.Marshal(holdings)
	if err != nil {
		return VaultRow{}, err
	}

	return VaultRow{
		Vault:         s.Address.Hex(),
		Curator:       s.Curator.Hex(),
		TotalAssets:   s.TotalAssets.String(),
		SharePrice:    s.SharePrice.String(),
		SyncedEpoch:   s.SyncedEpoch,
		DepositQueue:  len(s.Deposits),
		WithdrawQueue: len(s.Withdrawals),
		Intent:        intentData,
		Holdings:      holdingsData,
	}, nil
}

// BalanceDelta is the net change of one (token, holder) balance.
type BalanceDelta struct {
	Token  string
	Holder string
	Delta  *big.Int
}

// BalanceDeltas nets a batch per account. Debits increase a balance,
// credits decrease it. Zero nets are dropped; the result is sorted so
// row locks are always taken in the same order.
func BalanceDeltas(batch *ledger.Batch) []BalanceDelta {
	if batch == nil {
		return nil
	}
	net := make(map[ledger.AccountKey]*big.Int)
	add := func(k ledger.AccountKey, v *big.Int) {
		cur, ok := net[k]
		if !ok {
			cur = new(big.Int)
			net[k] = cur
		}
		cur.Add(cur, v)
	}
	for _, j := range batch.Journals {
		add(j.DebitAccount, j.Amount)
		add(j.CreditAccount, new(big.Int).Neg(j.Amount))
	}

	out := make([]BalanceDelta, 0, len(net))
	for k, v := range net {
		if v.Sign() == 0 {
			continue
		}
		out = append(out, BalanceDelta{Token: k.Token.Hex(), Holder: k.Holder.Hex(), Delta: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Holder < out[j].Holder
	})
	return out
}

func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
