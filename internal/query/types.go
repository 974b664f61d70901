package query

import (
	"encoding/json"
	"time"
)

// VaultResponse is the projected accounting of one vault. Raw amounts are
// base-10 integers in token units; the *Display fields are the same values
// scaled by their decimals.
type VaultResponse struct {
	Address            string          `json:"address"`
	Curator            string          `json:"curator"`
	TotalAssets        string          `json:"total_assets"`
	TotalAssetsDisplay string          `json:"total_assets_display"`
	SharePrice         string          `json:"share_price"`
	SharePriceDisplay  string          `json:"share_price_display"`
	SyncedEpoch        int64           `json:"synced_epoch"`
	DepositQueue       int             `json:"deposit_queue"`
	WithdrawQueue      int             `json:"withdraw_queue"`
	Intent             json.RawMessage `json:"intent"`
	Holdings           json.RawMessage `json:"holdings"`
	LastSequence       int64           `json:"last_sequence"`
	UpdatedAt          time.Time       `json:"updated_at"`
	AsOfSequence       int64           `json:"as_of_sequence"`
}

// VaultHistoryEntry is one recorded change of a vault's valuation.
type VaultHistoryEntry struct {
	Sequence    int64     `json:"sequence"`
	EventType   string    `json:"event_type"`
	TotalAssets string    `json:"total_assets"`
	SharePrice  string    `json:"share_price"`
	SyncedEpoch int64     `json:"synced_epoch"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SettlementResponse is one orchestrator transition.
type SettlementResponse struct {
	Sequence   int64     `json:"sequence"`
	Epoch      int64     `json:"epoch"`
	Target     string    `json:"target"`
	FromPhase  string    `json:"from_phase"`
	ToPhase    string    `json:"to_phase"`
	Vaults     int       `json:"vaults"`
	Sells      int       `json:"sells"`
	Buys       int       `json:"buys"`
	Fills      int       `json:"fills"`
	Buffer     *string   `json:"buffer,omitempty"`
	FeeRate    *string   `json:"fee_rate,omitempty"`
	Slippage   *string   `json:"slippage,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string    `json:"journal_id"`
	BatchID       string    `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Token         string    `json:"token"`
	Amount        string    `json:"amount"`
	JournalType   int32     `json:"journal_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose projected balances do not sum to zero.
// Issuer counter-accounts make every healthy token zero-sum.
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance string `json:"imbalance"`
}
