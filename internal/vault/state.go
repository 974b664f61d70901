package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is a deep copy of a vault's mutable fields, used for rollback and
// persisted snapshots.
type State struct {
	Address     common.Address              `json:"address"`
	Curator     common.Address              `json:"curator"`
	TotalAssets *big.Int                    `json:"total_assets"`
	SharePrice  *big.Int                    `json:"share_price"`
	Deposits    []DepositRequest            `json:"deposits"`
	Withdrawals []WithdrawRequest           `json:"withdrawals"`
	Intent      []IntentItem                `json:"intent"`
	Holdings    map[common.Address]*big.Int `json:"holdings"`
	SyncedEpoch int64                       `json:"synced_epoch"`
	RequestSeq  uint64                      `json:"request_seq"`
}

func (v *Vault) State() State {
	return State{
		Address:     v.address,
		Curator:     v.curator,
		TotalAssets: v.TotalAssets(),
		SharePrice:  v.SharePrice(),
		Deposits:    v.DepositRequests(),
		Withdrawals: v.WithdrawRequests(),
		Intent:      v.Intent(),
		Holdings:    v.Holdings(),
		SyncedEpoch: v.syncedEpoch,
		RequestSeq:  v.requestSeq,
	}
}

// Restore overwrites the mutable fields from s. Address and curator are
// fixed at creation and are not touched.
func (v *Vault) Restore(s State) {
	v.totalAssets = new(big.Int).Set(s.TotalAssets)
	v.sharePrice = new(big.Int).Set(s.SharePrice)

	v.deposits = make([]DepositRequest, len(s.Deposits))
	for i, r := range s.Deposits {
		v.deposits[i] = DepositRequest{ID: r.ID, Requester: r.Requester, Amount: new(big.Int).Set(r.Amount), Synced: r.Synced}
	}
	v.withdrawals = make([]WithdrawRequest, len(s.Withdrawals))
	for i, r := range s.Withdrawals {
		v.withdrawals[i] = WithdrawRequest{ID: r.ID, Requester: r.Requester, Shares: new(big.Int).Set(r.Shares), Synced: r.Synced}
	}
	v.intent = make([]IntentItem, len(s.Intent))
	for i, it := range s.Intent {
		v.intent[i] = IntentItem{Token: it.Token, Weight: new(big.Int).Set(it.Weight)}
	}
	v.holdings = make(map[common.Address]*big.Int, len(s.Holdings))
	for k, amt := range s.Holdings {
		v.holdings[k] = new(big.Int).Set(amt)
	}
	v.syncedEpoch = s.SyncedEpoch
	v.requestSeq = s.RequestSeq
}
