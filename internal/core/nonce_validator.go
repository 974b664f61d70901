package core

import (
	"Orion/internal/observability"

	"github.com/ethereum/go-ethereum/common"
)

// NonceValidator orders curator intent submissions per vault. An intent
// whose nonce is at or below the last applied one is stale and ignored;
// gaps are tolerated because only the newest intent matters.
//
// Not thread-safe: only accessed from the deterministic core.
type NonceValidator struct {
	last    map[common.Address]int64
	metrics *observability.Metrics
}

func NewNonceValidator(metrics *observability.Metrics) *NonceValidator {
	return &NonceValidator{
		last:    make(map[common.Address]int64),
		metrics: metrics,
	}
}

// Accept reports whether nonce is newer than the last applied intent of
// vault. It does not advance; call Advance once the intent is stored.
func (nv *NonceValidator) Accept(vault common.Address, nonce int64) bool {
	last := nv.last[vault]
	if nonce <= last {
		if nv.metrics != nil {
			nv.metrics.IntentNonceStale.Inc()
		}
		return false
	}
	if nonce > last+1 && nv.metrics != nil {
		nv.metrics.IntentNonceGap.Inc()
	}
	return true
}

// Advance records nonce as the last applied for vault.
func (nv *NonceValidator) Advance(vault common.Address, nonce int64) {
	nv.last[vault] = nonce
}

// Last returns the last applied nonce for vault, 0 if none.
func (nv *NonceValidator) Last(vault common.Address) int64 {
	return nv.last[vault]
}

// State returns a copy of the per-vault nonces.
func (nv *NonceValidator) State() map[common.Address]int64 {
	out := make(map[common.Address]int64, len(nv.last))
	for k, v := range nv.last {
		out[k] = v
	}
	return out
}

// Restore replaces the per-vault nonces.
func (nv *NonceValidator) Restore(s map[common.Address]int64) {
	nv.last = make(map[common.Address]int64, len(s))
	for k, v := range s {
		nv.last[k] = v
	}
}
