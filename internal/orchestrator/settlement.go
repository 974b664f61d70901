package orchestrator

import (
	"fmt"
	"math/big"
	"sync"

	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// Order is one vault's trade for the current epoch. Price is the oracle
// price at PriceDecimals; Value is the expected base-asset amount.
type Order struct {
	Vault    common.Address `json:"vault"`
	Token    common.Address `json:"token"`
	Side     vault.Side     `json:"side"`
	Quantity *big.Int       `json:"quantity"`
	Price    *big.Int       `json:"price"`
	Value    *big.Int       `json:"value"`
}

func (o Order) clone() Order {
	return Order{
		Vault:    o.Vault,
		Token:    o.Token,
		Side:     o.Side,
		Quantity: new(big.Int).Set(o.Quantity),
		Price:    new(big.Int).Set(o.Price),
		Value:    new(big.Int).Set(o.Value),
	}
}

func cloneOrders(in []Order) []Order {
	if in == nil {
		return nil
	}
	out := make([]Order, len(in))
	for i, o := range in {
		out[i] = o.clone()
	}
	return out
}

// Settlement is what the ISO hands the LO at the end of its epoch.
type Settlement struct {
	Epoch      uint64                      `json:"epoch"`
	Sells      []Order                     `json:"sells"`
	Buys       []Order                     `json:"buys"`
	SellTotals map[common.Address]*big.Int `json:"sell_totals"`
	BuyTotals  map[common.Address]*big.Int `json:"buy_totals"`
	Prices     map[common.Address]*big.Int `json:"prices"`
}

func (s *Settlement) clone() *Settlement {
	if s == nil {
		return nil
	}
	return &Settlement{
		Epoch:      s.Epoch,
		Sells:      cloneOrders(s.Sells),
		Buys:       cloneOrders(s.Buys),
		SellTotals: cloneAmounts(s.SellTotals),
		BuyTotals:  cloneAmounts(s.BuyTotals),
		Prices:     cloneAmounts(s.Prices),
	}
}

func cloneAmounts(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	if in == nil {
		return nil
	}
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func totals(orders []Order) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int)
	for _, o := range orders {
		t, ok := out[o.Token]
		if !ok {
			t = new(big.Int)
			out[o.Token] = t
		}
		t.Add(t, o.Quantity)
	}
	return out
}

// Handoff carries at most one settlement from ISO to LO. The ISO may not
// start a new epoch while a settlement is unacknowledged. Slippage the LO
// realizes is accumulated here until the ISO's next Buffering phase.
type Handoff struct {
	mu       sync.Mutex
	pending  *Settlement
	slippage *big.Int
}

func NewHandoff() *Handoff {
	return &Handoff{slippage: new(big.Int)}
}

func (h *Handoff) Publish(s *Settlement) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		return fmt.Errorf("settlement for epoch %d still pending: %w", h.pending.Epoch, protocol.ErrPhaseMismatch)
	}
	h.pending = s.clone()
	return nil
}

// Pending returns a copy of the unacknowledged settlement.
func (h *Handoff) Pending() (*Settlement, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending.clone(), h.pending != nil
}

// Ack marks the settlement for epoch consumed and records the slippage
// realized while executing it.
func (h *Handoff) Ack(epoch uint64, slippage *big.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil || h.pending.Epoch != epoch {
		return fmt.Errorf("ack for epoch %d without matching settlement: %w", epoch, protocol.ErrPhaseMismatch)
	}
	h.pending = nil
	h.slippage.Add(h.slippage, slippage)
	return nil
}

// TakeSlippage returns and resets the accumulated slippage.
func (h *Handoff) TakeSlippage() *big.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.slippage
	h.slippage = new(big.Int)
	return s
}

type HandoffState struct {
	Pending  *Settlement `json:"pending,omitempty"`
	Slippage *big.Int    `json:"slippage"`
}

func (h *Handoff) State() HandoffState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandoffState{Pending: h.pending.clone(), Slippage: new(big.Int).Set(h.slippage)}
}

func (h *Handoff) Restore(s HandoffState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = s.Pending.clone()
	h.slippage = new(big.Int)
	if s.Slippage != nil {
		h.slippage.Set(s.Slippage)
	}
}
