package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenHandle is one holder's view of a token: TransferFrom moves between
// arbitrary holders (allowances are not modelled), Transfer pays out of
// the bound holder.
type TokenHandle struct {
	ledger *Ledger
	token  common.Address
	self   common.Address
}

// Token binds token to holder self.
func (l *Ledger) Token(token, self common.Address) *TokenHandle {
	return &TokenHandle{ledger: l, token: token, self: self}
}

func (h *TokenHandle) TransferFrom(from, to common.Address, amount *big.Int) error {
	return h.ledger.Transfer(h.token, from, to, amount)
}

func (h *TokenHandle) Transfer(to common.Address, amount *big.Int) error {
	return h.ledger.Transfer(h.token, h.self, to, amount)
}

func (h *TokenHandle) BalanceOf(who common.Address) *big.Int {
	return h.ledger.BalanceOf(h.token, who)
}

// ShareHandle is the share book of a single vault; the vault address is
// the share token.
type ShareHandle struct {
	ledger *Ledger
	vault  common.Address
}

// Shares returns the share book of vault.
func (l *Ledger) Shares(vault common.Address) *ShareHandle {
	return &ShareHandle{ledger: l, vault: vault}
}

func (h *ShareHandle) Mint(to common.Address, shares *big.Int) error {
	return h.ledger.Mint(h.vault, to, shares)
}

func (h *ShareHandle) Burn(from common.Address, shares *big.Int) error {
	return h.ledger.Burn(h.vault, from, shares)
}

func (h *ShareHandle) Transfer(from, to common.Address, shares *big.Int) error {
	return h.ledger.Transfer(h.vault, from, to, shares)
}

func (h *ShareHandle) BalanceOf(who common.Address) *big.Int {
	return h.ledger.BalanceOf(h.vault, who)
}

func (h *ShareHandle) TotalSupply() *big.Int {
	return h.ledger.TotalSupply(h.vault)
}

// Issue credits the bound token to holder from outside the book. Trade
// proceeds enter the vault this way.
func (h *TokenHandle) Issue(to common.Address, amount *big.Int) error {
	return h.ledger.Mint(h.token, to, amount)
}

// Retire removes amount of the bound token from holder.
func (h *TokenHandle) Retire(from common.Address, amount *big.Int) error {
	return h.ledger.Burn(h.token, from, amount)
}
