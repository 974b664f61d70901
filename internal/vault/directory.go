package vault

import (
	"fmt"
	"sync"

	"Orion/internal/oracle"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Books supplies the ledger collaborators bound to a new vault address.
type Books func(vault common.Address) (TokenTransfer, ShareLedger, MarketLeg)

// Directory holds every vault of the protocol in creation order. It is
// also the oracle's source for pricing nested vault shares.
type Directory struct {
	cfg   *protocol.Config
	books Books

	mu     sync.RWMutex
	byAddr map[common.Address]*Vault
	order  []*Vault
	nonce  uint64
}

func NewDirectory(cfg *protocol.Config, books Books) *Directory {
	return &Directory{
		cfg:    cfg,
		books:  books,
		byAddr: make(map[common.Address]*Vault),
	}
}

// Create deploys a vault for curator. The address is derived from the
// owner and a creation nonce the way contract addresses are.
func (d *Directory) Create(caller, curator common.Address) (*Vault, error) {
	if caller != d.cfg.Roles.Owner {
		return nil, protocol.ErrNotAuthorized
	}
	if curator == (common.Address{}) {
		return nil, protocol.ErrZeroAddress
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	addr := crypto.CreateAddress(d.cfg.Roles.Owner, d.nonce)
	d.nonce++
	asset, shares, market := d.books(addr)
	v := newVault(addr, curator, d.cfg, asset, shares, market)
	d.byAddr[addr] = v
	d.order = append(d.order, v)
	return v, nil
}

// Get returns the vault at addr.
func (d *Directory) Get(addr common.Address) (*Vault, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), protocol.ErrUnknownVault)
	}
	return v, nil
}

// Vault implements oracle.VaultSource.
func (d *Directory) Vault(asset common.Address) (oracle.VaultReader, error) {
	v, err := d.Get(asset)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// All returns the vaults in creation order.
func (d *Directory) All() []*Vault {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Vault, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// DirectoryState captures every vault plus the creation nonce.
type DirectoryState struct {
	Nonce  uint64  `json:"nonce"`
	Vaults []State `json:"vaults"`
}

func (d *Directory) State() DirectoryState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := DirectoryState{Nonce: d.nonce, Vaults: make([]State, len(d.order))}
	for i, v := range d.order {
		s.Vaults[i] = v.State()
	}
	return s
}

// Restore rebuilds the directory from s. Vaults created after s was taken
// are dropped; existing vault objects are reused so references held by
// adapters stay valid.
func (d *Directory) Restore(s DirectoryState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byAddr := make(map[common.Address]*Vault, len(s.Vaults))
	order := make([]*Vault, 0, len(s.Vaults))
	for _, vs := range s.Vaults {
		v, ok := d.byAddr[vs.Address]
		if !ok {
			asset, shares, market := d.books(vs.Address)
			v = newVault(vs.Address, vs.Curator, d.cfg, asset, shares, market)
		}
		v.Restore(vs)
		byAddr[vs.Address] = v
		order = append(order, v)
	}
	d.byAddr = byAddr
	d.order = order
	d.nonce = s.Nonce
}
