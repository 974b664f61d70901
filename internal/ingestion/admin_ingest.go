package ingestion

import (
	"context"
	"math/big"
	"time"

	"Orion/internal/event"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AdminIngestService injects owner commands from the operator HTTP surface.
// It is not a high-throughput path (use NATS for that) and applies each
// command synchronously so the operator sees the core's verdict.
type AdminIngestService struct {
	processor Processor
	owner     common.Address
	clock     func() time.Time
}

// NewAdminIngestService issues every command as owner.
func NewAdminIngestService(processor Processor, owner common.Address) *AdminIngestService {
	return &AdminIngestService{processor: processor, owner: owner, clock: time.Now}
}

// CreateVault creates a vault managed by curator.
func (s *AdminIngestService) CreateVault(ctx context.Context, curator common.Address) (uuid.UUID, error) {
	evt := &event.VaultCreated{
		CommandID: uuid.New(),
		Caller:    s.owner,
		Curator:   curator,
		Timestamp: s.clock().UTC(),
	}
	return evt.CommandID, s.processor.ProcessEvent(ctx, evt)
}

// ListToken registers token with its decimals and whitelists it, or
// removes it from the universe when delist is set.
func (s *AdminIngestService) ListToken(ctx context.Context, token common.Address, decimals uint8, delist bool) (uuid.UUID, error) {
	evt := &event.TokenListed{
		CommandID: uuid.New(),
		Caller:    s.owner,
		Token:     token,
		Decimals:  decimals,
		Delist:    delist,
		Timestamp: s.clock().UTC(),
	}
	return evt.CommandID, s.processor.ProcessEvent(ctx, evt)
}

// CreditFunds books amount of token to holder.
func (s *AdminIngestService) CreditFunds(ctx context.Context, token, holder common.Address, amount *big.Int) (uuid.UUID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return uuid.Nil, protocol.ErrAmountMustBeGreaterThanZero
	}
	evt := &event.FundsCredited{
		CreditID:  uuid.New(),
		Caller:    s.owner,
		Token:     token,
		Holder:    holder,
		Amount:    new(big.Int).Set(amount),
		Timestamp: s.clock().UTC(),
	}
	return evt.CreditID, s.processor.ProcessEvent(ctx, evt)
}
