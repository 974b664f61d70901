package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"Orion/internal/proof"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/rs/zerolog"
)

// Executor turns a leg's orders into fills. Fills may be partial.
type Executor interface {
	Execute(ctx context.Context, orders []Order) ([]vault.Fill, error)
}

// PaperExecutor fills every order in full at its oracle value, shaved by
// SlippageBps basis points against the vault.
type PaperExecutor struct {
	SlippageBps int64
}

func (e PaperExecutor) Execute(_ context.Context, orders []Order) ([]vault.Fill, error) {
	fills := make([]vault.Fill, 0, len(orders))
	for _, o := range orders {
		value := new(big.Int).Set(o.Value)
		if e.SlippageBps > 0 {
			adj := new(big.Int).Mul(o.Value, big.NewInt(e.SlippageBps))
			adj.Quo(adj, big.NewInt(10_000))
			if o.Side == vault.SideSell {
				value.Sub(value, adj)
			} else {
				value.Add(value, adj)
			}
		}
		fills = append(fills, vault.Fill{
			Vault:    o.Vault,
			Token:    o.Token,
			Side:     o.Side,
			Quantity: new(big.Int).Set(o.Quantity),
			Value:    value,
		})
	}
	return fills, nil
}

// Driver is the scheduler surface of the core.
type Driver interface {
	CheckUpkeep(target Target, now time.Time) (bool, []byte)
	PerformUpkeep(ctx context.Context, target Target, now time.Time, payload []byte) (TickResult, error)
	LegOrders() (LOPhase, uint64, []Order)
}

// Keeper polls both orchestrators and performs upkeep when needed. For the
// LO trading legs it executes the orders and attests the resulting fills.
type Keeper struct {
	driver   Driver
	executor Executor
	attester *proof.Attester
	interval time.Duration
	clock    func() time.Time
	logger   zerolog.Logger
}

func NewKeeper(driver Driver, executor Executor, attester *proof.Attester, interval time.Duration, logger zerolog.Logger) *Keeper {
	return &Keeper{
		driver:   driver,
		executor: executor,
		attester: attester,
		interval: interval,
		clock:    time.Now,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := k.Tick(ctx, k.clock()); err != nil {
				k.logger.Error().Err(err).Msg("keeper tick failed")
			}
		}
	}
}

// Tick gives each orchestrator at most one upkeep. Retryable failures are
// logged and left for the next tick.
func (k *Keeper) Tick(ctx context.Context, now time.Time) error {
	for _, target := range []Target{TargetISO, TargetLO} {
		needed, payload := k.driver.CheckUpkeep(target, now)
		if !needed {
			continue
		}
		if target == TargetLO {
			var err error
			if payload, err = k.legPayload(ctx, payload); err != nil {
				return err
			}
		}
		res, err := k.driver.PerformUpkeep(ctx, target, now, payload)
		if err != nil {
			if protocol.IsRetryable(err) {
				k.logger.Warn().Err(err).Str("target", string(target)).Msg("upkeep deferred")
				continue
			}
			return fmt.Errorf("%s upkeep: %w", target, err)
		}
		k.logger.Info().
			Str("target", string(target)).
			Uint64("epoch", res.Epoch).
			Str("from", res.From).
			Str("to", res.To).
			Int("vaults", len(res.Vaults)).
			Int("deferred", len(res.Deferred)).
			Msg("upkeep performed")
	}
	return nil
}

func (k *Keeper) legPayload(ctx context.Context, payload []byte) ([]byte, error) {
	phase, epoch, orders := k.driver.LegOrders()
	if phase != LOSellingLeg && phase != LOBuyingLeg {
		return payload, nil
	}
	if k.attester == nil {
		return nil, errors.New("no attester configured for trading legs")
	}
	fills, err := k.executor.Execute(ctx, orders)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", phase, err)
	}
	state, err := json.Marshal(fills)
	if err != nil {
		return nil, err
	}
	art, err := k.attester.Attest(epoch, uint8(phase), state)
	if err != nil {
		return nil, err
	}
	return WithArtifact(payload, art)
}
