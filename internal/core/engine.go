package core

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"Orion/internal/event"
	"Orion/internal/ledger"
	"Orion/internal/observability"
	"Orion/internal/oracle"
	"Orion/internal/orchestrator"
	"Orion/internal/proof"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLRUCapacity is the number of recent idempotency keys kept in memory.
const DefaultLRUCapacity = 1_000_000

// DeterministicCore applies commands and orchestrator ticks one at a time.
// Every event either commits in full or leaves no trace: the core takes a
// checkpoint of all mutable state before dispatch and rolls back on error.
type DeterministicCore struct {
	mu sync.Mutex

	cfg         *protocol.Config
	sequence    int64
	hasher      *StateHasher
	ledger      *ledger.Ledger
	registry    *oracle.Registry
	vaults      *vault.Directory
	handoff     *orchestrator.Handoff
	iso         *orchestrator.ISO
	lo          *orchestrator.LO
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	metrics     *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied event.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Vaults holds the post-event state of every vault the event touched.
	Vaults []vault.State

	// Tick is set for UpkeepPerformed.
	Tick *orchestrator.TickResult

	// Snapshot is set for UpkeepPerformed. Ticks read oracles and cannot be
	// replayed, so recovery always starts at the latest tick.
	Snapshot *SnapshotState
}

func NewDeterministicCore(
	cfg *protocol.Config,
	verifier proof.Verifier,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	l := ledger.New()
	dir := vault.NewDirectory(cfg, func(addr common.Address) (vault.TokenTransfer, vault.ShareLedger, vault.MarketLeg) {
		return l.Token(cfg.BaseAsset, addr), l.Shares(addr), l.Token(cfg.BaseAsset, addr)
	})
	registry := oracle.NewRegistry(cfg)
	handoff := orchestrator.NewHandoff()

	return &DeterministicCore{
		cfg:            cfg,
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		ledger:         l,
		registry:       registry,
		vaults:         dir,
		handoff:        handoff,
		iso:            orchestrator.NewISO(cfg, registry, dir, handoff),
		lo:             orchestrator.NewLO(cfg, dir, handoff, verifier),
		idempotency:    NewIdempotencyChecker(DefaultLRUCapacity, dbChecker, metrics),
		nonces:         NewNonceValidator(metrics),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Registry is the price registry; adapters that compose prices are built
// against it.
func (c *DeterministicCore) Registry() *oracle.Registry { return c.registry }

// Vaults is the vault directory, also the source for nested vault prices.
func (c *DeterministicCore) Vaults() *vault.Directory { return c.vaults }

// ProcessEvent applies evt. Duplicates and stale intents are dropped
// without error.
func (c *DeterministicCore) ProcessEvent(ctx context.Context, evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.apply(ctx, evt, false)
	return err
}

type outcome struct {
	vaults []common.Address
	tick   *orchestrator.TickResult
}

func (c *DeterministicCore) apply(ctx context.Context, evt event.Event, replay bool) (*outcome, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: idempotency (replay applies logged events unconditionally)
	if !replay && c.idempotency.IsDuplicate(ctx, eventType, idempotencyKey) {
		c.reject(eventType, "duplicate")
		return nil, nil
	}

	// Step 2: intent ordering
	intent, isIntent := evt.(*event.IntentSubmitted)
	if isIntent && !c.nonces.Accept(intent.Vault, intent.Nonce) {
		c.reject(eventType, "stale")
		return nil, nil
	}

	// Step 3: dispatch under a checkpoint
	cp := c.checkpoint()
	out, err := c.dispatchEvent(ctx, evt, replay)
	if err != nil {
		c.rollback(cp)
		c.reject(eventType, rejectReason(err))
		if kind := oracleFailure(err); kind != "" && c.metrics != nil {
			c.metrics.OracleFailures.WithLabelValues(kind).Inc()
		}
		if up, ok := evt.(*event.UpkeepPerformed); ok && c.metrics != nil {
			c.metrics.UpkeepRejected.WithLabelValues(up.Target, c.phaseOf(up.Target), rejectReason(err)).Inc()
		}
		return nil, fmt.Errorf("%s %s: %w", eventType, idempotencyKey, err)
	}
	if isIntent {
		c.nonces.Advance(intent.Vault, intent.Nonce)
	}

	// Step 4: journals
	batch := c.ledger.Drain(idempotencyKey, c.sequence)
	if batch != nil {
		if err := c.ledger.Validator().ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
	}

	// Step 5: post-checks
	if err := c.postCheckInvariants(out.vaults); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: digest, hash chain, envelope
	states := c.vaultStates(out.vaults)
	stateDigest := c.computeStateDigest(batch, states)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s: %v", eventType, err))
	}
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Vault:          evt.VaultID(),
		Timestamp:      evt.OccurredAt(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Vaults:     states,
		Tick:       out.tick,
	}
	c.sequence++
	if out.tick != nil {
		output.Snapshot = c.snapshotLocked(evt.OccurredAt())
	}

	// Step 7: emit. Persistence blocks (no event may be lost); projections
	// are best effort and rebuild from the log when they fall behind.
	if !replay {
		c.emit(output)
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.recordApplied(evt, output, time.Since(start))
	return out, nil
}

func (c *DeterministicCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

func (c *DeterministicCore) dispatchEvent(ctx context.Context, evt event.Event, replay bool) (*outcome, error) {
	switch e := evt.(type) {
	case *event.VaultCreated:
		return c.handleVaultCreated(e)
	case *event.IntentSubmitted:
		return c.handleIntentSubmitted(e)
	case *event.DepositRequested:
		return c.handleDepositRequested(e)
	case *event.WithdrawRequested:
		return c.handleWithdrawRequested(e)
	case *event.TokenListed:
		return c.handleTokenListed(e)
	case *event.FundsCredited:
		return c.handleFundsCredited(e)
	case *event.AdapterSet:
		if replay {
			// adapters hold live backends and are re-wired at startup
			return &outcome{}, nil
		}
		return c.handleAdapterSet(ctx, e)
	case *event.UpkeepPerformed:
		if replay {
			return nil, fmt.Errorf("upkeep %s found after the latest snapshot", e.UpkeepID)
		}
		return c.handleUpkeep(ctx, e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- handlers ---

func (c *DeterministicCore) handleVaultCreated(e *event.VaultCreated) (*outcome, error) {
	v, err := c.vaults.Create(e.Caller, e.Curator)
	if err != nil {
		return nil, err
	}
	return &outcome{vaults: []common.Address{v.Address()}}, nil
}

func (c *DeterministicCore) handleIntentSubmitted(e *event.IntentSubmitted) (*outcome, error) {
	v, err := c.vaults.Get(e.Vault)
	if err != nil {
		return nil, err
	}
	items := make([]vault.IntentItem, len(e.Weights))
	for i, w := range e.Weights {
		items[i] = vault.IntentItem{Token: w.Token, Weight: w.Weight}
	}
	if err := v.SubmitIntent(e.Caller, items); err != nil {
		return nil, err
	}
	return &outcome{vaults: []common.Address{e.Vault}}, nil
}

func (c *DeterministicCore) handleDepositRequested(e *event.DepositRequested) (*outcome, error) {
	v, err := c.vaults.Get(e.Vault)
	if err != nil {
		return nil, err
	}
	if _, err := v.RequestDeposit(e.Caller, e.Amount); err != nil {
		return nil, err
	}
	return &outcome{vaults: []common.Address{e.Vault}}, nil
}

func (c *DeterministicCore) handleWithdrawRequested(e *event.WithdrawRequested) (*outcome, error) {
	v, err := c.vaults.Get(e.Vault)
	if err != nil {
		return nil, err
	}
	if _, err := v.RequestWithdraw(e.Caller, e.Shares); err != nil {
		return nil, err
	}
	return &outcome{vaults: []common.Address{e.Vault}}, nil
}

func (c *DeterministicCore) handleTokenListed(e *event.TokenListed) (*outcome, error) {
	if e.Delist {
		return &outcome{}, c.cfg.Unwhitelist(e.Caller, e.Token)
	}
	if err := c.cfg.RegisterToken(e.Caller, e.Token, e.Decimals); err != nil {
		return nil, err
	}
	return &outcome{}, c.cfg.Whitelist(e.Caller, e.Token)
}

func (c *DeterministicCore) handleFundsCredited(e *event.FundsCredited) (*outcome, error) {
	if e.Caller != c.cfg.Roles.Owner {
		return nil, protocol.ErrNotAuthorized
	}
	if e.Holder == (common.Address{}) || e.Token == (common.Address{}) {
		return nil, protocol.ErrZeroAddress
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, protocol.ErrAmountMustBeGreaterThanZero
	}
	if _, known := c.cfg.TokenDecimals(e.Token); !known {
		return nil, fmt.Errorf("credit of unregistered token %s: %w", e.Token.Hex(), protocol.ErrTokenNotWhitelisted)
	}
	if _, err := c.vaults.Get(e.Holder); err == nil {
		return nil, fmt.Errorf("vault %s can only be funded through its deposit queue: %w", e.Holder.Hex(), protocol.ErrNotAuthorized)
	}
	if err := c.ledger.Mint(e.Token, e.Holder, e.Amount); err != nil {
		return nil, err
	}
	return &outcome{}, nil
}

func (c *DeterministicCore) handleAdapterSet(ctx context.Context, e *event.AdapterSet) (*outcome, error) {
	if e.Adapter != nil {
		e.Kind = e.Adapter.Kind()
	}
	if err := c.registry.SetAdapter(ctx, e.Caller, e.Asset, e.Adapter); err != nil {
		return nil, err
	}
	return &outcome{}, nil
}

func (c *DeterministicCore) handleUpkeep(ctx context.Context, e *event.UpkeepPerformed) (*outcome, error) {
	var (
		res orchestrator.TickResult
		err error
	)
	switch orchestrator.Target(e.Target) {
	case orchestrator.TargetISO:
		res, err = c.iso.PerformUpkeep(ctx, e.Caller, e.Now, e.Payload)
	case orchestrator.TargetLO:
		res, err = c.lo.PerformUpkeep(ctx, e.Caller, e.Now, e.Payload)
	default:
		return nil, fmt.Errorf("unknown upkeep target %q", e.Target)
	}
	if err != nil {
		return nil, err
	}

	touched := make(map[common.Address]struct{}, len(res.Vaults))
	for _, a := range res.Vaults {
		touched[a] = struct{}{}
	}
	for _, f := range res.Fills {
		touched[f.Vault] = struct{}{}
	}
	addrs := make([]common.Address, 0, len(touched))
	for a := range touched {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	return &outcome{vaults: addrs, tick: &res}, nil
}

// --- Driver ---

// CheckUpkeep implements orchestrator.Driver.
func (c *DeterministicCore) CheckUpkeep(target orchestrator.Target, now time.Time) (bool, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch target {
	case orchestrator.TargetISO:
		return c.iso.CheckUpkeep(now)
	case orchestrator.TargetLO:
		return c.lo.CheckUpkeep(now)
	default:
		return false, nil
	}
}

// PerformUpkeep implements orchestrator.Driver. The tick is logged as an
// UpkeepPerformed event issued by the automation role.
func (c *DeterministicCore) PerformUpkeep(ctx context.Context, target orchestrator.Target, now time.Time, payload []byte) (orchestrator.TickResult, error) {
	evt := &event.UpkeepPerformed{
		UpkeepID: uuid.New(),
		Caller:   c.cfg.Roles.Automation,
		Target:   string(target),
		Payload:  payload,
		Now:      now,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.apply(ctx, evt, false)
	if err != nil {
		return orchestrator.TickResult{}, err
	}
	if out == nil || out.tick == nil {
		return orchestrator.TickResult{}, protocol.ErrUpkeepNotNeeded
	}
	return *out.tick, nil
}

// LegOrders implements orchestrator.Driver.
func (c *DeterministicCore) LegOrders() (orchestrator.LOPhase, uint64, []orchestrator.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lo.LegOrders()
}

func (c *DeterministicCore) phaseOf(target string) string {
	switch orchestrator.Target(target) {
	case orchestrator.TargetISO:
		return c.iso.Phase().String()
	case orchestrator.TargetLO:
		return c.lo.Phase().String()
	default:
		return "UNKNOWN"
	}
}

// --- checkpoint / rollback ---

type checkpoint struct {
	ledger   ledger.Checkpoint
	adapters map[common.Address]oracle.Adapter
	tokens   []protocol.TokenEntry
	vaults   vault.DirectoryState
	iso      orchestrator.ISOState
	lo       orchestrator.LOState
	handoff  orchestrator.HandoffState
}

func (c *DeterministicCore) checkpoint() checkpoint {
	return checkpoint{
		ledger:   c.ledger.Checkpoint(),
		adapters: c.registry.Entries(),
		tokens:   c.cfg.Tokens(),
		vaults:   c.vaults.State(),
		iso:      c.iso.State(),
		lo:       c.lo.State(),
		handoff:  c.handoff.State(),
	}
}

func (c *DeterministicCore) rollback(cp checkpoint) {
	c.ledger.Rollback(cp.ledger)
	c.registry.Restore(cp.adapters)
	c.cfg.RestoreTokens(cp.tokens)
	c.vaults.Restore(cp.vaults)
	c.iso.Restore(cp.iso)
	c.lo.Restore(cp.lo)
	c.handoff.Restore(cp.handoff)
}

// --- invariants ---

// postCheckInvariants verifies the ledger is zero-sum per token and that
// every touched vault's books agree with the ledger: base asset held =
// cash + escrowed deposits, own shares held = escrowed withdrawals.
func (c *DeterministicCore) postCheckInvariants(touched []common.Address) error {
	validator := c.ledger.Validator()
	if err := validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := validator.ValidateHoldersNonNegative(); err != nil {
		return err
	}
	for _, addr := range touched {
		v, err := c.vaults.Get(addr)
		if err != nil {
			return err
		}
		held := c.ledger.BalanceOf(c.cfg.BaseAsset, addr)
		booked := new(big.Int).Add(v.Cash(), v.PendingDeposits())
		if held.Cmp(booked) != 0 {
			return fmt.Errorf("vault %s holds %s base, books %s", addr.Hex(), held, booked)
		}
		escrow := c.ledger.BalanceOf(addr, addr)
		if escrow.Cmp(v.PendingWithdrawShares()) != 0 {
			return fmt.Errorf("vault %s escrows %s shares, queue holds %s", addr.Hex(), escrow, v.PendingWithdrawShares())
		}
	}
	return nil
}

func (c *DeterministicCore) vaultStates(addrs []common.Address) []vault.State {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]vault.State, 0, len(addrs))
	for _, a := range addrs {
		v, err := c.vaults.Get(a)
		if err != nil {
			panic(fmt.Sprintf("FATAL: touched vault %s vanished", a.Hex()))
		}
		out = append(out, v.State())
	}
	return out
}

// computeStateDigest covers the balances the batch moved, the accounting
// of every touched vault and both orchestrator positions.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, states []vault.State) []byte {
	var buf bytes.Buffer

	if batch != nil {
		seen := make(map[ledger.AccountKey]struct{})
		for _, j := range batch.Journals {
			seen[j.DebitAccount] = struct{}{}
			seen[j.CreditAccount] = struct{}{}
		}
		keys := make([]ledger.AccountKey, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i].AccountPath() < keys[j].AccountPath()
		})
		tracker := c.ledger.Tracker()
		for _, k := range keys {
			buf.WriteString(k.AccountPath())
			buf.Write(tracker.GetBalance(k).Bytes())
		}
	}

	for _, s := range states {
		buf.Write(s.Address.Bytes())
		buf.Write(s.TotalAssets.Bytes())
		buf.Write(s.SharePrice.Bytes())
		binary.Write(&buf, binary.LittleEndian, s.SyncedEpoch)
	}

	buf.WriteByte(byte(c.iso.Phase()))
	binary.Write(&buf, binary.LittleEndian, c.iso.Epoch())
	buf.WriteByte(byte(c.lo.Phase()))
	binary.Write(&buf, binary.LittleEndian, c.lo.Epoch())
	return buf.Bytes()
}

// --- metrics ---

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, protocol.ErrPhaseMismatch):
		return "phase_mismatch"
	case errors.Is(err, protocol.ErrUpkeepNotNeeded):
		return "not_needed"
	case errors.Is(err, protocol.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, protocol.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, protocol.ErrAdapterNotSet),
		errors.Is(err, protocol.ErrInvalidPrice),
		errors.Is(err, protocol.ErrStalePrice),
		errors.Is(err, protocol.ErrPriceOutOfBounds):
		return "oracle"
	default:
		return "validation"
	}
}

func oracleFailure(err error) string {
	switch {
	case errors.Is(err, protocol.ErrAdapterNotSet):
		return "adapter_not_set"
	case errors.Is(err, protocol.ErrStalePrice):
		return "stale"
	case errors.Is(err, protocol.ErrPriceOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, protocol.ErrInvalidPrice):
		return "invalid"
	default:
		return ""
	}
}

func (c *DeterministicCore) recordApplied(evt event.Event, output CoreOutput, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	eventType := evt.EventType().String()
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(elapsed.Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, s := range output.Vaults {
		label := s.Address.Hex()
		c.metrics.VaultTotalAssets.WithLabelValues(label).Set(
			decimal.NewFromBigInt(s.TotalAssets, -int32(c.cfg.BaseDecimals)).InexactFloat64())
		c.metrics.VaultSharePrice.WithLabelValues(label).Set(
			decimal.NewFromBigInt(s.SharePrice, -int32(vault.SharePriceDecimals)).InexactFloat64())
		c.metrics.VaultQueueLength.WithLabelValues(label, "deposit").Set(float64(len(s.Deposits)))
		c.metrics.VaultQueueLength.WithLabelValues(label, "withdraw").Set(float64(len(s.Withdrawals)))
	}
	if tick := output.Tick; tick != nil {
		target := string(tick.Target)
		c.metrics.UpkeepApplied.WithLabelValues(target, tick.From).Inc()
		c.metrics.UpkeepDuration.WithLabelValues(target).Observe(elapsed.Seconds())
		c.metrics.OrchestratorEpoch.WithLabelValues(string(orchestrator.TargetISO)).Set(float64(c.iso.Epoch()))
		c.metrics.OrchestratorEpoch.WithLabelValues(string(orchestrator.TargetLO)).Set(float64(c.lo.Epoch()))
		if tick.Buffer != nil {
			c.metrics.ProtocolBuffer.Set(decimal.NewFromBigInt(tick.Buffer, -int32(c.cfg.BaseDecimals)).InexactFloat64())
			c.metrics.ProtocolFeeRate.Set(tick.FeeRate.InexactFloat64())
		}
		if s := tick.Settlement; s != nil {
			c.metrics.SettlementOrders.WithLabelValues(vault.SideSell.String()).Add(float64(len(s.Sells)))
			c.metrics.SettlementOrders.WithLabelValues(vault.SideBuy.String()).Add(float64(len(s.Buys)))
		}
		c.metrics.DeferredRedeems.Add(float64(len(tick.Deferred)))
	}
}

// --- read accessors ---

// GetSequence returns the next sequence to be assigned.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// VaultState returns a copy of one vault's accounting.
func (c *DeterministicCore) VaultState(addr common.Address) (vault.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.vaults.Get(addr)
	if err != nil {
		return vault.State{}, err
	}
	return v.State(), nil
}

// BalanceOf returns holder's ledger balance of token (vault shares use the
// vault address as token).
func (c *DeterministicCore) BalanceOf(token, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.BalanceOf(token, holder)
}

// Status reports both orchestrator positions.
type Status struct {
	ISOPhase       orchestrator.ISOPhase
	ISOEpoch       uint64
	NextUpdateTime time.Time
	LOPhase        orchestrator.LOPhase
	LOEpoch        uint64
	Buffer         *big.Int
	FeeRate        decimal.Decimal
	Pending        bool
}

func (c *DeterministicCore) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, pending := c.handoff.Pending()
	return Status{
		ISOPhase:       c.iso.Phase(),
		ISOEpoch:       c.iso.Epoch(),
		NextUpdateTime: c.iso.NextUpdateTime(),
		LOPhase:        c.lo.Phase(),
		LOEpoch:        c.lo.Epoch(),
		Buffer:         c.iso.Buffer(),
		FeeRate:        c.iso.FeeRate(),
		Pending:        pending,
	}
}
