package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned for vaults the projections have not seen.
var ErrNotFound = errors.New("not found")

// DecimalsLookup resolves token decimals; *protocol.Config satisfies it.
type DecimalsLookup interface {
	TokenDecimals(token common.Address) (uint8, bool)
}

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the projection watermark it was read at.
type QueryService struct {
	db           *sql.DB
	decimals     DecimalsLookup
	baseDecimals uint8
}

func NewQueryService(db *sql.DB, decimals DecimalsLookup, baseDecimals uint8) *QueryService {
	return &QueryService{db: db, decimals: decimals, baseDecimals: baseDecimals}
}

// GetVault returns the projected state of one vault.
func (qs *QueryService) GetVault(ctx context.Context, addr common.Address) (*VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT vault, curator, total_assets::TEXT, share_price::TEXT, synced_epoch,
		       deposit_queue, withdraw_queue, intent, holdings, last_sequence, updated_at
		FROM projections.vaults
		WHERE vault = $1
	`, addr.Hex())
	v, err := qs.scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault %s: %w", addr.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.AsOfSequence = asOfSeq
	return v, nil
}

// ListVaults returns every projected vault ordered by address.
func (qs *QueryService) ListVaults(ctx context.Context) ([]VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT vault, curator, total_assets::TEXT, share_price::TEXT, synced_epoch,
		       deposit_queue, withdraw_queue, intent, holdings, last_sequence, updated_at
		FROM projections.vaults
		ORDER BY vault
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []VaultResponse
	for rows.Next() {
		v, err := qs.scanVault(rows)
		if err != nil {
			return nil, err
		}
		v.AsOfSequence = asOfSeq
		vaults = append(vaults, *v)
	}
	return vaults, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (qs *QueryService) scanVault(s scanner) (*VaultResponse, error) {
	var (
		v                VaultResponse
		intent, holdings []byte
	)
	if err := s.Scan(
		&v.Address, &v.Curator, &v.TotalAssets, &v.SharePrice, &v.SyncedEpoch,
		&v.DepositQueue, &v.WithdrawQueue, &intent, &holdings, &v.LastSequence, &v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	v.Intent = intent
	v.Holdings = holdings
	v.TotalAssetsDisplay = formatNumeric(v.TotalAssets, qs.baseDecimals)
	v.SharePriceDisplay = formatNumeric(v.SharePrice, vault.SharePriceDecimals)
	return &v, nil
}

// GetVaultHistory returns valuation changes of a vault, newest first.
// Supports cursor-based pagination on sequence.
func (qs *QueryService) GetVaultHistory(
	ctx context.Context,
	addr common.Address,
	limit int,
	beforeSequence *int64,
) ([]VaultHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, total_assets::TEXT, share_price::TEXT, synced_epoch, recorded_at
		FROM projections.vault_state_history
		WHERE vault = $1
	`
	args := []interface{}{addr.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []VaultHistoryEntry
	for rows.Next() {
		var h VaultHistoryEntry
		if err := rows.Scan(&h.Sequence, &h.EventType, &h.TotalAssets, &h.SharePrice, &h.SyncedEpoch, &h.RecordedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetBalance returns holder's projected balance of token. Unknown
// accounts read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, token, holder common.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	balance := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances
		WHERE token = $1 AND holder = $2
	`, token.Hex(), holder.Hex()).Scan(&balance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	resp := &BalanceResponse{
		Token:        token.Hex(),
		Holder:       holder.Hex(),
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}
	if d, ok := qs.tokenDecimals(ctx, token); ok {
		resp.Decimals = &d
		resp.Display = formatNumeric(balance, d)
	}
	return resp, nil
}

// tokenDecimals falls back to the base decimals for vault share tokens.
func (qs *QueryService) tokenDecimals(ctx context.Context, token common.Address) (uint8, bool) {
	if qs.decimals != nil {
		if d, ok := qs.decimals.TokenDecimals(token); ok {
			return d, true
		}
	}
	var exists bool
	err := qs.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM projections.vaults WHERE vault = $1)
	`, token.Hex()).Scan(&exists)
	if err != nil || !exists {
		return 0, false
	}
	return qs.baseDecimals, true
}

// GetSettlements returns orchestrator transitions, newest first, optionally
// for one target ("iso" or "lo").
func (qs *QueryService) GetSettlements(
	ctx context.Context,
	target *string,
	limit int,
	beforeSequence *int64,
) ([]SettlementResponse, error) {
	query := `
		SELECT sequence, epoch, target, from_phase, to_phase, vaults, sells, buys, fills,
		       buffer::TEXT, fee_rate::TEXT, slippage::TEXT, recorded_at
		FROM projections.epoch_settlements
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if target != nil {
		query += fmt.Sprintf(" AND target = $%d", argIdx)
		args = append(args, *target)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var s SettlementResponse
		if err := rows.Scan(
			&s.Sequence, &s.Epoch, &s.Target, &s.FromPhase, &s.ToPhase,
			&s.Vaults, &s.Sells, &s.Buys, &s.Fills,
			&s.Buffer, &s.FeeRate, &s.Slippage, &s.RecordedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching holder with
// pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder common.Address,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("holder:%s:%%", holder.Hex())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, token, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and that every token's
// projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance)::TEXT AS total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedToken
		if err := balanceRows.Scan(&u.Token, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

