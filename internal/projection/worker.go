package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"Orion/internal/core"
	"Orion/internal/observability"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates projection tables from applied events. The
// projection channel drops when full, so the worker tracks a watermark
// and logs gaps. Balances rebuild from the journal (RebuildBalances);
// vault rows heal on the next event touching the vault, at the latest at
// the next ISO epoch.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.loadWatermark(ctx); err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if pw.lastSeq >= 0 && seq > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("from", pw.lastSeq+1).
					Int64("to", seq-1).
					Msg("projection gap, events were dropped")
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// projections are eventually consistent
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) error {
	var seq int64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	pw.lastSeq = seq
	return nil
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	ts := output.Envelope.Timestamp

	if err := pw.timed("balances", func() error {
		for _, d := range BalanceDeltas(output.Batch) {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projections.balances (token, holder, balance, last_sequence)
				VALUES ($1, $2, $3::NUMERIC, $4)
				ON CONFLICT (token, holder)
				DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
			`, d.Token, d.Holder, d.Delta.String(), seq); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("balance projection: %w", err)
	}

	if err := pw.timed("vaults", func() error {
		for _, s := range output.Vaults {
			row, err := VaultRowFromState(s)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projections.vaults
					(vault, curator, total_assets, share_price, synced_epoch, deposit_queue,
					 withdraw_queue, intent, holdings, last_sequence, updated_at)
				VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (vault) DO UPDATE SET
					total_assets = EXCLUDED.total_assets,
					share_price = EXCLUDED.share_price,
					synced_epoch = EXCLUDED.synced_epoch,
					deposit_queue = EXCLUDED.deposit_queue,
					withdraw_queue = EXCLUDED.withdraw_queue,
					intent = EXCLUDED.intent,
					holdings = EXCLUDED.holdings,
					last_sequence = EXCLUDED.last_sequence,
					updated_at = EXCLUDED.updated_at
			`, row.Vault, row.Curator, row.TotalAssets, row.SharePrice, row.SyncedEpoch,
				row.DepositQueue, row.WithdrawQueue, string(row.Intent), string(row.Holdings), seq, ts); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projections.vault_state_history
					(vault, sequence, event_type, total_assets, share_price, synced_epoch, recorded_at)
				VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
				ON CONFLICT (vault, sequence) DO NOTHING
			`, row.Vault, seq, output.Envelope.EventType.String(), row.TotalAssets, row.SharePrice, row.SyncedEpoch, ts); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("vault projection: %w", err)
	}

	if row, ok := SettlementFromOutput(output); ok {
		if err := pw.timed("epoch_settlements", func() error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO projections.epoch_settlements
					(epoch, target, from_phase, to_phase, sequence, vaults, sells, buys, fills,
					 buffer, fee_rate, slippage, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)
				ON CONFLICT (sequence) DO NOTHING
			`, int64(row.Epoch), row.Target, row.FromPhase, row.ToPhase, row.Sequence,
				row.Vaults, row.Sells, row.Buys, row.Fills, row.Buffer, row.FeeRate, row.Slippage, row.RecordedAt)
			return err
		}); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) timed(projection string, fn func() error) error {
	start := time.Now()
	err := fn()
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
	return err
}

// RebuildBalances recomputes projections.balances from the journal. Run
// it after the worker reported gaps.
func RebuildBalances(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	// Journal accounts are "holder:<holder>:<token>" or "issuer:<token>";
	// debits increase, credits decrease.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.balances (token, holder, balance, last_sequence)
		SELECT token, holder, SUM(delta), MAX(sequence)
		FROM (
			SELECT token,
			       CASE WHEN debit_account LIKE 'issuer:%' THEN '0x0000000000000000000000000000000000000000'
			            ELSE split_part(debit_account, ':', 2) END AS holder,
			       amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT token,
			       CASE WHEN credit_account LIKE 'issuer:%' THEN '0x0000000000000000000000000000000000000000'
			            ELSE split_part(credit_account, ':', 2) END AS holder,
			       -amount AS delta, sequence
			FROM event_log.journal
		) moves
		GROUP BY token, holder
		HAVING SUM(delta) <> 0
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("balance projection rebuilt")
	return nil
}
