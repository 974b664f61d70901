package persistence

import (
	"context"
	"database/sql"
	"time"

	"Orion/internal/core"
	"Orion/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with a blocking send, so if this
// worker falls behind the core stalls and no event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	snapshots    *SnapshotManager
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// batch accumulates rows until the next flush.
type batch struct {
	events    []EventRow
	journals  []JournalRow
	snapshots []*core.SnapshotState
}

func (b *batch) add(out core.CoreOutput) {
	row, journals := RowsFromOutput(out)
	b.events = append(b.events, row)
	b.journals = append(b.journals, journals...)
	if out.Snapshot != nil {
		b.snapshots = append(b.snapshots, out.Snapshot)
	}
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.journals = b.journals[:0]
	b.snapshots = b.snapshots[:0]
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		snapshots:    NewSnapshotManager(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	b := &batch{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := pw.flush(context.Background(), b); err != nil {
					pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := pw.flush(context.Background(), b); err != nil {
						pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
					}
				}
				return nil
			}

			b.add(output)
			// a snapshot is the recovery point; do not leave it buffered
			if len(b.events) >= pw.batchSize || output.Snapshot != nil {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt runs detached.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(b.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), b)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

// flush writes events, journals and snapshots in a single transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, b.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	sizes := make([]int, 0, len(b.snapshots))
	for _, snap := range b.snapshots {
		size, err := pw.snapshots.save(ctx, tx, snap)
		if err != nil {
			pw.countError("write_snapshot")
			return err
		}
		sizes = append(sizes, size)
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(b.journals)))
		if len(b.events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(b.events[len(b.events)-1].Sequence))
		}
		for i, snap := range b.snapshots {
			pw.metrics.SnapshotTaken.Inc()
			pw.metrics.SnapshotSizeBytes.Set(float64(sizes[i]))
			pw.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		}
		if len(b.snapshots) > 0 {
			pw.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		}
	}
	return nil
}

func (pw *PersistenceWorker) countError(operation string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(operation).Inc()
	}
}
