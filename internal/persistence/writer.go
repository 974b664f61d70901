package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Orion/internal/core"
	"Orion/internal/event"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs inside the caller's transaction. Every write is idempotent on its
// primary key so a retried flush cannot duplicate rows.
type EventLogWriter struct{}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Vault          *string
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal. Amounts are base-10
// strings stored as NUMERIC: token amounts do not fit int64.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Token         string
	Amount        string
	JournalType   int32
	Timestamp     time.Time
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// RowsFromOutput flattens one core output into its event row and journal
// rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	env := out.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.Vault != nil {
		hex := env.Vault.Hex()
		row.Vault = &hex
	}
	if out.Batch == nil {
		return row, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Token:         j.Token.Hex(),
			Amount:        j.Amount.String(),
			JournalType:   int32(j.JournalType),
			Timestamp:     env.Timestamp,
		})
	}
	return row, journals
}

// Envelope rebuilds the logged envelope of a row for replay.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	et := event.ParseEventType(e.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("event %d: unknown type %q", e.Sequence, e.EventType)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: malformed hash columns", e.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      et,
		Timestamp:      e.Timestamp,
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, exec execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, vault, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Vault,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := exec.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, exec execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, token, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::NUMERIC, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Token, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := exec.ExecContext(ctx, query, args...)
	return err
}
