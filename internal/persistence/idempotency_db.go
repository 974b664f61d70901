package persistence

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresIdempotencyChecker is the second dedup tier of the core: it
// looks a key up in the event log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks if the event exists in the Postgres event log. The
// caller bounds ctx.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error) {
	query := `
        SELECT 1
        FROM event_log.events
        WHERE event_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType, idempotencyKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
