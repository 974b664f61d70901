package persistence

import (
	"context"
	"fmt"

	"Orion/internal/core"
	"Orion/internal/event"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// EventSource is the read side of the event log used by recovery.
type EventSource interface {
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// Recover restores c from the latest snapshot and replays every event
// logged after it. It returns the number of replayed events. c must be
// freshly constructed and not yet receiving commands.
func Recover(ctx context.Context, c *core.DeterministicCore, src EventSource, logger zerolog.Logger) (int, error) {
	snap, err := src.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	from := int64(0)
	if snap != nil {
		c.RestoreFromSnapshot(snap)
		from = snap.Sequence + 1
		logger.Info().
			Int64("sequence", snap.Sequence).
			Hex("state_hash", snap.StateHash[:]).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot, replaying from genesis")
	}

	replayed := 0
	for {
		rows, err := src.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			evt, err := event.Decode(env.EventType, env.Payload)
			if err != nil {
				return replayed, fmt.Errorf("event %d: %w", row.Sequence, err)
			}
			if err := c.Replay(ctx, env, evt); err != nil {
				return replayed, err
			}
			replayed++
			from = row.Sequence + 1
		}
		if len(rows) < replayPageSize {
			break
		}
	}

	if snap != nil {
		if err := src.MarkVerified(ctx, snap.Sequence); err != nil {
			return replayed, fmt.Errorf("mark snapshot %d verified: %w", snap.Sequence, err)
		}
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Msg("recovery complete")
	return replayed, nil
}
