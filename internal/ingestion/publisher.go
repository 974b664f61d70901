package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"Orion/internal/core"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes applied events to NATS for downstream
// consumers. Subjects follow orion.events.{event_type}[.{vault}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is an applied event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Vault          *string         `json:"vault,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
	Tick           *TickSummary    `json:"tick,omitempty"`
	Vaults         []VaultSummary  `json:"vaults,omitempty"`
}

// TickSummary describes the phase transition of an UpkeepPerformed event.
type TickSummary struct {
	Target      string `json:"target"`
	Epoch       uint64 `json:"epoch"`
	From        string `json:"from"`
	To          string `json:"to"`
	Deposits    int    `json:"deposits,omitempty"`
	Withdrawals int    `json:"withdrawals,omitempty"`
	Deferred    int    `json:"deferred,omitempty"`
	Fills       int    `json:"fills,omitempty"`
}

// VaultSummary is the post-event accounting of one touched vault.
type VaultSummary struct {
	Address     string `json:"address"`
	TotalAssets string `json:"total_assets"`
	SharePrice  string `json:"share_price"`
	Deposits    int    `json:"pending_deposits"`
	Withdrawals int    `json:"pending_withdrawals"`
}

// NewPublishableEvent flattens a core output for the wire.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if env.Vault != nil {
		addr := env.Vault.Hex()
		evt.Vault = &addr
	}
	if t := out.Tick; t != nil {
		evt.Tick = &TickSummary{
			Target:      string(t.Target),
			Epoch:       t.Epoch,
			From:        t.From,
			To:          t.To,
			Deposits:    len(t.Deposits),
			Withdrawals: len(t.Withdrawals),
			Deferred:    len(t.Deferred),
			Fills:       len(t.Fills),
		}
	}
	for _, s := range out.Vaults {
		evt.Vaults = append(evt.Vaults, VaultSummary{
			Address:     s.Address.Hex(),
			TotalAssets: s.TotalAssets.String(),
			SharePrice:  s.SharePrice.String(),
			Deposits:    len(s.Deposits),
			Withdrawals: len(s.Withdrawals),
		})
	}
	return evt
}

// Subject is where evt is published.
func (evt PublishableEvent) Subject() string {
	subject := "orion.events." + evt.EventType
	if evt.Vault != nil {
		subject += "." + *evt.Vault
	}
	return subject
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
// Failures are logged only: the event log remains the source of truth.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("orion-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(StreamEvents, "orion.events.>")); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", StreamEvents).Msg("ensured outbound stream")
	return nil
}
