package ingestion

import (
	"context"
	"strings"
	"time"

	"Orion/internal/event"
	"Orion/internal/observability"

	"github.com/rs/zerolog"
)

// Processor applies one typed command.
type Processor interface {
	ProcessEvent(ctx context.Context, evt event.Event) error
}

// UpkeepRunner performs whatever upkeep is due at now.
type UpkeepRunner interface {
	Tick(ctx context.Context, now time.Time) error
}

// Dispatch outcomes, also the "result" metric label.
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultUnknown  = "unknown_subject"
	ResultUpkeep   = "upkeep"
	ResultRequeued = "requeued"
)

// Dispatcher routes inbound messages by subject: commands are parsed and
// applied by the core, upkeep triggers run the keeper. Messages are acked
// once the core has decided. Rejected and malformed commands are acked too
// so JetStream does not redeliver them; only a shutdown mid-message naks.
type Dispatcher struct {
	processor Processor
	upkeep    UpkeepRunner
	prefixes  map[string]string
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(processor Processor, upkeep UpkeepRunner, subjects []SubjectConfig, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	// Subjects use the ">" wildcard; match on the prefix before it.
	prefixes := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return &Dispatcher{
		processor: processor,
		upkeep:    upkeep,
		prefixes:  prefixes,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run drains rawChan until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and returns its outcome.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) string {
	result := d.handle(ctx, raw)
	if result == ResultRequeued {
		nak(raw)
	} else {
		ack(raw)
	}
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(d.metricSubject(raw.Subject), result).Inc()
	}
	return result
}

func (d *Dispatcher) handle(ctx context.Context, raw RawEvent) string {
	eventType := d.resolveEventType(raw.Subject)
	if eventType == "" {
		d.logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
		return ResultUnknown
	}

	if eventType == EventTypeUpkeepTrigger {
		trigger, err := ParseUpkeepTrigger(raw)
		if err != nil {
			d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse upkeep trigger failed")
			return ResultInvalid
		}
		if d.upkeep == nil {
			return ResultUpkeep
		}
		if err := d.upkeep.Tick(ctx, trigger.Now); err != nil {
			if ctx.Err() != nil {
				return ResultRequeued
			}
			d.logger.Error().Err(err).Time("now", trigger.Now).Msg("triggered upkeep failed")
		}
		return ResultUpkeep
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		return ResultInvalid
	}

	if err := d.processor.ProcessEvent(ctx, evt); err != nil {
		if ctx.Err() != nil {
			return ResultRequeued
		}
		d.logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Str("key", evt.IdempotencyKey()).
			Msg("command rejected")
		return ResultRejected
	}
	return ResultApplied
}

// resolveEventType finds the event type for a subject by longest prefix.
func (d *Dispatcher) resolveEventType(subject string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range d.prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}

// metricSubject drops the per-vault suffix to keep label cardinality flat.
func (d *Dispatcher) metricSubject(subject string) string {
	bestMatch := ""
	for prefix := range d.prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
		}
	}
	if bestMatch == "" {
		return "unknown"
	}
	return bestMatch
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
