package ingestion

import (
	"context"
	"fmt"
	"time"

	"Orion/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventTypeUpkeepTrigger is the pseudo event type of orion.upkeep.*
// subjects. Triggers drive the keeper and are never logged themselves.
const EventTypeUpkeepTrigger = "UpkeepTrigger"

// NATSSubscriber consumes JetStream subjects and hands each message to the
// dispatcher as a RawEvent. Each subject maps to one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is one undecoded message. The dispatcher acks or naks it once
// the core has decided.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	StreamCommands = "ORION_COMMANDS"
	StreamAdmin    = "ORION_ADMIN"
	StreamUpkeep   = "ORION_UPKEEP"
	StreamEvents   = "ORION_EVENTS"
)

// DefaultSubjects returns the inbound subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "orion.commands.vaults.>", EventType: "VaultCreated", ConsumerName: "orion-vaults", StreamName: StreamCommands},
		{Subject: "orion.commands.intents.>", EventType: "IntentSubmitted", ConsumerName: "orion-intents", StreamName: StreamCommands},
		{Subject: "orion.commands.deposits.>", EventType: "DepositRequested", ConsumerName: "orion-deposits", StreamName: StreamCommands},
		{Subject: "orion.commands.withdrawals.>", EventType: "WithdrawRequested", ConsumerName: "orion-withdrawals", StreamName: StreamCommands},
		{Subject: "orion.admin.tokens.>", EventType: "TokenListed", ConsumerName: "orion-tokens", StreamName: StreamAdmin},
		{Subject: "orion.admin.credits.>", EventType: "FundsCredited", ConsumerName: "orion-credits", StreamName: StreamAdmin},
		{Subject: "orion.upkeep.>", EventType: EventTypeUpkeepTrigger, ConsumerName: "orion-upkeep", StreamName: StreamUpkeep},
	}
}

// IntentSubject is the subject a curator publishes vault's intents on.
func IntentSubject(vault string) string {
	return "orion.commands.intents." + vault
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates a durable pull consumer per subject. Consumers use
// explicit ACK, max_deliver=5, ack_wait=30s. Commands are order sensitive
// (intent nonces, queue positions) so each consumer keeps one message in
// flight.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		stream := cfg.StreamName
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			received := time.Now()
			if ns.metrics != nil {
				if md, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(stream).Observe(received.Sub(md.Timestamp).Seconds())
				}
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: received.UTC(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound streams if they don't exist. Streams
// use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(StreamCommands, "orion.commands.>"),
		streamConfig(StreamAdmin, "orion.admin.>"),
		streamConfig(StreamUpkeep, "orion.upkeep.>"),
	}
	// triggers are only useful while fresh
	streams[2].MaxAge = time.Hour

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("orion"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
