package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

// JetStreamConsumerConfig holds configuration for the control-plane consumer
type JetStreamConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "darts.control.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		StreamName:    "DARTS_CONTROL",
		ConsumerName:  "live-gateway",
		SubjectFilter: "darts.control.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	}
}

// ControlHandler receives decoded control-plane events.
type ControlHandler interface {
	HandleControl(ev ControlEvent) error
}

// EventConsumer relays list-view events published by collaborators (match
// started/finished by the bracket service, forced refetches) into
// tournament rooms.
type EventConsumer struct {
	handler  ControlHandler
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConsumerConfig
}

// NewEventConsumer creates the stream if needed and binds a durable consumer.
func NewEventConsumer(ctx context.Context, js jetstream.JetStream, handler ControlHandler, config JetStreamConsumerConfig) (*EventConsumer, error) {
	ec := &EventConsumer{
		handler: handler,
		js:      js,
		config:  config,
	}
	if err := ec.ensureConsumer(ctx); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      ec.config.StreamName,
		Subjects:  []string{ec.config.SubjectFilter},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Live gateway tournament room relay",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("JetStream consumer ready")

	ec.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("subject", ec.config.SubjectFilter).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			ec.ack(msg, ec.processMessage(msg.Data()))
		}
	}
}

func (ec *EventConsumer) ack(msg jetstream.Msg, err error) {
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, events.ErrMalformedEvent), errors.Is(err, events.ErrUnknownEvent):
		// Redelivery cannot fix a bad payload.
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping control event")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

func (ec *EventConsumer) processMessage(data []byte) error {
	var ev ControlEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal control event: %v", events.ErrMalformedEvent, err)
	}

	log.Debug().
		Str("event_type", string(ev.EventType)).
		Str("match_id", ev.MatchID).
		Str("tournament_code", ev.TournamentCode).
		Msg("processing control event")

	return ec.handler.HandleControl(ev)
}
