package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

// ConsumerConfig configures the durable consumer reading the hand-off stream.
type ConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	RetryDelay    time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		StreamName:    "DARTS_LIVE",
		ConsumerName:  "live-archive",
		SubjectFilter: "darts.live.>",
		MaxDeliver:    10,
		AckWait:       30 * time.Second,
		MaxAckPending: 50,
		RetryDelay:    5 * time.Second,
	}
}

// recordFunc is the part of the Recorder the consumer drives.
type recordFunc func(ctx context.Context, event outbox.Event) error

// Consumer feeds hand-off events from JetStream into a Recorder. Delivery is
// at least once; the recorder's writes are idempotent.
type Consumer struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	record   recordFunc
	config   ConsumerConfig

	mu        sync.Mutex
	running   bool
	recorded  uint64
	lastEvent time.Time
}

func NewConsumer(ctx context.Context, js jetstream.JetStream, recorder *Recorder, config ConsumerConfig) (*Consumer, error) {
	c := &Consumer{
		js:     js,
		record: recorder.Record,
		config: config,
	}
	if err := c.ensureConsumer(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureConsumer binds to the stream owned by the gateway publisher and
// replays everything not yet acknowledged.
func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          c.config.ConsumerName,
			Durable:       c.config.ConsumerName,
			Description:   "Live match archive",
			FilterSubject: c.config.SubjectFilter,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    c.config.MaxDeliver,
			AckWait:       c.config.AckWait,
			MaxAckPending: c.config.MaxAckPending,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", c.config.ConsumerName).Msg("created JetStream consumer for archive")
	} else {
		log.Info().Str("consumer", c.config.ConsumerName).Msg("using existing JetStream consumer for archive")
	}

	c.consumer = consumer
	return nil
}

// Start pulls messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	iter, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	c.setRunning(true)
	defer c.setRunning(false)

	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("subject", c.config.SubjectFilter).
		Msg("archive consumer started")

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				log.Info().Msg("archive consumer shutting down")
				return nil
			}
			return fmt.Errorf("next message: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		c.mu.Lock()
		c.recorded++
		c.lastEvent = time.Now()
		c.mu.Unlock()
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownEventType):
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping hand-off event")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to archive event, will retry")
		if nakErr := msg.NakWithDelay(c.config.RetryDelay); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

func (c *Consumer) process(ctx context.Context, data []byte) error {
	var event outbox.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return c.record(ctx, event)
}

func (c *Consumer) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

// Stats returns consumer progress for health checks.
func (c *Consumer) Stats() (recorded uint64, lastEvent time.Time, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded, c.lastEvent, c.running
}
