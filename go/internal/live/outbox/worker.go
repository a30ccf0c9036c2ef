package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Config struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Dispatcher takes events off the protocol path and publishes them from a
// background goroutine. Enqueue never blocks.
type Dispatcher struct {
	publisher EventPublisher
	metrics   MetricsCollector
	config    Config
	clock     clockwork.Clock

	queue chan Event

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func WithMetrics(m MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(publisher EventPublisher, cfg Config, opts ...DispatcherOption) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	d := &Dispatcher{
		publisher: publisher,
		metrics:   NoOpMetricsCollector{},
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		queue:     make(chan Event, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue schedules an event for publishing. It reports false when the queue
// is full and the event was dropped.
func (d *Dispatcher) Enqueue(event Event) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.metrics.RecordDropped(event.EventType)
		log.Warn().
			Str("event_id", event.ID.String()).
			Str("event_type", event.EventType).
			Str("match_id", event.MatchID).
			Msg("outbox queue full, dropping event")
		return false
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("outbox dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Info().
		Int("queue_size", d.config.QueueSize).
		Int("max_retries", d.config.MaxRetries).
		Msg("outbox dispatcher started")
	return nil
}

// Wait blocks until the dispatcher goroutine has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(d.queue)).Msg("outbox dispatcher stopped")
			return
		case event := <-d.queue:
			if err := d.publishWithRetry(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", event.EventType).
					Str("match_id", event.MatchID).
					Msg("failed to publish event")
			}
		}
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 && d.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.clock.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := d.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			d.metrics.RecordPublishAttempt(event.EventType, attempt+1, false)
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}

		d.metrics.RecordPublishAttempt(event.EventType, attempt+1, true)
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}
