package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

// Service wires the live gateway: rooms, protocol, snapshot endpoints,
// persistence hand-off and the optional control-plane consumer.
type Service struct {
	store             *matchstate.Store
	connectionManager *ConnectionManager
	protocol          *Protocol
	dispatcher        *outbox.Dispatcher
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	OutboxConfig     outbox.Config
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		OutboxConfig:     outbox.DefaultConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// Deps are the collaborators the service is built from. JetStream may be nil,
// which disables the control-plane consumer.
type Deps struct {
	Store     *matchstate.Store
	Publisher outbox.EventPublisher
	Counters  *outbox.Counters
	JetStream jetstream.JetStream
	Clock     clockwork.Clock
}

// NewService creates a new gateway service
func NewService(ctx context.Context, config Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = outbox.LogPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	var metrics outbox.MetricsCollector = outbox.NoOpMetricsCollector{}
	publisher := deps.Publisher
	if deps.Counters != nil {
		metrics = deps.Counters
		publisher = outbox.NewMetricPublisher(publisher, deps.Counters, deps.Clock)
	}

	connectionManager := NewConnectionManager(config.ConnectionConfig)
	dispatcher := outbox.NewDispatcher(publisher, config.OutboxConfig,
		outbox.WithClock(deps.Clock),
		outbox.WithMetrics(metrics),
	)
	protocol := NewProtocol(deps.Store, connectionManager, dispatcher, deps.Clock)

	s := &Service{
		store:             deps.Store,
		connectionManager: connectionManager,
		protocol:          protocol,
		dispatcher:        dispatcher,
		wsHandler:         NewWebSocketHandler(connectionManager, protocol, deps.Counters),
		stateHandler:      NewStateHandler(deps.Store),
	}

	if deps.JetStream != nil {
		consumer, err := NewEventConsumer(ctx, deps.JetStream, protocol, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = consumer
	}

	return s, nil
}

// Start runs the background workers until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting live gateway service")

	if err := s.dispatcher.Start(ctx); err != nil {
		return err
	}

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("live gateway service shutting down")
	s.connectionManager.CloseAll()
	s.dispatcher.Wait()
	return nil
}

// RegisterRoutes registers the WebSocket and snapshot HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("live gateway routes registered")
}

// Protocol exposes the event handler, mainly for tests.
func (s *Service) Protocol() *Protocol {
	return s.protocol
}

// ConnectionManager exposes the room router.
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}
