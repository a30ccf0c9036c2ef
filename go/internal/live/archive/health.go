package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsRecorded    uint64    `json:"events_recorded"`
	LastEventTime     time.Time `json:"last_event_time"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ConsumerRunning   bool      `json:"consumer_running"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type statsSource interface {
	Stats() (recorded uint64, lastEvent time.Time, running bool)
}

// HealthChecker reports whether the archive can make progress.
type HealthChecker struct {
	consumer      statsSource
	db            Pinger
	natsConnected func() bool
}

// NewHealthChecker builds a checker. natsConnected may be nil when the
// connection is not tracked.
func NewHealthChecker(consumer statsSource, db Pinger, natsConnected func() bool) *HealthChecker {
	return &HealthChecker{
		consumer:      consumer,
		db:            db,
		natsConnected: natsConnected,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	status.EventsRecorded, status.LastEventTime, status.ConsumerRunning = h.consumer.Stats()
	if !status.ConsumerRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "consumer not running")
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.natsConnected != nil {
		status.NATSConnected = h.natsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}
