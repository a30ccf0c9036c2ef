package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordPublishAttempt(eventType string, attempt int, success bool)
	RecordDropped(eventType string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}
func (NoOpMetricsCollector) RecordDropped(string)                             {}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
	clock     clockwork.Clock
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector, clock clockwork.Clock) *MetricPublisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event Event) error {
	start := p.clock.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(event.EventType, err == nil, p.clock.Since(start))
	return err
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Published map[string]uint64 `json:"published"`
	Failed    map[string]uint64 `json:"failed"`
	Retried   map[string]uint64 `json:"retried"`
	Dropped   map[string]uint64 `json:"dropped"`
	Slowest   time.Duration     `json:"slowestPublishNs"`
}

// Counters is an in-process MetricsCollector served on the stats endpoint.
type Counters struct {
	mu        sync.Mutex
	published map[string]uint64
	failed    map[string]uint64
	retried   map[string]uint64
	dropped   map[string]uint64
	slowest   time.Duration
}

func NewCounters() *Counters {
	return &Counters{
		published: make(map[string]uint64),
		failed:    make(map[string]uint64),
		retried:   make(map[string]uint64),
		dropped:   make(map[string]uint64),
	}
}

func (c *Counters) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.published[eventType]++
	} else {
		c.failed[eventType]++
	}
	if duration > c.slowest {
		c.slowest = duration
	}
}

func (c *Counters) RecordPublishAttempt(eventType string, attempt int, success bool) {
	if attempt <= 1 {
		return
	}
	c.mu.Lock()
	c.retried[eventType]++
	c.mu.Unlock()
}

func (c *Counters) RecordDropped(eventType string) {
	c.mu.Lock()
	c.dropped[eventType]++
	c.mu.Unlock()
}

func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterSnapshot{
		Published: copyCounts(c.published),
		Failed:    copyCounts(c.failed),
		Retried:   copyCounts(c.retried),
		Dropped:   copyCounts(c.dropped),
		Slowest:   c.slowest,
	}
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
