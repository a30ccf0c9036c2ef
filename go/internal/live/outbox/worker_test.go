package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func testEvent(t *testing.T, matchID string) Event {
	t.Helper()
	ev, err := NewEvent(EventTypeMatchCompleted, matchID, "T1", map[string]string{"matchId": matchID}, time.Unix(0, 0))
	require.NoError(t, err)
	return ev
}

func TestDispatcherPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, Config{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))

	for _, id := range []string{"M1", "M2", "M3"} {
		require.True(t, d.Enqueue(testEvent(t, id)))
	}

	require.Eventually(t, func() bool { return len(pub.published()) == 3 }, time.Second, 5*time.Millisecond)
	got := pub.published()
	assert.Equal(t, "M1", got[0].MatchID)
	assert.Equal(t, "M2", got[1].MatchID)
	assert.Equal(t, "M3", got[2].MatchID)

	cancel()
	d.Wait()
}

func TestDispatcherRetries(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	counters := NewCounters()
	d := NewDispatcher(pub, Config{QueueSize: 1, MaxRetries: 3}, WithMetrics(counters))

	err := d.publishWithRetry(context.Background(), testEvent(t, "M1"))
	require.NoError(t, err)
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, uint64(2), counters.Snapshot().Retried[EventTypeMatchCompleted])
}

func TestDispatcherGivesUp(t *testing.T) {
	pub := &recordingPublisher{failures: 10}
	d := NewDispatcher(pub, Config{QueueSize: 1, MaxRetries: 2})

	err := d.publishWithRetry(context.Background(), testEvent(t, "M1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, pub.calls)
}

func TestDispatcherRetryWaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{failures: 1}
	d := NewDispatcher(pub, Config{QueueSize: 1, MaxRetries: 1, RetryDelay: time.Second}, WithClock(clock))

	done := make(chan error, 1)
	go func() { done <- d.publishWithRetry(context.Background(), testEvent(t, "M1")) }()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish did not complete after clock advance")
	}
	assert.Len(t, pub.published(), 1)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	counters := NewCounters()
	d := NewDispatcher(&recordingPublisher{}, Config{QueueSize: 1}, WithMetrics(counters))

	assert.True(t, d.Enqueue(testEvent(t, "M1")))
	assert.False(t, d.Enqueue(testEvent(t, "M2")))
	assert.Equal(t, uint64(1), counters.Snapshot().Dropped[EventTypeMatchCompleted])
}

func TestMetricPublisher(t *testing.T) {
	counters := NewCounters()
	pub := NewMetricPublisher(&recordingPublisher{failures: 1}, counters, clockwork.NewFakeClock())

	assert.Error(t, pub.Publish(context.Background(), testEvent(t, "M1")))
	assert.NoError(t, pub.Publish(context.Background(), testEvent(t, "M1")))

	snap := counters.Snapshot()
	assert.Equal(t, uint64(1), snap.Published[EventTypeMatchCompleted])
	assert.Equal(t, uint64(1), snap.Failed[EventTypeMatchCompleted])
}

func TestLegCompletedEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

	_, ok, err := LegCompletedEvent(matchstate.MatchState{MatchID: "M1"}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	state := matchstate.MatchState{
		MatchID:        "M1",
		TournamentCode: "T1",
		CompletedLegs: []matchstate.CompletedLeg{
			{LegNumber: 1, WinnerID: "P2"},
			{LegNumber: 2, WinnerID: "P1"},
		},
	}
	ev, ok, err := LegCompletedEvent(state, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventTypeLegCompleted, ev.EventType)
	assert.Equal(t, "T1", ev.TournamentCode)
	assert.Equal(t, now, ev.CreatedAt)

	var payload LegCompleted
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, 2, payload.Leg.LegNumber)
	assert.Equal(t, "P1", payload.Leg.WinnerID)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "darts.live.leg_completed", Subject("darts.live", EventTypeLegCompleted))
}
