package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

// Event types handed to the persistence collaborator
const (
	EventTypeLegCompleted   = "leg_completed"
	EventTypeMatchCompleted = "match_completed"
)

// Event is one persistence hand-off message.
type Event struct {
	ID             uuid.UUID       `json:"eventId"`
	EventType      string          `json:"eventType"`
	MatchID        string          `json:"matchId"`
	TournamentCode string          `json:"tournamentCode,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"timestamp"`
}

// EventPublisher delivers events to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// LegCompleted is the payload of a leg_completed event.
type LegCompleted struct {
	MatchID        string                  `json:"matchId"`
	TournamentCode string                  `json:"tournamentCode,omitempty"`
	Leg            matchstate.CompletedLeg `json:"leg"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(eventType, matchID, tournamentCode string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:             uuid.New(),
		EventType:      eventType,
		MatchID:        matchID,
		TournamentCode: tournamentCode,
		Payload:        data,
		CreatedAt:      now.UTC(),
	}, nil
}

// LegCompletedEvent builds the hand-off for the most recently completed leg of
// state. It returns false when the state has no completed legs.
func LegCompletedEvent(state matchstate.MatchState, now time.Time) (Event, bool, error) {
	n := len(state.CompletedLegs)
	if n == 0 {
		return Event{}, false, nil
	}
	ev, err := NewEvent(EventTypeLegCompleted, state.MatchID, state.TournamentCode, LegCompleted{
		MatchID:        state.MatchID,
		TournamentCode: state.TournamentCode,
		Leg:            state.CompletedLegs[n-1],
	}, now)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// MatchCompletedEvent builds the hand-off carrying the final match state.
func MatchCompletedEvent(state matchstate.MatchState, now time.Time) (Event, error) {
	return NewEvent(EventTypeMatchCompleted, state.MatchID, state.TournamentCode, state, now)
}
