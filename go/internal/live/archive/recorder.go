package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

var (
	ErrMalformedEvent   = errors.New("malformed outbox event")
	ErrUnknownEventType = errors.New("unknown outbox event type")
)

// Store persists what the recorder extracts from hand-off events.
type Store interface {
	SaveCompletedLeg(ctx context.Context, matchID, tournamentCode string, leg matchstate.CompletedLeg) (bool, error)
	SaveMatchResult(ctx context.Context, state matchstate.MatchState, finishedAt time.Time) error
}

// Recorder turns persistence hand-off events into archive writes.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record applies one event. Replays of an already recorded event are no-ops.
func (r *Recorder) Record(ctx context.Context, event outbox.Event) error {
	switch event.EventType {
	case outbox.EventTypeLegCompleted:
		var payload outbox.LegCompleted
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if payload.MatchID == "" {
			payload.MatchID = event.MatchID
		}
		if payload.MatchID == "" || payload.Leg.LegNumber <= 0 {
			return fmt.Errorf("%w: leg_completed without match id or leg number", ErrMalformedEvent)
		}

		inserted, err := r.store.SaveCompletedLeg(ctx, payload.MatchID, payload.TournamentCode, payload.Leg)
		if err != nil {
			return err
		}
		log.Info().
			Str("match_id", payload.MatchID).
			Int("leg_number", payload.Leg.LegNumber).
			Str("winner_id", payload.Leg.WinnerID).
			Bool("duplicate", !inserted).
			Msg("leg archived")
		return nil

	case outbox.EventTypeMatchCompleted:
		var state matchstate.MatchState
		if err := json.Unmarshal(event.Payload, &state); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if state.MatchID == "" {
			return fmt.Errorf("%w: match_completed without match id", ErrMalformedEvent)
		}

		if err := r.store.SaveMatchResult(ctx, state, event.CreatedAt); err != nil {
			return err
		}
		log.Info().
			Str("match_id", state.MatchID).
			Str("tournament_code", state.TournamentCode).
			Int("legs", len(state.CompletedLegs)).
			Msg("match result archived")
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType)
	}
}
