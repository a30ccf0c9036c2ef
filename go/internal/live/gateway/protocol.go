package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

// Enqueuer accepts persistence hand-offs without blocking.
type Enqueuer interface {
	Enqueue(event outbox.Event) bool
}

type discardOutbox struct{}

func (discardOutbox) Enqueue(outbox.Event) bool { return true }

// Protocol applies inbound events to the store and fans the results out to
// rooms. It is the only writer of the store.
type Protocol struct {
	store  *matchstate.Store
	rooms  *ConnectionManager
	outbox Enqueuer
	clock  clockwork.Clock
}

func NewProtocol(store *matchstate.Store, rooms *ConnectionManager, ob Enqueuer, clock clockwork.Clock) *Protocol {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ob == nil {
		ob = discardOutbox{}
	}
	return &Protocol{
		store:  store,
		rooms:  rooms,
		outbox: ob,
		clock:  clock,
	}
}

// HandleMessage implements MessageHandler.
func (p *Protocol) HandleMessage(_ context.Context, c *Connection, env events.Envelope) error {
	switch env.Event {
	case events.JoinTournament:
		return p.joinTournament(c, env.Data)
	case events.LeaveTournament:
		return p.leaveTournament(c, env.Data)
	case events.JoinMatch:
		return p.joinMatch(c, env.Data)
	case events.LeaveMatch:
		return p.leaveMatch(c, env.Data)
	case events.SetMatchPlayers:
		return p.setMatchPlayers(env.Data)
	case events.InitMatch:
		return p.initMatch(c, env.Data)
	case events.Throw:
		return p.throw(c, env.Data)
	case events.UndoThrow:
		return p.undoThrow(c, env.Data)
	case events.LegComplete:
		return p.legComplete(c, env.Data)
	case events.MatchStarted:
		return p.matchStarted(c, env.Data)
	case events.MatchComplete:
		return p.matchComplete(c, env.Data)
	default:
		return fmt.Errorf("%w: %q", events.ErrUnknownEvent, env.Event)
	}
}

func (p *Protocol) joinTournament(c *Connection, data json.RawMessage) error {
	code, err := events.DecodeID(data, "tournamentCode")
	if err != nil {
		return err
	}
	p.rooms.Join(c, TournamentRoom(code))
	return nil
}

func (p *Protocol) leaveTournament(c *Connection, data json.RawMessage) error {
	code, err := events.DecodeID(data, "tournamentCode")
	if err != nil {
		return err
	}
	p.rooms.Leave(c, TournamentRoom(code))
	return nil
}

// joinMatch replies with a snapshot only when the match already exists. A
// viewer joining before the first event gets nothing and relies on its poll.
func (p *Protocol) joinMatch(c *Connection, data json.RawMessage) error {
	matchID, err := events.DecodeID(data, "matchId")
	if err != nil {
		return err
	}
	p.rooms.Join(c, MatchRoom(matchID))

	state, ok := p.store.Get(matchID)
	if !ok {
		log.Debug().Str("match_id", matchID).Msg("no state yet for joined match")
		return nil
	}
	return p.rooms.SendTo(c, events.MatchState, state)
}

func (p *Protocol) leaveMatch(c *Connection, data json.RawMessage) error {
	matchID, err := events.DecodeID(data, "matchId")
	if err != nil {
		return err
	}
	p.rooms.Leave(c, MatchRoom(matchID))
	return nil
}

func (p *Protocol) setMatchPlayers(data json.RawMessage) error {
	payload, err := events.Decode[events.SetMatchPlayersPayload](data)
	if err != nil {
		return err
	}
	p.store.SetPlayers(payload.MatchID, payload.Players())

	log.Debug().
		Str("match_id", payload.MatchID).
		Str("player1_id", payload.Player1ID).
		Str("player2_id", payload.Player2ID).
		Msg("match players set")
	return nil
}

func (p *Protocol) initMatch(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.InitMatchPayload](data)
	if err != nil {
		return err
	}
	state, err := p.store.Apply(payload.MatchID, payload.Mutation())
	if err != nil {
		return fmt.Errorf("init match %s: %w", payload.MatchID, err)
	}
	p.rooms.Broadcast(MatchRoom(payload.MatchID), events.MatchState, state, c)
	return nil
}

func (p *Protocol) throw(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.ThrowPayload](data)
	if err != nil {
		return err
	}
	state, err := p.store.Apply(payload.MatchID, payload.Mutation())
	if err != nil {
		return fmt.Errorf("throw on match %s: %w", payload.MatchID, err)
	}

	p.rooms.Broadcast(MatchRoom(payload.MatchID), events.ThrowUpdate, data, c)
	p.publishMatchUpdate(c, payload.TournamentCode, state)
	return nil
}

func (p *Protocol) undoThrow(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.UndoThrowPayload](data)
	if err != nil {
		return err
	}
	state, err := p.store.Apply(payload.MatchID, payload.Mutation())
	if err != nil {
		return fmt.Errorf("undo throw on match %s: %w", payload.MatchID, err)
	}

	p.rooms.Broadcast(MatchRoom(payload.MatchID), events.ThrowUndone, data, c)
	p.publishMatchUpdate(c, payload.TournamentCode, state)
	return nil
}

func (p *Protocol) legComplete(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.LegCompletePayload](data)
	if err != nil {
		return err
	}
	state, err := p.store.Apply(payload.MatchID, payload.Mutation())
	if err != nil {
		return fmt.Errorf("complete leg on match %s: %w", payload.MatchID, err)
	}

	p.rooms.Broadcast(MatchRoom(payload.MatchID), events.LegComplete, data, c)
	if payload.TournamentCode != "" {
		p.rooms.Broadcast(TournamentRoom(payload.TournamentCode), events.LegComplete, data, c)
	}
	p.publishMatchUpdate(c, payload.TournamentCode, state)

	ev, ok, err := outbox.LegCompletedEvent(state, p.clock.Now())
	if err != nil {
		return fmt.Errorf("build leg hand-off for match %s: %w", payload.MatchID, err)
	}
	if ok {
		p.outbox.Enqueue(ev)
	}

	log.Info().
		Str("match_id", payload.MatchID).
		Int("leg", payload.LegNumber).
		Str("winner_id", payload.WinnerID).
		Int("current_leg", state.CurrentLeg).
		Msg("leg completed")
	return nil
}

func (p *Protocol) matchStarted(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.MatchStartedPayload](data)
	if err != nil {
		return err
	}
	if _, err := p.store.Apply(payload.MatchID, matchstate.BindTournament{TournamentCode: payload.TournamentCode}); err != nil {
		return fmt.Errorf("start match %s: %w", payload.MatchID, err)
	}
	if payload.TournamentCode != "" {
		p.rooms.Broadcast(TournamentRoom(payload.TournamentCode), events.MatchStarted, data, c)
	}
	return nil
}

func (p *Protocol) matchComplete(c *Connection, data json.RawMessage) error {
	payload, err := events.Decode[events.MatchCompletePayload](data)
	if err != nil {
		return err
	}
	// Nothing was ever recorded for an unseen match, so there is no result to
	// archive. Rooms still hear that it finished.
	if _, ok := p.store.Get(payload.MatchID); !ok {
		log.Warn().Str("match_id", payload.MatchID).Msg("match-complete for unknown match")
		finished := events.MatchFinishedPayload{MatchID: payload.MatchID, WinnerID: payload.WinnerID}
		p.rooms.Broadcast(MatchRoom(payload.MatchID), events.MatchFinished, finished, c)
		if payload.TournamentCode != "" {
			p.rooms.Broadcast(TournamentRoom(payload.TournamentCode), events.MatchFinished, finished, c)
		}
		return nil
	}

	state, err := p.store.Apply(payload.MatchID, matchstate.Finish{
		WinnerID:       payload.WinnerID,
		TournamentCode: payload.TournamentCode,
	})
	if err != nil {
		return fmt.Errorf("finish match %s: %w", payload.MatchID, err)
	}

	ev, err := outbox.MatchCompletedEvent(state, p.clock.Now())
	if err != nil {
		return fmt.Errorf("build match hand-off for %s: %w", payload.MatchID, err)
	}
	p.outbox.Enqueue(ev)

	finished := events.MatchFinishedPayload{MatchID: state.MatchID, WinnerID: state.WinnerID}
	p.rooms.Broadcast(MatchRoom(state.MatchID), events.MatchFinished, finished, c)
	if state.TournamentCode != "" {
		p.rooms.Broadcast(TournamentRoom(state.TournamentCode), events.MatchFinished, finished, c)
	}

	log.Info().
		Str("match_id", state.MatchID).
		Str("tournament_code", state.TournamentCode).
		Str("winner_id", state.WinnerID).
		Int("legs", len(state.CompletedLegs)).
		Msg("match completed")
	return nil
}

func (p *Protocol) publishMatchUpdate(c *Connection, tournamentCode string, state matchstate.MatchState) {
	if tournamentCode == "" {
		return
	}
	p.rooms.Broadcast(TournamentRoom(tournamentCode), events.MatchUpdate, events.NewMatchUpdate(state), c)
}

// ControlEvent is a list-view event emitted by a collaborator outside the
// websocket path, such as the bracket service.
type ControlEvent struct {
	EventType      events.Name     `json:"eventType"`
	MatchID        string          `json:"matchId"`
	TournamentCode string          `json:"tournamentCode"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// HandleControl relays a collaborator event to the tournament room.
func (p *Protocol) HandleControl(ev ControlEvent) error {
	if ev.TournamentCode == "" {
		return fmt.Errorf("%w: missing tournamentCode", events.ErrMalformedEvent)
	}
	room := TournamentRoom(ev.TournamentCode)

	switch ev.EventType {
	case events.MatchStarted:
		if ev.MatchID == "" {
			return fmt.Errorf("%w: missing matchId", events.ErrMalformedEvent)
		}
		if _, err := p.store.Apply(ev.MatchID, matchstate.BindTournament{TournamentCode: ev.TournamentCode}); err != nil {
			return err
		}
		p.rooms.Broadcast(room, events.MatchStarted, events.MatchStartedPayload{
			MatchID:        ev.MatchID,
			TournamentCode: ev.TournamentCode,
			MatchData:      ev.Payload,
		}, nil)

	case events.MatchFinished:
		if ev.MatchID == "" {
			return fmt.Errorf("%w: missing matchId", events.ErrMalformedEvent)
		}
		if _, ok := p.store.Get(ev.MatchID); ok {
			if _, err := p.store.Apply(ev.MatchID, matchstate.Finish{TournamentCode: ev.TournamentCode}); err != nil {
				return err
			}
		}
		p.rooms.Broadcast(room, events.MatchFinished, events.MatchFinishedPayload{MatchID: ev.MatchID}, nil)

	case events.MatchUpdate:
		update := events.MatchUpdatePayload{MatchID: ev.MatchID}
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &update.State); err != nil {
				return fmt.Errorf("%w: %v", events.ErrMalformedEvent, err)
			}
		}
		if err := update.Validate(); err != nil {
			return err
		}
		p.rooms.Broadcast(room, events.MatchUpdate, update, nil)

	case events.FetchMatchData:
		p.rooms.Broadcast(room, events.FetchMatchData, struct {
			TournamentCode string `json:"tournamentCode"`
		}{ev.TournamentCode}, nil)

	default:
		return fmt.Errorf("%w: %q", events.ErrUnknownEvent, ev.EventType)
	}
	return nil
}
