package matchstate

import "time"

// Mutation is a state change the Store knows how to apply to one match.
type Mutation interface {
	apply(s *MatchState, now time.Time, strict bool) error
}

// Throw records one visit for the player identified by PlayerID.
type Throw struct {
	PlayerID       string
	Score          int
	Darts          int
	IsDouble       bool
	IsCheckout     bool
	RemainingScore int
	TournamentCode string
}

func (t Throw) apply(s *MatchState, now time.Time, strict bool) error {
	leg := &s.CurrentLegData
	if strict && leg.Player1ID == "" {
		return ErrUnassignedMatch
	}
	bindTournament(s, t.TournamentCode)

	rec := ThrowRecord{
		Score:          t.Score,
		Darts:          t.Darts,
		IsDouble:       t.IsDouble,
		IsCheckout:     t.IsCheckout,
		RemainingScore: t.RemainingScore,
		Timestamp:      legTimestamp(leg, now),
	}

	// An unset player1Id never equals a non-empty player id, so throws on an
	// unassigned match land on player2.
	if leg.Player1ID != "" && t.PlayerID == leg.Player1ID {
		leg.Player1Throws = append(leg.Player1Throws, rec)
		leg.Player1Remaining = t.RemainingScore
	} else {
		leg.Player2Throws = append(leg.Player2Throws, rec)
		leg.Player2Remaining = t.RemainingScore
	}
	return nil
}

// legTimestamp keeps throw timestamps non-decreasing within a leg.
func legTimestamp(leg *LegData, now time.Time) int64 {
	ts := now.UnixMilli()
	for _, throws := range [][]ThrowRecord{leg.Player1Throws, leg.Player2Throws} {
		if n := len(throws); n > 0 && throws[n-1].Timestamp > ts {
			ts = throws[n-1].Timestamp
		}
	}
	return ts
}

// LegComplete closes the current leg. Nil throw slices mean the event did not
// carry them and the store's running log for the leg is used instead.
type LegComplete struct {
	LegNumber      int
	WinnerID       string
	Player1Throws  []ThrowRecord
	Player2Throws  []ThrowRecord
	TournamentCode string
}

func (l LegComplete) apply(s *MatchState, now time.Time, _ bool) error {
	bindTournament(s, l.TournamentCode)
	legNumber := l.LegNumber
	if legNumber <= 0 {
		legNumber = s.CurrentLeg
	}

	p1 := l.Player1Throws
	if p1 == nil {
		p1 = s.CurrentLegData.Player1Throws
	}
	p2 := l.Player2Throws
	if p2 == nil {
		p2 = s.CurrentLegData.Player2Throws
	}

	s.CompletedLegs = append(s.CompletedLegs, CompletedLeg{
		LegNumber:     legNumber,
		WinnerID:      l.WinnerID,
		Player1Throws: cloneThrows(p1),
		Player2Throws: cloneThrows(p2),
		CompletedAt:   now.UnixMilli(),
	})
	s.CurrentLeg = legNumber + 1
	// Player ids are intentionally not carried over; the scoring device
	// re-sends set-match-players for the next leg.
	s.CurrentLegData = newLeg(s.StartingScore)
	return nil
}

// UndoThrow removes the last throw recorded for PlayerID in the current leg.
type UndoThrow struct {
	PlayerID       string
	TournamentCode string
}

func (u UndoThrow) apply(s *MatchState, _ time.Time, _ bool) error {
	leg := &s.CurrentLegData
	throws, remaining, start := &leg.Player2Throws, &leg.Player2Remaining, leg.Player2Score
	if leg.Player1ID != "" && u.PlayerID == leg.Player1ID {
		throws, remaining, start = &leg.Player1Throws, &leg.Player1Remaining, leg.Player1Score
	}

	n := len(*throws)
	if n == 0 {
		return ErrNoThrows
	}
	bindTournament(s, u.TournamentCode)
	*throws = (*throws)[:n-1]
	if n > 1 {
		*remaining = (*throws)[n-2].RemainingScore
	} else {
		*remaining = start
	}
	return nil
}

// Init sets the match format. Remaining scores are only reset while the
// current leg has no throws.
type Init struct {
	StartingScore int
	LegsToWin     int
	// StartingPlayer is 1 or 2; other values are ignored.
	StartingPlayer int
	TournamentCode string
}

func (i Init) apply(s *MatchState, _ time.Time, _ bool) error {
	bindTournament(s, i.TournamentCode)
	if i.LegsToWin > 0 {
		s.LegsToWin = i.LegsToWin
	}
	if i.StartingPlayer == 1 || i.StartingPlayer == 2 {
		s.StartingPlayer = i.StartingPlayer
	}
	if i.StartingScore <= 0 || i.StartingScore == s.StartingScore {
		return nil
	}
	s.StartingScore = i.StartingScore
	leg := &s.CurrentLegData
	if len(leg.Player1Throws) == 0 && len(leg.Player2Throws) == 0 {
		fresh := newLeg(i.StartingScore)
		fresh.Player1ID, fresh.Player2ID = leg.Player1ID, leg.Player2ID
		*leg = fresh
	}
	return nil
}

// BindTournament associates the match with a tournament code.
type BindTournament struct {
	TournamentCode string
}

func (b BindTournament) apply(s *MatchState, _ time.Time, _ bool) error {
	bindTournament(s, b.TournamentCode)
	return nil
}

func bindTournament(s *MatchState, code string) {
	if code != "" {
		s.TournamentCode = code
	}
}

// Finish marks the match as finished. The state is kept until the process
// discards it.
type Finish struct {
	WinnerID       string
	TournamentCode string
}

func (f Finish) apply(s *MatchState, _ time.Time, _ bool) error {
	bindTournament(s, f.TournamentCode)
	s.Status = StatusFinished
	if f.WinnerID != "" {
		s.WinnerID = f.WinnerID
	}
	return nil
}
