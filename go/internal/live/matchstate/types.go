package matchstate

import (
	"errors"
	"time"
)

// DefaultStartingScore is the leg starting score used when a match is created
// without an explicit init.
const DefaultStartingScore = 501

var (
	// ErrUnassignedMatch is returned for throws on a match with no player1 id
	// when the store runs with strict assignment.
	ErrUnassignedMatch = errors.New("match has no assigned players")
	// ErrNoThrows is returned when undoing a throw on an empty side.
	ErrNoThrows = errors.New("no throws to undo")
)

// Status of a live match
type Status string

const (
	StatusOngoing  Status = "ongoing"
	StatusFinished Status = "finished"
)

// ThrowRecord is one visit at the board as recorded by the server.
type ThrowRecord struct {
	Score          int  `json:"score"`
	Darts          int  `json:"darts"`
	IsDouble       bool `json:"isDouble"`
	IsCheckout     bool `json:"isCheckout"`
	RemainingScore int  `json:"remainingScore"`
	// Timestamp is the server receive time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// LegData is the mutable scoring state of the leg in progress.
type LegData struct {
	Player1Score     int           `json:"player1Score"`
	Player2Score     int           `json:"player2Score"`
	Player1Remaining int           `json:"player1Remaining"`
	Player2Remaining int           `json:"player2Remaining"`
	Player1Throws    []ThrowRecord `json:"player1Throws"`
	Player2Throws    []ThrowRecord `json:"player2Throws"`
	Player1ID        string        `json:"player1Id,omitempty"`
	Player2ID        string        `json:"player2Id,omitempty"`
}

// CompletedLeg is the archived summary of a finished leg.
type CompletedLeg struct {
	LegNumber     int           `json:"legNumber"`
	WinnerID      string        `json:"winnerId"`
	Player1Throws []ThrowRecord `json:"player1Throws"`
	Player2Throws []ThrowRecord `json:"player2Throws"`
	CompletedAt   int64         `json:"completedAt"`
}

// MatchState is the authoritative live state of one match.
type MatchState struct {
	MatchID        string         `json:"matchId"`
	TournamentCode string         `json:"tournamentCode,omitempty"`
	Status         Status         `json:"status"`
	StartingScore  int            `json:"startingScore"`
	LegsToWin      int            `json:"legsToWin,omitempty"`
	StartingPlayer int            `json:"startingPlayer,omitempty"`
	Player1ID      string         `json:"player1Id,omitempty"`
	Player2ID      string         `json:"player2Id,omitempty"`
	Player1Name    string         `json:"player1Name,omitempty"`
	Player2Name    string         `json:"player2Name,omitempty"`
	WinnerID       string         `json:"winnerId,omitempty"`
	CurrentLeg     int            `json:"currentLeg"`
	CompletedLegs  []CompletedLeg `json:"completedLegs"`
	CurrentLegData LegData        `json:"currentLegData"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// LegsWon counts completed legs won by each side, matched against the
// match-level player ids.
func (s *MatchState) LegsWon() (p1, p2 int) {
	for _, leg := range s.CompletedLegs {
		switch {
		case leg.WinnerID == "":
		case leg.WinnerID == s.Player1ID:
			p1++
		case leg.WinnerID == s.Player2ID:
			p2++
		}
	}
	return p1, p2
}

// Summary is the row shape served by the live-matches snapshot endpoint.
type Summary struct {
	MatchID          string    `json:"matchId"`
	TournamentCode   string    `json:"tournamentCode,omitempty"`
	Status           Status    `json:"status"`
	CurrentLeg       int       `json:"currentLeg"`
	Player1ID        string    `json:"player1Id,omitempty"`
	Player2ID        string    `json:"player2Id,omitempty"`
	Player1Name      string    `json:"player1Name,omitempty"`
	Player2Name      string    `json:"player2Name,omitempty"`
	Player1Remaining int       `json:"player1Remaining"`
	Player2Remaining int       `json:"player2Remaining"`
	Player1LegsWon   int       `json:"player1LegsWon"`
	Player2LegsWon   int       `json:"player2LegsWon"`
	Version          int64     `json:"version"`
	LastUpdate       time.Time `json:"lastUpdate"`
}

// Summarize projects the state onto its list-view row.
func (s *MatchState) Summarize() Summary {
	p1, p2 := s.LegsWon()
	return Summary{
		MatchID:          s.MatchID,
		TournamentCode:   s.TournamentCode,
		Status:           s.Status,
		CurrentLeg:       s.CurrentLeg,
		Player1ID:        s.Player1ID,
		Player2ID:        s.Player2ID,
		Player1Name:      s.Player1Name,
		Player2Name:      s.Player2Name,
		Player1Remaining: s.CurrentLegData.Player1Remaining,
		Player2Remaining: s.CurrentLegData.Player2Remaining,
		Player1LegsWon:   p1,
		Player2LegsWon:   p2,
		Version:          s.Version,
		LastUpdate:       s.UpdatedAt,
	}
}

func newLeg(startingScore int) LegData {
	return LegData{
		Player1Score:     startingScore,
		Player2Score:     startingScore,
		Player1Remaining: startingScore,
		Player2Remaining: startingScore,
		Player1Throws:    []ThrowRecord{},
		Player2Throws:    []ThrowRecord{},
	}
}

func newMatch(matchID string, startingScore int) MatchState {
	return MatchState{
		MatchID:        matchID,
		Status:         StatusOngoing,
		StartingScore:  startingScore,
		CurrentLeg:     1,
		CompletedLegs:  []CompletedLeg{},
		CurrentLegData: newLeg(startingScore),
	}
}

// clone deep-copies the state so callers never alias store memory.
func (s MatchState) clone() MatchState {
	out := s
	out.CompletedLegs = make([]CompletedLeg, len(s.CompletedLegs))
	for i, leg := range s.CompletedLegs {
		leg.Player1Throws = cloneThrows(leg.Player1Throws)
		leg.Player2Throws = cloneThrows(leg.Player2Throws)
		out.CompletedLegs[i] = leg
	}
	out.CurrentLegData.Player1Throws = cloneThrows(s.CurrentLegData.Player1Throws)
	out.CurrentLegData.Player2Throws = cloneThrows(s.CurrentLegData.Player2Throws)
	return out
}

func cloneThrows(in []ThrowRecord) []ThrowRecord {
	out := make([]ThrowRecord, len(in))
	copy(out, in)
	return out
}
