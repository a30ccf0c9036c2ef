package events

import (
	"encoding/json"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

// Payload types shared between the gateway and viewers

// ThrowPayload is the payload of a throw event
type ThrowPayload struct {
	MatchID        string `json:"matchId"`
	PlayerID       string `json:"playerId"`
	Score          int    `json:"score"`
	Darts          int    `json:"darts"`
	IsDouble       bool   `json:"isDouble"`
	IsCheckout     bool   `json:"isCheckout"`
	RemainingScore int    `json:"remainingScore"`
	TournamentCode string `json:"tournamentCode,omitempty"`
}

func (p ThrowPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

func (p ThrowPayload) Mutation() matchstate.Throw {
	return matchstate.Throw{
		PlayerID:       p.PlayerID,
		Score:          p.Score,
		Darts:          p.Darts,
		IsDouble:       p.IsDouble,
		IsCheckout:     p.IsCheckout,
		RemainingScore: p.RemainingScore,
		TournamentCode: p.TournamentCode,
	}
}

// CompletedLegThrows is the throw summary a scoring device may attach to a
// leg-complete event.
type CompletedLegThrows struct {
	Player1Throws []matchstate.ThrowRecord `json:"player1Throws"`
	Player2Throws []matchstate.ThrowRecord `json:"player2Throws"`
}

// LegCompletePayload is the payload of a leg-complete event
type LegCompletePayload struct {
	MatchID        string              `json:"matchId"`
	LegNumber      int                 `json:"legNumber"`
	WinnerID       string              `json:"winnerId"`
	CompletedLeg   *CompletedLegThrows `json:"completedLeg,omitempty"`
	TournamentCode string              `json:"tournamentCode,omitempty"`
}

func (p LegCompletePayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

func (p LegCompletePayload) Mutation() matchstate.LegComplete {
	m := matchstate.LegComplete{
		LegNumber:      p.LegNumber,
		WinnerID:       p.WinnerID,
		TournamentCode: p.TournamentCode,
	}
	if p.CompletedLeg != nil {
		m.Player1Throws = p.CompletedLeg.Player1Throws
		m.Player2Throws = p.CompletedLeg.Player2Throws
	}
	return m
}

// SetMatchPlayersPayload is the payload of a set-match-players event
type SetMatchPlayersPayload struct {
	MatchID     string `json:"matchId"`
	Player1ID   string `json:"player1Id"`
	Player2ID   string `json:"player2Id"`
	Player1Name string `json:"player1Name,omitempty"`
	Player2Name string `json:"player2Name,omitempty"`
}

func (p SetMatchPlayersPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

func (p SetMatchPlayersPayload) Players() matchstate.Players {
	return matchstate.Players{
		Player1ID:   p.Player1ID,
		Player2ID:   p.Player2ID,
		Player1Name: p.Player1Name,
		Player2Name: p.Player2Name,
	}
}

// InitMatchPayload is the payload of an init-match event
type InitMatchPayload struct {
	MatchID        string `json:"matchId"`
	StartingScore  int    `json:"startingScore"`
	LegsToWin      int    `json:"legsToWin"`
	StartingPlayer int    `json:"startingPlayer,omitempty"`
	TournamentCode string `json:"tournamentCode,omitempty"`
}

func (p InitMatchPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

func (p InitMatchPayload) Mutation() matchstate.Init {
	return matchstate.Init{
		StartingScore:  p.StartingScore,
		LegsToWin:      p.LegsToWin,
		StartingPlayer: p.StartingPlayer,
		TournamentCode: p.TournamentCode,
	}
}

// UndoThrowPayload is the payload of an undo-throw event
type UndoThrowPayload struct {
	MatchID        string `json:"matchId"`
	PlayerID       string `json:"playerId"`
	TournamentCode string `json:"tournamentCode,omitempty"`
}

func (p UndoThrowPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

func (p UndoThrowPayload) Mutation() matchstate.UndoThrow {
	return matchstate.UndoThrow{PlayerID: p.PlayerID, TournamentCode: p.TournamentCode}
}

// MatchStartedPayload announces a match to its tournament room.
type MatchStartedPayload struct {
	MatchID        string          `json:"matchId"`
	TournamentCode string          `json:"tournamentCode"`
	MatchData      json.RawMessage `json:"matchData,omitempty"`
}

func (p MatchStartedPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

// MatchCompletePayload is sent by the scoring device once the match is over.
type MatchCompletePayload struct {
	MatchID        string `json:"matchId"`
	TournamentCode string `json:"tournamentCode,omitempty"`
	WinnerID       string `json:"winnerId,omitempty"`
}

func (p MatchCompletePayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

// MatchFinishedPayload removes a match from tournament list views.
type MatchFinishedPayload struct {
	MatchID  string `json:"matchId"`
	WinnerID string `json:"winnerId,omitempty"`
}

func (p MatchFinishedPayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

// RemainingScores carries the remaining scores of a match-update.
type RemainingScores struct {
	Player1Remaining *int `json:"player1Remaining,omitempty"`
	Player2Remaining *int `json:"player2Remaining,omitempty"`
}

// MatchUpdateState is a partial view of a match. Absent fields are left
// untouched by receivers.
type MatchUpdateState struct {
	CurrentLeg     *int             `json:"currentLeg,omitempty"`
	CurrentLegData *RemainingScores `json:"currentLegData,omitempty"`
	Player1LegsWon *int             `json:"player1LegsWon,omitempty"`
	Player2LegsWon *int             `json:"player2LegsWon,omitempty"`
	Version        int64            `json:"version,omitempty"`
}

// MatchUpdatePayload is a partial match delta for list views.
type MatchUpdatePayload struct {
	MatchID string            `json:"matchId"`
	State   *MatchUpdateState `json:"state,omitempty"`
}

func (p MatchUpdatePayload) Validate() error {
	if p.MatchID == "" {
		return missing("matchId")
	}
	return nil
}

// NewMatchUpdate builds the full list-view delta for a match state.
func NewMatchUpdate(s matchstate.MatchState) MatchUpdatePayload {
	p1Won, p2Won := s.LegsWon()
	leg := s.CurrentLeg
	p1, p2 := s.CurrentLegData.Player1Remaining, s.CurrentLegData.Player2Remaining
	return MatchUpdatePayload{
		MatchID: s.MatchID,
		State: &MatchUpdateState{
			CurrentLeg: &leg,
			CurrentLegData: &RemainingScores{
				Player1Remaining: &p1,
				Player2Remaining: &p2,
			},
			Player1LegsWon: &p1Won,
			Player2LegsWon: &p2Won,
			Version:        s.Version,
		},
	}
}

// ErrorPayload is returned to a sender whose event was rejected.
type ErrorPayload struct {
	Event   Name   `json:"event,omitempty"`
	Message string `json:"message"`
}

// LiveMatchesResponse is the body of the live-matches snapshot endpoint.
type LiveMatchesResponse struct {
	Success bool                 `json:"success"`
	Matches []matchstate.Summary `json:"matches"`
	Error   string               `json:"error,omitempty"`
}

// MatchStateResponse is the body of the single-match snapshot endpoint.
type MatchStateResponse struct {
	Success bool                   `json:"success"`
	State   *matchstate.MatchState `json:"state,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
