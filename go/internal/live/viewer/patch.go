package viewer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

// MatchPatch is a partial list row. Nil fields are absent and keep the
// previous value when applied.
type MatchPatch struct {
	Status           *matchstate.Status `json:"status,omitempty"`
	CurrentLeg       *int               `json:"currentLeg,omitempty"`
	Player1ID        *string            `json:"player1Id,omitempty"`
	Player2ID        *string            `json:"player2Id,omitempty"`
	Player1Name      *string            `json:"player1Name,omitempty"`
	Player2Name      *string            `json:"player2Name,omitempty"`
	Player1Remaining *int               `json:"player1Remaining,omitempty"`
	Player2Remaining *int               `json:"player2Remaining,omitempty"`
	Player1LegsWon   *int               `json:"player1LegsWon,omitempty"`
	Player2LegsWon   *int               `json:"player2LegsWon,omitempty"`
	Version          *int64             `json:"version,omitempty"`
	LastUpdate       *time.Time         `json:"lastUpdate,omitempty"`
}

// Apply overwrites the fields present in p. Applying the same patch twice
// gives the same row as applying it once.
func (p MatchPatch) Apply(m matchstate.Summary) matchstate.Summary {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.CurrentLeg != nil {
		m.CurrentLeg = *p.CurrentLeg
	}
	if p.Player1ID != nil {
		m.Player1ID = *p.Player1ID
	}
	if p.Player2ID != nil {
		m.Player2ID = *p.Player2ID
	}
	if p.Player1Name != nil {
		m.Player1Name = *p.Player1Name
	}
	if p.Player2Name != nil {
		m.Player2Name = *p.Player2Name
	}
	if p.Player1Remaining != nil {
		m.Player1Remaining = *p.Player1Remaining
	}
	if p.Player2Remaining != nil {
		m.Player2Remaining = *p.Player2Remaining
	}
	if p.Player1LegsWon != nil {
		m.Player1LegsWon = *p.Player1LegsWon
	}
	if p.Player2LegsWon != nil {
		m.Player2LegsWon = *p.Player2LegsWon
	}
	if p.Version != nil {
		m.Version = *p.Version
	}
	if p.LastUpdate != nil {
		m.LastUpdate = *p.LastUpdate
	}
	return m
}

// matchData is the match-started attachment. Besides flat row fields it
// carries each side as {_id, name, legsWon} or {playerId: {_id, name}, legsWon},
// with playerId possibly a bare id.
type matchData struct {
	MatchPatch
	Player1       *playerSide `json:"player1,omitempty"`
	Player2       *playerSide `json:"player2,omitempty"`
	StartingScore int         `json:"startingScore,omitempty"`
}

type playerSide struct {
	ID       string          `json:"_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	PlayerID json.RawMessage `json:"playerId,omitempty"`
	LegsWon  *int            `json:"legsWon,omitempty"`
}

type playerRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// identity prefers the populated playerId reference over the flat fields.
func (p *playerSide) identity() (id, name string, err error) {
	id, name = p.ID, p.Name
	raw := bytes.TrimSpace(p.PlayerID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return id, name, nil
	}
	if raw[0] == '"' {
		var ref string
		if err := json.Unmarshal(raw, &ref); err != nil {
			return "", "", err
		}
		if ref != "" {
			id = ref
		}
		return id, name, nil
	}
	var ref playerRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", "", err
	}
	if ref.ID != "" {
		id = ref.ID
	}
	if ref.Name != "" {
		name = ref.Name
	}
	return id, name, nil
}

// decodeMatchData parses a match-started attachment into a patch and the
// starting score it announces, zero when absent.
func decodeMatchData(raw json.RawMessage) (MatchPatch, int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return MatchPatch{}, 0, nil
	}

	var md matchData
	if err := json.Unmarshal(raw, &md); err != nil {
		return MatchPatch{}, 0, fmt.Errorf("%w: matchData: %v", events.ErrMalformedEvent, err)
	}

	patch := md.MatchPatch
	sides := []struct {
		side    *playerSide
		id      **string
		name    **string
		legsWon **int
	}{
		{md.Player1, &patch.Player1ID, &patch.Player1Name, &patch.Player1LegsWon},
		{md.Player2, &patch.Player2ID, &patch.Player2Name, &patch.Player2LegsWon},
	}
	for _, s := range sides {
		if s.side == nil {
			continue
		}
		id, name, err := s.side.identity()
		if err != nil {
			return MatchPatch{}, 0, fmt.Errorf("%w: matchData player: %v", events.ErrMalformedEvent, err)
		}
		if id != "" && *s.id == nil {
			*s.id = &id
		}
		if name != "" && *s.name == nil {
			*s.name = &name
		}
		if s.side.LegsWon != nil && *s.legsWon == nil {
			*s.legsWon = s.side.LegsWon
		}
	}
	return patch, md.StartingScore, nil
}

// patchFromUpdate maps a match-update state onto a patch.
func patchFromUpdate(s *events.MatchUpdateState) MatchPatch {
	if s == nil {
		return MatchPatch{}
	}
	p := MatchPatch{
		CurrentLeg:     s.CurrentLeg,
		Player1LegsWon: s.Player1LegsWon,
		Player2LegsWon: s.Player2LegsWon,
	}
	if s.CurrentLegData != nil {
		p.Player1Remaining = s.CurrentLegData.Player1Remaining
		p.Player2Remaining = s.CurrentLegData.Player2Remaining
	}
	if s.Version != 0 {
		v := s.Version
		p.Version = &v
	}
	return p
}

// normalize fills the defaults a partial server row may leave out.
func normalize(m matchstate.Summary) matchstate.Summary {
	if m.Status == "" {
		m.Status = matchstate.StatusOngoing
	}
	if m.CurrentLeg <= 0 {
		m.CurrentLeg = 1
	}
	return m
}
