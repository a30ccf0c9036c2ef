package matchstate

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Store maps match ids to their live state. Each match has its own lock so
// concurrent throws on one match serialize while different matches proceed
// independently.
type Store struct {
	mu      sync.RWMutex
	matches map[string]*entry

	clock         clockwork.Clock
	startingScore int
	strict        bool
}

type entry struct {
	mu    sync.Mutex
	state MatchState
	// removed is set under mu once the entry has been dropped from the map.
	removed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for throw and leg timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithStartingScore sets the starting score for lazily created matches.
func WithStartingScore(score int) Option {
	return func(s *Store) {
		if score > 0 {
			s.startingScore = score
		}
	}
}

// WithStrictAssignment rejects throws on matches whose players are unset.
func WithStrictAssignment(strict bool) Option {
	return func(s *Store) { s.strict = strict }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		matches:       make(map[string]*entry),
		clock:         clockwork.NewRealClock(),
		startingScore: DefaultStartingScore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the match state, or false if the match is unknown.
func (s *Store) Get(matchID string) (MatchState, bool) {
	s.mu.RLock()
	e, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return MatchState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return MatchState{}, false
	}
	return e.state.clone(), true
}

// Apply creates the match with defaults if needed, applies m and returns the
// resulting state. On error the state is left untouched, and a match created
// only to receive m is dropped again.
func (s *Store) Apply(matchID string, m Mutation) (MatchState, error) {
	e := s.lockEntry(matchID)
	defer e.mu.Unlock()

	next := e.state.clone()
	now := s.clock.Now()
	if err := m.apply(&next, now, s.strict); err != nil {
		prev := e.state.clone()
		if e.state.Version == 0 {
			s.discard(matchID, e)
		}
		return prev, err
	}
	next.Version++
	next.UpdatedAt = now
	e.state = next
	return e.state.clone(), nil
}

// Players identifies the two sides of a match. Empty names leave the stored
// names in place.
type Players struct {
	Player1ID   string
	Player2ID   string
	Player1Name string
	Player2Name string
}

// SetPlayers assigns the two player ids on the current leg and the match,
// leaving any recorded throws in place.
func (s *Store) SetPlayers(matchID string, p Players) MatchState {
	e := s.lockEntry(matchID)
	defer e.mu.Unlock()

	e.state.CurrentLegData.Player1ID = p.Player1ID
	e.state.CurrentLegData.Player2ID = p.Player2ID
	if p.Player1ID != "" {
		e.state.Player1ID = p.Player1ID
	}
	if p.Player2ID != "" {
		e.state.Player2ID = p.Player2ID
	}
	if p.Player1Name != "" {
		e.state.Player1Name = p.Player1Name
	}
	if p.Player2Name != "" {
		e.state.Player2Name = p.Player2Name
	}
	e.state.Version++
	e.state.UpdatedAt = s.clock.Now()
	return e.state.clone()
}

// List returns the ongoing matches bound to tournamentCode, ordered by match
// id. An empty code lists every ongoing match.
func (s *Store) List(tournamentCode string) []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.matches))
	for _, e := range s.matches {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.state
		if !e.removed && st.Status == StatusOngoing && (tournamentCode == "" || st.TournamentCode == tournamentCode) {
			out = append(out, st.Summarize())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// Len reports how many matches the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// lockEntry returns the live entry for matchID with its lock held.
func (s *Store) lockEntry(matchID string) *entry {
	for {
		e := s.getOrCreate(matchID)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// discard drops e from the map. The caller holds e.mu.
func (s *Store) discard(matchID string, e *entry) {
	s.mu.Lock()
	if s.matches[matchID] == e {
		delete(s.matches, matchID)
	}
	s.mu.Unlock()
	e.removed = true
}

func (s *Store) getOrCreate(matchID string) *entry {
	s.mu.RLock()
	e, ok := s.matches[matchID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matches[matchID]; ok {
		return e
	}
	e = &entry{state: newMatch(matchID, s.startingScore)}
	e.state.UpdatedAt = s.clock.Now()
	s.matches[matchID] = e
	return e
}
