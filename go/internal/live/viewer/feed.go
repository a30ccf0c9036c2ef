package viewer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

const (
	DefaultPollInterval = 7 * time.Second
	defaultFetchTimeout = 5 * time.Second
)

// Feed keeps the list of live matches of one tournament consistent from an
// initial fetch, a periodic refetch and push events. Fields are
// last-write-wins; pushes and polls are not ordered against each other.
type Feed struct {
	code    string
	fetcher Fetcher

	clock         clockwork.Clock
	interval      time.Duration
	fetchTimeout  time.Duration
	startingScore int

	mu       sync.Mutex
	matches  map[string]matchstate.Summary
	onChange func([]matchstate.Summary)

	// fetchMu guards the fields below. fetches.Add only happens under it
	// while stopped is false.
	fetchMu  sync.Mutex
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopped  bool
	inFlight bool
	pending  bool
	fetches  sync.WaitGroup
}

type Option func(*Feed)

func WithClock(c clockwork.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.fetchTimeout = d
		}
	}
}

// WithStartingScore sets the remaining score shown for matches announced
// without data.
func WithStartingScore(score int) Option {
	return func(f *Feed) {
		if score > 0 {
			f.startingScore = score
		}
	}
}

// OnChange registers a callback invoked with the sorted list after every
// change. It runs on the goroutine that caused the change.
func OnChange(fn func([]matchstate.Summary)) Option {
	return func(f *Feed) { f.onChange = fn }
}

func NewFeed(tournamentCode string, fetcher Fetcher, opts ...Option) *Feed {
	f := &Feed{
		code:          tournamentCode,
		fetcher:       fetcher,
		clock:         clockwork.NewRealClock(),
		interval:      DefaultPollInterval,
		fetchTimeout:  defaultFetchTimeout,
		startingScore: matchstate.DefaultStartingScore,
		matches:       make(map[string]matchstate.Summary),
	}
	f.baseCtx, f.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TournamentCode returns the tournament this feed follows.
func (f *Feed) TournamentCode() string {
	return f.code
}

// Run fetches immediately and then every poll interval until ctx is done.
// Before it returns every fetch, including those started by an earlier
// Refresh, is cancelled and waited for. Refresh does nothing afterwards, so a
// Feed runs once.
func (f *Feed) Run(ctx context.Context) error {
	ticker := f.clock.NewTicker(f.interval)
	defer func() {
		ticker.Stop()
		f.stop()
	}()

	f.Refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			f.Refresh()
		}
	}
}

func (f *Feed) stop() {
	f.fetchMu.Lock()
	f.stopped = true
	f.fetchMu.Unlock()

	f.cancel()
	f.fetches.Wait()
}

// Refresh starts a full refetch in the background. While a fetch is in
// flight further calls are collapsed into one follow-up fetch.
func (f *Feed) Refresh() {
	f.fetchMu.Lock()
	defer f.fetchMu.Unlock()
	if f.stopped {
		return
	}
	if f.inFlight {
		f.pending = true
		return
	}
	f.inFlight = true
	f.fetches.Add(1)
	go f.fetchLoop(f.baseCtx)
}

func (f *Feed) fetchLoop(ctx context.Context) {
	defer f.fetches.Done()
	for {
		f.fetchOnce(ctx)

		f.fetchMu.Lock()
		if !f.pending || ctx.Err() != nil {
			f.inFlight = false
			f.pending = false
			f.fetchMu.Unlock()
			return
		}
		f.pending = false
		f.fetchMu.Unlock()
	}
}

// fetchOnce replaces the list on success. On failure the current list is
// kept and the next poll tries again.
func (f *Feed) fetchOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	list, err := f.fetcher.FetchLiveMatches(fetchCtx, f.code)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().
				Err(err).
				Str("tournament_code", f.code).
				Msg("live matches fetch failed, keeping current list")
		}
		return
	}

	next := make(map[string]matchstate.Summary, len(list))
	for _, m := range list {
		if m.MatchID == "" {
			continue
		}
		next[m.MatchID] = normalize(m)
	}

	f.mu.Lock()
	f.matches = next
	snapshot := f.sortedLocked()
	f.mu.Unlock()

	log.Debug().
		Str("tournament_code", f.code).
		Int("matches", len(snapshot)).
		Msg("live matches refreshed")
	f.notify(snapshot)
}

// HandleEvent applies one push event. Events that do not concern list views
// are ignored.
func (f *Feed) HandleEvent(name events.Name, data json.RawMessage) error {
	switch name {
	case events.MatchStarted:
		return f.matchStarted(data)
	case events.MatchFinished:
		return f.matchFinished(data)
	case events.MatchUpdate:
		return f.matchUpdate(data)
	case events.LegComplete, events.FetchMatchData:
		// Leg completion changes legs-won counters the push does not carry.
		f.Refresh()
		return nil
	default:
		return nil
	}
}

func (f *Feed) matchStarted(data json.RawMessage) error {
	payload, err := events.Decode[events.MatchStartedPayload](data)
	if err != nil {
		return err
	}

	patch, startingScore, err := decodeMatchData(payload.MatchData)
	if err != nil {
		return err
	}
	if startingScore <= 0 {
		startingScore = f.startingScore
	}

	f.update(func(m map[string]matchstate.Summary) bool {
		row, ok := m[payload.MatchID]
		if !ok {
			row = matchstate.Summary{
				MatchID:          payload.MatchID,
				TournamentCode:   payload.TournamentCode,
				Status:           matchstate.StatusOngoing,
				CurrentLeg:       1,
				Player1Remaining: startingScore,
				Player2Remaining: startingScore,
				LastUpdate:       f.clock.Now(),
			}
		}
		m[payload.MatchID] = normalize(patch.Apply(row))
		return true
	})
	return nil
}

func (f *Feed) matchFinished(data json.RawMessage) error {
	payload, err := events.Decode[events.MatchFinishedPayload](data)
	if err != nil {
		return err
	}
	f.update(func(m map[string]matchstate.Summary) bool {
		if _, ok := m[payload.MatchID]; !ok {
			return false
		}
		delete(m, payload.MatchID)
		return true
	})
	return nil
}

func (f *Feed) matchUpdate(data json.RawMessage) error {
	payload, err := events.Decode[events.MatchUpdatePayload](data)
	if err != nil {
		return err
	}
	patch := patchFromUpdate(payload.State)
	f.update(func(m map[string]matchstate.Summary) bool {
		row, ok := m[payload.MatchID]
		if !ok {
			// Unknown matches arrive with the next fetch.
			return false
		}
		merged := patch.Apply(row)
		if merged == row {
			return false
		}
		m[payload.MatchID] = merged
		return true
	})
	return nil
}

// update runs fn under the lock and notifies if it reports a change.
func (f *Feed) update(fn func(map[string]matchstate.Summary) bool) {
	f.mu.Lock()
	changed := fn(f.matches)
	var snapshot []matchstate.Summary
	if changed {
		snapshot = f.sortedLocked()
	}
	f.mu.Unlock()

	if changed {
		f.notify(snapshot)
	}
}

// Matches returns the current list ordered by match id.
func (f *Feed) Matches() []matchstate.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

// Match returns one tracked row.
func (f *Feed) Match(matchID string) (matchstate.Summary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	return m, ok
}

func (f *Feed) sortedLocked() []matchstate.Summary {
	out := make([]matchstate.Summary, 0, len(f.matches))
	for _, m := range f.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (f *Feed) notify(snapshot []matchstate.Summary) {
	if f.onChange != nil {
		f.onChange(snapshot)
	}
}
