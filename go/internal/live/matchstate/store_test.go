package matchstate

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(opts ...Option) (*Store, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	return NewStore(append([]Option{WithClock(clock)}, opts...)...), clock
}

func TestStore_GetUnknownMatch(t *testing.T) {
	s, _ := newTestStore()

	_, ok := s.Get("M1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "Get must not create state")
}

func TestStore_ThrowOnUnassignedMatchFallsToPlayer2(t *testing.T) {
	s, _ := newTestStore()

	st, err := s.Apply("M1", Throw{PlayerID: "P1", Score: 60, Darts: 3, RemainingScore: 441})
	require.NoError(t, err)

	assert.Equal(t, 1, st.CurrentLeg)
	assert.Empty(t, st.CurrentLegData.Player1Throws)
	require.Len(t, st.CurrentLegData.Player2Throws, 1)
	assert.Equal(t, 441, st.CurrentLegData.Player2Remaining)
	assert.Equal(t, DefaultStartingScore, st.CurrentLegData.Player1Remaining)
}

func TestStore_ThrowRoutesByPlayerID(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	_, err := s.Apply("M1", Throw{PlayerID: "P1", Score: 60, Darts: 3, RemainingScore: 441})
	require.NoError(t, err)
	st, err := s.Apply("M1", Throw{PlayerID: "P2", Score: 100, Darts: 3, RemainingScore: 401})
	require.NoError(t, err)

	require.Len(t, st.CurrentLegData.Player1Throws, 1)
	require.Len(t, st.CurrentLegData.Player2Throws, 1)
	assert.Equal(t, 441, st.CurrentLegData.Player1Remaining)
	assert.Equal(t, 401, st.CurrentLegData.Player2Remaining)
}

func TestStore_LastThrowWinsRemaining(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	for _, remaining := range []int{441, 381, 400, 300} {
		_, err := s.Apply("M1", Throw{PlayerID: "P1", Score: 60, Darts: 3, RemainingScore: remaining})
		require.NoError(t, err)
	}

	st, ok := s.Get("M1")
	require.True(t, ok)
	assert.Equal(t, 300, st.CurrentLegData.Player1Remaining)
	assert.Len(t, st.CurrentLegData.Player1Throws, 4)
}

func TestStore_SetPlayersPreservesEarlyThrows(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Apply("M1", Throw{PlayerID: "P2", Score: 45, Darts: 3, RemainingScore: 456})
	require.NoError(t, err)
	st := s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	assert.Len(t, st.CurrentLegData.Player2Throws, 1)
	assert.Equal(t, "P1", st.CurrentLegData.Player1ID)
	assert.Equal(t, "P2", st.CurrentLegData.Player2ID)
}

func TestStore_ThrowTimestampsNeverDecrease(t *testing.T) {
	s, clock := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	_, err := s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 441})
	require.NoError(t, err)
	clock.Advance(time.Second)
	st, err := s.Apply("M1", Throw{PlayerID: "P2", RemainingScore: 441})
	require.NoError(t, err)

	first := st.CurrentLegData.Player1Throws[0].Timestamp
	second := st.CurrentLegData.Player2Throws[0].Timestamp
	assert.Equal(t, int64(1000), second-first)
}

func TestStore_LegComplete(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
	_, err := s.Apply("M1", Throw{PlayerID: "P1", Score: 60, Darts: 3, RemainingScore: 441})
	require.NoError(t, err)

	st, err := s.Apply("M1", LegComplete{LegNumber: 1, WinnerID: "P1"})
	require.NoError(t, err)

	assert.Equal(t, 2, st.CurrentLeg)
	require.Len(t, st.CompletedLegs, 1)
	leg := st.CompletedLegs[0]
	assert.Equal(t, 1, leg.LegNumber)
	assert.Equal(t, "P1", leg.WinnerID)
	assert.Len(t, leg.Player1Throws, 1, "falls back to the running log when the event carries no throws")

	assert.Empty(t, st.CurrentLegData.Player1Throws)
	assert.Empty(t, st.CurrentLegData.Player2Throws)
	assert.Equal(t, DefaultStartingScore, st.CurrentLegData.Player1Remaining)
	assert.Equal(t, DefaultStartingScore, st.CurrentLegData.Player2Remaining)
	assert.Empty(t, st.CurrentLegData.Player1ID, "player ids are not carried into the next leg")
	assert.Empty(t, st.CurrentLegData.Player2ID)
}

func TestStore_LegCompletePrefersEventThrows(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
	_, err := s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 441})
	require.NoError(t, err)

	supplied := []ThrowRecord{{Score: 100, RemainingScore: 401}, {Score: 140, RemainingScore: 261}}
	st, err := s.Apply("M1", LegComplete{LegNumber: 1, WinnerID: "P2", Player1Throws: supplied, Player2Throws: []ThrowRecord{}})
	require.NoError(t, err)

	assert.Equal(t, supplied, st.CompletedLegs[0].Player1Throws)
	assert.Empty(t, st.CompletedLegs[0].Player2Throws, "an empty supplied array still wins over the running log")
}

func TestStore_LegCountInvariant(t *testing.T) {
	s, _ := newTestStore()

	for i := 1; i <= 5; i++ {
		st, err := s.Apply("M1", LegComplete{LegNumber: i, WinnerID: "P1"})
		require.NoError(t, err)
		assert.Equal(t, i+1, st.CurrentLeg)
		assert.Len(t, st.CompletedLegs, st.CurrentLeg-1)
	}
}

func TestStore_LegCompleteWithoutLegNumberUsesCurrentLeg(t *testing.T) {
	s, _ := newTestStore()

	st, err := s.Apply("M1", LegComplete{WinnerID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentLeg)
	assert.Equal(t, 1, st.CompletedLegs[0].LegNumber)
}

func TestStore_StrictAssignmentRejectsUnassignedThrow(t *testing.T) {
	s, _ := newTestStore(WithStrictAssignment(true))

	st, err := s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 441})
	require.ErrorIs(t, err, ErrUnassignedMatch)
	assert.Empty(t, st.CurrentLegData.Player2Throws)
	assert.Equal(t, int64(0), st.Version)

	_, ok := s.Get("M1")
	assert.False(t, ok, "a rejected throw must not create the match")
	assert.Equal(t, 0, s.Len())

	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
	st, err = s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 441})
	require.NoError(t, err)
	assert.Equal(t, 441, st.CurrentLegData.Player1Remaining)
}

func TestStore_FailedMutationKeepsExistingMatch(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	_, err := s.Apply("M1", UndoThrow{PlayerID: "P1"})
	require.ErrorIs(t, err, ErrNoThrows)

	st, ok := s.Get("M1")
	require.True(t, ok)
	assert.Equal(t, "P1", st.Player1ID)
}

func TestStore_UndoThrow(t *testing.T) {
	cases := []struct {
		name          string
		throws        []int
		wantRemaining int
		wantErr       error
	}{
		{name: "restores previous remaining", throws: []int{441, 381}, wantRemaining: 441},
		{name: "restores starting score", throws: []int{441}, wantRemaining: DefaultStartingScore},
		{name: "nothing to undo", throws: nil, wantRemaining: DefaultStartingScore, wantErr: ErrNoThrows},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore()
			s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
			for _, r := range tc.throws {
				_, err := s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: r})
				require.NoError(t, err)
			}

			st, err := s.Apply("M1", UndoThrow{PlayerID: "P1"})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantRemaining, st.CurrentLegData.Player1Remaining)
		})
	}
}

func TestStore_SetPlayersKeepsNamesOnReassignment(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2", Player1Name: "Luke", Player2Name: "Michael"})

	st := s.SetPlayers("M1", Players{Player1ID: "P2", Player2ID: "P1"})
	assert.Equal(t, "P2", st.CurrentLegData.Player1ID)
	assert.Equal(t, "Luke", st.Player1Name)
	assert.Equal(t, "Michael", st.Player2Name)
}

func TestStore_InitStartingPlayer(t *testing.T) {
	s, _ := newTestStore()

	st, err := s.Apply("M1", Init{StartingPlayer: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, st.StartingPlayer)

	st, err = s.Apply("M1", Init{StartingPlayer: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, st.StartingPlayer)
}

func TestStore_InitResetsOnlyUntouchedLeg(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	st, err := s.Apply("M1", Init{StartingScore: 301, LegsToWin: 3})
	require.NoError(t, err)
	assert.Equal(t, 301, st.CurrentLegData.Player1Remaining)
	assert.Equal(t, "P1", st.CurrentLegData.Player1ID)
	assert.Equal(t, 3, st.LegsToWin)

	_, err = s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 241})
	require.NoError(t, err)
	st, err = s.Apply("M1", Init{StartingScore: 501})
	require.NoError(t, err)
	assert.Equal(t, 241, st.CurrentLegData.Player1Remaining)
	assert.Equal(t, 501, st.StartingScore)

	st, err = s.Apply("M1", LegComplete{LegNumber: 1, WinnerID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 501, st.CurrentLegData.Player2Remaining)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
	_, err := s.Apply("M1", Throw{PlayerID: "P1", RemainingScore: 441})
	require.NoError(t, err)

	st, _ := s.Get("M1")
	st.CurrentLegData.Player1Throws[0].RemainingScore = 0
	st.CompletedLegs = append(st.CompletedLegs, CompletedLeg{})

	again, _ := s.Get("M1")
	assert.Equal(t, 441, again.CurrentLegData.Player1Throws[0].RemainingScore)
	assert.Empty(t, again.CompletedLegs)
}

func TestStore_ListFiltersByTournamentAndStatus(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})
	_, err := s.Apply("M1", BindTournament{TournamentCode: "T1"})
	require.NoError(t, err)
	_, err = s.Apply("M1", LegComplete{LegNumber: 1, WinnerID: "P2"})
	require.NoError(t, err)
	_, err = s.Apply("M2", BindTournament{TournamentCode: "T1"})
	require.NoError(t, err)
	_, err = s.Apply("M3", BindTournament{TournamentCode: "T2"})
	require.NoError(t, err)
	_, err = s.Apply("M2", Finish{WinnerID: "P9"})
	require.NoError(t, err)

	rows := s.List("T1")
	require.Len(t, rows, 1)
	assert.Equal(t, "M1", rows[0].MatchID)
	assert.Equal(t, 2, rows[0].CurrentLeg)
	assert.Equal(t, 0, rows[0].Player1LegsWon)
	assert.Equal(t, 1, rows[0].Player2LegsWon)

	assert.Len(t, s.List(""), 2)
}

func TestStore_ConcurrentThrowsAreNotLost(t *testing.T) {
	s, _ := newTestStore()
	s.SetPlayers("M1", Players{Player1ID: "P1", Player2ID: "P2"})

	const perSide = 100
	var wg sync.WaitGroup
	for _, player := range []string{"P1", "P2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := range perSide {
				_, err := s.Apply("M1", Throw{PlayerID: id, RemainingScore: i})
				assert.NoError(t, err)
			}
		}(player)
	}
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Apply(fmt.Sprintf("other-%d", n), Throw{PlayerID: "X", RemainingScore: 1})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, _ := s.Get("M1")
	assert.Len(t, st.CurrentLegData.Player1Throws, perSide)
	assert.Len(t, st.CurrentLegData.Player2Throws, perSide)
	assert.Equal(t, 11, s.Len())
}
