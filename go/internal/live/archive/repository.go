package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/sqlutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS live_completed_legs (
    match_id        TEXT        NOT NULL,
    leg_number      INTEGER     NOT NULL,
    tournament_code TEXT,
    winner_id       TEXT        NOT NULL,
    player1_throws  JSONB       NOT NULL,
    player2_throws  JSONB       NOT NULL,
    completed_at    TIMESTAMPTZ NOT NULL,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (match_id, leg_number)
);

CREATE TABLE IF NOT EXISTS live_match_results (
    match_id        TEXT PRIMARY KEY,
    tournament_code TEXT,
    winner_id       TEXT,
    state           JSONB       NOT NULL,
    finished_at     TIMESTAMPTZ NOT NULL
);
`

const insertLegSQL = `
INSERT INTO live_completed_legs (
  match_id, leg_number, tournament_code, winner_id,
  player1_throws, player2_throws, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (match_id, leg_number) DO NOTHING
`

const upsertResultSQL = `
INSERT INTO live_match_results (
  match_id, tournament_code, winner_id, state, finished_at
) VALUES (
  $1,$2,$3,$4,$5
)
ON CONFLICT (match_id) DO UPDATE SET
  tournament_code = EXCLUDED.tournament_code,
  winner_id       = EXCLUDED.winner_id,
  state           = EXCLUDED.state,
  finished_at     = EXCLUDED.finished_at
`

// Execer is the subset of pgx shared by pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// DB is what the repository needs from the database. *pgxpool.Pool
// satisfies it.
type DB interface {
	Execer
	sqlutil.TxBeginner
}

// Repository writes completed legs and final match states. Every write is
// idempotent since the bus delivers at least once.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the archive tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveCompletedLeg records one leg. It reports false when the leg was
// already recorded.
func (r *Repository) SaveCompletedLeg(ctx context.Context, matchID, tournamentCode string, leg matchstate.CompletedLeg) (bool, error) {
	return insertLeg(ctx, r.db, matchID, tournamentCode, leg)
}

// SaveMatchResult stores the final state of a match together with any of its
// legs not recorded yet, in one transaction.
func (r *Repository) SaveMatchResult(ctx context.Context, state matchstate.MatchState, finishedAt time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal match state: %w", err)
	}

	return sqlutil.Run(ctx, r.db, func(tx pgx.Tx) error {
		for _, leg := range state.CompletedLegs {
			if _, err := insertLeg(ctx, tx, state.MatchID, state.TournamentCode, leg); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, upsertResultSQL,
			state.MatchID, nullable(state.TournamentCode), nullable(state.WinnerID),
			string(stateJSON), finishedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to save match result %s: %w", state.MatchID, err)
		}
		return nil
	})
}

func insertLeg(ctx context.Context, ex Execer, matchID, tournamentCode string, leg matchstate.CompletedLeg) (bool, error) {
	p1, err := throwsJSON(leg.Player1Throws)
	if err != nil {
		return false, err
	}
	p2, err := throwsJSON(leg.Player2Throws)
	if err != nil {
		return false, err
	}

	tag, err := ex.Exec(ctx, insertLegSQL,
		matchID, leg.LegNumber, nullable(tournamentCode), leg.WinnerID,
		p1, p2, time.UnixMilli(leg.CompletedAt).UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save leg %d of match %s: %w", leg.LegNumber, matchID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func throwsJSON(throws []matchstate.ThrowRecord) (string, error) {
	if throws == nil {
		throws = []matchstate.ThrowRecord{}
	}
	data, err := json.Marshal(throws)
	if err != nil {
		return "", fmt.Errorf("failed to marshal throws: %w", err)
	}
	return string(data), nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
