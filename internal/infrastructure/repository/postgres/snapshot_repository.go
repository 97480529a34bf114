package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/timba-app/livescores/internal/domain/match"
)

type snapshotRow struct {
	MatchID     int64        `db:"match_id"`
	Competition string       `db:"competition"`
	HomeTeam    string       `db:"home_team"`
	AwayTeam    string       `db:"away_team"`
	HomeScore   int          `db:"home_score"`
	AwayScore   int          `db:"away_score"`
	Status      string       `db:"status"`
	Minute      *int         `db:"minute"`
	KickoffAt   sql.NullTime `db:"kickoff_at"`
	ObservedAt  time.Time    `db:"observed_at"`
}

func (r snapshotRow) toDomain() match.Snapshot {
	snap := match.Snapshot{
		Summary: match.Summary{
			ID:          r.MatchID,
			Competition: r.Competition,
			HomeTeam:    r.HomeTeam,
			AwayTeam:    r.AwayTeam,
			HomeScore:   r.HomeScore,
			AwayScore:   r.AwayScore,
			Status:      r.Status,
			Minute:      r.Minute,
		},
		ObservedAt: r.ObservedAt.UTC(),
	}
	if r.KickoffAt.Valid {
		snap.KickoffAt = r.KickoffAt.Time.UTC()
	}
	return snap
}

type SnapshotRepository struct {
	db *sqlx.DB
}

func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Upsert(ctx context.Context, snapshot match.Snapshot) error {
	const query = `
		INSERT INTO match_snapshots (
			match_id, competition, home_team, away_team,
			home_score, away_score, status, minute, kickoff_at, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (match_id) DO UPDATE SET
			competition = EXCLUDED.competition,
			home_team   = EXCLUDED.home_team,
			away_team   = EXCLUDED.away_team,
			home_score  = EXCLUDED.home_score,
			away_score  = EXCLUDED.away_score,
			status      = EXCLUDED.status,
			minute      = EXCLUDED.minute,
			kickoff_at  = EXCLUDED.kickoff_at,
			observed_at = EXCLUDED.observed_at`

	observedAt := snapshot.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	var kickoffAt any
	if !snapshot.KickoffAt.IsZero() {
		kickoffAt = snapshot.KickoffAt.UTC()
	}

	if _, err := r.db.ExecContext(ctx, query,
		snapshot.ID, snapshot.Competition, snapshot.HomeTeam, snapshot.AwayTeam,
		snapshot.HomeScore, snapshot.AwayScore, snapshot.Status, snapshot.Minute,
		kickoffAt, observedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upsert snapshot match_id=%d: %w", snapshot.ID, err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, matchID int64) (match.Snapshot, bool, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM match_snapshots WHERE match_id = $1`, matchID)
	if isNotFound(err) {
		return match.Snapshot{}, false, nil
	}
	if err != nil {
		return match.Snapshot{}, false, fmt.Errorf("select snapshot match_id=%d: %w", matchID, err)
	}
	return row.toDomain(), true, nil
}

func (r *SnapshotRepository) List(ctx context.Context) ([]match.Snapshot, error) {
	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM match_snapshots ORDER BY match_id`); err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}

	out := make([]match.Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, matchID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM match_snapshots WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("delete snapshot match_id=%d: %w", matchID, err)
	}
	return nil
}
