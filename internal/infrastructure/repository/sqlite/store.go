package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
)

const schema = `
CREATE TABLE IF NOT EXISTS match_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	kind            TEXT    NOT NULL,
	match_id        INTEGER NOT NULL,
	competition     TEXT    NOT NULL DEFAULT '',
	home_team       TEXT    NOT NULL DEFAULT '',
	away_team       TEXT    NOT NULL DEFAULT '',
	home_score      INTEGER NOT NULL DEFAULT 0,
	away_score      INTEGER NOT NULL DEFAULT 0,
	prev_home_score INTEGER NOT NULL DEFAULT 0,
	prev_away_score INTEGER NOT NULL DEFAULT 0,
	minute          INTEGER,
	status          TEXT    NOT NULL DEFAULT '',
	prev_status     TEXT    NOT NULL DEFAULT '',
	occurred_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_match_events_match_id ON match_events (match_id, id);
CREATE INDEX IF NOT EXISTS idx_match_events_occurred_at ON match_events (occurred_at);

CREATE TABLE IF NOT EXISTS match_snapshots (
	match_id    INTEGER PRIMARY KEY,
	competition TEXT    NOT NULL DEFAULT '',
	home_team   TEXT    NOT NULL DEFAULT '',
	away_team   TEXT    NOT NULL DEFAULT '',
	home_score  INTEGER NOT NULL DEFAULT 0,
	away_score  INTEGER NOT NULL DEFAULT 0,
	status      TEXT    NOT NULL DEFAULT '',
	minute      INTEGER,
	kickoff_at  TIMESTAMP,
	observed_at TIMESTAMP NOT NULL
);
`

// Store owns one sqlite database holding the append-only event log and
// the last-known snapshot table.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path, applies the schema, and
// returns a ready Store. WAL mode keeps the polling writers from
// blocking read queries.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := otelsqlx.Connect("sqlite", dsn,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc sqlite serializes writes; one writer connection avoids
	// SQLITE_BUSY churn under worker concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Events returns the event log backed by this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Snapshots returns the snapshot table backed by this store.
func (s *Store) Snapshots() *SnapshotRepository {
	return &SnapshotRepository{db: s.db}
}

type eventRow struct {
	ID          int64     `db:"id"`
	Kind        string    `db:"kind"`
	MatchID     int64     `db:"match_id"`
	Competition string    `db:"competition"`
	HomeTeam    string    `db:"home_team"`
	AwayTeam    string    `db:"away_team"`
	HomeScore   int       `db:"home_score"`
	AwayScore   int       `db:"away_score"`
	PrevHome    int       `db:"prev_home_score"`
	PrevAway    int       `db:"prev_away_score"`
	Minute      *int      `db:"minute"`
	Status      string    `db:"status"`
	PrevStatus  string    `db:"prev_status"`
	OccurredAt  time.Time `db:"occurred_at"`
}

func (r eventRow) toDomain() event.Event {
	return event.Event{
		ID:          r.ID,
		Kind:        event.Kind(r.Kind),
		MatchID:     r.MatchID,
		Competition: r.Competition,
		HomeTeam:    r.HomeTeam,
		AwayTeam:    r.AwayTeam,
		HomeScore:   r.HomeScore,
		AwayScore:   r.AwayScore,
		PrevHome:    r.PrevHome,
		PrevAway:    r.PrevAway,
		Minute:      r.Minute,
		Status:      r.Status,
		PrevStatus:  r.PrevStatus,
		OccurredAt:  r.OccurredAt.UTC(),
	}
}

type EventRepository struct {
	db *sqlx.DB
}

func (r *EventRepository) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	const query = `
		INSERT INTO match_events (
			kind, match_id, competition, home_team, away_team,
			home_score, away_score, prev_home_score, prev_away_score,
			minute, status, prev_status, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, query,
		string(evt.Kind), evt.MatchID, evt.Competition, evt.HomeTeam, evt.AwayTeam,
		evt.HomeScore, evt.AwayScore, evt.PrevHome, evt.PrevAway,
		evt.Minute, evt.Status, evt.PrevStatus, occurredAt.UTC(),
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("read inserted event id: %w", err)
	}
	evt.ID = id
	evt.OccurredAt = occurredAt.UTC()
	return evt, nil
}

func (r *EventRepository) List(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	query := `SELECT * FROM match_events`
	var conditions []string
	var args []any

	if filter.MatchID != 0 {
		conditions = append(conditions, "match_id = ?")
		args = append(args, filter.MatchID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	out := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *EventRepository) CountByKind(ctx context.Context) (map[event.Kind]int64, error) {
	var rows []struct {
		Kind  string `db:"kind"`
		Total int64  `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT kind, COUNT(*) AS total FROM match_events GROUP BY kind`); err != nil {
		return nil, fmt.Errorf("count events by kind: %w", err)
	}

	out := make(map[event.Kind]int64, len(rows))
	for _, row := range rows {
		out[event.Kind(row.Kind)] = row.Total
	}
	return out, nil
}

func (r *EventRepository) CountByCompetition(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Competition string `db:"competition"`
		Total       int64  `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT competition, COUNT(*) AS total FROM match_events GROUP BY competition`); err != nil {
		return nil, fmt.Errorf("count events by competition: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Competition] = row.Total
	}
	return out, nil
}

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

func (r *SnapshotRepository) Upsert(ctx context.Context, snapshot match.Snapshot) error {
	const query = `
		INSERT INTO match_snapshots (
			match_id, competition, home_team, away_team,
			home_score, away_score, status, minute, kickoff_at, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			competition = excluded.competition,
			home_team   = excluded.home_team,
			away_team   = excluded.away_team,
			home_score  = excluded.home_score,
			away_score  = excluded.away_score,
			status      = excluded.status,
			minute      = excluded.minute,
			kickoff_at  = excluded.kickoff_at,
			observed_at = excluded.observed_at`

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
	err := r.db.GetContext(ctx, &row, `SELECT * FROM match_snapshots WHERE match_id = ?`, matchID)
	if stderrors.Is(err, sql.ErrNoRows) {
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM match_snapshots WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("delete snapshot match_id=%d: %w", matchID, err)
	}
	return nil
}
