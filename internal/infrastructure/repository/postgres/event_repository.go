package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/timba-app/livescores/internal/domain/event"
)

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

func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	const query = `
		INSERT INTO match_events (
			kind, match_id, competition, home_team, away_team,
			home_score, away_score, prev_home_score, prev_away_score,
			minute, status, prev_status, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var id int64
	if err := r.db.QueryRowxContext(ctx, query,
		string(evt.Kind), evt.MatchID, evt.Competition, evt.HomeTeam, evt.AwayTeam,
		evt.HomeScore, evt.AwayScore, evt.PrevHome, evt.PrevAway,
		evt.Minute, evt.Status, evt.PrevStatus, occurredAt.UTC(),
	).Scan(&id); err != nil {
		return event.Event{}, fmt.Errorf("insert event: %w", err)
	}

	evt.ID = id
	evt.OccurredAt = occurredAt.UTC()
	return evt, nil
}

func (r *EventRepository) List(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	query := `SELECT * FROM match_events`
	var conditions []string
	var args []any

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MatchID != 0 {
		conditions = append(conditions, "match_id = "+arg(filter.MatchID))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= "+arg(filter.Since.UTC()))
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = arg(string(kind))
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
