package event

import "context"

// Repository is an append-only event log.
type Repository interface {
	Append(ctx context.Context, evt Event) (Event, error)
	List(ctx context.Context, filter Filter) ([]Event, error)
	CountByKind(ctx context.Context) (map[Kind]int64, error)
	CountByCompetition(ctx context.Context) (map[string]int64, error)
}
