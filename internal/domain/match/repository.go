package match

import "context"

// SnapshotRepository persists the latest observed state per match.
type SnapshotRepository interface {
	Upsert(ctx context.Context, snapshot Snapshot) error
	Get(ctx context.Context, matchID int64) (Snapshot, bool, error)
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, matchID int64) error
}
