package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/timba-app/livescores/internal/domain/match"
)

const snapshotShards = 16

type snapshotShard struct {
	mu    sync.RWMutex
	items map[int64]match.Snapshot
}

// SnapshotRepository keeps last-known match state in memory. It is
// sharded by match identifier so concurrent workers polling different
// matches do not contend on one lock.
type SnapshotRepository struct {
	shards [snapshotShards]*snapshotShard
}

func NewSnapshotRepository() *SnapshotRepository {
	r := &SnapshotRepository{}
	for i := range r.shards {
		r.shards[i] = &snapshotShard{items: make(map[int64]match.Snapshot)}
	}
	return r
}

func (r *SnapshotRepository) shard(matchID int64) *snapshotShard {
	idx := matchID % snapshotShards
	if idx < 0 {
		idx = -idx
	}
	return r.shards[idx]
}

func (r *SnapshotRepository) Upsert(_ context.Context, snapshot match.Snapshot) error {
	s := r.shard(snapshot.ID)
	s.mu.Lock()
	s.items[snapshot.ID] = snapshot
	s.mu.Unlock()
	return nil
}

func (r *SnapshotRepository) Get(_ context.Context, matchID int64) (match.Snapshot, bool, error) {
	s := r.shard(matchID)
	s.mu.RLock()
	snap, ok := s.items[matchID]
	s.mu.RUnlock()
	return snap, ok, nil
}

func (r *SnapshotRepository) List(_ context.Context) ([]match.Snapshot, error) {
	var out []match.Snapshot
	for _, s := range r.shards {
		s.mu.RLock()
		for _, snap := range s.items {
			out = append(out, snap)
		}
		s.mu.RUnlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SnapshotRepository) Delete(_ context.Context, matchID int64) error {
	s := r.shard(matchID)
	s.mu.Lock()
	delete(s.items, matchID)
	s.mu.Unlock()
	return nil
}
