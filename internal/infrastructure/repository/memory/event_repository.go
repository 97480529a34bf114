package memory

import (
	"context"
	"sync"

	"github.com/timba-app/livescores/internal/domain/event"
)

// EventRepository is an in-memory append-only event log, used by tests
// and by deployments that do not need durable storage.
type EventRepository struct {
	mu     sync.RWMutex
	events []event.Event
	nextID int64
}

func NewEventRepository() *EventRepository {
	return &EventRepository{nextID: 1}
}

func (r *EventRepository) Append(_ context.Context, evt event.Event) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt.ID = r.nextID
	r.nextID++
	r.events = append(r.events, evt)
	return evt, nil
}

func (r *EventRepository) List(_ context.Context, filter event.Filter) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []event.Event
	for _, evt := range r.events {
		if !matchesFilter(evt, filter) {
			continue
		}
		out = append(out, evt)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *EventRepository) CountByKind(_ context.Context) (map[event.Kind]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[event.Kind]int64)
	for _, evt := range r.events {
		counts[evt.Kind]++
	}
	return counts, nil
}

func (r *EventRepository) CountByCompetition(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, evt := range r.events {
		counts[evt.Competition]++
	}
	return counts, nil
}

func matchesFilter(evt event.Event, filter event.Filter) bool {
	if filter.MatchID != 0 && evt.MatchID != filter.MatchID {
		return false
	}
	if !filter.Since.IsZero() && evt.OccurredAt.Before(filter.Since) {
		return false
	}
	if len(filter.Kinds) > 0 && !containsKind(filter.Kinds, evt.Kind) {
		return false
	}
	return true
}

func containsKind(kinds []event.Kind, kind event.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
