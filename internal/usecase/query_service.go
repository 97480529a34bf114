package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
	"github.com/timba-app/livescores/internal/platform/logging"
	"github.com/timba-app/livescores/internal/platform/ratelimit"
)

// TrackerStats is the slice of the tracker the query service reads.
type TrackerStats interface {
	TrackedCount() int
	PollStats() (total, failed int64)
}

// Statistics is the operational summary exposed to callers.
type Statistics struct {
	TrackedMatches      int                  `json:"trackedMatches"`
	LiveMatches         int                  `json:"liveMatches"`
	PollsTotal          int64                `json:"pollsTotal"`
	PollsFailed         int64                `json:"pollsFailed"`
	EventsByKind        map[event.Kind]int64 `json:"eventsByKind"`
	EventsByCompetition map[string]int64     `json:"eventsByCompetition"`
	RateLimit           *ratelimit.Status    `json:"rateLimit,omitempty"`
}

// CompetitionStatus summarizes one competition's tracked matches.
type CompetitionStatus struct {
	Competition string           `json:"competition"`
	Matches     int              `json:"matches"`
	ByStatus    map[string]int   `json:"byStatus"`
	Live        []match.Snapshot `json:"live"`
}

type exportDocument struct {
	ExportedAt time.Time        `json:"exportedAt"`
	Snapshots  []match.Snapshot `json:"snapshots"`
	Events     []event.Event    `json:"events"`
}

// QueryService answers read-only questions about tracked state. It
// never talks to the upstream provider.
type QueryService struct {
	snapshots match.SnapshotRepository
	events    event.Repository
	tracker   TrackerStats
	limiter   *ratelimit.Bucket
	logger    *logging.Logger

	now func() time.Time
}

func NewQueryService(
	snapshots match.SnapshotRepository,
	events event.Repository,
	tracker TrackerStats,
	limiter *ratelimit.Bucket,
	logger *logging.Logger,
) *QueryService {
	if logger == nil {
		logger = logging.Default()
	}
	return &QueryService{
		snapshots: snapshots,
		events:    events,
		tracker:   tracker,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// LiveMatches returns snapshots of matches currently in play or at
// halftime, ordered by match identifier.
func (s *QueryService) LiveMatches(ctx context.Context) ([]match.Snapshot, error) {
	ctx, span := startUsecaseSpan(ctx, "QueryService.LiveMatches")
	defer span.End()

	all, err := s.snapshots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	live := make([]match.Snapshot, 0, len(all))
	for _, snap := range all {
		if match.IsLiveStatus(snap.Status) {
			live = append(live, snap)
		}
	}
	return live, nil
}

// MatchState returns the last observed state of one match.
func (s *QueryService) MatchState(ctx context.Context, matchID int64) (match.Snapshot, error) {
	if matchID <= 0 {
		return match.Snapshot{}, fmt.Errorf("%w: match id must be positive", ErrInvalidInput)
	}

	snap, found, err := s.snapshots.Get(ctx, matchID)
	if err != nil {
		return match.Snapshot{}, fmt.Errorf("load snapshot match_id=%d: %w", matchID, err)
	}
	if !found {
		return match.Snapshot{}, fmt.Errorf("%w: match %d is not tracked", ErrNotFound, matchID)
	}
	return snap, nil
}

// Events lists persisted events matching the filter, oldest first.
func (s *QueryService) Events(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// CompetitionStatus summarizes the tracked matches of one competition.
func (s *QueryService) CompetitionStatus(ctx context.Context, code string) (CompetitionStatus, error) {
	if code == "" {
		return CompetitionStatus{}, fmt.Errorf("%w: competition code is required", ErrInvalidInput)
	}

	all, err := s.snapshots.List(ctx)
	if err != nil {
		return CompetitionStatus{}, fmt.Errorf("list snapshots: %w", err)
	}

	status := CompetitionStatus{
		Competition: code,
		ByStatus:    make(map[string]int),
	}
	for _, snap := range all {
		if snap.Competition != code {
			continue
		}
		status.Matches++
		status.ByStatus[match.NormalizeStatus(snap.Status)]++
		if match.IsLiveStatus(snap.Status) {
			status.Live = append(status.Live, snap)
		}
	}
	return status, nil
}

// Statistics aggregates counters across the tracker, the event log,
// and the token bucket.
func (s *QueryService) Statistics(ctx context.Context) (Statistics, error) {
	ctx, span := startUsecaseSpan(ctx, "QueryService.Statistics")
	defer span.End()

	byKind, err := s.events.CountByKind(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("count events by kind: %w", err)
	}
	byCompetition, err := s.events.CountByCompetition(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("count events by competition: %w", err)
	}
	live, err := s.LiveMatches(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		LiveMatches:         len(live),
		EventsByKind:        byKind,
		EventsByCompetition: byCompetition,
	}
	if s.tracker != nil {
		stats.TrackedMatches = s.tracker.TrackedCount()
		stats.PollsTotal, stats.PollsFailed = s.tracker.PollStats()
	}
	if s.limiter != nil {
		limiterStatus := s.limiter.Status()
		stats.RateLimit = &limiterStatus
	}
	return stats, nil
}

// ExportJSON writes every snapshot and event to one JSON document for
// offline inspection. The write goes through a temp file and rename so
// a crash never leaves a truncated export behind.
func (s *QueryService) ExportJSON(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: export path is required", ErrInvalidInput)
	}

	snapshots, err := s.snapshots.List(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	events, err := s.events.List(ctx, event.Filter{})
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	doc := exportDocument{
		ExportedAt: s.now().UTC(),
		Snapshots:  snapshots,
		Events:     events,
	}
	raw, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export document: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize export file: %w", err)
	}

	s.logger.InfoContext(ctx, "exported tracked state",
		"path", path, "snapshots", len(snapshots), "events", len(events))
	return nil
}
