package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "livescores.db"))
	require.NoError(t, err, "open store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func minutePtr(v int) *int { return &v }

func sampleEvent(kind event.Kind, matchID int64, occurredAt time.Time) event.Event {
	return event.Event{
		Kind:        kind,
		MatchID:     matchID,
		Competition: "PL",
		HomeTeam:    "Arsenal",
		AwayTeam:    "Spurs",
		HomeScore:   1,
		AwayScore:   0,
		Minute:      minutePtr(23),
		Status:      match.StatusLive,
		PrevStatus:  match.StatusLive,
		OccurredAt:  occurredAt,
	}
}

func TestEventRepository_AppendAndList(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	repo := store.Events()
	ctx := context.Background()
	base := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)

	first, err := repo.Append(ctx, sampleEvent(event.KindMatchStarted, 7, base))
	require.NoError(t, err)
	second, err := repo.Append(ctx, sampleEvent(event.KindGoalHome, 7, base.Add(23*time.Minute)))
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.Greater(t, second.ID, first.ID, "ids must be monotonically increasing")

	_, err = repo.Append(ctx, sampleEvent(event.KindGoalAway, 8, base.Add(time.Hour)))
	require.NoError(t, err)

	got, err := repo.List(ctx, event.Filter{MatchID: 7})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, event.KindMatchStarted, got[0].Kind)
	require.Equal(t, event.KindGoalHome, got[1].Kind)
	require.True(t, got[0].OccurredAt.Equal(base), "occurred_at = %v, want %v", got[0].OccurredAt, base)
	require.Equal(t, "Arsenal", got[0].HomeTeam)
	require.NotNil(t, got[0].Minute)
	require.Equal(t, 23, *got[0].Minute)

	got, err = repo.List(ctx, event.Filter{Kinds: []event.Kind{event.KindGoalHome, event.KindGoalAway}})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = repo.List(ctx, event.Filter{Since: base.Add(time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, event.KindGoalHome, got[0].Kind)
}

func TestEventRepository_Counts(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	repo := store.Events()
	ctx := context.Background()
	base := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		_, err := repo.Append(ctx, sampleEvent(event.KindGoalHome, 7, base))
		require.NoError(t, err)
	}
	clEvent := sampleEvent(event.KindFulltime, 8, base)
	clEvent.Competition = "CL"
	_, err := repo.Append(ctx, clEvent)
	require.NoError(t, err)

	byKind, err := repo.CountByKind(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), byKind[event.KindGoalHome])
	require.Equal(t, int64(1), byKind[event.KindFulltime])

	byCompetition, err := repo.CountByCompetition(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), byCompetition["PL"])
	require.Equal(t, int64(1), byCompetition["CL"])
}

func TestSnapshotRepository_UpsertIsLastWriteWins(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	repo := store.Snapshots()
	ctx := context.Background()

	snap := match.Snapshot{
		Summary: match.Summary{
			ID:          42,
			Competition: "BL1",
			HomeTeam:    "Bayern",
			AwayTeam:    "Dortmund",
			HomeScore:   0,
			AwayScore:   0,
			Status:      match.StatusLive,
			Minute:      minutePtr(10),
			KickoffAt:   time.Date(2026, 3, 7, 18, 30, 0, 0, time.UTC),
		},
		ObservedAt: time.Date(2026, 3, 7, 18, 40, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Upsert(ctx, snap))

	snap.HomeScore = 2
	snap.Status = match.StatusFinished
	snap.Minute = minutePtr(90)
	snap.ObservedAt = snap.ObservedAt.Add(80 * time.Minute)
	require.NoError(t, repo.Upsert(ctx, snap))

	got, found, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, got.HomeScore)
	require.Equal(t, match.StatusFinished, got.Status)
	require.NotNil(t, got.Minute)
	require.Equal(t, 90, *got.Minute)
	require.True(t, got.KickoffAt.Equal(snap.KickoffAt), "kickoff_at = %v, want %v", got.KickoffAt, snap.KickoffAt)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must keep one row per match")
}

func TestMinuteRoundTripsNullAndZero(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)

	noMinute := sampleEvent(event.KindStatusChanged, 11, base)
	noMinute.Minute = nil
	_, err := store.Events().Append(ctx, noMinute)
	require.NoError(t, err)

	atKickoff := sampleEvent(event.KindMatchStarted, 11, base)
	atKickoff.Minute = minutePtr(0)
	_, err = store.Events().Append(ctx, atKickoff)
	require.NoError(t, err)

	got, err := store.Events().List(ctx, event.Filter{MatchID: 11})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].Minute, "unreported minute must stay null")
	require.NotNil(t, got[1].Minute)
	require.Equal(t, 0, *got[1].Minute, "minute zero is a real value, not unknown")

	snap := match.Snapshot{Summary: match.Summary{ID: 11, Status: match.StatusScheduled}, ObservedAt: base}
	require.NoError(t, store.Snapshots().Upsert(ctx, snap))
	stored, found, err := store.Snapshots().Get(ctx, 11)
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, stored.Minute)
}

func TestSnapshotRepository_GetMissingAndDelete(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	repo := store.Snapshots()
	ctx := context.Background()

	_, found, err := repo.Get(ctx, 999)
	require.NoError(t, err)
	require.False(t, found)

	snap := match.Snapshot{Summary: match.Summary{ID: 5, Status: match.StatusScheduled}, ObservedAt: time.Now().UTC()}
	require.NoError(t, repo.Upsert(ctx, snap))
	require.NoError(t, repo.Delete(ctx, 5))

	_, found, err = repo.Get(ctx, 5)
	require.NoError(t, err)
	require.False(t, found, "snapshot survived delete")
}
