package footballdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timba-app/livescores/internal/platform/cache"
	"github.com/timba-app/livescores/internal/platform/logging"
	"github.com/timba-app/livescores/internal/usecase"
)

const liveMatchesPayload = `{
	"count": 1,
	"matches": [
		{
			"id": 451234,
			"utcDate": "2026-03-07T15:00:00Z",
			"status": "IN_PLAY",
			"minute": 23,
			"competition": {"code": "PL", "name": "Premier League"},
			"homeTeam": {"id": 57, "name": "Arsenal FC", "shortName": "Arsenal"},
			"awayTeam": {"id": 61, "name": "Chelsea FC", "shortName": "Chelsea"},
			"score": {"winner": null, "fullTime": {"home": 1, "away": 0}, "halfTime": {"home": 1, "away": 0}}
		}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*ClientConfig)) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := ClientConfig{
		HTTPClient:  server.Client(),
		BaseURL:     server.URL,
		Token:       "secret-token",
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		Logger:      logging.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg)
}

func TestClient_LiveMatches_MapsPayload(t *testing.T) {
	t.Parallel()

	var gotToken atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.Header.Get("X-Auth-Token"))
		if r.URL.Path != "/matches" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("competitions"); got != "PL,CL" {
			t.Errorf("competitions = %q, want PL,CL", got)
		}
		_, _ = w.Write([]byte(liveMatchesPayload))
	}, nil)

	matches, err := client.LiveMatches(context.Background(), []string{"pl", "CL"}, true)
	if err != nil {
		t.Fatalf("LiveMatches: %v", err)
	}
	if gotToken.Load() != "secret-token" {
		t.Fatalf("auth header = %v, want secret-token", gotToken.Load())
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}

	m := matches[0]
	if m.ID != 451234 || m.Competition != "PL" {
		t.Fatalf("unexpected identity: %+v", m)
	}
	if m.HomeTeam != "Arsenal FC" || m.AwayTeam != "Chelsea FC" {
		t.Fatalf("unexpected teams: %+v", m)
	}
	if m.HomeScore != 1 || m.AwayScore != 0 {
		t.Fatalf("unexpected score: %+v", m)
	}
	if m.Status != "LIVE" {
		t.Fatalf("status = %s, want LIVE", m.Status)
	}
	if m.Minute == nil || *m.Minute != 23 {
		t.Fatalf("minute = %v, want 23", m.Minute)
	}
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(liveMatchesPayload))
	}, nil)

	if _, err := client.LiveMatches(context.Background(), nil, true); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestClient_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	_, err := client.LiveMatches(context.Background(), nil, true)
	if !errors.Is(err, usecase.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected maxRetries+1 attempts, got %d", got)
	}
}

func TestClient_RetryBackoffGrowsExponentially(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var arrivals []time.Time
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *ClientConfig) {
		cfg.BackoffBase = 30 * time.Millisecond
		cfg.MaxRetries = 2
	})

	_, err := client.LiveMatches(context.Background(), nil, true)
	if !errors.Is(err, usecase.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(arrivals))
	}
	// Jitter only ever adds to the wait, so each gap has a hard floor
	// of base doubled per attempt.
	for i := 1; i < len(arrivals); i++ {
		gap := arrivals[i].Sub(arrivals[i-1])
		floor := 30 * time.Millisecond << (i - 1)
		if gap < floor {
			t.Fatalf("retry %d fired after %v, want at least %v", i, gap, floor)
		}
	}
}

func TestClient_TerminalStatusesDoNotRetry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, usecase.ErrAuthFailed},
		{"forbidden", http.StatusForbidden, usecase.ErrAuthFailed},
		{"not found", http.StatusNotFound, usecase.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, usecase.ErrRateLimited},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}, nil)

			_, err := client.LiveMatches(context.Background(), nil, true)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := calls.Load(); got != 1 {
				t.Fatalf("terminal status should not retry, got %d attempts", got)
			}
		})
	}
}

func TestClient_CachesCompetitionMatches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(liveMatchesPayload))
	}, func(cfg *ClientConfig) {
		cfg.Cache = cache.NewStore()
	})

	ctx := context.Background()
	if _, err := client.CompetitionMatches(ctx, "PL", false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := client.CompetitionMatches(ctx, "PL", false); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("second fetch should hit cache, got %d upstream calls", got)
	}

	if _, err := client.CompetitionMatches(ctx, "PL", true); err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("forced refresh should bypass cache, got %d upstream calls", got)
	}
}

func TestClient_ErrorResponsesAreNeverCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(liveMatchesPayload))
	}, func(cfg *ClientConfig) {
		cfg.Cache = cache.NewStore()
	})

	ctx := context.Background()
	if _, err := client.CompetitionMatches(ctx, "PL", false); !errors.Is(err, usecase.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.CompetitionMatches(ctx, "PL", false); err != nil {
		t.Fatalf("retry after error should reach upstream: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", got)
	}
}

func TestClient_MatchDetail(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matches/451234" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": 451234,
			"utcDate": "2026-03-07T15:00:00Z",
			"status": "FINISHED",
			"competition": {"code": "PL"},
			"homeTeam": {"name": "Arsenal FC"},
			"awayTeam": {"name": "Chelsea FC"},
			"score": {"fullTime": {"home": 2, "away": 1}}
		}`))
	}, nil)

	detail, err := client.MatchDetail(context.Background(), 451234)
	if err != nil {
		t.Fatalf("MatchDetail: %v", err)
	}
	if detail.Status != "FINISHED" || detail.HomeScore != 2 || detail.AwayScore != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestClient_Competitions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"count": 2,
			"competitions": [
				{"id": 2014, "code": "PD", "name": "Primera Division", "area": {"name": "Spain"}},
				{"id": 2021, "code": "PL", "name": "Premier League", "area": {"name": "England"}}
			]
		}`))
	}, nil)

	comps, err := client.Competitions(context.Background())
	if err != nil {
		t.Fatalf("Competitions: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("expected 2 competitions, got %d", len(comps))
	}
	if comps[0].Code != "PD" || comps[1].Code != "PL" {
		t.Fatalf("expected codes sorted, got %+v", comps)
	}
	if comps[1].Area != "England" {
		t.Fatalf("area = %q, want England", comps[1].Area)
	}
}
