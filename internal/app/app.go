package app

import (
	"context"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timba-app/livescores/external/footballdata"
	"github.com/timba-app/livescores/internal/config"
	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
	"github.com/timba-app/livescores/internal/infrastructure/notify"
	"github.com/timba-app/livescores/internal/infrastructure/repository/memory"
	"github.com/timba-app/livescores/internal/infrastructure/repository/postgres"
	"github.com/timba-app/livescores/internal/infrastructure/repository/sqlite"
	"github.com/timba-app/livescores/internal/platform/cache"
	"github.com/timba-app/livescores/internal/platform/logging"
	"github.com/timba-app/livescores/internal/platform/ratelimit"
	"github.com/timba-app/livescores/internal/platform/resilience"
	"github.com/timba-app/livescores/internal/usecase"
)

// App wires the provider client, storage, tracker and query services
// together and owns their lifecycle.
type App struct {
	Tracker *usecase.TrackerService
	Queries *usecase.QueryService

	cfg     config.Config
	logger  *logging.Logger
	closers []func() error
}

func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	limiter := ratelimit.NewBucket(cfg.RateLimitCapacity, cfg.RateLimitWindow)
	store := cache.NewStore()

	client := footballdata.NewClient(footballdata.ClientConfig{
		BaseURL:        cfg.FootballDataBaseURL,
		Token:          cfg.FootballDataToken,
		Timeout:        cfg.FootballDataTimeout,
		MaxRetries:     cfg.FootballDataMaxRetries,
		BackoffBase:    cfg.FootballDataBackoffBase,
		AcquireTimeout: cfg.RateLimitAcquireTimeout,
		Limiter:        limiter,
		Cache:          store,
		Logger:         logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.FootballDataCircuitEnabled,
			FailureThreshold: cfg.FootballDataCircuitFailures,
			OpenTimeout:      cfg.FootballDataCircuitOpenFor,
			HalfOpenMaxReq:   cfg.FootballDataCircuitHalfOpen,
		},
		CompetitionsTTL: cfg.CompetitionsCacheTTL,
		MatchesTTL:      cfg.MatchesCacheTTL,
		LiveTTL:         cfg.LiveCacheTTL,
	})

	a := &App{cfg: cfg, logger: logger}

	snapshots, events, err := a.buildStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	detector := usecase.NewDetector(usecase.DetectorOptions{AwayGoalsFirst: cfg.AwayGoalsFirst}, logger)

	tracker, err := usecase.NewTrackerService(client, detector, snapshots, events, usecase.TrackerConfig{
		Competitions: cfg.TrackedCompetitions,
		Workers:      cfg.PollWorkers,
		Intervals: usecase.PollIntervals{
			Scheduled: cfg.PollScheduledInterval,
			Live:      cfg.PollLiveInterval,
			Paused:    cfg.PollPausedInterval,
			Finished:  cfg.PollFinishedInterval,
			Discovery: cfg.DiscoveryInterval,
		},
	}, logger)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("build tracker: %w", err)
	}

	if cfg.WebhookEnabled {
		webhook, err := notify.NewWebhookSubscriber(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Secret:  cfg.WebhookSecret,
			Retries: cfg.WebhookRetries,
			Timeout: cfg.WebhookTimeout,
		}, logger)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("build webhook subscriber: %w", err)
		}
		tracker.RegisterSubscriber(webhook)
	}

	a.Tracker = tracker
	a.Queries = usecase.NewQueryService(snapshots, events, tracker, limiter, logger)

	return a, nil
}

func (a *App) buildStorage(cfg config.Config, logger *logging.Logger) (match.SnapshotRepository, event.Repository, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Info("storage: in-memory repositories")
		return memory.NewSnapshotRepository(), memory.NewEventRepository(), nil
	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		logger.Info("storage: sqlite", "path", cfg.SQLitePath)
		return store.Snapshots(), store.Events(), nil
	case config.StoragePostgres:
		db, err := otelsqlx.Connect("postgres", cfg.DBURL,
			otelsql.WithAttributes(attribute.String("db.system", "postgresql")))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		a.closers = append(a.closers, db.Close)
		logger.Info("storage: postgres")
		return postgres.NewSnapshotRepository(db), postgres.NewEventRepository(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Start launches the tracker's discovery and scheduling loops.
func (a *App) Start(ctx context.Context) error {
	return a.Tracker.Start(ctx)
}

// Shutdown stops polling, optionally writes a final export, then
// releases storage handles. Safe to call once after Start.
func (a *App) Shutdown(ctx context.Context) error {
	a.Tracker.Stop()

	if a.cfg.ExportPath != "" {
		if err := a.Queries.ExportJSON(ctx, a.cfg.ExportPath); err != nil {
			a.logger.Error("final export failed", "path", a.cfg.ExportPath, "error", err)
		} else {
			a.logger.Info("final export written", "path", a.cfg.ExportPath)
		}
	}

	a.closeAll()
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close storage", "error", err)
		}
	}
	a.closers = nil
}
