package usecase

import (
	"container/heap"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
	"github.com/timba-app/livescores/internal/platform/logging"
)

// ScoresProvider is the slice of the upstream client the tracker needs.
type ScoresProvider interface {
	CompetitionMatches(ctx context.Context, code string, forceRefresh bool) ([]match.Summary, error)
	MatchDetail(ctx context.Context, matchID int64) (match.Summary, error)
}

// Subscriber receives every persisted event. Implementations must
// tolerate being called concurrently for different matches.
type Subscriber interface {
	Name() string
	Notify(ctx context.Context, evt event.Event) error
}

// SubscriberFunc adapts a bare function into a Subscriber.
type SubscriberFunc struct {
	ID string
	Fn func(ctx context.Context, evt event.Event) error
}

func (s SubscriberFunc) Name() string { return s.ID }

func (s SubscriberFunc) Notify(ctx context.Context, evt event.Event) error { return s.Fn(ctx, evt) }

// PollIntervals control how soon a match is re-fetched per status.
type PollIntervals struct {
	Scheduled time.Duration
	Live      time.Duration
	Paused    time.Duration
	Finished  time.Duration
	Discovery time.Duration
}

func DefaultPollIntervals() PollIntervals {
	return PollIntervals{
		Scheduled: 10 * time.Minute,
		Live:      15 * time.Second,
		Paused:    30 * time.Second,
		Finished:  time.Hour,
		Discovery: 5 * time.Minute,
	}
}

func (p PollIntervals) normalized() PollIntervals {
	def := DefaultPollIntervals()
	if p.Scheduled <= 0 {
		p.Scheduled = def.Scheduled
	}
	if p.Live <= 0 {
		p.Live = def.Live
	}
	if p.Paused <= 0 {
		p.Paused = def.Paused
	}
	if p.Finished <= 0 {
		p.Finished = def.Finished
	}
	if p.Discovery <= 0 {
		p.Discovery = def.Discovery
	}
	return p
}

func (p PollIntervals) forStatus(status string) time.Duration {
	switch match.NormalizeStatus(status) {
	case match.StatusLive:
		return p.Live
	case match.StatusPaused:
		return p.Paused
	case match.StatusFinished, match.StatusCancelled:
		return p.Finished
	default:
		return p.Scheduled
	}
}

type pollTask struct {
	matchID     int64
	competition string
	dueAt       time.Time
	interval    time.Duration
	// confirming marks a task whose last observation was terminal; one
	// final poll runs after the grace period, then the task retires.
	confirming bool
	index      int
}

// taskQueue is a min-heap ordered by due time. Callers hold the
// tracker's queue mutex around every heap operation.
type taskQueue []*pollTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool { return q[i].dueAt.Before(q[j].dueAt) }

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	task := x.(*pollTask)
	task.index = len(*q)
	*q = append(*q, task)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[:n-1]
	return task
}

type TrackerConfig struct {
	Competitions []string
	Workers      int
	Intervals    PollIntervals
}

// TrackerService owns the polling lifecycle: it discovers matches in
// the configured competitions, keeps a due-time priority queue of poll
// tasks, fans due fetches out to a worker pool, diffs each observation
// against the previous snapshot, and persists plus dispatches whatever
// events the diff produced.
type TrackerService struct {
	provider  ScoresProvider
	detector  *Detector
	snapshots match.SnapshotRepository
	events    event.Repository
	logger    *logging.Logger

	competitions []string
	intervals    PollIntervals

	mu      sync.Mutex
	queue   taskQueue
	tracked map[int64]*pollTask
	wake    chan struct{}

	subMu       sync.RWMutex
	subscribers []Subscriber

	lockMu     sync.Mutex
	matchLocks map[int64]*matchLock

	pool     *ants.Pool
	loops    conc.WaitGroup
	inflight sync.WaitGroup
	cancel   context.CancelFunc
	started  atomic.Bool
	halted   atomic.Bool

	pollsTotal  atomic.Int64
	pollsFailed atomic.Int64

	now func() time.Time
}

func NewTrackerService(
	provider ScoresProvider,
	detector *Detector,
	snapshots match.SnapshotRepository,
	events event.Repository,
	cfg TrackerConfig,
	logger *logging.Logger,
) (*TrackerService, error) {
	if provider == nil {
		return nil, fmt.Errorf("scores provider is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if snapshots == nil || events == nil {
		return nil, fmt.Errorf("snapshot and event repositories are required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &TrackerService{
		provider:     provider,
		detector:     detector,
		snapshots:    snapshots,
		events:       events,
		logger:       logger,
		competitions: cfg.Competitions,
		intervals:    cfg.Intervals.normalized(),
		tracked:      make(map[int64]*pollTask),
		wake:         make(chan struct{}, 1),
		matchLocks:   make(map[int64]*matchLock),
		pool:         pool,
		now:          time.Now,
	}, nil
}

// RegisterSubscriber adds a callback target for future events. Events
// already dispatched are not replayed.
func (s *TrackerService) RegisterSubscriber(sub Subscriber) {
	if sub == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subMu.Unlock()
}

// Start launches the scheduler and discovery loops. It returns once
// both are running; Stop tears them down.
func (s *TrackerService) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.loops.Go(func() { s.discoveryLoop(runCtx) })
	s.loops.Go(func() { s.scheduleLoop(runCtx) })
	return nil
}

// Stop halts the loops, waits for in-flight polls to finish, and
// releases the worker pool. In-flight fetches are allowed to complete
// so snapshots are never left half-updated.
func (s *TrackerService) Stop() {
	if !s.started.Load() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.loops.Wait()
	s.inflight.Wait()
	s.pool.Release()
}

func (s *TrackerService) discoveryLoop(ctx context.Context) {
	s.discoverOnce(ctx)

	ticker := time.NewTicker(s.intervals.Discovery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.discoverOnce(ctx)
		}
	}
}

func (s *TrackerService) discoverOnce(ctx context.Context) {
	for _, code := range s.competitions {
		if ctx.Err() != nil {
			return
		}
		summaries, err := s.provider.CompetitionMatches(ctx, code, false)
		if err != nil {
			if stderrors.Is(err, ErrAuthFailed) {
				s.haltOnAuthFailure(ctx, err)
				return
			}
			s.logger.WarnContext(ctx, "competition discovery failed", "competition", code, "error", err)
			continue
		}

		for _, summary := range summaries {
			if match.IsTerminalStatus(summary.Status) && !s.isTracked(summary.ID) {
				continue
			}
			if err := s.Observe(ctx, summary); err != nil {
				s.logger.ErrorContext(ctx, "failed to process discovered match", "match_id", summary.ID, "error", err)
			}
		}
	}
}

// Observe ingests one match observation from any source: discovery,
// a per-match poll, or a caller pushing state in directly. It runs the
// detector, persists the snapshot and events, dispatches subscribers,
// and makes sure a poll task exists for the match.
func (s *TrackerService) Observe(ctx context.Context, summary match.Summary) error {
	if summary.ID <= 0 {
		return fmt.Errorf("%w: match id must be positive", ErrInvalidInput)
	}

	if err := s.processObservation(ctx, summary); err != nil {
		return err
	}
	if !match.IsTerminalStatus(summary.Status) {
		s.ensureTask(summary)
	}
	return nil
}

func (s *TrackerService) processObservation(ctx context.Context, summary match.Summary) error {
	ctx, span := startUsecaseSpan(ctx, "TrackerService.processObservation")
	defer span.End()

	unlock := s.lockMatch(summary.ID)
	defer unlock()

	prev, found, err := s.snapshots.Get(ctx, summary.ID)
	if err != nil {
		return fmt.Errorf("%w: load snapshot match_id=%d: %v", ErrPersistence, summary.ID, err)
	}

	var prevRef *match.Snapshot
	if found {
		prevRef = &prev
	}

	current := match.Snapshot{Summary: summary, ObservedAt: s.now().UTC()}
	detected := s.detector.Detect(prevRef, current)

	if err := s.snapshots.Upsert(ctx, current); err != nil {
		return fmt.Errorf("%w: upsert snapshot match_id=%d: %v", ErrPersistence, summary.ID, err)
	}

	for _, evt := range detected {
		stored, err := s.appendEvent(ctx, evt)
		if err != nil {
			return err
		}
		s.dispatch(ctx, stored)
	}
	return nil
}

// appendEvent persists one event, retrying a failed write once before
// giving up. Dropping an event silently is never acceptable.
func (s *TrackerService) appendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	stored, err := s.events.Append(ctx, evt)
	if err == nil {
		return stored, nil
	}
	s.logger.WarnContext(ctx, "event append failed, retrying once",
		"match_id", evt.MatchID, "kind", evt.Kind, "error", err)

	stored, err = s.events.Append(ctx, evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: append event kind=%s match_id=%d: %v", ErrPersistence, evt.Kind, evt.MatchID, err)
	}
	return stored, nil
}

func (s *TrackerService) dispatch(ctx context.Context, evt event.Event) {
	s.subMu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(ctx, "subscriber panicked",
						"subscriber", sub.Name(), "kind", evt.Kind, "match_id", evt.MatchID, "panic", fmt.Sprint(r))
				}
			}()
			if err := sub.Notify(ctx, evt); err != nil {
				s.logger.WarnContext(ctx, "subscriber rejected event",
					"subscriber", sub.Name(), "kind", evt.Kind, "match_id", evt.MatchID, "error", err)
			}
		}()
	}
}

func (s *TrackerService) ensureTask(summary match.Summary) {
	interval := s.intervals.forStatus(summary.Status)

	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tracked[summary.ID]; ok {
		// An in-flight task has index -1 and reschedules itself when
		// its worker finishes.
		if task.index >= 0 {
			task.interval = interval
			task.dueAt = s.now().Add(interval)
			heap.Fix(&s.queue, task.index)
			s.wakeLocked()
		}
		return
	}

	task := &pollTask{
		matchID:     summary.ID,
		competition: summary.Competition,
		interval:    interval,
		dueAt:       s.now().Add(interval),
	}
	s.tracked[summary.ID] = task
	heap.Push(&s.queue, task)
	s.wakeLocked()
}

func (s *TrackerService) scheduleLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, wait := s.popDue()
		if task == nil {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		s.inflight.Add(1)
		submitted := task
		if err := s.pool.Submit(func() {
			defer s.inflight.Done()
			s.pollMatch(ctx, submitted)
		}); err != nil {
			s.inflight.Done()
			s.logger.ErrorContext(ctx, "failed to submit poll task", "match_id", task.matchID, "error", err)
			s.reschedule(task, task.interval)
		}
	}
}

// popDue returns the next due task, or nil plus how long to wait for
// the earliest pending one. A popped task stays in the tracked set so
// no second fetch for the same match can start before it reschedules.
func (s *TrackerService) popDue() (*pollTask, time.Duration) {
	const idleWait = time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, idleWait
	}
	next := s.queue[0]
	now := s.now()
	if next.dueAt.After(now) {
		return nil, next.dueAt.Sub(now)
	}
	heap.Pop(&s.queue)
	return next, 0
}

func (s *TrackerService) pollMatch(ctx context.Context, task *pollTask) {
	if ctx.Err() != nil || s.halted.Load() {
		return
	}

	s.pollsTotal.Add(1)
	summary, err := s.provider.MatchDetail(ctx, task.matchID)
	if err != nil {
		s.pollsFailed.Add(1)
		s.handlePollError(ctx, task, err)
		return
	}

	if err := s.processObservation(ctx, summary); err != nil {
		s.pollsFailed.Add(1)
		s.logger.ErrorContext(ctx, "poll cycle failed after fetch",
			"match_id", task.matchID, "error", err)
		s.reschedule(task, task.interval)
		return
	}

	if match.IsTerminalStatus(summary.Status) {
		if task.confirming {
			s.retire(task)
			s.logger.InfoContext(ctx, "match retired",
				"match_id", task.matchID, "status", match.NormalizeStatus(summary.Status))
			return
		}
		// Schedule one confirmation poll well after fulltime to catch
		// post-hoc corrections, then retire.
		task.confirming = true
		s.reschedule(task, s.intervals.Finished)
		return
	}

	task.confirming = false
	s.reschedule(task, s.intervals.forStatus(summary.Status))
}

func (s *TrackerService) handlePollError(ctx context.Context, task *pollTask, err error) {
	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		s.reschedule(task, task.interval)
	case stderrors.Is(err, ErrAuthFailed):
		s.haltOnAuthFailure(ctx, err)
	case stderrors.Is(err, ErrNotFound):
		s.logger.InfoContext(ctx, "match gone upstream, retiring", "match_id", task.matchID)
		s.retire(task)
	case stderrors.Is(err, ErrRateLimited):
		s.logger.WarnContext(ctx, "poll rate limited, deferring", "match_id", task.matchID)
		s.reschedule(task, task.interval)
	default:
		s.logger.WarnContext(ctx, "poll failed, will retry on normal cadence",
			"match_id", task.matchID, "error", err)
		s.reschedule(task, task.interval)
	}
}

// haltOnAuthFailure stops all polling. Every poll would fail the same
// way until the credential is replaced, so burning quota is pointless.
func (s *TrackerService) haltOnAuthFailure(ctx context.Context, err error) {
	if !s.halted.CompareAndSwap(false, true) {
		return
	}
	s.logger.ErrorContext(ctx, "authentication failed, halting all polling", "error", err)
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *TrackerService) reschedule(task *pollTask, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracked[task.matchID]; !ok {
		return
	}
	task.interval = interval
	task.dueAt = s.now().Add(interval)
	if task.index >= 0 {
		heap.Fix(&s.queue, task.index)
	} else {
		heap.Push(&s.queue, task)
	}
	s.wakeLocked()
}

func (s *TrackerService) retire(task *pollTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tracked, task.matchID)
	if task.index >= 0 {
		heap.Remove(&s.queue, task.index)
	}
}

func (s *TrackerService) isTracked(matchID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[matchID]
	return ok
}

// TrackedCount reports how many matches currently hold a poll task.
func (s *TrackerService) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// PollStats reports total and failed poll cycles since start.
func (s *TrackerService) PollStats() (total, failed int64) {
	return s.pollsTotal.Load(), s.pollsFailed.Load()
}

func (s *TrackerService) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type matchLock struct {
	mu   sync.Mutex
	refs int
}

// lockMatch serializes observation processing per match id. Entries
// are reference counted and removed once the last holder releases, so
// the lock map stays bounded by in-flight work rather than growing
// with every match ever tracked.
func (s *TrackerService) lockMatch(matchID int64) func() {
	s.lockMu.Lock()
	lock, ok := s.matchLocks[matchID]
	if !ok {
		lock = &matchLock{}
		s.matchLocks[matchID] = lock
	}
	lock.refs++
	s.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.matchLocks, matchID)
		}
		s.lockMu.Unlock()
	}
}
