package usecase

import (
	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/domain/match"
	"github.com/timba-app/livescores/internal/platform/logging"
)

// DetectorOptions tune event emission. AwayGoalsFirst flips the
// emission order when both sides score in one observation; the default
// is home before away, which is a policy choice since the upstream
// payload does not order simultaneous goals.
type DetectorOptions struct {
	AwayGoalsFirst bool
}

// Detector diffs consecutive observations of one match and produces
// the events implied by the difference. It holds no state of its own;
// the caller supplies the previous snapshot.
type Detector struct {
	opts   DetectorOptions
	logger *logging.Logger
}

func NewDetector(opts DetectorOptions, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{opts: opts, logger: logger}
}

// Detect returns the ordered events implied by observing current after
// previous. A nil previous means this is the first observation; goal
// events are never emitted without a baseline, but MATCH_STARTED is
// emitted if the match is already live. The returned order is fixed:
// kickoff first, then goals, then status transitions.
func (d *Detector) Detect(previous *match.Snapshot, current match.Snapshot) []event.Event {
	curStatus := match.NormalizeStatus(current.Status)

	var prevStatus string
	prevHome, prevAway := 0, 0
	if previous != nil {
		prevStatus = match.NormalizeStatus(previous.Status)
		prevHome = previous.HomeScore
		prevAway = previous.AwayScore
	}

	base := event.Event{
		MatchID:     current.ID,
		Competition: current.Competition,
		HomeTeam:    current.HomeTeam,
		AwayTeam:    current.AwayTeam,
		HomeScore:   current.HomeScore,
		AwayScore:   current.AwayScore,
		PrevHome:    prevHome,
		PrevAway:    prevAway,
		Minute:      current.Minute,
		Status:      curStatus,
		PrevStatus:  prevStatus,
		OccurredAt:  current.ObservedAt,
	}

	var events []event.Event
	emit := func(kind event.Kind) {
		evt := base
		evt.Kind = kind
		events = append(events, evt)
	}

	wasLive := previous != nil && match.IsLiveStatus(prevStatus)
	isLive := match.IsLiveStatus(curStatus)
	if isLive && !wasLive && curStatus == match.StatusLive {
		emit(event.KindMatchStarted)
	}

	if previous != nil {
		homeDelta := current.HomeScore - prevHome
		awayDelta := current.AwayScore - prevAway
		if homeDelta < 0 || awayDelta < 0 {
			d.logger.Warn("score decreased, treating as upstream correction",
				"match_id", current.ID,
				"prev", [2]int{prevHome, prevAway},
				"current", [2]int{current.HomeScore, current.AwayScore},
			)
		}
		first, second := event.KindGoalHome, event.KindGoalAway
		firstDelta, secondDelta := homeDelta, awayDelta
		if d.opts.AwayGoalsFirst {
			first, second = second, first
			firstDelta, secondDelta = secondDelta, firstDelta
		}
		for i := 0; i < firstDelta; i++ {
			emit(first)
		}
		for i := 0; i < secondDelta; i++ {
			emit(second)
		}
	}

	if prevStatus != curStatus {
		switch curStatus {
		case match.StatusPaused:
			if previous != nil {
				emit(event.KindHalftime)
			}
		case match.StatusFinished:
			if previous != nil {
				emit(event.KindFulltime)
			}
		case match.StatusCancelled:
			if previous != nil {
				emit(event.KindCancelled)
			}
		case match.StatusLive, match.StatusScheduled:
			// Kickoff already covered above; a first SCHEDULED
			// observation is not a transition.
			if previous != nil && curStatus != match.StatusLive {
				emit(event.KindStatusChanged)
			}
		default:
			if previous != nil {
				emit(event.KindStatusChanged)
			}
		}
	}

	return events
}
