package match

import (
	"strings"
	"time"
)

// Canonical lifecycle statuses. Upstream providers report a wider
// vocabulary; NormalizeStatus folds it down to these five.
const (
	StatusScheduled = "SCHEDULED"
	StatusLive      = "LIVE"
	StatusPaused    = "PAUSED"
	StatusFinished  = "FINISHED"
	StatusCancelled = "CANCELLED"
)

// Summary is one observation of a match as reported by the provider.
// Minute is nil when the provider did not report an elapsed minute,
// which is distinct from minute zero at kickoff.
type Summary struct {
	ID          int64     `json:"id"`
	Competition string    `json:"competition"`
	HomeTeam    string    `json:"homeTeam"`
	AwayTeam    string    `json:"awayTeam"`
	HomeScore   int       `json:"homeScore"`
	AwayScore   int       `json:"awayScore"`
	Status      string    `json:"status"`
	Minute      *int      `json:"minute"`
	KickoffAt   time.Time `json:"kickoffAt"`
}

// Snapshot is the last persisted state of a tracked match. ObservedAt
// records when the provider reported it, not when it was stored.
type Snapshot struct {
	Summary
	ObservedAt time.Time `json:"observedAt"`
}

func NormalizeStatus(value string) string {
	status := strings.ToUpper(strings.TrimSpace(value))
	switch status {
	case "", "TIMED", StatusScheduled:
		return StatusScheduled
	case "IN_PLAY", "LIVE", "1H", "2H", "ET", "EXTRA_TIME", "PENALTY_SHOOTOUT":
		return StatusLive
	case "HT", "HALFTIME", StatusPaused:
		return StatusPaused
	case "FT", "AET", "PEN", StatusFinished:
		return StatusFinished
	case "POSTPONED", "SUSPENDED", "ABANDONED", StatusCancelled:
		return StatusCancelled
	default:
		return status
	}
}

func IsLiveStatus(status string) bool {
	switch NormalizeStatus(status) {
	case StatusLive, StatusPaused:
		return true
	default:
		return false
	}
}

// IsTerminalStatus reports whether a match in this status will never
// be polled again.
func IsTerminalStatus(status string) bool {
	switch NormalizeStatus(status) {
	case StatusFinished, StatusCancelled:
		return true
	default:
		return false
	}
}
