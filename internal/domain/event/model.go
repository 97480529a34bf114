package event

import "time"

// Kind classifies a detected match event.
type Kind string

const (
	KindMatchStarted  Kind = "MATCH_STARTED"
	KindGoalHome      Kind = "GOAL_HOME"
	KindGoalAway      Kind = "GOAL_AWAY"
	KindHalftime      Kind = "HALFTIME"
	KindFulltime      Kind = "FULLTIME"
	KindStatusChanged Kind = "STATUS_CHANGED"
	KindCancelled     Kind = "CANCELLED"
)

// Event is one detected change in a tracked match. ID is assigned by
// the repository on save and is zero before that.
type Event struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	MatchID     int64     `json:"matchId"`
	Competition string    `json:"competition"`
	HomeTeam    string    `json:"homeTeam"`
	AwayTeam    string    `json:"awayTeam"`
	HomeScore   int       `json:"homeScore"`
	AwayScore   int       `json:"awayScore"`
	PrevHome    int       `json:"prevHomeScore"`
	PrevAway    int       `json:"prevAwayScore"`
	Minute      *int      `json:"minute"`
	Status      string    `json:"status"`
	PrevStatus  string    `json:"prevStatus,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Filter narrows event listings. Zero values mean no constraint.
type Filter struct {
	MatchID int64
	Kinds   []Kind
	Since   time.Time
	Limit   int
}
