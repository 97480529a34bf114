package footballdata

import (
	"strings"
	"time"

	"github.com/timba-app/livescores/internal/domain/match"
)

// Wire shapes for the provider's v4 payloads. Only the fields the
// ingestion core reads are declared; sonic ignores the rest.

type competitionsEnvelope struct {
	Count        int               `json:"count"`
	Competitions []competitionItem `json:"competitions"`
}

type competitionItem struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
	Area struct {
		Name string `json:"name"`
	} `json:"area"`
}

type matchesEnvelope struct {
	Count   int         `json:"count"`
	Matches []matchItem `json:"matches"`
}

type matchItem struct {
	ID          int64  `json:"id"`
	UTCDate     string `json:"utcDate"`
	Status      string `json:"status"`
	Minute      *int   `json:"minute"`
	Competition struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"competition"`
	HomeTeam teamRef   `json:"homeTeam"`
	AwayTeam teamRef   `json:"awayTeam"`
	Score    scoreInfo `json:"score"`
}

type teamRef struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
}

type scoreInfo struct {
	Winner   string    `json:"winner"`
	FullTime scorePair `json:"fullTime"`
	HalfTime scorePair `json:"halfTime"`
}

type scorePair struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

// Competition describes one competition the provider covers.
type Competition struct {
	ID   int64
	Code string
	Name string
	Area string
}

func mapCompetition(item competitionItem) Competition {
	return Competition{
		ID:   item.ID,
		Code: strings.TrimSpace(item.Code),
		Name: strings.TrimSpace(item.Name),
		Area: strings.TrimSpace(item.Area.Name),
	}
}

func mapMatch(item matchItem) match.Summary {
	summary := match.Summary{
		ID:          item.ID,
		Competition: strings.TrimSpace(item.Competition.Code),
		HomeTeam:    teamName(item.HomeTeam),
		AwayTeam:    teamName(item.AwayTeam),
		Status:      match.NormalizeStatus(item.Status),
	}
	if item.Score.FullTime.Home != nil {
		summary.HomeScore = *item.Score.FullTime.Home
	}
	if item.Score.FullTime.Away != nil {
		summary.AwayScore = *item.Score.FullTime.Away
	}
	if item.Minute != nil {
		minute := *item.Minute
		summary.Minute = &minute
	}
	if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(item.UTCDate)); err == nil {
		summary.KickoffAt = parsed
	}
	return summary
}

func teamName(ref teamRef) string {
	if name := strings.TrimSpace(ref.Name); name != "" {
		return name
	}
	return strings.TrimSpace(ref.ShortName)
}

func mapMatches(items []matchItem) []match.Summary {
	out := make([]match.Summary, 0, len(items))
	for _, item := range items {
		if item.ID <= 0 {
			continue
		}
		out = append(out, mapMatch(item))
	}
	return out
}
