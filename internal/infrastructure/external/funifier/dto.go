package funifier

import (
	"fmt"
	"time"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardDTO is a leaderboard definition as returned by the API.
type LeaderboardDTO struct {
	ID          string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Active      bool       `json:"active"`
	Period      string     `json:"period"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

// LeaderboardsResponseDTO wraps the leaderboard list endpoint payload.
type LeaderboardsResponseDTO struct {
	Leaderboards []LeaderboardDTO `json:"leaderboards"`
}

// LeaderDTO is one participant row as returned by the leaderboard
// aggregate endpoint.
type LeaderDTO struct {
	ID       string `json:"_id"`
	PlayerID string `json:"player"`
	Name     string `json:"name"`
	Points   int    `json:"total"`
	Position int    `json:"position"`
	Avatar   string `json:"image,omitempty"`
	Team     string `json:"team,omitempty"`
}

// LeadersResponseDTO wraps the leaderboard data endpoint payload.
type LeadersResponseDTO struct {
	Leaders []LeaderDTO `json:"leaders"`
}

// PlayerStatusDTO is the player-status endpoint payload, consumed for
// level enrichment.
type PlayerStatusDTO struct {
	PlayerID          string  `json:"_id"`
	Level             string  `json:"level"`
	PercentCompleted  float64 `json:"percent_completed"`
	PointsToNextLevel int     `json:"points_to_next_level"`
	TotalPoints       int     `json:"total_points"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx response from the Funifier API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("funifier api: status %d: %s", e.Status, e.Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (d LeaderboardDTO) toDomain() ranking.Leaderboard {
	return ranking.Leaderboard{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Active:      d.Active,
		Period:      d.Period,
		StartsAt:    d.StartsAt,
		EndsAt:      d.EndsAt,
	}
}

func (d LeaderDTO) toDomain() ranking.Leader {
	return ranking.Leader{
		ID:         d.ID,
		PlayerID:   d.PlayerID,
		PlayerName: d.Name,
		Points:     d.Points,
		Position:   d.Position,
		Avatar:     d.Avatar,
		Team:       d.Team,
	}
}

func (d PlayerStatusDTO) toDomain() ranking.PlayerStatus {
	return ranking.PlayerStatus{
		PlayerID:          d.PlayerID,
		Level:             d.Level,
		PercentCompleted:  d.PercentCompleted,
		PointsToNextLevel: d.PointsToNextLevel,
		TotalPoints:       d.TotalPoints,
	}
}

func leaderboardsToDomain(dtos []LeaderboardDTO) []ranking.Leaderboard {
	boards := make([]ranking.Leaderboard, len(dtos))
	for i, d := range dtos {
		boards[i] = d.toDomain()
	}
	return boards
}

func leadersToDomain(dtos []LeaderDTO) []ranking.Leader {
	leaders := make([]ranking.Leader, len(dtos))
	for i, d := range dtos {
		leaders[i] = d.toDomain()
	}
	return leaders
}
