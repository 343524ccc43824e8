// Package ranking contains the domain model for the Ranking Hub.
// It covers raw leaderboard records as delivered by the gamification
// backend, the processed player records the dashboard renders, and the
// pure computation that turns one into the other.
package ranking

import (
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Position represents a place in a leaderboard, starting at 1.
type Position int

// IsValid reports whether the position is positive.
func (p Position) IsValid() bool {
	return p > 0
}

// IsPodium reports whether the position is a top-3 place.
func (p Position) IsPodium() bool {
	return p >= 1 && p <= 3
}

// String returns the display form of the position.
func (p Position) String() string {
	return fmt.Sprintf("#%d", p)
}

// PositionChange describes how a player's position moved between two
// processing passes.
type PositionChange string

const (
	// ChangeUp - the player climbed at least one position.
	ChangeUp PositionChange = "up"
	// ChangeDown - the player dropped at least one position.
	ChangeDown PositionChange = "down"
	// ChangeSame - the position did not move.
	ChangeSame PositionChange = "same"
	// ChangeNew - the player has no historical record to compare against.
	ChangeNew PositionChange = "new"
)

// ══════════════════════════════════════════════════════════════════════════════
// RAW UPSTREAM RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard is a ranking competition as reported by the upstream backend.
type Leaderboard struct {
	// ID is the upstream identifier of the leaderboard.
	ID string `json:"id"`

	// Title is the display name.
	Title string `json:"title"`

	// Description is an optional longer description.
	Description string `json:"description,omitempty"`

	// Active marks the leaderboard currently promoted on the dashboard.
	Active bool `json:"active"`

	// Period is the competition window label (e.g. "weekly", "season-3").
	Period string `json:"period,omitempty"`

	// StartsAt / EndsAt bound the competition window when present.
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Leader is one participant's raw score record within a leaderboard.
// It is owned by the upstream backend and read-only in this system.
type Leader struct {
	// ID is the upstream record identifier.
	ID string `json:"id"`

	// PlayerID identifies the player across leaderboards.
	PlayerID string `json:"player_id"`

	// PlayerName is the display name.
	PlayerName string `json:"player_name"`

	// Points is the current score.
	Points int `json:"points"`

	// Position is the position as reported upstream. The processor always
	// recomputes it, so treat this value as advisory.
	Position int `json:"position"`

	// Avatar is an optional avatar URL.
	Avatar string `json:"avatar,omitempty"`

	// Team is an optional team label.
	Team string `json:"team,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSED RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// Player is a processed ranking record: a Leader plus the fields computed
// by the processor. Players are built fresh on every processing pass and
// never mutated afterwards.
type Player struct {
	// PlayerID identifies the player.
	PlayerID string `json:"player_id"`

	// PlayerName is the display name.
	PlayerName string `json:"player_name"`

	// Points is the current score.
	Points int `json:"points"`

	// Position is the recomputed, tie-aware position (standard
	// competition ranking: equal points share a position, the next
	// distinct score skips ahead by the number of tied entries).
	Position int `json:"position"`

	// PreviousPosition is the position in the last snapshot, when known.
	PreviousPosition *int `json:"previous_position,omitempty"`

	// PositionChange is the trend relative to the last snapshot.
	PositionChange PositionChange `json:"position_change"`

	// PointsGainedToday is the non-negative score delta since the last
	// snapshot.
	PointsGainedToday int `json:"points_gained_today"`

	// PercentileRank is the share of players with strictly fewer points,
	// in percent.
	PercentileRank float64 `json:"percentile_rank"`

	// Avatar is an optional avatar URL.
	Avatar string `json:"avatar,omitempty"`

	// Team is an optional team label.
	Team string `json:"team,omitempty"`

	// LastUpdated is the time of the processing pass that built this record.
	LastUpdated time.Time `json:"last_updated"`
}

// Statistics summarises one leaderboard's score distribution.
type Statistics struct {
	// TotalPoints is the sum of all scores.
	TotalPoints int `json:"total_points"`

	// ActiveParticipants counts players with points > 0.
	ActiveParticipants int `json:"active_participants"`

	// CompletionRate is ActiveParticipants / total * 100.
	CompletionRate float64 `json:"completion_rate"`
}

// ProcessedRankingData is the visualization-ready aggregate over one
// leaderboard's players.
type ProcessedRankingData struct {
	// Players holds the processed records, ordered by position.
	Players []Player `json:"players"`

	// TotalParticipants equals len(Players).
	TotalParticipants int `json:"total_participants"`

	// AveragePoints is TotalPoints / TotalParticipants (0 when empty).
	AveragePoints float64 `json:"average_points"`

	// MedianPoints is the median score. For even-length inputs the two
	// middle values are averaged.
	MedianPoints float64 `json:"median_points"`

	// TopPerformer is the player at position 1, nil when empty.
	TopPerformer *Player `json:"top_performer,omitempty"`

	// Statistics holds the score distribution summary.
	Statistics Statistics `json:"statistics"`

	// LastUpdated is the time of the processing pass.
	LastUpdated time.Time `json:"last_updated"`
}

// HistoricalRecord is a player's state in a previous snapshot, used to
// compute trend fields.
type HistoricalRecord struct {
	PlayerID string    `json:"player_id"`
	Points   int       `json:"points"`
	Position int       `json:"position"`
	TakenAt  time.Time `json:"taken_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSED VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// LevelProgress carries the best-effort enrichment fetched from the
// player-status endpoint.
type LevelProgress struct {
	// Level is the player's current level label.
	Level string `json:"level"`

	// PercentCompleted is the progress towards the next level (0-100).
	PercentCompleted float64 `json:"percent_completed"`

	// PointsToNextLevel is the remaining score gap to the next level.
	PointsToNextLevel int `json:"points_to_next_level"`
}

// PersonalRanking is the player-centric view: the player's own card, the
// top performers, and a window of players immediately around them.
type PersonalRanking struct {
	// LeaderboardID identifies the leaderboard this view was built from.
	LeaderboardID string `json:"leaderboard_id"`

	// Player is the requesting player's own record.
	Player Player `json:"player"`

	// TopPlayers holds the leaderboard's top performers.
	TopPlayers []Player `json:"top_players"`

	// ContextPlayers is the window of players immediately above and below
	// the requesting player, including the player itself.
	ContextPlayers []Player `json:"context_players"`

	// Level is the best-effort level enrichment; nil when the secondary
	// fetch failed.
	Level *LevelProgress `json:"level,omitempty"`

	// TotalParticipants is the leaderboard size.
	TotalParticipants int `json:"total_participants"`

	// LastUpdated is the time this view was assembled.
	LastUpdated time.Time `json:"last_updated"`
}

// GlobalRanking is the full, unfiltered ranking of a leaderboard,
// intended for public display.
type GlobalRanking struct {
	// LeaderboardID identifies the leaderboard.
	LeaderboardID string `json:"leaderboard_id"`

	// Players holds every participant, ordered by position.
	Players []Player `json:"players"`

	// TotalParticipants is the leaderboard size.
	TotalParticipants int `json:"total_participants"`

	// LastUpdated is the time this view was assembled.
	LastUpdated time.Time `json:"last_updated"`
}

// PlayerStatus is the payload of the player-status endpoint, consumed
// only for enrichment.
type PlayerStatus struct {
	PlayerID          string  `json:"player_id"`
	Level             string  `json:"level"`
	PercentCompleted  float64 `json:"percent_completed"`
	PointsToNextLevel int     `json:"points_to_next_level"`
	TotalPoints       int     `json:"total_points"`
}

// RaceParticipant is one entry of the race visualization: a top-N player
// mapped onto a normalized progress track.
type RaceParticipant struct {
	// PlayerID identifies the player.
	PlayerID string `json:"player_id"`

	// PlayerName is the display name.
	PlayerName string `json:"player_name"`

	// Points is the current score.
	Points int `json:"points"`

	// Position is the tie-aware position.
	Position int `json:"position"`

	// Progress is the normalized [0,100] track progress
	// (points / maxPoints * 100).
	Progress float64 `json:"progress"`

	// VehicleTier is the cosmetic tier derived from the position
	// (1 is the leader's tier).
	VehicleTier int `json:"vehicle_tier"`

	// Color is the deterministic display color for this track index.
	Color string `json:"color"`

	// IsCurrentUser flags the entry matching the requesting player.
	IsCurrentUser bool `json:"is_current_user"`
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardQuery selects a slice of one leaderboard's data. Its JSON
// form feeds the cache query hash, so field names are part of the cache
// contract: equal queries must serialize identically.
type LeaderboardQuery struct {
	// MaxPositions caps the number of rows returned; 0 means all.
	MaxPositions int `json:"max_positions,omitempty"`

	// Period filters by competition window label.
	Period string `json:"period,omitempty"`

	// Team filters by team label.
	Team string `json:"team,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrPlayerNotFound - the target player is absent from the ranking.
	// Callers of the contextual window assume the target is present, so
	// this is a hard error rather than an empty result.
	ErrPlayerNotFound = errors.New("ranking: player not found in leaderboard")

	// ErrNoLeaderboards - the upstream returned an empty leaderboard list,
	// so no active leaderboard can be resolved.
	ErrNoLeaderboards = errors.New("ranking: no leaderboards available")

	// ErrInvalidContextSize - a non-positive context window was requested.
	ErrInvalidContextSize = errors.New("ranking: context size must be positive")
)
