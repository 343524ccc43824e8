package ranking

import (
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// POSITION ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// CalculatePositions sorts leaders by points (descending) and assigns
// tie-aware positions using standard competition ranking: entries with
// equal points share a position, and the next distinct (lower) score
// receives 1 + the number of entries ranked above it.
//
// Example: points [1000, 1000, 800] produce positions [1, 1, 3].
//
// The input slice is not modified; a sorted copy is returned.
func CalculatePositions(leaders []Leader) []Leader {
	sorted := make([]Leader, len(leaders))
	copy(sorted, leaders)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Points != sorted[j].Points {
			return sorted[i].Points > sorted[j].Points
		}
		// Equal points: order by name, then id, for a stable output.
		if sorted[i].PlayerName != sorted[j].PlayerName {
			return sorted[i].PlayerName < sorted[j].PlayerName
		}
		return sorted[i].PlayerID < sorted[j].PlayerID
	})

	for i := range sorted {
		if i > 0 && sorted[i].Points == sorted[i-1].Points {
			sorted[i].Position = sorted[i-1].Position
		} else {
			sorted[i].Position = i + 1
		}
	}

	return sorted
}

// ══════════════════════════════════════════════════════════════════════════════
// TREND METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics holds the per-player trend metrics computed against an
// optional historical record.
type Metrics struct {
	// PositionChange is the trend direction; ChangeNew when no historical
	// record exists.
	PositionChange PositionChange

	// PointsGainedToday is max(0, current - historical). A points
	// decrease yields zero gain, never a negative value.
	PointsGainedToday int

	// PercentileRank is the share of players with strictly fewer points,
	// in percent.
	PercentileRank float64
}

// CalculateRankingMetrics computes the trend metrics for one leader.
// The current leader must already carry its recomputed position; the
// change direction compares positions, not points. all is the full set
// of leaders in the same leaderboard and is used for the percentile.
func CalculateRankingMetrics(current Leader, historical *HistoricalRecord, all []Leader) Metrics {
	m := Metrics{PositionChange: ChangeNew}

	if historical != nil {
		switch {
		case current.Position < historical.Position:
			m.PositionChange = ChangeUp
		case current.Position > historical.Position:
			m.PositionChange = ChangeDown
		default:
			m.PositionChange = ChangeSame
		}

		if gained := current.Points - historical.Points; gained > 0 {
			m.PointsGainedToday = gained
		}
	}

	if len(all) > 0 {
		below := 0
		for _, l := range all {
			if l.Points < current.Points {
				below++
			}
		}
		m.PercentileRank = float64(below) / float64(len(all)) * 100
	}

	return m
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// ScoreSummary is the statistical summary of one leaderboard's scores.
// All fields are zero for empty input; no operation errors on empty.
type ScoreSummary struct {
	TotalPoints        int
	AveragePoints      float64
	MedianPoints       float64
	ActiveParticipants int
	CompletionRate     float64
}

// CalculateStatistics computes the score summary for a set of leaders.
// The median averages the two middle values for even-length inputs.
func CalculateStatistics(leaders []Leader) ScoreSummary {
	if len(leaders) == 0 {
		return ScoreSummary{}
	}

	points := make([]int, len(leaders))
	summary := ScoreSummary{}
	for i, l := range leaders {
		points[i] = l.Points
		summary.TotalPoints += l.Points
		if l.Points > 0 {
			summary.ActiveParticipants++
		}
	}
	sort.Ints(points)

	n := len(points)
	summary.AveragePoints = float64(summary.TotalPoints) / float64(n)
	if n%2 == 0 {
		summary.MedianPoints = float64(points[n/2-1]+points[n/2]) / 2
	} else {
		summary.MedianPoints = float64(points[n/2])
	}
	summary.CompletionRate = float64(summary.ActiveParticipants) / float64(n) * 100

	return summary
}

// ══════════════════════════════════════════════════════════════════════════════
// FULL PROCESSING PASS
// ══════════════════════════════════════════════════════════════════════════════

// ProcessLeaderboardData runs a full processing pass: position
// assignment, trend metrics against the supplied history, and the
// statistical summary. history maps player id to that player's record in
// the previous snapshot and may be nil.
//
// Empty input returns a zeroed aggregate with TopPerformer nil; it never
// errors.
func ProcessLeaderboardData(leaders []Leader, history map[string]HistoricalRecord, now time.Time) *ProcessedRankingData {
	ranked := CalculatePositions(leaders)
	summary := CalculateStatistics(ranked)

	players := make([]Player, len(ranked))
	for i, l := range ranked {
		var hist *HistoricalRecord
		if h, ok := history[l.PlayerID]; ok {
			hist = &h
		}
		metrics := CalculateRankingMetrics(l, hist, ranked)

		players[i] = Player{
			PlayerID:          l.PlayerID,
			PlayerName:        l.PlayerName,
			Points:            l.Points,
			Position:          l.Position,
			PositionChange:    metrics.PositionChange,
			PointsGainedToday: metrics.PointsGainedToday,
			PercentileRank:    metrics.PercentileRank,
			Avatar:            l.Avatar,
			Team:              l.Team,
			LastUpdated:       now,
		}
		if hist != nil {
			prev := hist.Position
			players[i].PreviousPosition = &prev
		}
	}

	data := &ProcessedRankingData{
		Players:           players,
		TotalParticipants: len(players),
		AveragePoints:     summary.AveragePoints,
		MedianPoints:      summary.MedianPoints,
		Statistics: Statistics{
			TotalPoints:        summary.TotalPoints,
			ActiveParticipants: summary.ActiveParticipants,
			CompletionRate:     summary.CompletionRate,
		},
		LastUpdated: now,
	}
	if len(players) > 0 {
		top := players[0]
		data.TopPerformer = &top
	}

	return data
}

// ══════════════════════════════════════════════════════════════════════════════
// RACE VISUALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRaceSize is the number of leaders shown on the race track.
const DefaultRaceSize = 10

// racePalette is the fixed display palette, assigned cyclically by track
// index so each lane keeps a stable color across refreshes.
var racePalette = []string{
	"#E10600", // red
	"#0090FF", // blue
	"#00D2BE", // teal
	"#FF8700", // orange
	"#52E252", // green
	"#9B59B6", // purple
	"#F7E017", // yellow
	"#FF69B4", // pink
	"#1ABC9C", // turquoise
	"#95A5A6", // gray
}

// vehicleTier maps a position to its cosmetic vehicle tier.
func vehicleTier(position int) int {
	switch {
	case position == 1:
		return 1
	case position <= 3:
		return 2
	case position <= 5:
		return 3
	case position <= DefaultRaceSize:
		return 4
	default:
		return 5
	}
}

// TransformToRaceVisualization maps the top-N leaders by points onto the
// race track: progress normalized to [0,100] against the leader's score,
// a vehicle tier from the position, and a stable palette color per lane.
// currentPlayerID flags the requesting player's lane; topN <= 0 falls
// back to DefaultRaceSize.
func TransformToRaceVisualization(leaders []Leader, currentPlayerID string, topN int) []RaceParticipant {
	if topN <= 0 {
		topN = DefaultRaceSize
	}

	ranked := CalculatePositions(leaders)
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	if len(ranked) == 0 {
		return []RaceParticipant{}
	}

	maxPoints := ranked[0].Points

	race := make([]RaceParticipant, len(ranked))
	for i, l := range ranked {
		progress := 0.0
		if maxPoints > 0 {
			progress = float64(l.Points) / float64(maxPoints) * 100
		}

		race[i] = RaceParticipant{
			PlayerID:      l.PlayerID,
			PlayerName:    l.PlayerName,
			Points:        l.Points,
			Position:      l.Position,
			Progress:      progress,
			VehicleTier:   vehicleTier(l.Position),
			Color:         racePalette[i%len(racePalette)],
			IsCurrentUser: l.PlayerID == currentPlayerID,
		}
	}

	return race
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXTUAL WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// GetContextualRanking returns up to contextSize players immediately
// above and below the target in position order, plus the target itself.
// players must already be sorted by position. An absent target is a hard
// error (ErrPlayerNotFound) because callers assume the target is always
// present.
func GetContextualRanking(players []Player, targetPlayerID string, contextSize int) ([]Player, error) {
	if contextSize <= 0 {
		return nil, ErrInvalidContextSize
	}

	idx := -1
	for i, p := range players {
		if p.PlayerID == targetPlayerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrPlayerNotFound
	}

	from := idx - contextSize
	if from < 0 {
		from = 0
	}
	to := idx + contextSize + 1
	if to > len(players) {
		to = len(players)
	}

	window := make([]Player, to-from)
	copy(window, players[from:to])
	return window, nil
}
