package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
)

// SnapshotRepository persists ranking snapshots: one row per leaderboard
// per processing pass, with an entry per player. The latest snapshot of
// a leaderboard supplies the historical records that trend computation
// compares against.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// SaveSnapshot stores the current ranking state of one leaderboard.
// The snapshot and all its entries are written in one transaction, so a
// half-written snapshot can never be picked up as history.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, leaderboardID string, players []ranking.Player, takenAt time.Time) (string, error) {
	snapshotID := uuid.NewString()

	totalPoints := 0
	for _, p := range players {
		totalPoints += p.Points
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ranking_snapshots (id, leaderboard_id, taken_at, total_participants, total_points)
			VALUES ($1, $2, $3, $4, $5)
		`, snapshotID, leaderboardID, takenAt, len(players), totalPoints)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		rows := make([][]any, len(players))
		for i, p := range players {
			rows[i] = []any{snapshotID, p.PlayerID, p.Points, p.Position}
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"ranking_snapshot_entries"},
			[]string{"snapshot_id", "player_id", "points", "position"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy snapshot entries: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save snapshot for %s: %w", leaderboardID, err)
	}

	return snapshotID, nil
}

// LatestSnapshot returns the most recent snapshot of one leaderboard as
// a player-id keyed history map. A leaderboard with no snapshots yet
// returns an empty map, not an error: every player is then "new".
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, leaderboardID string) (map[string]ranking.HistoricalRecord, error) {
	var snapshotID string
	var takenAt time.Time

	err := r.conn.QueryRow(ctx, `
		SELECT id, taken_at
		FROM ranking_snapshots
		WHERE leaderboard_id = $1
		ORDER BY taken_at DESC
		LIMIT 1
	`, leaderboardID).Scan(&snapshotID, &takenAt)
	if err != nil {
		if IsNoRows(err) {
			return map[string]ranking.HistoricalRecord{}, nil
		}
		return nil, fmt.Errorf("query latest snapshot for %s: %w", leaderboardID, err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT player_id, points, position
		FROM ranking_snapshot_entries
		WHERE snapshot_id = $1
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot entries %s: %w", snapshotID, err)
	}
	defer rows.Close()

	history := make(map[string]ranking.HistoricalRecord)
	for rows.Next() {
		var record ranking.HistoricalRecord
		if err := rows.Scan(&record.PlayerID, &record.Points, &record.Position); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}
		record.TakenAt = takenAt
		history[record.PlayerID] = record
	}

	return history, rows.Err()
}

// PlayerHistory returns one player's records across the last n
// snapshots of a leaderboard, newest first.
func (r *SnapshotRepository) PlayerHistory(ctx context.Context, leaderboardID, playerID string, n int) ([]ranking.HistoricalRecord, error) {
	if n <= 0 {
		n = 30
	}

	rows, err := r.conn.Query(ctx, `
		SELECT e.player_id, e.points, e.position, s.taken_at
		FROM ranking_snapshot_entries e
		JOIN ranking_snapshots s ON s.id = e.snapshot_id
		WHERE s.leaderboard_id = $1 AND e.player_id = $2
		ORDER BY s.taken_at DESC
		LIMIT $3
	`, leaderboardID, playerID, n)
	if err != nil {
		return nil, fmt.Errorf("query player history %s/%s: %w", leaderboardID, playerID, err)
	}
	defer rows.Close()

	var records []ranking.HistoricalRecord
	for rows.Next() {
		var record ranking.HistoricalRecord
		if err := rows.Scan(&record.PlayerID, &record.Points, &record.Position, &record.TakenAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// PruneSnapshots deletes snapshots older than the retention window,
// keeping at least the newest snapshot per leaderboard regardless of
// age. Returns the number of snapshots removed.
func (r *SnapshotRepository) PruneSnapshots(ctx context.Context, olderThan time.Duration) (int, error) {
	threshold := time.Now().Add(-olderThan)

	tag, err := r.conn.Exec(ctx, `
		DELETE FROM ranking_snapshots s
		WHERE s.taken_at < $1
		  AND s.id NOT IN (
			SELECT DISTINCT ON (leaderboard_id) id
			FROM ranking_snapshots
			ORDER BY leaderboard_id, taken_at DESC
		  )
	`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
