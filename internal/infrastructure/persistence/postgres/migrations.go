// Package postgres implements the PostgreSQL persistence layer for Ranking Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE RANKING SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create ranking snapshot tables
-- Version: 001
-- Purpose: Preserve per-leaderboard ranking state between processing
-- passes, so trend fields (position change, points gained) can be
-- computed against the previous day.

CREATE TABLE IF NOT EXISTS ranking_snapshots (
    id UUID PRIMARY KEY,
    leaderboard_id VARCHAR(100) NOT NULL,
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    total_participants INTEGER NOT NULL DEFAULT 0,
    total_points BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_leaderboard ON ranking_snapshots(leaderboard_id);
CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_taken_at ON ranking_snapshots(taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_leaderboard_at ON ranking_snapshots(leaderboard_id, taken_at DESC);

-- One row per player per snapshot
CREATE TABLE IF NOT EXISTS ranking_snapshot_entries (
    id SERIAL PRIMARY KEY,
    snapshot_id UUID NOT NULL REFERENCES ranking_snapshots(id) ON DELETE CASCADE,
    player_id VARCHAR(100) NOT NULL,
    points INTEGER NOT NULL,
    position INTEGER NOT NULL,

    UNIQUE(snapshot_id, player_id),
    CONSTRAINT valid_position CHECK (position >= 1),
    CONSTRAINT valid_points CHECK (points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_entries_snapshot ON ranking_snapshot_entries(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_entries_player ON ranking_snapshot_entries(player_id);
`

const migration001Down = `
DROP TABLE IF EXISTS ranking_snapshot_entries;
DROP TABLE IF EXISTS ranking_snapshots;
`
