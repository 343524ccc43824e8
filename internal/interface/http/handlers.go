// Package http implements the REST API for Ranking Hub.
package http

import (
	"errors"
	"net/http"

	"github.com/gamifyhub/ranking-hub/internal/application/dashboard"
	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Ranking Hub API",
		"version":     "v1",
		"description": "Gamification ranking dashboard backend",
		"endpoints": map[string]string{
			"health":       "/health",
			"dashboard":    "/api/v1/dashboard",
			"leaderboards": "/api/v1/leaderboards",
			"metrics":      "/metrics",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// handleGetDashboard handles GET /api/v1/dashboard.
//
// Query parameters: leaderboard_id pins the active leaderboard,
// player_id enables the personal section, refresh bypasses the cache.
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	req := dashboard.DashboardRequest{
		LeaderboardID: getQueryParam(r, "leaderboard_id", ""),
		PlayerID:      getQueryParam(r, "player_id", ""),
		ForceRefresh:  getQueryParamBool(r, "refresh"),
	}

	data, err := s.deps.Orchestrator.GetDashboardData(r.Context(), req)
	if err != nil {
		s.writeRankingError(w, r, err, "failed to build dashboard")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, data, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboards handles GET /api/v1/leaderboards.
func (s *Server) handleGetLeaderboards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.deps.Orchestrator.GetLeaderboards(r.Context(), getQueryParamBool(r, "refresh"))
	if err != nil {
		s.writeRankingError(w, r, err, "failed to get leaderboards")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, boards, &ResponseMeta{TotalCount: len(boards)})
}

// handleGetLeaderboardData handles GET /api/v1/leaderboards/{id}/ranking.
func (s *Server) handleGetLeaderboardData(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	if leaderboardID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID is required")
		return
	}

	query := ranking.LeaderboardQuery{
		MaxPositions: getQueryParamInt(r, "max_positions", 0),
		Period:       getQueryParam(r, "period", ""),
		Team:         getQueryParam(r, "team", ""),
	}

	leaders, err := s.deps.Orchestrator.GetLeaderboardData(r.Context(), leaderboardID, query, getQueryParamBool(r, "refresh"))
	if err != nil {
		s.writeRankingError(w, r, err, "failed to get leaderboard data")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, leaders, &ResponseMeta{TotalCount: len(leaders)})
}

// handleGetProcessedData handles GET /api/v1/leaderboards/{id}/ranking/processed.
func (s *Server) handleGetProcessedData(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	if leaderboardID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID is required")
		return
	}

	data, err := s.deps.Orchestrator.GetProcessedRankingData(r.Context(), leaderboardID, getQueryParamBool(r, "refresh"))
	if err != nil {
		s.writeRankingError(w, r, err, "failed to get processed ranking")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, data, &ResponseMeta{TotalCount: data.TotalParticipants})
}

// handleGetGlobalRanking handles GET /api/v1/leaderboards/{id}/ranking/global.
func (s *Server) handleGetGlobalRanking(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	if leaderboardID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID is required")
		return
	}

	global, err := s.deps.Orchestrator.GetGlobalRanking(r.Context(), leaderboardID, getQueryParamBool(r, "refresh"))
	if err != nil {
		s.writeRankingError(w, r, err, "failed to get global ranking")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, global, &ResponseMeta{TotalCount: global.TotalParticipants})
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSONAL RANKING HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPersonalRanking handles
// GET /api/v1/leaderboards/{id}/players/{playerId}/ranking.
func (s *Server) handleGetPersonalRanking(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	playerID := r.PathValue("playerId")
	if leaderboardID == "" || playerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID and player ID are required")
		return
	}

	personal, err := s.deps.Orchestrator.GetPersonalRanking(r.Context(), leaderboardID, playerID, getQueryParamBool(r, "refresh"))
	if err != nil {
		s.writeRankingError(w, r, err, "failed to get personal ranking")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, personal, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleInvalidateLeaderboard handles POST /api/v1/admin/cache/invalidate/{id}.
func (s *Server) handleInvalidateLeaderboard(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	if leaderboardID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID is required")
		return
	}

	removed := s.deps.Orchestrator.InvalidateLeaderboard(r.Context(), leaderboardID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard_id": leaderboardID,
		"removed":        removed,
	})
}

// handleInvalidatePlayerRanking handles
// POST /api/v1/admin/cache/invalidate/{id}/players/{playerId}.
func (s *Server) handleInvalidatePlayerRanking(w http.ResponseWriter, r *http.Request) {
	leaderboardID := r.PathValue("id")
	playerID := r.PathValue("playerId")
	if leaderboardID == "" || playerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Leaderboard ID and player ID are required")
		return
	}

	removed := s.deps.Orchestrator.InvalidatePlayerRanking(r.Context(), leaderboardID, playerID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard_id": leaderboardID,
		"player_id":      playerID,
		"removed":        removed,
	})
}

// handleClearCache handles POST /api/v1/admin/cache/clear.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	removed := s.deps.Orchestrator.ClearCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// handleCacheStats handles GET /api/v1/admin/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Caching is disabled")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeRankingError maps orchestrator errors to HTTP status codes.
// Domain not-found conditions become 404; everything else is a failed
// upstream read and becomes 502 so load balancers can distinguish our
// faults from the Funifier API's.
func (s *Server) writeRankingError(w http.ResponseWriter, r *http.Request, err error, message string) {
	s.logger.Error(message,
		logger.Err(err),
		logger.String("path", r.URL.Path),
		logger.String("request_id", getRequestID(r.Context())))

	switch {
	case errors.Is(err, ranking.ErrPlayerNotFound):
		writeJSONError(w, http.StatusNotFound, "player_not_found", "Player not found in leaderboard")
	case errors.Is(err, ranking.ErrNoLeaderboards):
		writeJSONError(w, http.StatusNotFound, "no_leaderboards", "No leaderboards available")
	default:
		writeJSONErrorWithDetails(w, http.StatusBadGateway, "upstream_error", message, err.Error())
	}
}
