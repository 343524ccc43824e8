package funifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/pkg/circuitbreaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.APIKey = "test-key"
	cfg.APISecret = "test-secret"
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg)
}

func TestClient_GetLeaderboards(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leaderboard", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Authorization"), "requests must carry Basic auth")

		json.NewEncoder(w).Encode(LeaderboardsResponseDTO{
			Leaderboards: []LeaderboardDTO{
				{ID: "lb1", Title: "Spring Sprint", Active: true},
				{ID: "lb2", Title: "All Time"},
			},
		})
	})

	boards, err := client.GetLeaderboards(context.Background())

	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, "lb1", boards[0].ID)
	assert.Equal(t, "Spring Sprint", boards[0].Title)
	assert.True(t, boards[0].Active)
}

func TestClient_GetLeaderboardData_QueryParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leaderboard/lb1/leader/aggregate", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("max_positions"))
		assert.Equal(t, "weekly", r.URL.Query().Get("period"))

		json.NewEncoder(w).Encode(LeadersResponseDTO{
			Leaders: []LeaderDTO{
				{ID: "r1", PlayerID: "p1", Name: "Ana", Points: 1200},
			},
		})
	})

	leaders, err := client.GetLeaderboardData(context.Background(), "lb1", ranking.LeaderboardQuery{
		MaxPositions: 50,
		Period:       "weekly",
	})

	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, "p1", leaders[0].PlayerID)
	assert.Equal(t, "Ana", leaders[0].PlayerName)
	assert.Equal(t, 1200, leaders[0].Points)
}

func TestClient_GetPlayerStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player/p1/status", r.URL.Path)

		json.NewEncoder(w).Encode(PlayerStatusDTO{
			PlayerID:          "p1",
			Level:             "silver",
			PercentCompleted:  62.5,
			PointsToNextLevel: 300,
		})
	})

	status, err := client.GetPlayerStatus(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "silver", status.Level)
	assert.InDelta(t, 62.5, status.PercentCompleted, 0.001)
	assert.Equal(t, 300, status.PointsToNextLevel)
}

func TestClient_ServerErrorBecomesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "mongo down"})
	})

	_, err := client.GetLeaderboards(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "mongo down", apiErr.Message)
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.GetLeaderboards(ctx)
		require.Error(t, err)
	}

	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())

	_, err := client.GetLeaderboards(ctx)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen, "an open circuit fails fast without hitting the upstream")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Status: http.StatusInternalServerError}))
	assert.True(t, IsRetryable(&APIError{Status: http.StatusTooManyRequests}))
	assert.False(t, IsRetryable(&APIError{Status: http.StatusNotFound}))
	assert.False(t, IsRetryable(&APIError{Status: http.StatusUnauthorized}))
	assert.False(t, IsRetryable(circuitbreaker.ErrCircuitOpen))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
