// Package funifier implements the Funifier gamification API client.
// This package handles all communication with the Funifier backend:
// leaderboard definitions, leaderboard data, and player status.
//
// The client deliberately does not retry: retry policy belongs to the
// caller, which knows whether a read is latency-sensitive. It does
// carry a circuit breaker so a dead upstream fails fast instead of
// tying up request handlers.
package funifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/pkg/circuitbreaker"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Funifier API client.
type ClientConfig struct {
	// BaseURL is the Funifier API base URL, e.g. "https://service.funifier.com/v3".
	BaseURL string

	// APIKey identifies the Funifier application.
	APIKey string

	// APISecret authenticates the application. APIKey and APISecret are
	// sent as Basic auth, per the Funifier API convention.
	APISecret string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Funifier API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	log        *logger.Logger
	breaker    *circuitbreaker.CircuitBreaker
	authHeader string
}

// NewClient creates a new Funifier API client.
func NewClient(config ClientConfig) *Client {
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("funifier_client"))

	var authHeader string
	if config.APIKey != "" {
		credentials := config.APIKey + ":" + config.APISecret
		authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log: log,
		breaker: circuitbreaker.FunifierBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}),
		authHeader: authHeader,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboards fetches all leaderboard definitions.
func (c *Client) GetLeaderboards(ctx context.Context) ([]ranking.Leaderboard, error) {
	var response LeaderboardsResponseDTO
	if err := c.doRequest(ctx, http.MethodGet, "/leaderboard", nil, &response); err != nil {
		return nil, fmt.Errorf("get leaderboards: %w", err)
	}
	return leaderboardsToDomain(response.Leaderboards), nil
}

// GetLeaderboardData fetches the participant rows of one leaderboard.
func (c *Client) GetLeaderboardData(ctx context.Context, leaderboardID string, query ranking.LeaderboardQuery) ([]ranking.Leader, error) {
	params := url.Values{}
	if query.MaxPositions > 0 {
		params.Set("max_positions", strconv.Itoa(query.MaxPositions))
	}
	if query.Period != "" {
		params.Set("period", query.Period)
	}
	if query.Team != "" {
		params.Set("team", query.Team)
	}

	path := fmt.Sprintf("/leaderboard/%s/leader/aggregate", url.PathEscape(leaderboardID))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response LeadersResponseDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get leaderboard data %s: %w", leaderboardID, err)
	}
	return leadersToDomain(response.Leaders), nil
}

// GetPersonalRanking fetches the rows around one player in a
// leaderboard, as delivered by the upstream neighbors endpoint.
func (c *Client) GetPersonalRanking(ctx context.Context, leaderboardID, playerID string) ([]ranking.Leader, error) {
	path := fmt.Sprintf("/leaderboard/%s/leader/%s/neighbors",
		url.PathEscape(leaderboardID), url.PathEscape(playerID))

	var response LeadersResponseDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get personal ranking %s/%s: %w", leaderboardID, playerID, err)
	}
	return leadersToDomain(response.Leaders), nil
}

// GetGlobalRanking fetches the full participant set of one leaderboard.
func (c *Client) GetGlobalRanking(ctx context.Context, leaderboardID string) ([]ranking.Leader, error) {
	return c.GetLeaderboardData(ctx, leaderboardID, ranking.LeaderboardQuery{})
}

// ══════════════════════════════════════════════════════════════════════════════
// PLAYER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetPlayerStatus fetches one player's level status. Consumers treat
// this as best-effort enrichment.
func (c *Client) GetPlayerStatus(ctx context.Context, playerID string) (*ranking.PlayerStatus, error) {
	path := fmt.Sprintf("/player/%s/status", url.PathEscape(playerID))

	var response PlayerStatusDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get player status %s: %w", playerID, err)
	}

	status := response.toDomain()
	return &status, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs one HTTP request through the circuit breaker.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doSingleRequest(ctx, method, path, body, result)
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body any, result any) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("funifier api request",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)))

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// IsRetryable reports whether a client error is worth retrying: server
// errors and transport failures are, client errors and an open circuit
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}

	// Anything else is a transport-level failure.
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the Funifier API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	err := c.doSingleRequest(ctx, http.MethodGet, "/leaderboard", nil, nil)
	return err == nil
}

// BreakerState returns the circuit breaker's current state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Reset resets the circuit breaker.
func (c *Client) Reset() {
	c.breaker.Reset()
}
