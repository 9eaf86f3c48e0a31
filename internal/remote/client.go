// Package remote is the typed HTTP client for the platform REST API: the
// endpoints the poller and the scenario runner consume. It attaches the
// bearer token when one is configured, keeps a politeness rate limit, and
// collapses identical concurrent fetches.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/urbanpulse/citypulse/internal/models"
)

// Config holds client configuration.
type Config struct {
	BaseURL string        // Platform base URL, e.g. https://api.urbanpulse.example
	Token   string        // Optional bearer token
	Timeout time.Duration // Per-request timeout (default: 15s)
	RPS     float64       // Politeness rate limit (default: 10)
	Burst   int           // Rate limit burst (default: 20)
}

// Validate validates the client configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must be http or https")
	}
	return nil
}

// Client talks to the platform REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	group      singleflight.Group
}

// NewClient creates a platform API client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RPS <= 0 {
		config.RPS = 10
	}
	if config.Burst <= 0 {
		config.Burst = 20
	}

	base, _ := url.Parse(config.BaseURL)
	return &Client{
		baseURL: base,
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
	}, nil
}

// SetToken replaces the bearer token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// environmentHistoryResponse mirrors the platform's wrapper envelope.
type environmentHistoryResponse struct {
	City    string                    `json:"city"`
	Count   int                       `json:"count"`
	History []models.EnvironmentPoint `json:"history"`
}

// EnvironmentHistory fetches the hourly environment series for the scope.
func (c *Client) EnvironmentHistory(ctx context.Context, scope string, hours int) ([]models.EnvironmentPoint, error) {
	key := fmt.Sprintf("env:%s:%d", scope, hours)
	v, err, _ := c.group.Do(key, func() (any, error) {
		var resp environmentHistoryResponse
		q := url.Values{"hours": {strconv.Itoa(hours)}}
		if err := c.get(ctx, q, &resp, "api", "v1", "metrics", "environment", scope, "history"); err != nil {
			return nil, err
		}
		return resp.History, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.EnvironmentPoint), nil
}

type trafficResponse struct {
	City  string                `json:"city"`
	Count int                   `json:"count"`
	Zones []models.TrafficPoint `json:"zones"`
}

// TrafficByZone fetches the latest per-zone traffic readings for the scope.
func (c *Client) TrafficByZone(ctx context.Context, scope string, windowMinutes int) ([]models.TrafficPoint, error) {
	key := fmt.Sprintf("traffic:%s:%d", scope, windowMinutes)
	v, err, _ := c.group.Do(key, func() (any, error) {
		var resp trafficResponse
		q := url.Values{"window": {strconv.Itoa(windowMinutes)}}
		if err := c.get(ctx, q, &resp, "api", "v1", "metrics", "traffic", scope); err != nil {
			return nil, err
		}
		return resp.Zones, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.TrafficPoint), nil
}

type riskHistoryResponse struct {
	City    string             `json:"city"`
	Count   int                `json:"count"`
	History []models.RiskPoint `json:"history"`
}

// RiskHistory fetches the stored risk score series for the scope.
func (c *Client) RiskHistory(ctx context.Context, scope string, limit int) ([]models.RiskPoint, error) {
	key := fmt.Sprintf("risk-history:%s:%d", scope, limit)
	v, err, _ := c.group.Do(key, func() (any, error) {
		var resp riskHistoryResponse
		q := url.Values{"limit": {strconv.Itoa(limit)}}
		if err := c.get(ctx, q, &resp, "api", "v1", "risk", scope, "history"); err != nil {
			return nil, err
		}
		return resp.History, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.RiskPoint), nil
}

// ActiveAlerts fetches the currently active alerts for the scope.
func (c *Client) ActiveAlerts(ctx context.Context, scope string) (*models.AlertSummary, error) {
	var resp models.AlertSummary
	q := url.Values{"active_only": {"true"}}
	if err := c.get(ctx, q, &resp, "api", "v1", "alerts", scope); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Risk fetches the current composite risk assessment for the scope.
func (c *Client) Risk(ctx context.Context, scope string) (*models.RiskAssessment, error) {
	var resp models.RiskAssessment
	if err := c.get(ctx, nil, &resp, "api", "v1", "risk", scope); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Anomalies fetches the current anomaly summary for the scope.
func (c *Client) Anomalies(ctx context.Context, scope string) (*models.AnomalySummary, error) {
	var resp models.AnomalySummary
	if err := c.get(ctx, nil, &resp, "api", "v1", "anomalies", scope); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Simulate runs a what-if scenario against the platform's engine.
func (c *Client) Simulate(ctx context.Context, scope string, params models.ScenarioParameters) (models.ScenarioResult, error) {
	var result models.ScenarioResult

	body, err := json.Marshal(params)
	if err != nil {
		return result, fmt.Errorf("marshal scenario: %w", err)
	}

	u := c.baseURL.JoinPath("api", "v1", "scenario", "simulate", scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(ctx, req, &result); err != nil {
		return result, err
	}
	return result, nil
}

// get issues a rate-limited GET for the path elements and decodes into out.
func (c *Client) get(ctx context.Context, query url.Values, out any, elems ...string) error {
	u := c.baseURL.JoinPath(elems...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(ctx, req, out)
}

// platformError is the platform's error body.
type platformError struct {
	Detail string `json:"detail"`
}

// do sends the request with auth and rate limiting, mapping non-2xx
// responses to APIError.
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := http.StatusText(resp.StatusCode)
		var pe platformError
		if err := json.Unmarshal(body, &pe); err == nil && pe.Detail != "" {
			msg = pe.Detail
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
