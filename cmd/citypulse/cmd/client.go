package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/statusapi"
)

// defaultAPIAddress mirrors the status API default in the daemon config.
const defaultAPIAddress = "127.0.0.1:7617"

// apiClient talks to a running daemon over its local status API.
type apiClient struct {
	base   string
	client *http.Client
}

// newAPIClient resolves the daemon address from the --api flag, the config
// file if one was given, or the built-in default.
func newAPIClient() *apiClient {
	address := apiAddress
	if address == "" && configFile != "" {
		if cfg, err := LoadConfig(configFile); err == nil {
			address = cfg.StatusAPI.Address
		}
	}
	if address == "" {
		address = defaultAPIAddress
	}

	return &apiClient{
		base: "http://" + address,
		// Scope switches block on a bounded redial server-side.
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) getSession(ctx context.Context) (statusapi.SessionInfo, error) {
	var info statusapi.SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &info)
	return info, err
}

func (c *apiClient) setScope(ctx context.Context, city string) (statusapi.ScopeStatus, error) {
	req := struct {
		City string `json:"city"`
	}{City: city}

	var status statusapi.ScopeStatus
	err := c.do(ctx, http.MethodPut, "/api/v1/session/scope", req, &status)
	return status, err
}

func (c *apiClient) getView(ctx context.Context) (statusapi.ViewSnapshot, error) {
	var snapshot statusapi.ViewSnapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/view", nil, &snapshot)
	return snapshot, err
}

func (c *apiClient) getHistory(ctx context.Context) (statusapi.HistoryPage, error) {
	var page statusapi.HistoryPage
	err := c.do(ctx, http.MethodGet, "/api/v1/history", nil, &page)
	return page, err
}

func (c *apiClient) clearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/history", nil, nil)
}

func (c *apiClient) simulate(ctx context.Context, params models.ScenarioParameters) (models.ScenarioResult, error) {
	var result models.ScenarioResult
	err := c.do(ctx, http.MethodPost, "/api/v1/simulate", params, &result)
	return result, err
}

// do performs one request and decodes the response envelope. API errors come
// back as *statusapi.Error so callers can branch on the code.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("no citypulse daemon reachable at %s (is one running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope struct {
		Data  json.RawMessage  `json:"data"`
		Error *statusapi.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		envelope.Error.Status = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
