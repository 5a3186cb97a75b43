// Package client is a small HTTP client for the supervisor's read-only
// status API, used by the CLI's status and logs commands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running supervisor's status API.
type Client struct {
	baseURL string
	client  *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the client defaults matching the daemon's default
// listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// New creates a status API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// AllStatus returns every slot's snapshot.
func (c *Client) AllStatus(ctx context.Context) ([]ProcessInfo, error) {
	var infos []ProcessInfo
	if err := c.getJSON(ctx, "/status", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Status returns one slot's snapshot.
func (c *Client) Status(ctx context.Context, name string) (ProcessInfo, error) {
	var info ProcessInfo
	err := c.getJSON(ctx, "/status?name="+url.QueryEscape(name), &info)
	return info, err
}

// Overall returns the synthesized stack state.
func (c *Client) Overall(ctx context.Context) (NodeStatus, error) {
	var st NodeStatus
	err := c.getJSON(ctx, "/status/overall", &st)
	return st, err
}

// Logs returns the last n buffered lines for one slot.
func (c *Client) Logs(ctx context.Context, name string, n int) ([]string, error) {
	var resp LogsResponse
	path := "/logs?name=" + url.QueryEscape(name) + "&n=" + strconv.Itoa(n)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
