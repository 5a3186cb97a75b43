// Package healthprobes implements the per-service readiness and progress
// queries used by the orchestrator to advance a slot from Running towards
// Syncing/Ready.
package healthprobes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the HTTP client used by every probe. A 60s timeout matches the
// concurrency model's fixed ceiling for individual health-probe calls.
var Client = &http.Client{Timeout: 60 * time.Second}

// OgmiosHealth mirrors the fields consumed from Ogmios's GET /health body.
type OgmiosHealth struct {
	NetworkSynchronization float64 `json:"networkSynchronization"`
	LastKnownTip           struct {
		Slot   uint64 `json:"slot"`
		Height uint64 `json:"height"`
	} `json:"lastKnownTip"`
}

// Ogmios queries GET {baseURL}/health and decodes the sync/tip fields.
func Ogmios(ctx context.Context, baseURL string) (OgmiosHealth, error) {
	var h OgmiosHealth
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := Client.Do(req)
	if err != nil {
		return h, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return h, fmt.Errorf("ogmios health status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode ogmios health: %w", err)
	}
	return h, nil
}

// OgmiosHealthy reports whether Ogmios answered its health endpoint with a
// 2xx status, independent of sync progress.
func OgmiosHealthy(ctx context.Context, baseURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := Client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
