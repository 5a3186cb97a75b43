// Package mithrilclient wraps the mithril-client sidecar: selecting a
// snapshot digest from the aggregator, building the download invocation and
// parsing the client's JSON-lined progress output.
package mithrilclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Stage enumerates the phases of a snapshot bootstrap.
type Stage string

const (
	StageFetchingSnapshot Stage = "fetching_snapshot"
	StageDownloading      Stage = "downloading"
	StageVerifying        Stage = "verifying"
	StageExtracting       Stage = "extracting"
	StageComplete         Stage = "complete"
)

// Progress is one parsed progress report from mithril-client's stdout.
type Progress struct {
	Stage           Stage   `json:"stage"`
	ProgressPercent float64 `json:"progress_percent"`
	BytesDownloaded uint64  `json:"bytes_downloaded"`
	TotalBytes      uint64  `json:"total_bytes"`
	Message         string  `json:"message"`
}

// ErrNoSnapshots is returned when the aggregator lists no snapshots.
var ErrNoSnapshots = errors.New("no snapshots available from Mithril aggregator")

// Client is the HTTP client used for aggregator queries.
var Client = &http.Client{Timeout: 60 * time.Second}

// FetchLatestDigest queries {aggregatorURL}/artifact/snapshots and returns
// the digest of the first (most recent) entry.
func FetchLatestDigest(ctx context.Context, aggregatorURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, aggregatorURL+"/artifact/snapshots", nil)
	if err != nil {
		return "", err
	}
	resp, err := Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query Mithril aggregator: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("Mithril aggregator status %d", resp.StatusCode)
	}
	var snapshots []struct {
		Digest string `json:"digest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return "", fmt.Errorf("parse Mithril snapshot list: %w", err)
	}
	if len(snapshots) == 0 || snapshots[0].Digest == "" {
		return "", ErrNoSnapshots
	}
	return snapshots[0].Digest, nil
}

// DownloadArgs builds the mithril-client invocation for downloading digest
// into downloadDir with JSON progress output on stdout.
func DownloadArgs(digest, aggregatorURL, genesisVKey, downloadDir string) []string {
	return []string{
		"cardano-db", "download", digest,
		"--backend", "v1",
		"--aggregator-endpoint", aggregatorURL,
		"--genesis-verification-key", genesisVKey,
		"--download-dir", downloadDir,
		"--json",
	}
}

// ParseProgress parses one JSON progress line. Lines that are not progress
// reports (plain text, malformed JSON, missing step) return ok=false.
func ParseProgress(line string) (Progress, bool) {
	var raw struct {
		Step            string  `json:"step"`
		Progress        float64 `json:"progress"`
		BytesDownloaded uint64  `json:"bytes_downloaded"`
		TotalBytes      uint64  `json:"total_bytes"`
		Message         string  `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Progress{}, false
	}
	if raw.Step == "" {
		return Progress{}, false
	}
	return Progress{
		Stage:           stageFromStep(raw.Step),
		ProgressPercent: raw.Progress,
		BytesDownloaded: raw.BytesDownloaded,
		TotalBytes:      raw.TotalBytes,
		Message:         raw.Message,
	}, true
}

// stageFromStep maps mithril-client's step tokens onto stages. Unknown
// tokens map to Downloading, the longest phase.
func stageFromStep(step string) Stage {
	switch step {
	case "fetching", "listing":
		return StageFetchingSnapshot
	case "downloading":
		return StageDownloading
	case "verifying", "certifying":
		return StageVerifying
	case "unpacking", "extracting":
		return StageExtracting
	case "done", "complete":
		return StageComplete
	default:
		return StageDownloading
	}
}
