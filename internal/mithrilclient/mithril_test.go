package mithrilclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseProgressDownloadLine(t *testing.T) {
	line := `{"step":"downloading","progress":0.5,"bytes_downloaded":500,"total_bytes":1000}`
	p, ok := ParseProgress(line)
	if !ok {
		t.Fatal("line not recognized as progress")
	}
	if p.Stage != StageDownloading {
		t.Fatalf("stage = %v", p.Stage)
	}
	if p.ProgressPercent != 0.5 || p.BytesDownloaded != 500 || p.TotalBytes != 1000 {
		t.Fatalf("fields = %+v", p)
	}
}

func TestParseProgressStageTokens(t *testing.T) {
	cases := map[string]Stage{
		"fetching":    StageFetchingSnapshot,
		"listing":     StageFetchingSnapshot,
		"downloading": StageDownloading,
		"verifying":   StageVerifying,
		"certifying":  StageVerifying,
		"unpacking":   StageExtracting,
		"extracting":  StageExtracting,
		"done":        StageComplete,
		"complete":    StageComplete,
		"warming-up":  StageDownloading, // unknown token falls back
	}
	for step, want := range cases {
		p, ok := ParseProgress(`{"step":"` + step + `"}`)
		if !ok {
			t.Fatalf("step %q rejected", step)
		}
		if p.Stage != want {
			t.Fatalf("step %q mapped to %v, want %v", step, p.Stage, want)
		}
	}
}

func TestParseProgressRejectsNonProgressLines(t *testing.T) {
	for _, line := range []string{
		"",
		"plain log text",
		"{not json",
		`{"message":"no step field"}`,
	} {
		if _, ok := ParseProgress(line); ok {
			t.Fatalf("line %q wrongly accepted", line)
		}
	}
}

func TestFetchLatestDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artifact/snapshots" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"digest":"abc123","size":42},{"digest":"older"}]`))
	}))
	defer srv.Close()

	digest, err := FetchLatestDigest(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchLatestDigest: %v", err)
	}
	if digest != "abc123" {
		t.Fatalf("digest = %q", digest)
	}
}

func TestFetchLatestDigestEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	_, err := FetchLatestDigest(context.Background(), srv.URL)
	if !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("err = %v, want ErrNoSnapshots", err)
	}
}

func TestDownloadArgsShape(t *testing.T) {
	args := DownloadArgs("digest1", "https://agg.example", "vkey", "/data/preprod/node-db")
	want := []string{
		"cardano-db", "download", "digest1",
		"--backend", "v1",
		"--aggregator-endpoint", "https://agg.example",
		"--genesis-verification-key", "vkey",
		"--download-dir", "/data/preprod/node-db",
		"--json",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
