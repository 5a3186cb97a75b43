package healthprobes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOgmiosParsesSyncAndTip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"networkSynchronization":0.9995,"currentEra":"Conway","lastKnownTip":{"slot":151234567,"height":3456789}}`))
	}))
	defer srv.Close()

	h, err := Ogmios(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Ogmios: %v", err)
	}
	if h.NetworkSynchronization != 0.9995 {
		t.Fatalf("sync = %v", h.NetworkSynchronization)
	}
	if h.LastKnownTip.Slot != 151234567 || h.LastKnownTip.Height != 3456789 {
		t.Fatalf("tip = %+v", h.LastKnownTip)
	}
}

func TestOgmiosNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if _, err := Ogmios(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 503")
	}
	ok, err := OgmiosHealthy(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("OgmiosHealthy: %v", err)
	}
	if ok {
		t.Fatal("503 reported healthy")
	}
}

const kupoHealthBody = `# TYPE kupo_most_recent_checkpoint gauge
kupo_most_recent_checkpoint 500
# TYPE kupo_most_recent_node_tip gauge
kupo_most_recent_node_tip 1000
`

func TestKupoProgressRatio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(kupoHealthBody))
	}))
	defer srv.Close()

	p, err := KupoProgress(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("KupoProgress: %v", err)
	}
	if p != 0.5 {
		t.Fatalf("progress = %v, want 0.5", p)
	}
}

func TestKupoProgressClampsAboveTip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("kupo_most_recent_checkpoint 1500\nkupo_most_recent_node_tip 1000\n"))
	}))
	defer srv.Close()
	p, err := KupoProgress(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("KupoProgress: %v", err)
	}
	if p != 1 {
		t.Fatalf("progress = %v, want clamped 1", p)
	}
}

func TestKupoProgressZeroTip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("kupo_most_recent_checkpoint 0\nkupo_most_recent_node_tip 0\n"))
	}))
	defer srv.Close()
	p, err := KupoProgress(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("KupoProgress: %v", err)
	}
	if p != 0 {
		t.Fatalf("progress = %v, want 0 when tip is 0", p)
	}
}

func TestKupoMissingMetricIsProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("kupo_connection_status 1\n"))
	}))
	defer srv.Close()
	_, err := KupoProgress(context.Background(), srv.URL)
	if !errors.Is(err, ErrMetricMissing) {
		t.Fatalf("err = %v, want ErrMetricMissing", err)
	}
}

func TestBackendHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ok, err := Backend(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Backend: %v", err)
	}
	if !ok {
		t.Fatal("204 must count as healthy")
	}
}

func TestBackendUnreachable(t *testing.T) {
	if _, err := Backend(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Fatal("expected connection error")
	}
}
