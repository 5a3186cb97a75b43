package healthprobes

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const (
	kupoCheckpointMetric = "kupo_most_recent_checkpoint"
	kupoTipMetric        = "kupo_most_recent_node_tip"
)

// ErrMetricMissing is returned when Kupo's Prometheus-text /health response
// no longer exposes the two metrics progress reporting depends on. Callers
// should treat this as a ProbeFailure: leave the slot's status untouched
// and let the next poll retry.
var ErrMetricMissing = errors.New("healthprobes: kupo metric missing")

// KupoProgress scrapes GET {baseURL}/health (Prometheus exposition format)
// and computes min(checkpoint/tip, 1), or 0 when tip is 0.
func KupoProgress(ctx context.Context, baseURL string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	resp, err := Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("kupo health status %d", resp.StatusCode)
	}

	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse kupo metrics: %w", err)
	}

	checkpoint, ok := firstGaugeValue(families, kupoCheckpointMetric)
	if !ok {
		return 0, ErrMetricMissing
	}
	tip, ok := firstGaugeValue(families, kupoTipMetric)
	if !ok {
		return 0, ErrMetricMissing
	}
	if tip == 0 {
		return 0, nil
	}
	progress := checkpoint / tip
	if progress > 1 {
		progress = 1
	}
	return progress, nil
}

func firstGaugeValue(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	mf, ok := families[name]
	if !ok || len(mf.Metric) == 0 {
		return 0, false
	}
	m := mf.Metric[0]
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	default:
		return 0, false
	}
}
