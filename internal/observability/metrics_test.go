package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

func TestObserveScanRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScanCollector(reg)
	if err != nil {
		t.Fatalf("NewScanCollector: %v", err)
	}

	events := []model.CollisionEvent{
		{Risk: model.RiskCritical, StaleA: true},
		{Risk: model.RiskHigh},
		{Risk: model.RiskHigh},
	}
	collector.ObserveScan(KindRealtime, 20*time.Millisecond, events, nil)

	if got := testutil.ToFloat64(collector.Scans.WithLabelValues(KindRealtime, "ok")); got != 1 {
		t.Fatalf("conjunction_scans_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Events.WithLabelValues(KindRealtime)); got != 3 {
		t.Fatalf("conjunction_events = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.EventsByRisk.WithLabelValues(KindRealtime, "high")); got != 2 {
		t.Fatalf("conjunction_events_by_risk{high} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EventsByRisk.WithLabelValues(KindRealtime, "low")); got != 0 {
		t.Fatalf("conjunction_events_by_risk{low} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.StaleEvents.WithLabelValues(KindRealtime)); got != 1 {
		t.Fatalf("conjunction_stale_events = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "conjunction_scan_duration_seconds", map[string]string{
		"kind": KindRealtime,
	}); count != 1 {
		t.Fatalf("conjunction_scan_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestObserveScanErrorOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScanCollector(reg)
	if err != nil {
		t.Fatalf("NewScanCollector: %v", err)
	}
	collector.ObserveScan(KindPredictive, time.Second, nil, errors.New("boom"))

	if got := testutil.ToFloat64(collector.Scans.WithLabelValues(KindPredictive, "error")); got != 1 {
		t.Fatalf("error outcome = %v, want 1", got)
	}
}

func TestNewScanCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewScanCollector(reg)
	if err != nil {
		t.Fatalf("first NewScanCollector: %v", err)
	}
	second, err := NewScanCollector(reg)
	if err != nil {
		t.Fatalf("second NewScanCollector: %v", err)
	}
	second.IncSuperseded()
	if got := testutil.ToFloat64(first.Superseded); got != 1 {
		t.Fatalf("collectors should share registered metrics, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ScanCollector
	c.ObserveScan(KindRealtime, time.Second, nil, nil)
	c.SetProgress(50)
	c.ObservePairs(1, 2)
	c.AddPropagationFailures(3)
	c.IncSuperseded()
	c.SetCatalogObjects(4)
}

func TestMetricsHandlerExposesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScanCollector(reg)
	if err != nil {
		t.Fatalf("NewScanCollector: %v", err)
	}
	collector.SetCatalogObjects(7)
	collector.SetProgress(42)
	collector.ObservePairs(11, 5)
	collector.AddPropagationFailures(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, line := range []string{
		"conjunction_catalog_objects 7",
		"conjunction_prediction_progress_percent 42",
		"conjunction_candidate_pairs 11",
		"conjunction_filtered_pairs_total 5",
		"conjunction_propagation_failures_total 2",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in /metrics output:\n%s", line, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
