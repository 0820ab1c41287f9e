package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// Scan kinds used as the "kind" label.
const (
	KindRealtime   = "realtime"
	KindPredictive = "predictive"
)

// ScanCollector bundles Prometheus metrics for both scanners and the
// catalog feeding them. A nil *ScanCollector is valid and records nothing.
type ScanCollector struct {
	gatherer prometheus.Gatherer

	Scans          *prometheus.CounterVec
	ScanDurations  *prometheus.HistogramVec
	Events         *prometheus.GaugeVec
	EventsByRisk   *prometheus.GaugeVec
	StaleEvents    *prometheus.GaugeVec
	Progress       prometheus.Gauge
	CandidatePairs prometheus.Gauge
	FilteredPairs  prometheus.Counter
	PropFailures   prometheus.Counter
	Superseded     prometheus.Counter
	CatalogObjects prometheus.Gauge
}

// NewScanCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewScanCollector(reg prometheus.Registerer) (*ScanCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ScanCollector{gatherer: gatherer}
	var err error

	if c.Scans, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conjunction_scans_total",
		Help: "Completed conjunction scans, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "conjunction_scans_total"); err != nil {
		return nil, err
	}
	if c.ScanDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conjunction_scan_duration_seconds",
		Help:    "Wall time of conjunction scans in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"kind"}), "conjunction_scan_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Events, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conjunction_events",
		Help: "Events reported by the most recent scan of each kind.",
	}, []string{"kind"}), "conjunction_events"); err != nil {
		return nil, err
	}
	if c.EventsByRisk, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conjunction_events_by_risk",
		Help: "Events reported by the most recent scan, by risk level.",
	}, []string{"kind", "risk"}), "conjunction_events_by_risk"); err != nil {
		return nil, err
	}
	if c.StaleEvents, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conjunction_stale_events",
		Help: "Events in the most recent scan that involve stale orbital elements.",
	}, []string{"kind"}), "conjunction_stale_events"); err != nil {
		return nil, err
	}
	if c.Progress, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conjunction_prediction_progress_percent",
		Help: "Progress of the current predictive search (0-100).",
	}), "conjunction_prediction_progress_percent"); err != nil {
		return nil, err
	}
	if c.CandidatePairs, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conjunction_candidate_pairs",
		Help: "Pairs that survived filtering in the most recent predictive search.",
	}), "conjunction_candidate_pairs"); err != nil {
		return nil, err
	}
	if c.FilteredPairs, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conjunction_filtered_pairs_total",
		Help: "Pairs discarded by the radial-envelope pre-filter.",
	}), "conjunction_filtered_pairs_total"); err != nil {
		return nil, err
	}
	if c.PropFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conjunction_propagation_failures_total",
		Help: "Propagator samples that yielded no position.",
	}), "conjunction_propagation_failures_total"); err != nil {
		return nil, err
	}
	if c.Superseded, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conjunction_predictions_superseded_total",
		Help: "Predictive searches whose results were dropped because a newer one started.",
	}), "conjunction_predictions_superseded_total"); err != nil {
		return nil, err
	}
	if c.CatalogObjects, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conjunction_catalog_objects",
		Help: "Objects currently held in the catalog.",
	}), "conjunction_catalog_objects"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ScanCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveScan records a finished scan and the shape of its result.
func (c *ScanCollector) ObserveScan(kind string, d time.Duration, events []model.CollisionEvent, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Scans.WithLabelValues(kind, outcome).Inc()
	c.ScanDurations.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		return
	}

	byRisk := map[model.RiskLevel]int{
		model.RiskCritical: 0,
		model.RiskHigh:     0,
		model.RiskMedium:   0,
		model.RiskLow:      0,
	}
	stale := 0
	for _, ev := range events {
		byRisk[ev.Risk]++
		if ev.Stale() {
			stale++
		}
	}
	c.Events.WithLabelValues(kind).Set(float64(len(events)))
	for level, n := range byRisk {
		c.EventsByRisk.WithLabelValues(kind, string(level)).Set(float64(n))
	}
	c.StaleEvents.WithLabelValues(kind).Set(float64(stale))
}

// SetProgress updates the prediction progress gauge.
func (c *ScanCollector) SetProgress(percent float64) {
	if c == nil {
		return
	}
	c.Progress.Set(percent)
}

// ObservePairs records the candidate and discarded pair counts of a search.
func (c *ScanCollector) ObservePairs(candidates, filtered int) {
	if c == nil {
		return
	}
	c.CandidatePairs.Set(float64(candidates))
	c.FilteredPairs.Add(float64(filtered))
}

// AddPropagationFailures counts samples the propagator couldn't resolve.
func (c *ScanCollector) AddPropagationFailures(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PropFailures.Add(float64(n))
}

// IncSuperseded counts a prediction dropped in favour of a newer one.
func (c *ScanCollector) IncSuperseded() {
	if c == nil {
		return
	}
	c.Superseded.Inc()
}

// SetCatalogObjects updates the catalog size gauge.
func (c *ScanCollector) SetCatalogObjects(n int) {
	if c == nil {
		return
	}
	c.CatalogObjects.Set(float64(n))
}

// register adds col to reg, reusing an already registered collector of the
// same type so several components can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
