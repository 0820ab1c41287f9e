package core

import (
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/risk"
	"github.com/signalsfoundry/conjunction-assessment/timectrl"
)

// DefaultThresholdKm is the separation below which a pair is reported.
const DefaultThresholdKm = 50.0

// PredictConfig tunes the predictive search. Zero fields take defaults.
type PredictConfig struct {
	Horizon        time.Duration
	CoarseInterval time.Duration
	FineResolution time.Duration
	// RefineDivisions is the number of steps each refinement bracket is cut into.
	RefineDivisions int
	// RefineSeeds caps how many coarse local minima are refined per pair.
	RefineSeeds       int
	MaxResults        int
	MaxCandidatePairs int
	Workers           int
	// SpeedSafetyFactor inflates observed speeds when bounding how far an
	// object can drift between samples.
	SpeedSafetyFactor float64
	// EnvelopeMarginKm widens every radial envelope to absorb perturbations
	// a two-body bound doesn't model.
	EnvelopeMarginKm float64
}

// DefaultPredictConfig returns the standard 24 h / 15 min / 1 s search.
func DefaultPredictConfig() PredictConfig {
	return PredictConfig{
		Horizon:           24 * time.Hour,
		CoarseInterval:    15 * time.Minute,
		FineResolution:    time.Second,
		RefineDivisions:   8,
		RefineSeeds:       3,
		MaxResults:        50,
		MaxCandidatePairs: 250_000,
		Workers:           runtime.NumCPU(),
		SpeedSafetyFactor: 1.5,
		EnvelopeMarginKm:  25,
	}
}

func (c PredictConfig) withDefaults() PredictConfig {
	d := DefaultPredictConfig()
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	if c.CoarseInterval <= 0 {
		c.CoarseInterval = d.CoarseInterval
	}
	if c.CoarseInterval > c.Horizon {
		c.CoarseInterval = c.Horizon
	}
	if c.FineResolution <= 0 {
		c.FineResolution = d.FineResolution
	}
	if c.RefineDivisions < 2 {
		c.RefineDivisions = d.RefineDivisions
	}
	if c.RefineSeeds <= 0 {
		c.RefineSeeds = d.RefineSeeds
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.MaxCandidatePairs <= 0 {
		c.MaxCandidatePairs = d.MaxCandidatePairs
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.SpeedSafetyFactor < 1 {
		c.SpeedSafetyFactor = d.SpeedSafetyFactor
	}
	if c.EnvelopeMarginKm <= 0 {
		c.EnvelopeMarginKm = d.EnvelopeMarginKm
	}
	return c
}

type options struct {
	clock     timectrl.Clock
	log       logging.Logger
	metrics   *observability.ScanCollector
	tracer    trace.Tracer
	risk      risk.Model
	kmPerUnit float64
	predict   PredictConfig
}

func defaultOptions() options {
	return options{
		clock:     timectrl.SystemClock{},
		log:       logging.Noop(),
		tracer:    observability.Tracer(),
		risk:      risk.DefaultModel(),
		kmPerUnit: 1,
		predict:   DefaultPredictConfig(),
	}
}

// Option configures a Scanner or Predictor.
type Option func(*options)

// WithClock sets the clock used for scan timestamps and the search start.
func WithClock(c timectrl.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the fallback logger. A logger on the call context wins.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records scans into the collector.
func WithMetrics(c *observability.ScanCollector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRiskModel replaces the risk model used to label events.
func WithRiskModel(m risk.Model) Option {
	return func(o *options) { o.risk = m }
}

// WithSceneUnits tells the scanner positions are in rendering units.
func WithSceneUnits() Option {
	return func(o *options) { o.kmPerUnit = model.KmPerSceneUnit }
}

// WithPredictConfig tunes the predictive search.
func WithPredictConfig(c PredictConfig) Option {
	return func(o *options) { o.predict = c.withDefaults() }
}
