// Package config loads the service configuration from YAML with
// CONJ_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/conjunction-assessment/core"
	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/risk"
)

// Config captures everything the conjunction service needs to boot.
type Config struct {
	Logging LoggingConfig               `yaml:"logging"`
	Tracing observability.TracingConfig `yaml:"tracing"`
	HTTP    HTTPConfig                  `yaml:"http"`
	Catalog CatalogConfig               `yaml:"catalog"`
	Scan    ScanConfig                  `yaml:"scan"`
	Predict PredictConfig               `yaml:"predict"`
	Risk    RiskConfig                  `yaml:"risk"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json | text
	AddSource bool   `yaml:"addSource"`
}

// HTTPConfig controls the status API and the Prometheus endpoint it mounts.
type HTTPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metricsPath"`
}

// CatalogConfig points at the element source and how often cached
// positions are recomputed.
type CatalogConfig struct {
	TLEPath         string        `yaml:"tlePath"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// ScanConfig controls the periodic real-time and predictive scans.
type ScanConfig struct {
	ThresholdKm      float64       `yaml:"thresholdKm"`
	RealtimeInterval time.Duration `yaml:"realtimeInterval"`
	PredictInterval  time.Duration `yaml:"predictInterval"`
	Mode             string        `yaml:"mode"`
	// Accelerated runs simulated time without sleeping between ticks.
	Accelerated bool          `yaml:"accelerated"`
	RunFor      time.Duration `yaml:"runFor"` // 0 runs until interrupted
	// Start is the initial simulated time; zero means now.
	Start time.Time `yaml:"start"`
}

// PredictConfig tunes the predictive search. Zero values take the engine
// defaults.
type PredictConfig struct {
	Horizon           time.Duration `yaml:"horizon"`
	CoarseInterval    time.Duration `yaml:"coarseInterval"`
	FineResolution    time.Duration `yaml:"fineResolution"`
	RefineDivisions   int           `yaml:"refineDivisions"`
	RefineSeeds       int           `yaml:"refineSeeds"`
	MaxResults        int           `yaml:"maxResults"`
	MaxCandidatePairs int           `yaml:"maxCandidatePairs"`
	Workers           int           `yaml:"workers"`
	SpeedSafetyFactor float64       `yaml:"speedSafetyFactor"`
	EnvelopeMarginKm  float64       `yaml:"envelopeMarginKm"`
}

// RiskConfig controls staleness and the optional age-based sigma estimate.
type RiskConfig struct {
	StaleAfterHours float64        `yaml:"staleAfterHours"`
	AgeSigma        AgeSigmaConfig `yaml:"ageSigma"`
}

// AgeSigmaConfig enables sigma = baseKm + growthKmPerHour * age.
type AgeSigmaConfig struct {
	Enabled         bool    `yaml:"enabled"`
	BaseKm          float64 `yaml:"baseKm"`
	GrowthKmPerHour float64 `yaml:"growthKmPerHour"`
}

// Load initialises Config from a YAML file and optional environment
// overrides, then validates it. An empty path falls back to CONJ_CONFIG;
// with neither set the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONJ_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() Config {
	p := core.DefaultPredictConfig()
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: observability.TracingConfig{
			ServiceName: "conjunction-assessment",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		HTTP:    HTTPConfig{Enabled: true, Address: ":2112", MetricsPath: "/metrics"},
		Catalog: CatalogConfig{RefreshInterval: time.Second},
		Scan: ScanConfig{
			ThresholdKm:      core.DefaultThresholdKm,
			RealtimeInterval: 5 * time.Second,
			PredictInterval:  10 * time.Minute,
			Mode:             string(coverage.Standard),
		},
		Predict: PredictConfig{
			Horizon:           p.Horizon,
			CoarseInterval:    p.CoarseInterval,
			FineResolution:    p.FineResolution,
			RefineDivisions:   p.RefineDivisions,
			RefineSeeds:       p.RefineSeeds,
			MaxResults:        p.MaxResults,
			MaxCandidatePairs: p.MaxCandidatePairs,
			SpeedSafetyFactor: p.SpeedSafetyFactor,
			EnvelopeMarginKm:  p.EnvelopeMarginKm,
		},
		Risk: RiskConfig{
			StaleAfterHours: risk.DefaultStaleAfterHours,
			AgeSigma:        AgeSigmaConfig{BaseKm: 1, GrowthKmPerHour: 0.5},
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if !(c.Scan.ThresholdKm > 0) || math.IsInf(c.Scan.ThresholdKm, 1) {
		errs = append(errs, fmt.Errorf("scan.thresholdKm must be positive, got %v", c.Scan.ThresholdKm))
	}
	if _, err := coverage.Lookup(coverage.Mode(c.Scan.Mode)); err != nil {
		errs = append(errs, fmt.Errorf("scan.mode: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"catalog.refreshInterval": c.Catalog.RefreshInterval,
		"scan.realtimeInterval":   c.Scan.RealtimeInterval,
		"scan.predictInterval":    c.Scan.PredictInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.Scan.RunFor < 0 {
		errs = append(errs, fmt.Errorf("scan.runFor must not be negative, got %v", c.Scan.RunFor))
	}
	if c.Scan.Accelerated && c.Scan.RunFor == 0 {
		errs = append(errs, errors.New("scan.runFor is required in accelerated mode"))
	}
	if c.Predict.CoarseInterval < 0 || c.Predict.Horizon < 0 || c.Predict.FineResolution < 0 {
		errs = append(errs, errors.New("predict intervals must not be negative"))
	}
	if c.Predict.Horizon > 0 && c.Predict.CoarseInterval > c.Predict.Horizon {
		errs = append(errs, fmt.Errorf("predict.coarseInterval %v exceeds horizon %v", c.Predict.CoarseInterval, c.Predict.Horizon))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Exporter) {
		case "", "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
			}
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter))
		}
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required when the HTTP server is enabled"))
	}
	return errors.Join(errs...)
}

// Logger builds the configured logger.
func (c LoggingConfig) Logger() logging.Logger {
	return logging.New(logging.Config{Level: c.Level, Format: c.Format, AddSource: c.AddSource})
}

// Engine converts to the engine's search configuration.
func (c PredictConfig) Engine() core.PredictConfig {
	return core.PredictConfig{
		Horizon:           c.Horizon,
		CoarseInterval:    c.CoarseInterval,
		FineResolution:    c.FineResolution,
		RefineDivisions:   c.RefineDivisions,
		RefineSeeds:       c.RefineSeeds,
		MaxResults:        c.MaxResults,
		MaxCandidatePairs: c.MaxCandidatePairs,
		Workers:           c.Workers,
		SpeedSafetyFactor: c.SpeedSafetyFactor,
		EnvelopeMarginKm:  c.EnvelopeMarginKm,
	}
}

// Model converts to the risk model.
func (c RiskConfig) Model() risk.Model {
	m := risk.Model{StaleAfterHours: c.StaleAfterHours}
	if c.AgeSigma.Enabled {
		m.AgeSigma = &risk.AgeSigma{BaseKm: c.AgeSigma.BaseKm, GrowthKmPerHour: c.AgeSigma.GrowthKmPerHour}
	}
	return m
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONJ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CONJ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CONJ_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("CONJ_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("CONJ_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("CONJ_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = parseBool(v)
	}
	if v := os.Getenv("CONJ_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("CONJ_CATALOG_TLE"); v != "" {
		cfg.Catalog.TLEPath = v
	}
	if v := os.Getenv("CONJ_SCAN_THRESHOLD_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scan.ThresholdKm = f
		}
	}
	if v := os.Getenv("CONJ_SCAN_MODE"); v != "" {
		cfg.Scan.Mode = v
	}
	if v := os.Getenv("CONJ_SCAN_PREDICT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.PredictInterval = d
		}
	}
	if v := os.Getenv("CONJ_SCAN_RUN_FOR"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.RunFor = d
		}
	}
	if v := os.Getenv("CONJ_PREDICT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Predict.Workers = n
		}
	}
	if v := os.Getenv("CONJ_PREDICT_HORIZON"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Predict.Horizon = d
		}
	}
	if v := os.Getenv("CONJ_RISK_STALE_AFTER_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.StaleAfterHours = f
		}
	}
	if v := os.Getenv("CONJ_RISK_AGE_SIGMA"); v != "" {
		cfg.Risk.AgeSigma.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
