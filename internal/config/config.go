package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vcycle configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Observability platform client
	Observability ObservabilityConfig `yaml:"observability"`

	// Quality thresholds and collection windows
	Quality QualityConfig `yaml:"quality"`

	// Regression analysis
	Analysis AnalysisConfig `yaml:"analysis"`

	// A/B experiment engine
	Experiment ExperimentConfig `yaml:"experiment"`

	// Pattern learning and strategy selection
	Learning LearningConfig `yaml:"learning"`

	// Quality forecasting
	Forecast ForecastConfig `yaml:"forecast"`

	// Orchestrator cycle settings
	Cycle CycleConfig `yaml:"cycle"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// HTTP API
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ObservabilityConfig configures the trace/feedback platform client.
type ObservabilityConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	RequestTimeout string `yaml:"request_timeout"` // per-call timeout (default 30s)

	// Shared token-bucket budget across all capabilities.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"` // default 1000
	RateLimitBurst     int `yaml:"rate_limit_burst"`      // default 50

	// Retry policy for transient failures (5xx, 429, timeouts).
	MaxRetries     int    `yaml:"max_retries"`      // default 4
	RetryBaseDelay string `yaml:"retry_base_delay"` // default 500ms
	RetryMaxDelay  string `yaml:"retry_max_delay"`  // default 30s
}

// QualityConfig holds the quality thresholds the loop optimizes against.
type QualityConfig struct {
	CriticalThreshold  float64 `yaml:"critical_threshold"`  // default 0.70
	WarningThreshold   float64 `yaml:"warning_threshold"`   // default 0.85
	TargetThreshold    float64 `yaml:"target_threshold"`    // default 0.90
	ExcellentThreshold float64 `yaml:"excellent_threshold"` // default 0.95

	// Collection window and recency weighting.
	WindowHours      int     `yaml:"window_hours"`        // default 24
	DecayHalfLifeHrs float64 `yaml:"decay_half_life_hrs"` // default 24
}

// AnalysisConfig configures regression detection.
type AnalysisConfig struct {
	DeltaThreshold float64 `yaml:"delta_threshold"` // default 0.05 (5 pp)
	MinSamples     int     `yaml:"min_samples"`     // default 30
}

// ExperimentConfig configures the A/B engine.
type ExperimentConfig struct {
	MinSamplesPerArm  int     `yaml:"min_samples_per_arm"` // default 50
	SignificanceLevel float64 `yaml:"significance_level"`  // default 0.05
	EffectSizeFloor   float64 `yaml:"effect_size_floor"`   // default 0.02
	MaxDuration       string  `yaml:"max_duration"`        // default 24h
}

// LearningConfig configures pattern matching and strategy selection.
type LearningConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // pattern reinforcement, default 0.85
	SimilarityFloor     float64 `yaml:"similarity_floor"`     // strategy selection, default 0.35
	EffectivenessAlpha  float64 `yaml:"effectiveness_alpha"`  // EWMA weight for outcomes, default 0.3
}

// ForecastConfig configures the quality forecaster.
type ForecastConfig struct {
	HorizonDays   int     `yaml:"horizon_days"`   // default 7
	RiskThreshold float64 `yaml:"risk_threshold"` // breach probability alert floor, default 0.5
	MinPoints     int     `yaml:"min_points"`     // minimum series length to fit, default 5
}

// CycleConfig configures the orchestrator.
type CycleConfig struct {
	Cooldown           string `yaml:"cooldown"`             // default 30m
	TickInterval       string `yaml:"tick_interval"`        // scheduled trigger period, default 1h
	ExportPollInterval string `yaml:"export_poll_interval"` // bulk-export poller, default 5m
	ValidationDelay    string `yaml:"validation_delay"`     // wait before re-measuring, default 2m
}

// EmbeddingConfig configures the embedding engine used by the pattern store.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "hash" (offline default) or "http"
	BaseURL   string `yaml:"base_url"` // http provider endpoint
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"` // default 256
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	RequireVec   bool   `yaml:"require_vec"` // fail if sqlite-vec extension missing
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: release, debug
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Directory  string          `yaml:"directory"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Name:    "vcycle",
		Version: "1.0.0",
		Observability: ObservabilityConfig{
			BaseURL:            "https://api.smith.langchain.com",
			RequestTimeout:     "30s",
			RateLimitPerMinute: 1000,
			RateLimitBurst:     50,
			MaxRetries:         4,
			RetryBaseDelay:     "500ms",
			RetryMaxDelay:      "30s",
		},
		Quality: QualityConfig{
			CriticalThreshold:  0.70,
			WarningThreshold:   0.85,
			TargetThreshold:    0.90,
			ExcellentThreshold: 0.95,
			WindowHours:        24,
			DecayHalfLifeHrs:   24,
		},
		Analysis: AnalysisConfig{
			DeltaThreshold: 0.05,
			MinSamples:     30,
		},
		Experiment: ExperimentConfig{
			MinSamplesPerArm:  50,
			SignificanceLevel: 0.05,
			EffectSizeFloor:   0.02,
			MaxDuration:       "24h",
		},
		Learning: LearningConfig{
			SimilarityThreshold: 0.85,
			SimilarityFloor:     0.35,
			EffectivenessAlpha:  0.3,
		},
		Forecast: ForecastConfig{
			HorizonDays:   7,
			RiskThreshold: 0.5,
			MinPoints:     5,
		},
		Cycle: CycleConfig{
			Cooldown:           "30m",
			TickInterval:       "1h",
			ExportPollInterval: "5m",
			ValidationDelay:    "2m",
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 256,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".vcycle", "vcycle.db"),
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Mode: "release",
		},
		Logging: LoggingConfig{
			Directory: filepath.Join(".vcycle", "logs"),
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// any field the file omits, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Missing file is fine; defaults + env apply.
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Secrets and deployment-specific knobs are expected to arrive this way.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("VCYCLE_OBS_API_KEY"); key != "" {
		c.Observability.APIKey = key
	}
	if url := os.Getenv("VCYCLE_OBS_URL"); url != "" {
		c.Observability.BaseURL = url
	}
	if v := os.Getenv("VCYCLE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Observability.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("VCYCLE_COOLDOWN"); v != "" {
		c.Cycle.Cooldown = v
	}
	if v := os.Getenv("VCYCLE_QUALITY_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.TargetThreshold = f
		}
	}
	if path := os.Getenv("VCYCLE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if v := os.Getenv("VCYCLE_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.Port = n
		}
	}
	if v := os.Getenv("VCYCLE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if url := os.Getenv("VCYCLE_EMBEDDING_URL"); url != "" {
		c.Embedding.Provider = "http"
		c.Embedding.BaseURL = url
	}
}

// ValidationError reports a configuration value that fails validation.
// It is fatal at startup: the process must not run with a bad threshold.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Validate checks value ranges and duration syntax. Fails fast on the first
// bad value rather than accumulating.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		ok    bool
		why   string
	}{
		{"quality.critical_threshold", c.Quality.CriticalThreshold > 0 && c.Quality.CriticalThreshold < 1, "must be in (0,1)"},
		{"quality.thresholds", c.Quality.CriticalThreshold <= c.Quality.WarningThreshold &&
			c.Quality.WarningThreshold <= c.Quality.TargetThreshold &&
			c.Quality.TargetThreshold <= c.Quality.ExcellentThreshold, "must be ordered critical <= warning <= target <= excellent"},
		{"analysis.delta_threshold", c.Analysis.DeltaThreshold > 0 && c.Analysis.DeltaThreshold < 1, "must be in (0,1)"},
		{"analysis.min_samples", c.Analysis.MinSamples > 0, "must be positive"},
		{"experiment.min_samples_per_arm", c.Experiment.MinSamplesPerArm > 0, "must be positive"},
		{"experiment.significance_level", c.Experiment.SignificanceLevel > 0 && c.Experiment.SignificanceLevel < 1, "must be in (0,1)"},
		{"experiment.effect_size_floor", c.Experiment.EffectSizeFloor >= 0, "must be non-negative"},
		{"learning.similarity_threshold", c.Learning.SimilarityThreshold > 0 && c.Learning.SimilarityThreshold <= 1, "must be in (0,1]"},
		{"learning.similarity_floor", c.Learning.SimilarityFloor >= 0 && c.Learning.SimilarityFloor < 1, "must be in [0,1)"},
		{"forecast.horizon_days", c.Forecast.HorizonDays > 0, "must be positive"},
		{"forecast.risk_threshold", c.Forecast.RiskThreshold > 0 && c.Forecast.RiskThreshold <= 1, "must be in (0,1]"},
		{"observability.rate_limit_per_minute", c.Observability.RateLimitPerMinute > 0, "must be positive"},
		{"observability.max_retries", c.Observability.MaxRetries >= 0, "must be non-negative"},
		{"embedding.dimension", c.Embedding.Dimension > 0, "must be positive"},
		{"api.port", c.API.Port > 0 && c.API.Port < 65536, "must be a valid port"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return &ValidationError{Field: chk.field, Reason: chk.why}
		}
	}

	durations := []struct {
		field string
		value string
	}{
		{"observability.request_timeout", c.Observability.RequestTimeout},
		{"observability.retry_base_delay", c.Observability.RetryBaseDelay},
		{"observability.retry_max_delay", c.Observability.RetryMaxDelay},
		{"experiment.max_duration", c.Experiment.MaxDuration},
		{"cycle.cooldown", c.Cycle.Cooldown},
		{"cycle.tick_interval", c.Cycle.TickInterval},
		{"cycle.export_poll_interval", c.Cycle.ExportPollInterval},
		{"cycle.validation_delay", c.Cycle.ValidationDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return &ValidationError{Field: d.field, Reason: fmt.Sprintf("bad duration %q", d.value)}
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Duration helpers. Validate has already checked syntax, so parse errors
// fall back to the documented default.

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// RequestTimeout returns the per-call observability timeout.
func (c *ObservabilityConfig) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// BaseDelay returns the initial retry backoff delay.
func (c *ObservabilityConfig) BaseDelay() time.Duration {
	return parseDuration(c.RetryBaseDelay, 500*time.Millisecond)
}

// MaxDelay returns the backoff ceiling.
func (c *ObservabilityConfig) MaxDelay() time.Duration {
	return parseDuration(c.RetryMaxDelay, 30*time.Second)
}

// MaxWindow returns the experiment expiry duration.
func (c *ExperimentConfig) MaxWindow() time.Duration {
	return parseDuration(c.MaxDuration, 24*time.Hour)
}

// CooldownDuration returns the post-cycle cooldown interval.
func (c *CycleConfig) CooldownDuration() time.Duration {
	return parseDuration(c.Cooldown, 30*time.Minute)
}

// Tick returns the scheduled trigger period.
func (c *CycleConfig) Tick() time.Duration {
	return parseDuration(c.TickInterval, time.Hour)
}

// ExportPoll returns the bulk-export poller period.
func (c *CycleConfig) ExportPoll() time.Duration {
	return parseDuration(c.ExportPollInterval, 5*time.Minute)
}

// ValidationWait returns the pause before post-deploy re-measurement.
func (c *CycleConfig) ValidationWait() time.Duration {
	return parseDuration(c.ValidationDelay, 2*time.Minute)
}

// Window returns the metric collection window.
func (c *QualityConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}
