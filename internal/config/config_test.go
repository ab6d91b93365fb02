package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
	if cfg.Quality.TargetThreshold != 0.90 {
		t.Errorf("TargetThreshold = %v, want 0.90", cfg.Quality.TargetThreshold)
	}
	if cfg.Observability.RateLimitPerMinute != 1000 {
		t.Errorf("RateLimitPerMinute = %d, want 1000", cfg.Observability.RateLimitPerMinute)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should fall back to defaults: %v", err)
	}
	if cfg.Analysis.MinSamples != 30 {
		t.Errorf("MinSamples = %d, want 30", cfg.Analysis.MinSamples)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vcycle.yaml")
	data := []byte("analysis:\n  delta_threshold: 0.10\n  min_samples: 60\ncycle:\n  cooldown: 15m\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.DeltaThreshold != 0.10 {
		t.Errorf("DeltaThreshold = %v, want 0.10", cfg.Analysis.DeltaThreshold)
	}
	if cfg.Analysis.MinSamples != 60 {
		t.Errorf("MinSamples = %d, want 60", cfg.Analysis.MinSamples)
	}
	if got := cfg.Cycle.CooldownDuration(); got != 15*time.Minute {
		t.Errorf("CooldownDuration = %v, want 15m", got)
	}
	// Unspecified fields keep defaults.
	if cfg.Experiment.SignificanceLevel != 0.05 {
		t.Errorf("SignificanceLevel = %v, want default 0.05", cfg.Experiment.SignificanceLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VCYCLE_OBS_API_KEY", "lsv2-test-key")
	t.Setenv("VCYCLE_RATE_LIMIT", "250")
	t.Setenv("VCYCLE_COOLDOWN", "45m")
	t.Setenv("VCYCLE_QUALITY_TARGET", "0.92")

	cfg := Default()
	cfg.applyEnvOverrides()

	if cfg.Observability.APIKey != "lsv2-test-key" {
		t.Errorf("APIKey = %q, want env value", cfg.Observability.APIKey)
	}
	if cfg.Observability.RateLimitPerMinute != 250 {
		t.Errorf("RateLimitPerMinute = %d, want 250", cfg.Observability.RateLimitPerMinute)
	}
	if cfg.Cycle.Cooldown != "45m" {
		t.Errorf("Cooldown = %q, want 45m", cfg.Cycle.Cooldown)
	}
	if cfg.Quality.TargetThreshold != 0.92 {
		t.Errorf("TargetThreshold = %v, want 0.92", cfg.Quality.TargetThreshold)
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("VCYCLE_RATE_LIMIT", "not-a-number")
	cfg := Default()
	cfg.applyEnvOverrides()
	if cfg.Observability.RateLimitPerMinute != 1000 {
		t.Errorf("bad env value should leave default, got %d", cfg.Observability.RateLimitPerMinute)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold out of range", func(c *Config) { c.Quality.CriticalThreshold = 1.5 }},
		{"unordered thresholds", func(c *Config) { c.Quality.WarningThreshold = 0.5 }},
		{"zero min samples", func(c *Config) { c.Analysis.MinSamples = 0 }},
		{"negative significance", func(c *Config) { c.Experiment.SignificanceLevel = -0.1 }},
		{"bad cooldown syntax", func(c *Config) { c.Cycle.Cooldown = "thirty minutes" }},
		{"zero rate budget", func(c *Config) { c.Observability.RateLimitPerMinute = 0 }},
		{"bad port", func(c *Config) { c.API.Port = 99999 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should reject bad config")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Errorf("error type = %T, want *ValidationError", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "vcycle.yaml")
	cfg := Default()
	cfg.Forecast.HorizonDays = 14
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Forecast.HorizonDays != 14 {
		t.Errorf("HorizonDays = %d, want 14", loaded.Forecast.HorizonDays)
	}
}

func TestWatcherAppliesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vcycle.yaml")
	if err := os.WriteFile(path, []byte("forecast:\n  horizon_days: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	applied := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case applied <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("forecast:\n  horizon_days: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-applied:
		if c.Forecast.HorizonDays != 10 {
			t.Errorf("reloaded HorizonDays = %d, want 10", c.Forecast.HorizonDays)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver reload")
	}
}
