// Package config loads the control-loop configuration from defaults, an
// optional YAML file, and AUTONOMIC_* environment overrides, in that
// precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// Mode is the operating mode: conservative, standard, or aggressive.
	Mode string `mapstructure:"mode"`

	// DiagnosticInterval is the period of the diagnostic loop.
	DiagnosticInterval time.Duration `mapstructure:"diagnostic_interval"`

	// PredictiveInterval is the period of the predictive loop.
	PredictiveInterval time.Duration `mapstructure:"predictive_interval"`

	// ErrorBackoff is the shortened delay a loop waits after a recovered
	// failure before resuming.
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`

	// MaxConcurrentRepairs caps simultaneous repair executions.
	MaxConcurrentRepairs int `mapstructure:"max_concurrent_repairs"`

	// RepairDispatchRate limits handler dispatches per second; 0 disables.
	RepairDispatchRate float64 `mapstructure:"repair_dispatch_rate"`

	// ProbeWorkers bounds concurrent probes per diagnostic cycle.
	ProbeWorkers int `mapstructure:"probe_workers"`

	// ProbeTimeout applies per probe invocation.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// HandlerWait is the nominal duration of the built-in simulated
	// remediation handlers.
	HandlerWait time.Duration `mapstructure:"handler_wait"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	Learning LearningConfig `mapstructure:"learning"`
	Predict  PredictConfig  `mapstructure:"predict"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LearningConfig tunes the learning engine.
type LearningConfig struct {
	MinSamples          int     `mapstructure:"min_samples"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	RetentionDays       int     `mapstructure:"retention_days"`

	// SnapshotPath, when set, is where the run command saves and restores
	// the learning snapshot.
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// PredictConfig tunes the predictive risk engine.
type PredictConfig struct {
	PreventionThreshold int               `mapstructure:"prevention_threshold"`
	FallbackAction      string            `mapstructure:"fallback_action"`
	DefaultActions      map[string]string `mapstructure:"default_actions"`
}

// DockerConfig enables the Docker-backed probe and restart handler.
type DockerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Containers lists the container names to watch; empty watches all
	// running containers.
	Containers []string `mapstructure:"containers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads configuration. path may be empty (defaults + env only).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("mode", "aggressive")
	v.SetDefault("diagnostic_interval", time.Minute)
	v.SetDefault("predictive_interval", 5*time.Second)
	v.SetDefault("error_backoff", 5*time.Second)
	v.SetDefault("max_concurrent_repairs", 3)
	v.SetDefault("repair_dispatch_rate", 5.0)
	v.SetDefault("probe_workers", 4)
	v.SetDefault("probe_timeout", 10*time.Second)
	v.SetDefault("handler_wait", 2*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("learning.min_samples", 3)
	v.SetDefault("learning.confidence_threshold", 0.7)
	v.SetDefault("learning.retention_days", 30)
	v.SetDefault("predict.prevention_threshold", 70)
	v.SetDefault("predict.fallback_action", "restart")
	v.SetDefault("predict.default_actions", map[string]string{
		"voice_pipeline": "buffer_reset",
		"api_gateway":    "isolate",
	})
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")

	v.SetEnvPrefix("AUTONOMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "conservative", "standard", "aggressive":
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.DiagnosticInterval <= 0 {
		return fmt.Errorf("diagnostic_interval must be positive, got %v", c.DiagnosticInterval)
	}
	if c.PredictiveInterval <= 0 {
		return fmt.Errorf("predictive_interval must be positive, got %v", c.PredictiveInterval)
	}
	if c.MaxConcurrentRepairs <= 0 {
		return fmt.Errorf("max_concurrent_repairs must be positive, got %d", c.MaxConcurrentRepairs)
	}
	if c.RepairDispatchRate < 0 {
		return fmt.Errorf("repair_dispatch_rate must not be negative, got %v", c.RepairDispatchRate)
	}
	if c.Predict.PreventionThreshold < 1 || c.Predict.PreventionThreshold > 100 {
		return fmt.Errorf("predict.prevention_threshold must be in 1..100, got %d", c.Predict.PreventionThreshold)
	}
	if c.Learning.ConfidenceThreshold <= 0 || c.Learning.ConfidenceThreshold > 1 {
		return fmt.Errorf("learning.confidence_threshold must be in (0,1], got %v", c.Learning.ConfidenceThreshold)
	}
	return nil
}
