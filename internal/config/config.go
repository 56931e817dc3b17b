// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/videogen-lro/internal/poller"
)

// Static errors for configuration validation.
var (
	// ErrAPIKeyRequired is returned when GEMINI_API_KEY is not set.
	ErrAPIKeyRequired = errors.New("config: GEMINI_API_KEY is required")
	// ErrInvalidValue is returned when a setting is out of range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Video API settings
	GeminiAPIKey string `env:"GEMINI_API_KEY, required" json:"-"` // Masked in JSON
	VeoBaseURL   string `env:"VEO_BASE_URL, default=https://generativelanguage.googleapis.com/v1beta" json:"veo_base_url"`
	VeoModel     string `env:"VEO_MODEL, default=veo-3.0-generate-001" json:"veo_model"`
	VeoRetries   int    `env:"VEO_MAX_RETRIES, default=0" json:"veo_max_retries"`

	// Polling settings
	PollStrategy     string        `env:"POLL_STRATEGY, default=reschedule" json:"poll_strategy"`
	PollInterval     time.Duration `env:"POLL_INTERVAL, default=10s" json:"poll_interval"`
	PollMaxWait      time.Duration `env:"POLL_MAX_WAIT, default=10m" json:"poll_max_wait"`
	SchedulerWorkers int           `env:"SCHEDULER_WORKERS, default=8" json:"scheduler_workers"`
	ShutdownGrace    time.Duration `env:"SHUTDOWN_GRACE, default=30s" json:"shutdown_grace"`

	// Processing settings
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS, default=4" json:"max_concurrent_jobs"`

	// Storage settings
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/videogen" json:"output_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Telemetry settings
	TracesExporter string `env:"OTEL_TRACES_EXPORTER, default=none" json:"traces_exporter"` // "none" or "stdout"

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Strategy returns the parsed default poll strategy.
func (c *Config) Strategy() (poller.Strategy, error) {
	return poller.ParseStrategy(c.PollStrategy)
}

// PollConfig returns the default poll interval and deadline.
func (c *Config) PollConfig() poller.Config {
	return poller.Config{Interval: c.PollInterval, MaxWait: c.PollMaxWait}
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or a value is invalid.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "GEMINI_API_KEY") {
			return nil, ErrAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return ErrAPIKeyRequired
	}
	if _, err := c.Strategy(); err != nil {
		return fmt.Errorf("config: POLL_STRATEGY: %w", err)
	}
	if err := c.PollConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"PORT", int64(c.Port)},
		{"SCHEDULER_WORKERS", int64(c.SchedulerWorkers)},
		{"MAX_CONCURRENT_JOBS", int64(c.MaxConcurrentJobs)},
		{"SHUTDOWN_GRACE", int64(c.ShutdownGrace)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, p.name)
		}
	}
	switch c.TracesExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("%w: OTEL_TRACES_EXPORTER must be none or stdout, got %q", ErrInvalidValue, c.TracesExporter)
	}
	if c.VeoRetries < 0 {
		return fmt.Errorf("%w: VEO_MAX_RETRIES must not be negative", ErrInvalidValue)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, VeoBaseURL: %s, VeoModel: %s, PollStrategy: %s, PollInterval: %s, PollMaxWait: %s, SchedulerWorkers: %d, MaxConcurrentJobs: %d, OutputDir: %s, S3Bucket: %s, S3Region: %s, TracesExporter: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.VeoBaseURL,
		c.VeoModel,
		c.PollStrategy,
		c.PollInterval,
		c.PollMaxWait,
		c.SchedulerWorkers,
		c.MaxConcurrentJobs,
		c.OutputDir,
		c.S3Bucket,
		c.S3Region,
		c.TracesExporter,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
