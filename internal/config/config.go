package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/namelens/pacer/internal/throttle"
)

// Config represents the complete application configuration.
// Values are layered by viper in this order (highest wins):
// Layer 1: command-line flags and runtime overrides
// Layer 2: environment variables (PACER_ prefix)
// Layer 3: config file (--config or $XDG_CONFIG_HOME/pacer/config.yaml)
// Layer 4: defaults from SetDefaults
type Config struct {
	Throttle ThrottleConfig `mapstructure:"throttle"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	RDAP     RDAPConfig     `mapstructure:"rdap"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
}

// ThrottleConfig contains the adaptive rate parameters.
type ThrottleConfig struct {
	// MinRate is the lower bound of items per interval
	MinRate int `mapstructure:"min_rate"`

	// MaxRate is the upper bound of items per interval (0 = min_rate)
	MaxRate int `mapstructure:"max_rate"`

	// Interval is the base interval for dispatch and rate evaluation
	Interval time.Duration `mapstructure:"interval"`

	// EvenlySpaced spreads single items across the interval instead of
	// releasing one batch per interval
	EvenlySpaced bool `mapstructure:"evenly_spaced"`

	// ErrorThreshold is the number of failures per interval that lowers the
	// rate; -1 lowers it on every pass
	ErrorThreshold int `mapstructure:"error_threshold"`

	// BackOff pauses dispatch for one extra interval after a failure burst
	BackOff bool `mapstructure:"back_off"`

	// MaxRetries is the number of re-enqueue attempts per failed item
	MaxRetries int `mapstructure:"max_retries"`
}

// Engine converts the section into a validated throttle.Config.
func (c ThrottleConfig) Engine() (throttle.Config, error) {
	cfg := throttle.Config{
		MinRate:        c.MinRate,
		MaxRate:        c.MaxRate,
		BaseInterval:   c.Interval,
		EvenlySpaced:   c.EvenlySpaced,
		ErrorThreshold: c.ErrorThreshold,
		BackOff:        c.BackOff,
		MaxRetries:     c.MaxRetries,
	}
	if err := cfg.Validate(); err != nil {
		return throttle.Config{}, fmt.Errorf("invalid throttle config: %w", err)
	}
	return cfg, nil
}

// HTTPConfig configures the HTTP work source.
type HTTPConfig struct {
	Method    string        `mapstructure:"method"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`

	// FailStatuses lists extra status codes reported as failures on top of
	// 429 and 5xx
	FailStatuses []int `mapstructure:"fail_statuses"`
}

// RDAPConfig configures the RDAP work source.
type RDAPConfig struct {
	// Server pins every query to one RDAP base URL; empty uses IANA bootstrap
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ServerConfig contains HTTP relay server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxPending caps requests waiting in the relay queue.
	MaxPending int `mapstructure:"max_pending"`

	// AdminToken enables POST /admin/signal when set.
	AdminToken string `mapstructure:"admin_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks cross-field constraints not covered by decoding.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := c.Throttle.Engine(); err != nil {
		return err
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative")
	}
	for _, code := range c.HTTP.FailStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("http.fail_statuses: invalid status code %d", code)
		}
	}
	if c.Server.MaxPending < 0 {
		return fmt.Errorf("server.max_pending must not be negative")
	}
	switch strings.ToUpper(strings.TrimSpace(c.Logging.Profile)) {
	case "", "SIMPLE", "STRUCTURED":
	default:
		return fmt.Errorf("logging.profile: unsupported profile %q", c.Logging.Profile)
	}
	return nil
}
