// Package config provides centralized configuration management for pacer.
// viper collects defaults, the config file, PACER_* environment variables
// and bound flags; Load decodes the merged settings into a typed Config with
// mapstructure.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/namelens/pacer/internal/throttle"
)

const (
	// AppName is used for XDG paths and the binary name.
	AppName = "pacer"

	// EnvPrefix is the environment variable prefix (PACER_MIN_RATE, ...).
	EnvPrefix = "PACER"
)

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// BindEnv makes v resolve keys from PACER_* environment variables, so
// throttle.max_retries reads PACER_THROTTLE_MAX_RETRIES.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Throttle defaults follow the engine's own. max_rate stays 0 so that it
	// tracks a raised min_rate.
	engine := throttle.DefaultConfig(1, time.Second)
	v.SetDefault("throttle.min_rate", engine.MinRate)
	v.SetDefault("throttle.max_rate", 0)
	v.SetDefault("throttle.interval", engine.BaseInterval.String())
	v.SetDefault("throttle.evenly_spaced", engine.EvenlySpaced)
	v.SetDefault("throttle.error_threshold", engine.ErrorThreshold)
	v.SetDefault("throttle.back_off", engine.BackOff)
	v.SetDefault("throttle.max_retries", engine.MaxRetries)

	// Work source defaults
	v.SetDefault("http.method", "GET")
	v.SetDefault("http.timeout", "10s")
	v.SetDefault("http.user_agent", AppName)
	v.SetDefault("http.fail_statuses", []int{})
	v.SetDefault("rdap.server", "")
	v.SetDefault("rdap.timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_pending", 10000)
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load decodes the global viper instance. Runtime overrides are nested maps
// applied last, in order.
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFrom(ctx, viper.GetViper(), runtimeOverrides...)
}

// LoadFrom decodes v into a Config, applies runtime overrides, validates the
// result and stores it as the current configuration.
func LoadFrom(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := v.AllSettings()
	for _, override := range runtimeOverrides {
		mergeSettings(merged, override)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// mergeSettings deep-merges src into dst. Keys are lower-cased to match
// viper's normalization.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		if nested, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				mergeSettings(existing, nested)
				continue
			}
			copied := make(map[string]any, len(nested))
			mergeSettings(copied, nested)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the run history database.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultConfigPath returns the config file looked up when --config is not
// given, or "" when no config directory can be resolved.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}
