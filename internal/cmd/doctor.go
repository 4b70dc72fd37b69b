package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	"github.com/namelens/pacer/internal/observability"
)

const doctorChecks = 5

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation, configuration and run history store.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		log.Info("=== pacer doctor ===")
		log.Info("")

		allChecks := true
		step := func(n int, label string) string {
			return fmt.Sprintf("[%d/%d] Checking %s...", n, doctorChecks, label)
		}

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			log.Info(step(1, "Go version")+" ✅ "+goVersion, zap.String("go_version", goVersion))
		} else {
			log.Warn(step(1, "Go version")+" ⚠️  "+goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Gofulmen != "" && version.Crucible != "" {
			log.Info(step(2, "Gofulmen/Crucible")+fmt.Sprintf(" ✅ v%s / v%s", version.Gofulmen, version.Crucible),
				zap.String("gofulmen_version", version.Gofulmen),
				zap.String("crucible_version", version.Crucible))
		} else {
			log.Error(step(2, "Gofulmen/Crucible") + " ❌ version metadata missing")
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		switch {
		case cfgFile != "":
			log.Info(step(3, "config file")+" ✅ "+cfgFile+" (--config)", zap.String("config_file", cfgFile))
		case configPath == "":
			log.Warn(step(3, "config file") + " ⚠️  cannot resolve config directory")
		case fileExists(configPath):
			log.Info(step(3, "config file")+" ✅ "+configPath, zap.String("config_file", configPath))
		default:
			log.Info(step(3, "config file")+" ✅ none (defaults; run 'pacer doctor init')", zap.String("config_file", configPath))
		}

		cfg, cfgErr := config.Load(ctx)
		if cfgErr != nil {
			log.Error(step(4, "configuration")+" ❌ invalid", zap.Error(cfgErr))
			allChecks = false
		} else {
			t := cfg.Throttle
			log.Info(step(4, "configuration")+fmt.Sprintf(" ✅ rate %d..%d per %s, threshold %d, retries %d",
				t.MinRate, max(t.MaxRate, t.MinRate), t.Interval, t.ErrorThreshold, t.MaxRetries))
		}

		if cfgErr != nil {
			log.Warn(step(5, "run history store") + " ⚠️  skipped (config not loaded)")
		} else if db, err := openStoreFrom(ctx, cfg.Store); err != nil {
			log.Warn(step(5, "run history store")+" ⚠️  cannot open", zap.Error(err))
			allChecks = false
		} else {
			runs, listErr := db.ListRuns(ctx, 0)
			_ = db.Close()
			if listErr != nil {
				log.Warn(step(5, "run history store")+" ⚠️  cannot read runs", zap.Error(listErr))
				allChecks = false
			} else {
				log.Info(step(5, "run history store")+fmt.Sprintf(" ✅ %s (%d runs)", describeStore(cfg.Store), len(runs)))
			}
		}

		log.Info("")
		if allChecks {
			log.Info("✅ All checks passed!")
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
	},
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration paths and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()

		log.Info("Paths:")
		log.Info(fmt.Sprintf("  Config file:  %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		log.Info(fmt.Sprintf("  Store:        %s", config.DefaultStorePath()))
		log.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		log.Info("Effective settings:")
		log.Info(fmt.Sprintf("  throttle.min_rate:        %d", cfg.Throttle.MinRate))
		log.Info(fmt.Sprintf("  throttle.max_rate:        %d", cfg.Throttle.MaxRate))
		log.Info(fmt.Sprintf("  throttle.interval:        %s", cfg.Throttle.Interval))
		log.Info(fmt.Sprintf("  throttle.evenly_spaced:   %t", cfg.Throttle.EvenlySpaced))
		log.Info(fmt.Sprintf("  throttle.error_threshold: %d", cfg.Throttle.ErrorThreshold))
		log.Info(fmt.Sprintf("  throttle.back_off:        %t", cfg.Throttle.BackOff))
		log.Info(fmt.Sprintf("  throttle.max_retries:     %d", cfg.Throttle.MaxRetries))
		log.Info(fmt.Sprintf("  http.method:              %s", cfg.HTTP.Method))
		log.Info(fmt.Sprintf("  http.timeout:             %s", cfg.HTTP.Timeout))
		log.Info(fmt.Sprintf("  store:                    %s", describeStore(cfg.Store)))
		log.Info(fmt.Sprintf("  server:                   %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info(fmt.Sprintf("  server.admin_token:       %s", setStatus(cfg.Server.AdminToken)))
		log.Info(fmt.Sprintf("  metrics:                  %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorConfigCmd, doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

const defaultConfigYAML = `# pacer config - created by 'pacer doctor init'
throttle:
  min_rate: 1
  max_rate: 10
  interval: 1s
  evenly_spaced: true
  error_threshold: 5
  back_off: false
  max_retries: 2
http:
  method: GET
  timeout: 10s
  # fail_statuses: [408]
server:
  host: localhost
  port: 8080
  # admin_token: ""  # Set via PACER_SERVER_ADMIN_TOKEN to enable /admin/signal
logging:
  level: info
  profile: SIMPLE
`

func describeStore(cfg config.StoreConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return cfg.URL + " (remote)"
	}
	if cfg.Path == ":memory:" {
		return cfg.Path
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return cfg.Path
	}
	return absPath
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func setStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}
