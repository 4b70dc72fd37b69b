package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	errwrap "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/metrics"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/relay"
	"github.com/namelens/pacer/internal/server"
	"github.com/namelens/pacer/internal/server/handlers"
	"github.com/namelens/pacer/internal/source"
)

// uptimeInterval is how often the uptime gauge is refreshed.
const uptimeInterval = 15 * time.Second

// telemetryHealthChecker reports whether the Prometheus exporter is running.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.PrometheusExporter == nil {
		return errwrap.NewServiceUnavailableError("metrics exporter not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the throttled HTTP relay",
	Long: `Run an HTTP relay that executes submitted requests through one shared
adaptive throttle.

  POST /v1/requests        {"url": "...", "method": "GET"} -> 202 {"id": ...}
  GET  /v1/requests/{id}   request state, attempts and last status
  GET  /v1/throttle        live rate, interval, pending count and config

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config file (log level only; throttle changes need a restart)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}
		engineCfg, err := cfg.Throttle.Engine()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid throttle configuration")
		}

		observability.InitServerLogger(cfg.Logging.Level, cfg.Logging.Profile)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		httpSource := source.NewHTTPSource(cfg.HTTP.Timeout, cfg.HTTP.Method, cfg.HTTP.UserAgent, cfg.HTTP.FailStatuses)
		rl, err := relay.New(engineCfg, httpSource, relay.Options{
			MaxPending: cfg.Server.MaxPending,
			Logger:     logger,
		})
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "relay initialization failed")
		}

		logger.Info("Initializing relay",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Int("min_rate", engineCfg.MinRate),
			zap.Int("max_rate", engineCfg.MaxRate),
			zap.Duration("interval", engineCfg.BaseInterval),
			zap.Int("max_retries", engineCfg.MaxRetries),
			zap.Int("max_pending", cfg.Server.MaxPending))

		health := handlers.NewHealthManager(versionInfo.Version)
		health.RegisterChecker("relay", rl)
		if cfg.Metrics.Enabled {
			health.RegisterOptionalChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(cfg.Server, rl, health)

		uptimeCtx, stopUptime := context.WithCancel(context.Background())
		go reportUptime(uptimeCtx)

		// Shutdown handlers run last registered, first executed.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopUptime()
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter shutdown failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing relay", zap.Int("pending", rl.Snapshot().Pending))
			rl.Close()
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			timeout := cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading config")
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			reloaded, err := config.Load(ctx)
			if err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if reloaded.Logging != cfg.Logging {
				// Handlers pick up the new global logger; the relay keeps its own.
				observability.InitServerLogger(reloaded.Logging.Level, reloaded.Logging.Profile)
			}
			if reloaded.Throttle != cfg.Throttle {
				logger.Warn("Throttle settings changed; restart to apply them")
			}

			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()),
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "server error")
		}
		return nil
	},
}

func reportUptime(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(start).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().Int("max-pending", 10000, "reject submissions while this many requests are queued")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.max_pending", serveCmd.Flags().Lookup("max-pending"))
}
