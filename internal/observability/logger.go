package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

// ServiceName is the service label attached to every log line.
const ServiceName = "pacer"

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used by the relay server and the throttle it owns
	ServerLogger *logging.Logger
)

// InitCLILogger initializes the CLI logger with the SIMPLE profile.
func InitCLILogger(verbose bool) {
	logger, err := logging.NewCLI(ServiceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger. profile is SIMPLE or
// STRUCTURED; anything else falls back to STRUCTURED with JSON output.
func InitServerLogger(logLevel, profile string) {
	config := serverLoggerConfig(logLevel, profile)

	logger, err := logging.New(config)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

var fallbackOnce sync.Once

// Logger returns the most specific logger initialized so far. When neither
// logger was initialized it sets up a quiet CLI logger.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	fallbackOnce.Do(func() {
		if CLILogger == nil {
			InitCLILogger(false)
		}
	})
	return CLILogger
}

func serverLoggerConfig(logLevel, profile string) *logging.LoggerConfig {
	sink := logging.SinkConfig{
		Type:   "console",
		Format: "json",
		Console: &logging.ConsoleSinkConfig{
			Stream:   "stderr",
			Colorize: false,
		},
	}

	if strings.EqualFold(strings.TrimSpace(profile), "SIMPLE") {
		sink.Format = "console"
		return &logging.LoggerConfig{
			Profile:      logging.ProfileSimple,
			DefaultLevel: parseLogLevel(logLevel),
			Service:      ServiceName,
			Environment:  "production",
			Sinks:        []logging.SinkConfig{sink},
		}
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      ServiceName,
		Environment:  "production",
		StaticFields: map[string]any{"component": "relay"},
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks:            []logging.SinkConfig{sink},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// parseLogLevel converts a config log level to a logging severity string
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr exits with a semantic exit code, writing to stderr.
// Used for logger initialization failures, before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
