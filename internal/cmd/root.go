package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	"github.com/namelens/pacer/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Adaptive throttled execution of outbound work",
	Long: `pacer executes outbound requests through an adaptive throttle.

The dispatch rate starts at the configured minimum, climbs toward the maximum
while work succeeds and falls back when failures cross the error threshold.
Failed items are retried up to max_retries times before they are dropped.

Use the subcommands to run a batch, query RDAP or serve a throttled relay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Telemetry stays disabled until serve installs the Prometheus exporter.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/pacer/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(verbose)

	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		} else if home, err := os.UserHomeDir(); err == nil {
			if verbose {
				observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory")
			}
			v.AddConfigPath(home)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)
	config.SetDefaults(v)

	if err := v.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	} else if cfgFile != "" {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", err)
	} else {
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}
}
