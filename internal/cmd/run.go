package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	errwrap "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/output"
	"github.com/namelens/pacer/internal/runner"
	"github.com/namelens/pacer/internal/source"
)

var (
	runPlanFile    string
	runTargetsFile string
)

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Execute a batch of HTTP requests through the adaptive throttle",
	Long: `Execute a batch of outbound HTTP requests through the adaptive throttle and
report how the rate evolved.

Targets come from positional URLs, --targets-file (one URL per line, "-" for
stdin) or --plan (a YAML plan with targets and optional throttle overrides).
A plan may also list {domain: ...} targets, which run through RDAP.

Responses with status 429, 5xx or a status in http.fail_statuses count as
failures. Throttle flags override config and plan values.`,
	Example: `  pacer run https://api.example.com/a https://api.example.com/b --min-rate 2 --max-rate 10
  pacer run --plan plan.yaml --max-retries 3 --save
  pacer run --targets-file urls.txt --output-format json --out report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			targets   []source.Target
			overrides []map[string]any
		)
		if runPlanFile != "" {
			if len(args) > 0 || runTargetsFile != "" {
				return errwrap.NewInvalidInputError("--plan cannot be combined with positional targets or --targets-file")
			}
			plan, err := source.LoadPlan(runPlanFile)
			if err != nil {
				return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid plan file")
			}
			targets = plan.Targets
			if o := plan.Overrides(); o != nil {
				overrides = append(overrides, o)
			}
		} else {
			resolved, err := resolveTargets(args, runTargetsFile, source.KindHTTP)
			if err != nil {
				return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid targets")
			}
			targets = resolved
		}
		return executeRun(cmd, targets, overrides)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "YAML plan file with targets and throttle overrides")
	runCmd.Flags().StringVar(&runTargetsFile, "targets-file", "", "file with one URL per line (use - for stdin)")
	runCmd.Flags().String("method", "", "HTTP method for URL targets (default from http.method)")
	runCmd.Flags().IntSlice("fail-status", nil, "extra HTTP status codes treated as failures")
	addThrottleFlags(runCmd)
	addReportFlags(runCmd)
}

// addThrottleFlags registers flags that override the throttle config section.
func addThrottleFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("min-rate", 0, "lower bound of the rate, in items per interval")
	flags.Int("max-rate", 0, "upper bound of the rate (default min-rate)")
	flags.Duration("interval", 0, "base interval (e.g. 1s, 500ms)")
	flags.Bool("evenly-spaced", true, "spread items across the interval instead of bursting")
	flags.Int("error-threshold", 0, "failures per interval that trigger a rate decrease (-1: every interval)")
	flags.Bool("back-off", false, "pause dispatch for one interval after the threshold is crossed")
	flags.Int("max-retries", 0, "retries before a failing item is dropped")
	flags.Duration("timeout", 0, "per-request timeout")
}

// addReportFlags registers output and persistence flags shared by run and rdap.
func addReportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	flags.String("out", "", "Write output to a file (default stdout)")
	flags.String("out-dir", "", "Write output to a directory")
	flags.Bool("results", false, "include every execution in the report")
	flags.Bool("save", false, "save the report to the run history store")
}

// throttleFlagKeys maps throttle flags to config keys.
var throttleFlagKeys = map[string]string{
	"min-rate":        "min_rate",
	"max-rate":        "max_rate",
	"interval":        "interval",
	"evenly-spaced":   "evenly_spaced",
	"error-threshold": "error_threshold",
	"back-off":        "back_off",
	"max-retries":     "max_retries",
}

// flagOverrides collects explicitly set flags into a runtime config override.
func flagOverrides(flags *pflag.FlagSet) (map[string]any, error) {
	throttleSection := map[string]any{}
	httpSection := map[string]any{}
	rdapSection := map[string]any{}

	var firstErr error
	flags.Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		if key, ok := throttleFlagKeys[f.Name]; ok {
			throttleSection[key] = f.Value.String()
			return
		}
		switch f.Name {
		case "method":
			httpSection["method"] = f.Value.String()
		case "fail-status":
			codes, err := flags.GetIntSlice("fail-status")
			if err != nil {
				firstErr = err
				return
			}
			httpSection["fail_statuses"] = codes
		case "timeout":
			httpSection["timeout"] = f.Value.String()
			rdapSection["timeout"] = f.Value.String()
		case "rdap-server":
			rdapSection["server"] = f.Value.String()
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	overrides := map[string]any{}
	for name, section := range map[string]map[string]any{
		"throttle": throttleSection,
		"http":     httpSection,
		"rdap":     rdapSection,
	} {
		if len(section) > 0 {
			overrides[name] = section
		}
	}
	return overrides, nil
}

// buildJobs pairs targets with sources built from cfg. The RDAP source is
// only constructed when a domain target is present.
func buildJobs(cfg *config.Config, targets []source.Target) ([]runner.Job, error) {
	httpSource := source.NewHTTPSource(cfg.HTTP.Timeout, cfg.HTTP.Method, cfg.HTTP.UserAgent, cfg.HTTP.FailStatuses)

	var rdapSource *source.RDAPSource
	jobs := make([]runner.Job, 0, len(targets))
	for _, target := range targets {
		if target.Kind() == source.KindHTTP {
			jobs = append(jobs, runner.Job{Target: target, Source: httpSource})
			continue
		}
		if rdapSource == nil {
			var err error
			rdapSource, err = source.NewRDAPSource(cfg.RDAP.Server, cfg.RDAP.Timeout)
			if err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, runner.Job{Target: target, Source: rdapSource})
	}
	return jobs, nil
}

// executeRun loads config, runs targets and renders the report. Ctrl+C
// cancels the run and still prints the partial report.
func executeRun(cmd *cobra.Command, targets []source.Target, overrides []map[string]any) error {
	flagOverride, err := flagOverrides(cmd.Flags())
	if err != nil {
		return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid flags")
	}
	overrides = append(overrides, flagOverride)

	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
	}
	engineCfg, err := cfg.Throttle.Engine()
	if err != nil {
		return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid throttle configuration")
	}

	dest, err := destinationFromFlags(cmd)
	if err != nil {
		return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid output options")
	}
	includeResults, _ := cmd.Flags().GetBool("results")
	save, _ := cmd.Flags().GetBool("save")

	jobs, err := buildJobs(cfg, targets)
	if err != nil {
		return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid work source")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.CLILogger
	logger.Info(fmt.Sprintf("Running %d targets", len(jobs)),
		zap.Int("min_rate", engineCfg.MinRate),
		zap.Int("max_rate", engineCfg.MaxRate),
		zap.Duration("interval", engineCfg.BaseInterval),
		zap.Int("max_retries", engineCfg.MaxRetries))

	r := runner.New(engineCfg, logger)
	r.OnResult = func(res source.Result) {
		logger.Debug("Executed",
			zap.String("target", res.Target),
			zap.Int("attempt", res.Attempt),
			zap.Bool("success", res.Success),
			zap.Int("status", res.StatusCode),
			zap.Duration("duration", res.Duration))
	}

	report, runErr := r.Run(ctx, jobs)
	if report == nil {
		return errwrap.WrapInvalidInput(cmd.Context(), runErr, "run failed")
	}

	if save {
		if err := saveReport(context.WithoutCancel(ctx), cfg.Store, report); err != nil {
			logger.Warn("Failed to save run report", zap.Error(err))
		} else {
			logger.Info("Saved run report", zap.String("run_id", report.RunID))
		}
	}

	if dest, err = dest.forRun(report.RunID); err != nil {
		return err
	}
	if err := dest.writeReport(report, includeResults); err != nil {
		return err
	}

	if runErr != nil {
		return errwrap.Wrap(cmd.Context(), errwrap.CodeTimeout, runErr, "run canceled before all targets settled")
	}
	return nil
}
