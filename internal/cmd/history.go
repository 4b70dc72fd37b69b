package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/output"
	"github.com/namelens/pacer/internal/store"
)

var (
	historyLimit        int
	historyShowResults  bool
	historyDeleteAll    bool
	historyDeleteID     string
	historyDeleteBefore string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved run reports",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := destinationFromFlags(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid output options")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to open run history")
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to list runs")
		}

		if len(runs) == 0 && dest.format == output.FormatTable {
			lines := []string{"Run History", "", "(no saved runs; use --save with run or rdap)"}
			return dest.write(strings.TrimRight(ascii.DrawBox(strings.Join(lines, "\n"), 0), "\n"))
		}
		return dest.writeRuns(runs)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one saved run with its rate samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := destinationFromFlags(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid output options")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to open run history")
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		report, err := db.GetRun(cmd.Context(), strings.TrimSpace(args[0]))
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				envelope := errwrap.NewNotFoundError("run not found")
				envelope, _ = envelope.WithContext(map[string]interface{}{"run_id": args[0]})
				return envelope
			}
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to load run")
		}

		return dest.writeReport(report, historyShowResults)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete saved runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.RunQuery{All: historyDeleteAll, ID: strings.TrimSpace(historyDeleteID)}
		if before := strings.TrimSpace(historyDeleteBefore); before != "" {
			cutoff, err := parseBefore(before, time.Now())
			if err != nil {
				return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid --before value")
			}
			query.Before = cutoff
		}
		if err := query.Validate(); err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "no runs selected")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to open run history")
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		deleted, err := db.DeleteRuns(cmd.Context(), query)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to delete runs")
		}
		observability.CLILogger.Info(fmt.Sprintf("Deleted %d runs", deleted), zap.Int64("deleted", deleted))
		return nil
	},
}

// parseBefore accepts an RFC 3339 timestamp or a duration meaning "older than".
func parseBefore(value string, now time.Time) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	age, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time or duration, got %q", value)
	}
	if age <= 0 {
		return time.Time{}, fmt.Errorf("duration must be positive, got %q", value)
	}
	return now.Add(-age), nil
}

func addHistoryOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)

	addHistoryOutputFlags(historyListCmd)
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list (0 for all)")

	addHistoryOutputFlags(historyShowCmd)
	historyShowCmd.Flags().BoolVar(&historyShowResults, "results", false, "include every execution")

	historyDeleteCmd.Flags().BoolVar(&historyDeleteAll, "all", false, "delete every saved run")
	historyDeleteCmd.Flags().StringVar(&historyDeleteID, "id", "", "delete one run by id")
	historyDeleteCmd.Flags().StringVar(&historyDeleteBefore, "before", "", "delete runs started before an RFC 3339 time or older than a duration (e.g. 720h)")
}
