package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/namelens/pacer/internal/runner"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders run reports and run history.
type Formatter interface {
	FormatReport(report *runner.Report) (string, error)
	FormatRuns(runs []runner.Report) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format. verbose adds
// per-execution results to reports.
func NewFormatter(format Format, verbose bool) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true, Results: verbose}
	case FormatMarkdown:
		return &MarkdownFormatter{Results: verbose}
	default:
		return &TableFormatter{Results: verbose}
	}
}

func summaryRows(report *runner.Report) [][2]string {
	cfg := report.Throttle
	rateRange := fmt.Sprintf("%d-%d", cfg.MinRate, cfg.MaxRate)
	if cfg.MinRate == cfg.MaxRate {
		rateRange = fmt.Sprintf("%d", cfg.MinRate)
	}
	return [][2]string{
		{"Run", report.RunID},
		{"Status", report.Status},
		{"Started", report.StartedAt.Format(time.RFC3339)},
		{"Duration", formatDuration(report.Duration())},
		{"Rate", fmt.Sprintf("%s per %s (final %d)", rateRange, cfg.BaseInterval, report.FinalRate)},
		{"Targets", fmt.Sprintf("%d", report.Targets)},
		{"Executions", fmt.Sprintf("%d", report.Executions)},
		{"Successes", fmt.Sprintf("%d", report.Successes)},
		{"Failures", fmt.Sprintf("%d", report.Failures)},
		{"Dropped", fmt.Sprintf("%d", report.Dropped)},
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func outcome(success bool) string {
	if success {
		return "ok"
	}
	return "failed"
}
