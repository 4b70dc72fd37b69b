package output

import (
	"fmt"
	"strings"

	"github.com/namelens/pacer/internal/runner"
)

// MarkdownFormatter renders reports as markdown tables.
type MarkdownFormatter struct {
	Results bool
}

// FormatReport renders a run report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *runner.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Run %s\n\n", escapeMarkdownCell(report.RunID)))
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	for _, row := range summaryRows(report) {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", row[0], escapeMarkdownCell(row[1])))
	}

	if len(report.RateSamples) > 0 {
		sb.WriteString("\n### Rate adjustments\n\n")
		sb.WriteString("| # | Rate | Interval | Errors | Pending | Back-off |\n")
		sb.WriteString("|---|------|----------|--------|---------|----------|\n")
		for i, s := range report.RateSamples {
			backOff := ""
			if s.BackOff {
				backOff = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %d | %d | %s | %d | %d | %s |\n",
				i+1, s.Rate, s.Interval, s.Errors, s.Pending, backOff))
		}
	}

	if f.Results && len(report.Results) > 0 {
		sb.WriteString("\n### Executions\n\n")
		sb.WriteString("| Target | Attempt | Outcome | Status | Message |\n")
		sb.WriteString("|--------|---------|---------|--------|---------|\n")
		for _, r := range report.Results {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %d | %s |\n",
				escapeMarkdownCell(r.Target), r.Attempt, outcome(r.Success), r.StatusCode, escapeMarkdownCell(r.Message)))
		}
	}

	return sb.String(), nil
}

// FormatRuns renders run history as a Markdown table.
func (f *MarkdownFormatter) FormatRuns(runs []runner.Report) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Started | Status | Targets | Executions | Failures | Dropped | Final rate |\n")
	sb.WriteString("|-----|---------|--------|---------|------------|----------|---------|------------|\n")
	for _, r := range runs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %d | %d |\n",
			escapeMarkdownCell(r.RunID),
			r.StartedAt.UTC().Format("2006-01-02 15:04:05Z"),
			escapeMarkdownCell(r.Status),
			r.Targets, r.Executions, r.Failures, r.Dropped, r.FinalRate))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}
