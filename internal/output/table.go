package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/namelens/pacer/internal/runner"
)

// TableFormatter renders reports as ASCII tables.
type TableFormatter struct {
	Results bool
}

// FormatReport renders a summary table, then rate samples and results.
func (f *TableFormatter) FormatReport(report *runner.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	summary := newTable()
	for _, row := range summaryRows(report) {
		summary.AppendRow(table.Row{row[0], row[1]})
	}
	rendered := summary.Render()

	if len(report.RateSamples) > 0 {
		samples := newTable()
		samples.SetTitle("Rate adjustments")
		samples.AppendHeader(table.Row{"#", "Rate", "Interval", "Errors", "Pending", "Back-off"})
		for i, s := range report.RateSamples {
			backOff := ""
			if s.BackOff {
				backOff = "yes"
			}
			samples.AppendRow(table.Row{i + 1, s.Rate, s.Interval, s.Errors, s.Pending, backOff})
		}
		rendered += "\n\n" + samples.Render()
	}

	if f.Results && len(report.Results) > 0 {
		results := newTable()
		results.SetTitle("Executions")
		results.AppendHeader(table.Row{"Target", "Attempt", "Outcome", "Status", "Duration", "Message"})
		for _, r := range report.Results {
			status := ""
			if r.StatusCode > 0 {
				status = fmt.Sprintf("%d", r.StatusCode)
			}
			results.AppendRow(table.Row{r.Target, r.Attempt, outcome(r.Success), status, formatDuration(r.Duration), r.Message})
		}
		rendered += "\n\n" + results.Render()
	}

	return rendered, nil
}

// FormatRuns renders one row per run.
func (f *TableFormatter) FormatRuns(runs []runner.Report) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Run", "Started", "Status", "Targets", "Executions", "Failures", "Dropped", "Final rate"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			shortID(r.RunID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.Targets,
			r.Executions,
			r.Failures,
			r.Dropped,
			r.FinalRate,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "runs", len(runs)})
	return t.Render(), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
