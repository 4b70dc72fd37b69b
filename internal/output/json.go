package output

import (
	"encoding/json"

	"github.com/namelens/pacer/internal/runner"
)

// JSONFormatter renders reports as JSON.
type JSONFormatter struct {
	Indent  bool
	Results bool
}

// FormatReport renders a run report as JSON.
func (f *JSONFormatter) FormatReport(report *runner.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	copied := *report
	if !f.Results {
		copied.Results = nil
	}
	return f.marshal(copied)
}

// FormatRuns renders run history as a JSON array.
func (f *JSONFormatter) FormatRuns(runs []runner.Report) (string, error) {
	if runs == nil {
		runs = []runner.Report{}
	}
	return f.marshal(runs)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
