package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/namelens/pacer/internal/output"
	"github.com/namelens/pacer/internal/runner"
)

// destination is where a command renders its output: stdout, a named file,
// or one file per run inside a directory.
type destination struct {
	format output.Format
	path   string
	dir    string
}

var errOutConflict = errors.New("--out and --out-dir are mutually exclusive")

// destinationFromFlags reads --output-format, --out and, when the command
// defines it, --out-dir.
func destinationFromFlags(cmd *cobra.Command) (destination, error) {
	flags := cmd.Flags()

	raw, err := flags.GetString("output-format")
	if err != nil {
		return destination{}, err
	}
	format, err := output.ParseFormat(raw)
	if err != nil {
		return destination{}, err
	}

	d := destination{format: format}
	if d.path, err = flags.GetString("out"); err != nil {
		return destination{}, err
	}
	if flags.Lookup("out-dir") != nil {
		if d.dir, err = flags.GetString("out-dir"); err != nil {
			return destination{}, err
		}
	}
	d.path = strings.TrimSpace(d.path)
	d.dir = strings.TrimSpace(d.dir)

	if d.path != "" && d.dir != "" {
		return destination{}, errOutConflict
	}
	return d, nil
}

func (d destination) extension() string {
	switch d.format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// forRun pins the destination to run.<id>.<ext> when writing into a directory.
func (d destination) forRun(runID string) (destination, error) {
	if d.dir == "" {
		return d, nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return d, fmt.Errorf("create output directory: %w", err)
	}
	dir := d.dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	d.path = filepath.Join(dir, fmt.Sprintf("run.%s.%s", fileSafe(shortRunID(runID)), d.extension()))
	d.dir = ""
	return d, nil
}

// write emits text followed by a newline.
func (d destination) write(text string) error {
	w, closeFn, err := openWriter(d.path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	if closeErr := closeFn(); err == nil {
		err = closeErr
	}
	return err
}

func (d destination) writeReport(report *runner.Report, includeResults bool) error {
	rendered, err := output.NewFormatter(d.format, includeResults).FormatReport(report)
	if err != nil {
		return err
	}
	return d.write(rendered)
}

func (d destination) writeRuns(runs []runner.Report) error {
	rendered, err := output.NewFormatter(d.format, false).FormatRuns(runs)
	if err != nil {
		return err
	}
	return d.write(rendered)
}

func openWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func fileSafe(value string) string {
	clean := unsafeFileChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "run"
	}
	return clean
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
