package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/pacer/internal/output"
	"github.com/namelens/pacer/internal/runner"
)

func TestDestinationFromFlags(t *testing.T) {
	t.Run("out and out-dir conflict", func(t *testing.T) {
		cmd := newRunFlagsCommand(t, "--out", "a.json", "--out-dir", "reports")
		_, err := destinationFromFlags(cmd)
		assert.ErrorIs(t, err, errOutConflict)
	})

	t.Run("unknown format", func(t *testing.T) {
		cmd := newRunFlagsCommand(t, "--output-format", "yaml")
		_, err := destinationFromFlags(cmd)
		assert.Error(t, err)
	})

	t.Run("history commands have no out-dir", func(t *testing.T) {
		cmd := &cobra.Command{Use: "list"}
		addHistoryOutputFlags(cmd)
		require.NoError(t, cmd.Flags().Parse([]string{"--output-format", "json", "--out", " runs.json "}))

		dest, err := destinationFromFlags(cmd)
		require.NoError(t, err)
		assert.Equal(t, output.FormatJSON, dest.format)
		assert.Equal(t, "runs.json", dest.path)
		assert.Empty(t, dest.dir)
	})
}

func TestDestinationForRunWritesIntoDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	dest, err := destination{format: output.FormatJSON, dir: dir}.forRun("6F0A2C1E-aaaa-bbbb")
	require.NoError(t, err)

	assert.Equal(t, "run.6f0a2c1e.json", filepath.Base(dest.path))

	report := &runner.Report{RunID: "6F0A2C1E-aaaa-bbbb", Status: "completed", Targets: 2, Successes: 2}
	require.NoError(t, dest.writeReport(report, false))

	raw, err := os.ReadFile(dest.path)
	require.NoError(t, err)
	var decoded runner.Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, 2, decoded.Successes)
}

func TestDestinationForRunWithoutDirectory(t *testing.T) {
	dest := destination{format: output.FormatTable, path: "out.txt"}
	pinned, err := dest.forRun("abc")
	require.NoError(t, err)
	assert.Equal(t, dest, pinned)
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "abc-def", fileSafe(" ABC/def "))
	assert.Equal(t, "run", fileSafe("../"))
	assert.Equal(t, "12345678", shortRunID("123456789abc"))
}
