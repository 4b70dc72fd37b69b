package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/namelens/pacer/internal/runner"
	"github.com/namelens/pacer/internal/throttle"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// SaveReport stores a finished run and its rate samples. Per-execution
// results are not persisted.
func (s *Store) SaveReport(ctx context.Context, report *runner.Report) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if report == nil || strings.TrimSpace(report.RunID) == "" {
		return errors.New("report id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save report: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	cfg := report.Throttle
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, started_at, finished_at,
			min_rate, max_rate, interval_ms, evenly_spaced, back_off, max_retries,
			targets, executions, successes, failures, dropped, final_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			executions = excluded.executions,
			successes = excluded.successes,
			failures = excluded.failures,
			dropped = excluded.dropped,
			final_rate = excluded.final_rate
	`,
		report.RunID, report.Status, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
		cfg.MinRate, cfg.MaxRate, cfg.BaseInterval.Milliseconds(), boolToInt(cfg.EvenlySpaced), boolToInt(cfg.BackOff), cfg.MaxRetries,
		report.Targets, report.Executions, report.Successes, report.Failures, report.Dropped, report.FinalRate,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_samples WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("clear rate samples: %w", err)
	}
	for i, sample := range report.RateSamples {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_samples (run_id, seq, sampled_at, rate, interval_ms, errors, pending, back_off)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, i, sample.At.UnixMilli(), sample.Rate, sample.Interval.Milliseconds(),
			sample.Errors, sample.Pending, boolToInt(sample.BackOff))
		if err != nil {
			return fmt.Errorf("save rate sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save report: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without rate samples.
// limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]runner.Report, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	runs := []runner.Report{}
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its rate samples in recording order.
func (s *Store) GetRun(ctx context.Context, id string) (*runner.Report, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, strings.TrimSpace(id))
	report, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT sampled_at, rate, interval_ms, errors, pending, back_off
		FROM rate_samples
		WHERE run_id = ?
		ORDER BY seq
	`, report.RunID)
	if err != nil {
		return nil, fmt.Errorf("load rate samples: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	for rows.Next() {
		var (
			sampledAt, intervalMS int64
			backOff               int
			sample                runner.RateSample
		)
		if err := rows.Scan(&sampledAt, &sample.Rate, &intervalMS, &sample.Errors, &sample.Pending, &backOff); err != nil {
			return nil, fmt.Errorf("scan rate sample: %w", err)
		}
		sample.At = time.UnixMilli(sampledAt).UTC()
		sample.Interval = time.Duration(intervalMS) * time.Millisecond
		sample.BackOff = backOff != 0
		report.RateSamples = append(report.RateSamples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load rate samples: %w", err)
	}
	return report, nil
}

// RunQuery selects runs for deletion.
type RunQuery struct {
	All    bool
	ID     string
	Before time.Time
}

// Validate requires exactly one way of selecting runs.
func (q RunQuery) Validate() error {
	if q.All || strings.TrimSpace(q.ID) != "" || !q.Before.IsZero() {
		return nil
	}
	return errors.New("must specify --all, --id, or --before")
}

func (q RunQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.ID) != "":
		return "WHERE id = ?", []any{strings.TrimSpace(q.ID)}, nil
	default:
		return "WHERE started_at < ?", []any{q.Before.UnixMilli()}, nil
	}
}

// DeleteRuns removes matching runs and their samples, returning the number
// of runs removed.
func (s *Store) DeleteRuns(ctx context.Context, q RunQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete runs: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_samples WHERE run_id IN (SELECT id FROM runs %s)
	`, where), args...); err != nil {
		return 0, fmt.Errorf("delete rate samples: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM runs %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete runs: %w", err)
	}
	return deleted, nil
}

const runColumns = `id, status, started_at, finished_at,
	min_rate, max_rate, interval_ms, evenly_spaced, back_off, max_retries,
	targets, executions, successes, failures, dropped, final_rate`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*runner.Report, error) {
	var (
		report                runner.Report
		startedAt, finishedAt int64
		intervalMS            int64
		evenlySpaced, backOff int
		cfg                   throttle.Config
	)
	err := row.Scan(
		&report.RunID, &report.Status, &startedAt, &finishedAt,
		&cfg.MinRate, &cfg.MaxRate, &intervalMS, &evenlySpaced, &backOff, &cfg.MaxRetries,
		&report.Targets, &report.Executions, &report.Successes, &report.Failures, &report.Dropped, &report.FinalRate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	cfg.BaseInterval = time.Duration(intervalMS) * time.Millisecond
	cfg.EvenlySpaced = evenlySpaced != 0
	cfg.BackOff = backOff != 0
	report.Throttle = cfg
	report.StartedAt = time.UnixMilli(startedAt).UTC()
	report.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return &report, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
