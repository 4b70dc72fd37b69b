package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		min_rate INTEGER NOT NULL,
		max_rate INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL,
		evenly_spaced INTEGER NOT NULL,
		back_off INTEGER NOT NULL,
		max_retries INTEGER NOT NULL,
		targets INTEGER NOT NULL,
		executions INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		final_rate INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	`CREATE TABLE IF NOT EXISTS rate_samples (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		sampled_at INTEGER NOT NULL,
		rate INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		pending INTEGER NOT NULL,
		back_off INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
