package cmd

import (
	"context"
	"fmt"

	"github.com/namelens/pacer/internal/config"
	"github.com/namelens/pacer/internal/runner"
	"github.com/namelens/pacer/internal/store"
)

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return openStoreFrom(ctx, cfg.Store)
}

func openStoreFrom(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func saveReport(ctx context.Context, cfg config.StoreConfig, report *runner.Report) error {
	db, err := openStoreFrom(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	return db.SaveReport(ctx, report)
}
