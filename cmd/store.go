package main

import (
	"context"

	"github.com/sells-group/tariff-cli/internal/store"
)

// initStore validates the store settings and opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	pool := cfg.Store.Pool
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &pool, cfg.Retry)
}

// initMigratedStore is initStore followed by Migrate.
func initMigratedStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
