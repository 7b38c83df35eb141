package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/store"
)

// initStore opens the configured backend and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" {
		dsn = cfg.Store.SQLitePath
	}

	st, err := store.Open(ctx, cfg.Store.Driver, dsn, nil)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return st, nil
}
