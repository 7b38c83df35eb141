// Package imdbsync ingests the public IMDb datasets into the local store:
// deceased people from name.basics, movies from title.basics, and acting
// credits from title.principals. Datasets run through an engine that skips
// unchanged upstream files and records every run in the sync_log table.
package imdbsync

import (
	"context"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
)

// upsertBatchSize is how many parsed rows accumulate before a bulk upsert.
const upsertBatchSize = 5000

// SyncResult holds the outcome of a dataset sync.
type SyncResult struct {
	// RowsSynced is the number of rows written to the target table.
	RowsSynced int64 `json:"rows_synced"`
	// RowsSkipped counts input rows filtered out (living people, non-movie
	// titles, non-acting credits, malformed lines).
	RowsSkipped int64 `json:"rows_skipped,omitempty"`
}

// Dataset is one IMDb dump file and the table it loads.
type Dataset interface {
	// Name returns the unique identifier for this dataset (e.g. "namebasics").
	Name() string

	// Table returns the target table (e.g. "dead_actors").
	Table() string

	// SourceURL returns the dump URL on datasets.imdbws.com. The engine
	// probes it for an ETag to decide whether a sync is needed.
	SourceURL() string

	// DependsOn lists dataset names that must be loaded before this one.
	DependsOn() []string

	// Sync downloads, parses, and loads the dataset into Postgres.
	// tempDir is a working directory for temporary files.
	Sync(ctx context.Context, pool db.Pool, f fetcher.Fetcher, tempDir string) (*SyncResult, error)
}
