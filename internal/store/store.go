// Package store persists actors, enrichment output, runs, and batch
// checkpoints behind a backend-neutral interface with Postgres and SQLite
// implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// ErrNotFound is wrapped by lookups that require the row to exist.
var ErrNotFound = eris.New("store: not found")

// ActorFilter specifies criteria for listing dead actors.
type ActorFilter struct {
	Name           string `json:"name,omitempty"`            // substring match on the actor name
	OnlyUnenriched bool   `json:"only_unenriched,omitempty"` // actors with no death record yet
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	BatchID      string          `json:"batch_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"` // zero value means no cutoff
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment engine.
type Store interface {
	// Actors
	UpsertActor(ctx context.Context, a model.Actor) error
	GetActor(ctx context.Context, personID int64) (*model.Actor, error)
	ListDeadActors(ctx context.Context, filter ActorFilter) ([]model.Actor, error)
	CountDeadActors(ctx context.Context) (int, error)

	// Death records
	SaveDeathRecord(ctx context.Context, rec *model.DeathRecord) error
	GetDeathRecord(ctx context.Context, personID int64) (*model.DeathRecord, error)
	CountDeathRecords(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, actor model.Actor, batchID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Title surface
	SearchMovies(ctx context.Context, query string, limit int) ([]model.Movie, error)
	DeadCast(ctx context.Context, titleID int64) ([]model.DeadCastMember, error)

	// Batch checkpoints
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, batchID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, batchID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the backend named by driver: "postgres" expects a connection
// string, "sqlite" a database file path.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
