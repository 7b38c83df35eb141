package imdbsync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
)

// Engine orchestrates dataset sync runs.
type Engine struct {
	pool    db.Pool
	fetcher fetcher.Fetcher
	syncLog *SyncLog
	reg     *Registry
	tempDir string
}

// RunOpts configures which datasets to sync and how.
type RunOpts struct {
	Datasets []string // restrict to specific dataset names
	Force    bool     // sync even when the upstream file is unchanged
}

// NewEngine creates a new sync engine.
func NewEngine(pool db.Pool, f fetcher.Fetcher, syncLog *SyncLog, reg *Registry, tempDir string) *Engine {
	return &Engine{
		pool:    pool,
		fetcher: f,
		syncLog: syncLog,
		reg:     reg,
		tempDir: tempDir,
	}
}

// Run iterates over the selected datasets in dependency order and syncs each
// one whose upstream file has changed since the last successful sync. IMDb
// republishes the dumps daily under stable URLs, so the change check is an
// ETag probe against the recorded value rather than a calendar schedule.
// Every attempt is recorded in the sync log.
func (e *Engine) Run(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "imdbsync.engine"))

	datasets, err := e.reg.Select(opts.Datasets)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		log.Info("no datasets selected")
		return nil
	}
	log.Info("selected datasets", zap.Int("count", len(datasets)))

	selected := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		selected[ds.Name()] = true
	}

	var synced, skipped, failed int
	failedSet := make(map[string]bool)

	for _, ds := range datasets {
		if err := ctx.Err(); err != nil {
			return err
		}
		dsLog := log.With(zap.String("dataset", ds.Name()))

		if dep, bad := failedDependency(ds, failedSet); bad {
			dsLog.Warn("skipping (dependency failed)", zap.String("dependency", dep))
			skipped++
			continue
		}

		curETag := e.probeETag(ctx, ds, dsLog)
		if !opts.Force && curETag != "" {
			same, err := e.upstreamUnchanged(ctx, ds, curETag)
			if err != nil {
				return err
			}
			if same {
				dsLog.Debug("skipping (upstream unchanged)")
				skipped++
				continue
			}
		}

		if err := e.warnStaleDeps(ctx, ds, selected, dsLog); err != nil {
			return err
		}

		failedNow, err := e.syncDataset(ctx, ds, curETag, dsLog)
		if err != nil {
			return err
		}
		if failedNow {
			failed++
			failedSet[ds.Name()] = true
			continue
		}
		synced++
	}

	log.Info("engine run complete",
		zap.Int("synced", synced),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return eris.Errorf("imdbsync: %d of %d datasets failed", failed, len(datasets))
	}
	return nil
}

// probeETag asks the upstream server for the current ETag. Probe
// failures degrade to a normal sync rather than aborting the run.
func (e *Engine) probeETag(ctx context.Context, ds Dataset, log *zap.Logger) string {
	etag, err := e.fetcher.HeadETag(ctx, ds.SourceURL())
	if err != nil {
		log.Debug("etag probe failed", zap.Error(err))
		return ""
	}
	return etag
}

func (e *Engine) upstreamUnchanged(ctx context.Context, ds Dataset, curETag string) (bool, error) {
	prev, err := e.syncLog.LastETag(ctx, ds.Name())
	if err != nil {
		return false, eris.Wrapf(err, "engine: check last etag for %s", ds.Name())
	}
	return prev != "" && prev == curETag, nil
}

// warnStaleDeps flags dependencies that are outside this run and have
// never synced. The sync still proceeds; the rows that need them just
// come up empty.
func (e *Engine) warnStaleDeps(ctx context.Context, ds Dataset, selected map[string]bool, log *zap.Logger) error {
	for _, dep := range ds.DependsOn() {
		if selected[dep] {
			continue
		}
		last, err := e.syncLog.LastSuccess(ctx, dep)
		if err != nil {
			return eris.Wrapf(err, "engine: check dependency %s", dep)
		}
		if last == nil {
			log.Warn("dependency never synced", zap.String("dependency", dep))
		}
	}
	return nil
}

// syncDataset runs one dataset sync and records the outcome. The bool
// reports a failed sync, which counts against the run; a non-nil error
// means the sync log itself is unusable and the run must stop.
func (e *Engine) syncDataset(ctx context.Context, ds Dataset, curETag string, log *zap.Logger) (bool, error) {
	log.Info("starting sync")
	syncID, err := e.syncLog.Start(ctx, ds.Name())
	if err != nil {
		return false, eris.Wrapf(err, "engine: start sync log for %s", ds.Name())
	}

	start := time.Now()
	result, err := ds.Sync(ctx, e.pool, e.fetcher, e.tempDir)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("sync failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if logErr := e.syncLog.Fail(ctx, syncID, err.Error()); logErr != nil {
			log.Error("failed to record sync failure", zap.Error(logErr))
		}
		return true, nil
	}

	if err := e.syncLog.Complete(ctx, syncID, result, curETag); err != nil {
		log.Error("failed to record sync completion", zap.Error(err))
	}
	log.Info("sync complete",
		zap.Int64("rows", result.RowsSynced),
		zap.Int64("filtered", result.RowsSkipped),
		zap.Duration("elapsed", elapsed),
	)
	return false, nil
}

// failedDependency reports whether any of ds's dependencies failed earlier
// in this run. Loading cast rows against half-synced actor or movie tables
// would silently drop credits, so dependents are skipped instead.
func failedDependency(ds Dataset, failedSet map[string]bool) (string, bool) {
	for _, dep := range ds.DependsOn() {
		if failedSet[dep] {
			return dep, true
		}
	}
	return "", false
}
