package enrich

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// BatchStore is the slice of the store the batch runner needs.
type BatchStore interface {
	CreateRun(ctx context.Context, actor model.Actor, batchID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	SaveDeathRecord(ctx context.Context, rec *model.DeathRecord) error
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, batchID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, batchID string) error
}

// RunnerConfig holds the batch-level knobs.
type RunnerConfig struct {
	// BatchID resumes an existing checkpoint when set; empty mints a new
	// batch.
	BatchID         string
	MaxTotalCost    float64
	InterActorDelay time.Duration
}

// Runner drives a whole batch through the orchestrator, one actor at a
// time. Each actor's outcome is persisted and checkpointed before the
// next begins, so a killed run resumes where it stopped.
type Runner struct {
	orch  *Orchestrator
	store BatchStore
	cfg   RunnerConfig
}

// NewRunner creates a batch runner.
func NewRunner(orch *Orchestrator, store BatchStore, cfg RunnerConfig) *Runner {
	return &Runner{orch: orch, store: store, cfg: cfg}
}

// EnrichBatch processes the actors sequentially with an inter-actor
// delay, checkpointing after each. The checkpoint is created on submit
// and deleted only on a clean finish. A budget breach returns
// *BatchCostLimitError carrying everything finished so far; ctx
// cancellation finishes the in-flight actor, keeps the checkpoint, and
// stops before the next one.
func (r *Runner) EnrichBatch(ctx context.Context, actors []model.Actor) (map[int64]*model.ExtendedResult, *model.BatchStats, error) {
	start := time.Now()

	cp, resumed, err := r.openCheckpoint(ctx, actors)
	if err != nil {
		return nil, nil, err
	}
	batchID := cp.BatchID

	ledger := NewBatchLedger(r.cfg.MaxTotalCost)
	ledger.Fold(cp.SpentUSD)
	exhausted := NewExhaustedSet()

	stats := &model.BatchStats{
		BatchID:   batchID,
		FieldFill: make(map[model.FieldKey]int),
		BySource:  make(map[string]model.SourceBatchStats),
	}
	results := make(map[int64]*model.ExtendedResult)
	finish := func() {
		stats.TotalCostUSD = ledger.Spent()
		stats.DurationMS = time.Since(start).Milliseconds()
	}

	zap.L().Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("actors", len(actors)),
		zap.Bool("resumed", resumed),
		zap.Float64("spent_usd", cp.SpentUSD))

	ranAny := false
	for _, actor := range actors {
		if cp.Processed(actor.PersonID) {
			zap.L().Debug("actor already processed, skipping",
				zap.Int64("person_id", actor.PersonID))
			continue
		}

		// The aggregate guard is also checked before each actor so a
		// resumed batch whose checkpoint already carries the spend cannot
		// overshoot.
		if ledger.OverBatchLimit() {
			finish()
			zap.L().Warn("batch cost limit reached",
				zap.String("batch_id", batchID),
				zap.Float64("spent_usd", ledger.Spent()),
				zap.Float64("limit_usd", ledger.Limit()))
			return results, stats, &BatchCostLimitError{
				BatchID: batchID,
				Limit:   ledger.Limit(),
				Spent:   ledger.Spent(),
				Partial: results,
			}
		}

		if err := ctx.Err(); err != nil {
			finish()
			zap.L().Warn("batch interrupted, checkpoint kept",
				zap.String("batch_id", batchID),
				zap.Int("processed", len(cp.ProcessedIDs)))
			return results, stats, eris.Wrapf(err, "enrich: batch %s interrupted", batchID)
		}

		if ranAny && r.cfg.InterActorDelay > 0 {
			select {
			case <-time.After(r.cfg.InterActorDelay):
			case <-ctx.Done():
				finish()
				zap.L().Warn("batch interrupted, checkpoint kept",
					zap.String("batch_id", batchID),
					zap.Int("processed", len(cp.ProcessedIDs)))
				return results, stats, eris.Wrapf(ctx.Err(), "enrich: batch %s interrupted", batchID)
			}
		}
		ranAny = true

		// Shield the in-flight actor from cancellation; a shutdown signal
		// takes effect at the next loop top.
		actorCtx := context.WithoutCancel(ctx)

		run, err := r.store.CreateRun(actorCtx, actor, batchID)
		if err != nil {
			finish()
			return results, stats, eris.Wrapf(err, "enrich: create run for %s", actor.IMDbID())
		}

		rs := &RunState{
			Exhausted: exhausted,
			Batch:     ledger,
			OnStatus: func(s model.RunStatus) {
				if err := r.store.UpdateRunStatus(actorCtx, run.ID, s); err != nil {
					zap.L().Warn("run status update failed",
						zap.String("run_id", run.ID),
						zap.Error(err))
				}
			},
		}

		res, err := r.orch.EnrichActor(actorCtx, actor, rs)
		if err != nil {
			r.failRun(actorCtx, run.ID, err)
			finish()
			return results, stats, eris.Wrapf(err, "enrich: actor %s aborted batch %s", actor.IMDbID(), batchID)
		}

		if err := r.store.SaveDeathRecord(actorCtx, res.Record); err != nil {
			r.failRun(actorCtx, run.ID, err)
			finish()
			return results, stats, eris.Wrapf(err, "enrich: save record for %s", actor.IMDbID())
		}
		if err := r.store.UpdateRunResult(actorCtx, run.ID, RunResultFrom(res)); err != nil {
			zap.L().Warn("run result update failed",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
		if err := r.store.UpdateRunStatus(actorCtx, run.ID, model.RunStatusComplete); err != nil {
			zap.L().Warn("run status update failed",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}

		results[actor.PersonID] = res
		accumulate(stats, res)

		cp.ProcessedIDs = append(cp.ProcessedIDs, actor.PersonID)
		cp.SpentUSD = ledger.Spent()
		cp.Counters["processed"] = len(cp.ProcessedIDs)
		cp.UpdatedAt = time.Now().UTC()
		if err := r.store.SaveCheckpoint(actorCtx, cp); err != nil {
			finish()
			return results, stats, eris.Wrapf(err, "enrich: save checkpoint %s", batchID)
		}
	}

	if err := r.store.DeleteCheckpoint(ctx, batchID); err != nil {
		zap.L().Warn("checkpoint delete failed",
			zap.String("batch_id", batchID),
			zap.Error(err))
	}
	finish()
	zap.L().Info("batch complete",
		zap.String("batch_id", batchID),
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Float64("cost_usd", stats.TotalCostUSD),
		zap.Duration("elapsed", time.Since(start)))
	return results, stats, nil
}

// openCheckpoint loads the checkpoint named by BatchID or creates a fresh
// one for the submitted actors, and writes it before any work starts.
func (r *Runner) openCheckpoint(ctx context.Context, actors []model.Actor) (*model.Checkpoint, bool, error) {
	resumed := false
	var cp *model.Checkpoint
	if r.cfg.BatchID != "" {
		loaded, err := r.store.LoadCheckpoint(ctx, r.cfg.BatchID)
		if err != nil {
			return nil, false, eris.Wrapf(err, "enrich: load checkpoint %s", r.cfg.BatchID)
		}
		if loaded == nil {
			return nil, false, eris.Errorf("enrich: no checkpoint for batch %s", r.cfg.BatchID)
		}
		cp = loaded
		resumed = true
	} else {
		ids := make([]int64, len(actors))
		for i, a := range actors {
			ids[i] = a.PersonID
		}
		cp = &model.Checkpoint{
			BatchID:      uuid.NewString(),
			SubmittedIDs: ids,
			StartedAt:    time.Now().UTC(),
		}
	}
	if cp.Counters == nil {
		cp.Counters = make(map[string]int)
	}
	cp.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, false, eris.Wrapf(err, "enrich: save checkpoint %s", cp.BatchID)
	}
	return cp, resumed, nil
}

func (r *Runner) failRun(ctx context.Context, runID string, cause error) {
	result := &model.RunResult{
		FieldsTotal: len(model.AllFieldKeys()),
		Error:       cause.Error(),
	}
	if err := r.store.UpdateRunResult(ctx, runID, result); err != nil {
		zap.L().Warn("run result update failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	if err := r.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed); err != nil {
		zap.L().Warn("run status update failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

// RunResultFrom converts a cascade outcome into the run-row summary the
// store persists.
func RunResultFrom(res *model.ExtendedResult) *model.RunResult {
	return &model.RunResult{
		FieldsFound:  res.Record.FilledCount(),
		FieldsTotal:  len(model.AllFieldKeys()),
		FinalSource:  res.Stats.FinalSource,
		TotalCostUSD: res.Stats.TotalCostUSD,
		Synthesized:  res.SynthesisApplied,
	}
}

// accumulate folds one actor's outcome into the batch stats. Counts come
// from the attempt log; spend comes from the actor's ledger breakdown so
// synthesis cost is included.
func accumulate(stats *model.BatchStats, res *model.ExtendedResult) {
	stats.Processed++
	if res.Record.FilledCount() == 0 {
		stats.Failed++
	}

	for _, key := range model.AllFieldKeys() {
		if res.Record.Filled(key) {
			stats.FieldFill[key]++
		}
	}

	for _, at := range res.Stats.Attempts {
		s := stats.BySource[at.Source]
		switch {
		case at.Skipped:
			s.Skipped++
		case at.Error != "":
			s.Attempts++
			s.Errors++
			stats.Errors = append(stats.Errors,
				model.FormatNconst(res.Actor.PersonID)+" "+at.Source+": "+at.Error)
		default:
			s.Attempts++
			if at.OK {
				s.Hits++
			}
		}
		stats.BySource[at.Source] = s
	}
	for src, usd := range res.Stats.CostBySource {
		s := stats.BySource[src]
		s.CostUSD += usd
		stats.BySource[src] = s
	}
	if res.SynthesisError != "" {
		stats.Errors = append(stats.Errors,
			model.FormatNconst(res.Actor.PersonID)+" synthesis: "+res.SynthesisError)
	}
}
