package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/enrich"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/source"
	"github.com/deadonfilm/enrichment-cli/internal/store"
	"github.com/deadonfilm/enrichment-cli/internal/urlresolve"
	anthropicpkg "github.com/deadonfilm/enrichment-cli/pkg/anthropic"
	"github.com/deadonfilm/enrichment-cli/pkg/perplexity"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

// enrichEnv holds the initialized store, source registry, and cascade
// orchestrator shared by the enrich, batch, and serve commands.
type enrichEnv struct {
	Store    store.Store
	Registry *source.Registry
	Orch     *enrich.Orchestrator
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// costRates merges configured pricing overrides onto the default rates.
func costRates() cost.Rates {
	anthropicRates := make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))
	for modelID, p := range cfg.Pricing.Anthropic {
		anthropicRates[modelID] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return cost.FromConfig(anthropicRates, cfg.Pricing.Perplexity.PerQuery, cfg.Pricing.NYTimes.PerQuery)
}

// buildSourceDeps constructs the shared clients the source adapters need.
// Keyless providers get nil clients, which Build logs as unavailable.
func buildSourceDeps() source.Deps {
	deps := source.Deps{
		Wikimedia: wikimedia.NewClient(
			wikimedia.WithSPARQLBaseURL(cfg.Sources.Wikimedia.SPARQLBaseURL),
			wikimedia.WithWikiBaseURL(cfg.Sources.Wikimedia.WikipediaBaseURL),
			wikimedia.WithUserAgent(cfg.HTTP.UserAgent),
		),
		Calculator: cost.NewCalculator(costRates()),
	}

	if cfg.Sources.Perplexity.Key != "" {
		deps.Perplexity = perplexity.NewClient(cfg.Sources.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Sources.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Sources.Perplexity.Model))
	} else {
		zap.L().Debug("DEADONFILM_SOURCES_PERPLEXITY_KEY not set, perplexity source disabled")
	}

	if cfg.Sources.Anthropic.Key != "" {
		deps.Anthropic = anthropicpkg.NewClient(cfg.Sources.Anthropic.Key)
	} else {
		zap.L().Debug("DEADONFILM_SOURCES_ANTHROPIC_KEY not set, claude sources disabled")
	}

	return deps
}

// initEnrich sets up the store, source clients, and the orchestrator.
// Callers should defer env.Close().
func initEnrich(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	deps := buildSourceDeps()
	reg := source.Build(cfg, deps)
	if reg.Len() == 0 {
		_ = st.Close()
		return nil, eris.New("no sources available; check source_priority and credentials")
	}

	var synth *enrich.Synthesizer
	if cfg.Enrich.ClaudeCleanup.Enabled && deps.Anthropic != nil {
		resolver := urlresolve.New(urlresolve.Options{UserAgent: cfg.HTTP.UserAgent})
		synth = enrich.NewSynthesizer(deps.Anthropic, cfg.CleanupModelID(), deps.Calculator, resolver)
		zap.L().Info("claude synthesis enabled", zap.String("model", cfg.CleanupModelID()))
	}

	gate := enrich.NewGate(cfg.Enrich.RatePerMinute)
	orch := enrich.New(reg.Sources(), gate, synth, enrich.OptionsFromConfig(cfg.Enrich))

	zap.L().Info("cascade ready",
		zap.Strings("sources", reg.Names()),
		zap.Bool("synthesis", synth != nil))

	return &enrichEnv{Store: st, Registry: reg, Orch: orch}, nil
}

// completeRun drives one actor through the cascade and persists the outcome
// onto an already-created run row: death record, result summary, final
// status. It mirrors the batch runner's per-actor bookkeeping for the
// single-actor paths (enrich command, serve webhook).
func completeRun(ctx context.Context, st store.Store, orch *enrich.Orchestrator, actor model.Actor, run *model.Run) (*model.ExtendedResult, error) {
	rs := &enrich.RunState{
		OnStatus: func(s model.RunStatus) {
			if err := st.UpdateRunStatus(ctx, run.ID, s); err != nil {
				zap.L().Warn("run status update failed",
					zap.String("run_id", run.ID),
					zap.Error(err))
			}
		},
	}

	res, err := orch.EnrichActor(ctx, actor, rs)
	if err != nil {
		markRunFailed(ctx, st, run.ID, err)
		return res, err
	}

	if err := st.SaveDeathRecord(ctx, res.Record); err != nil {
		err = eris.Wrapf(err, "save death record for %s", actor.IMDbID())
		markRunFailed(ctx, st, run.ID, err)
		return res, err
	}

	if err := st.UpdateRunResult(ctx, run.ID, enrich.RunResultFrom(res)); err != nil {
		zap.L().Warn("run result update failed",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
	if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete); err != nil {
		zap.L().Warn("run status update failed",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}

	return res, nil
}

func markRunFailed(ctx context.Context, st store.Store, runID string, cause error) {
	result := &model.RunResult{
		FieldsTotal: len(model.AllFieldKeys()),
		Error:       cause.Error(),
	}
	if err := st.UpdateRunResult(ctx, runID, result); err != nil {
		zap.L().Warn("run result update failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	if err := st.UpdateRunStatus(ctx, runID, model.RunStatusFailed); err != nil {
		zap.L().Warn("run status update failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}
