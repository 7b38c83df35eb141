package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/config"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/source"
)

// Options configure the per-actor cascade.
type Options struct {
	ConfidenceThreshold  float64
	ReliabilityThreshold float64
	UseReliability       bool
	MaxCostPerActor      float64
	// CleanupEnabled runs the synthesis stage over the gathered excerpts
	// after the cascade finishes.
	CleanupEnabled bool
	// GatherAll disables early stopping so every source contributes raw
	// material; the final source is the highest confidence seen.
	GatherAll bool
}

// OptionsFromConfig lifts the enrich config block into cascade options.
func OptionsFromConfig(cfg config.EnrichConfig) Options {
	return Options{
		ConfidenceThreshold:  cfg.ConfidenceThreshold,
		ReliabilityThreshold: cfg.ReliabilityThreshold,
		UseReliability:       cfg.UseReliabilityThreshold,
		MaxCostPerActor:      cfg.CostLimits.MaxCostPerActor,
		CleanupEnabled:       cfg.ClaudeCleanup.Enabled,
		GatherAll:            cfg.ClaudeCleanup.GatherAllSources,
	}
}

// RunState is the batch-scoped state threaded into each actor's cascade:
// the shared spend ledger, the benched-source set, and a run-status
// callback. The batch runner owns all three so the orchestrator stays
// testable in isolation; a nil RunState works for single-actor runs.
type RunState struct {
	Exhausted *ExhaustedSet
	Batch     *BatchLedger
	OnStatus  func(model.RunStatus)
}

func (rs *RunState) exhaustedSet() *ExhaustedSet {
	if rs == nil || rs.Exhausted == nil {
		return NewExhaustedSet()
	}
	return rs.Exhausted
}

func (rs *RunState) foldBatch(usd float64) {
	if rs == nil || rs.Batch == nil {
		return
	}
	rs.Batch.Fold(usd)
}

func (rs *RunState) setStatus(s model.RunStatus) {
	if rs == nil || rs.OnStatus == nil {
		return
	}
	rs.OnStatus(s)
}

// candidate remembers a confident answer from a source that failed the
// reliability bar, kept in case nothing more trustworthy corroborates it.
type candidate struct {
	name       string
	confidence float64
}

// Orchestrator walks the source cascade for one actor at a time. Sources
// are tried in the exact order given; merges apply in that same order, so
// first-wins needs no timestamps.
type Orchestrator struct {
	sources []source.Source
	gate    *Gate
	synth   *Synthesizer
	opts    Options
}

// New creates an orchestrator over an ordered cascade. synth may be nil
// when the synthesis stage is disabled.
func New(sources []source.Source, gate *Gate, synth *Synthesizer, opts Options) *Orchestrator {
	return &Orchestrator{sources: sources, gate: gate, synth: synth, opts: opts}
}

// Sources returns the cascade in priority order.
func (o *Orchestrator) Sources() []source.Source {
	return o.sources
}

// EnrichActor runs the full cascade for one actor and returns the merged
// record with per-attempt stats. Classified source failures are recorded
// and skipped; only an unclassified error aborts, carrying the partial
// result alongside it.
func (o *Orchestrator) EnrichActor(ctx context.Context, actor model.Actor, rs *RunState) (*model.ExtendedResult, error) {
	start := time.Now()
	rs.setStatus(model.RunStatusEnriching)

	rec := model.NewDeathRecord(actor.PersonID)
	ledger := NewLedger()
	res := &model.ExtendedResult{Actor: actor, Record: rec}
	stats := &res.Stats
	stats.PersonID = actor.PersonID
	stats.FieldsBefore = rec.FilledCount()

	exhausted := rs.exhaustedSet()
	gatherExcerpts := o.opts.CleanupEnabled || o.opts.GatherAll

	finish := func() {
		stats.FieldsAfter = rec.FilledCount()
		stats.TotalCostUSD = ledger.ActorTotal()
		stats.CostBySource = ledger.BySource()
		stats.DurationMS = time.Since(start).Milliseconds()
		rec.UpdatedAt = time.Now().UTC()
	}

	var best *candidate
	var maxSeen candidate
	accepted := false

cascade:
	for _, src := range o.sources {
		name := src.Name()
		if exhausted.Has(name) {
			stats.Attempts = append(stats.Attempts, model.AttemptRecord{Source: name, Skipped: true})
			zap.L().Debug("source exhausted, skipping",
				zap.String("source", name),
				zap.Int64("person_id", actor.PersonID))
			continue
		}

		delay, err := o.gate.Wait(ctx, name)
		if err != nil {
			finish()
			return res, eris.Wrapf(err, "enrich: rate gate for %s", name)
		}

		lookupStart := time.Now()
		result, err := src.Lookup(ctx, actor)
		elapsed := time.Since(lookupStart)

		attempt := model.AttemptRecord{
			Source:     name,
			DurationMS: elapsed.Milliseconds(),
			DelayMS:    delay.Milliseconds(),
		}

		// Cost folds whether or not the lookup paid off; a miss against a
		// metered API still bills.
		var spent float64
		if result != nil {
			spent = result.Source.CostUSD
		}
		attempt.CostUSD = spent
		ledger.Add(name, spent)
		rs.foldBatch(spent)

		if err != nil {
			attempt.Error = err.Error()
			stats.Attempts = append(stats.Attempts, attempt)

			var blocked *source.AccessBlockedError
			var timeout *source.TimeoutError
			switch {
			case IsRateLimitErr(err):
				exhausted.Mark(name)
				zap.L().Warn("source rate limited, benched for batch",
					zap.String("source", name),
					zap.Error(err))
			case errors.As(err, &blocked):
				zap.L().Warn("source blocked",
					zap.String("source", name),
					zap.Int("status", blocked.Status))
			case errors.As(err, &timeout):
				if timeout.HighPriority {
					zap.L().Warn("source timeout, needs manual review",
						zap.String("source", name),
						zap.Int64("person_id", actor.PersonID))
				} else {
					zap.L().Debug("source timeout",
						zap.String("source", name),
						zap.Int64("person_id", actor.PersonID))
				}
			default:
				// Anything unclassified is an adapter bug, not an
				// operational failure. Surface it with the partial result.
				finish()
				return res, eris.Wrapf(err, "enrich: source %s failed for %s", name, actor.IMDbID())
			}

			if ledger.OverActorLimit(o.opts.MaxCostPerActor) {
				stats.CostLimited = true
				zap.L().Warn("actor cost limit reached",
					zap.Int64("person_id", actor.PersonID),
					zap.Float64("spent_usd", ledger.ActorTotal()),
					zap.Float64("limit_usd", o.opts.MaxCostPerActor))
				break cascade
			}
			continue
		}

		attempt.OK = result.Found
		attempt.Confidence = result.Source.Confidence
		stats.Attempts = append(stats.Attempts, attempt)

		zap.L().Debug("source answered",
			zap.String("source", name),
			zap.Int64("person_id", actor.PersonID),
			zap.Bool("found", result.Found),
			zap.Float64("confidence", result.Source.Confidence),
			zap.Duration("elapsed", elapsed))

		// The guard is re-checked right after folding, before this
		// attempt's data merges: a breached budget returns what had
		// accumulated up to the previous source.
		if ledger.OverActorLimit(o.opts.MaxCostPerActor) {
			stats.CostLimited = true
			zap.L().Warn("actor cost limit reached",
				zap.Int64("person_id", actor.PersonID),
				zap.Float64("spent_usd", ledger.ActorTotal()),
				zap.Float64("limit_usd", o.opts.MaxCostPerActor))
			break cascade
		}

		if !result.Found {
			continue
		}

		Merge(rec, result.Details, result.Source)
		for _, add := range result.Additional {
			MergeAdditional(rec, add.Details, add.Source)
		}

		if gatherExcerpts && result.Excerpt != "" {
			res.RawExcerpts = append(res.RawExcerpts, model.RawExcerpt{
				SourceName:   name,
				Text:         result.Excerpt,
				URL:          result.Source.URL,
				Confidence:   result.Source.Confidence,
				Tier:         result.Source.Tier,
				Reliability:  result.Source.Reliability,
				CitationURLs: result.Citations,
			})
		}

		if o.opts.GatherAll {
			if result.Source.Confidence > maxSeen.confidence {
				maxSeen = candidate{name: name, confidence: result.Source.Confidence}
			}
			continue
		}

		conf := result.Source.Confidence
		contentMet := conf >= o.opts.ConfidenceThreshold
		reliabilityMet := !o.opts.UseReliability || src.Reliability() >= o.opts.ReliabilityThreshold
		if contentMet && reliabilityMet {
			stats.FinalSource = name
			stats.FinalConfidence = conf
			accepted = true
			break cascade
		}
		if contentMet && (best == nil || conf > best.confidence) {
			best = &candidate{name: name, confidence: conf}
		}
	}

	if !accepted {
		// Running out of sources below threshold is working-as-intended
		// low-confidence output, not an error.
		switch {
		case o.opts.GatherAll && maxSeen.name != "":
			stats.FinalSource = maxSeen.name
			stats.FinalConfidence = maxSeen.confidence
		case best != nil:
			stats.FinalSource = best.name
			stats.FinalConfidence = best.confidence
		}
	}

	if o.opts.CleanupEnabled && o.synth != nil && !stats.CostLimited && len(res.RawExcerpts) > 0 {
		rs.setStatus(model.RunStatusSynthesizing)
		o.synthesize(ctx, actor, res, ledger, rs)
	}

	finish()
	return res, nil
}

// synthesize runs the cleanup model over the gathered excerpts. Failure
// is non-fatal: the excerpts ride along raw, and spend already incurred
// stays on the ledger.
func (o *Orchestrator) synthesize(ctx context.Context, actor model.Actor, res *model.ExtendedResult, ledger *Ledger, rs *RunState) {
	details, entry, spent, err := o.synth.Run(ctx, actor, res.RawExcerpts)
	ledger.Add(SynthesisCategory, spent)
	rs.foldBatch(spent)
	if err != nil {
		res.SynthesisError = err.Error()
		zap.L().Warn("synthesis failed, keeping raw excerpts",
			zap.Int64("person_id", actor.PersonID),
			zap.Error(err))
		return
	}
	ApplySynthesis(res.Record, details, entry)
	res.SynthesisApplied = true
	zap.L().Info("synthesis applied",
		zap.Int64("person_id", actor.PersonID),
		zap.Int("excerpts", len(res.RawExcerpts)),
		zap.Float64("cost_usd", spent))
}
