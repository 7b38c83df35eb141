// Package monitoring aggregates run, coverage, and dataset-sync metrics
// into point-in-time snapshots for the stats command and serve surface.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/imdbsync"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Enrichment run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsQueued      int     `json:"runs_queued"`
	RunsActive      int     `json:"runs_active"`
	RunFailRate     float64 `json:"run_fail_rate"`
	RunCostUSD      float64 `json:"run_cost_usd"`
	AvgFieldFill    float64 `json:"avg_field_fill"`
	SynthesizedRuns int     `json:"synthesized_runs"`

	// Catalog coverage (all time, not windowed).
	DeadActors   int     `json:"dead_actors"`
	DeathRecords int     `json:"death_records"`
	CoverageRate float64 `json:"coverage_rate"`

	// Dataset sync metrics (within lookback window).
	SyncTotal    int `json:"sync_total"`
	SyncComplete int `json:"sync_complete"`
	SyncFailed   int `json:"sync_failed"`
	SyncRunning  int `json:"sync_running"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SyncLogQuerier abstracts the imdbsync SyncLog methods needed by the collector.
type SyncLogQuerier interface {
	ListAll(ctx context.Context) ([]imdbsync.SyncEntry, error)
}

// Collector gathers metrics from the store and sync log.
type Collector struct {
	store   store.Store
	syncLog SyncLogQuerier
}

// NewCollector creates a new metrics collector. syncLog may be nil when the
// store backend has no sync_log table.
func NewCollector(st store.Store, syncLog SyncLogQuerier) *Collector {
	return &Collector{store: st, syncLog: syncLog}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	if err := c.collectRuns(ctx, snap, cutoff); err != nil {
		return nil, err
	}
	if err := c.collectCoverage(ctx, snap); err != nil {
		return nil, err
	}
	if err := c.collectSyncs(ctx, snap, cutoff); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Collector) collectRuns(ctx context.Context, snap *MetricsSnapshot, cutoff time.Time) error {
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: list runs")
	}
	snap.RunsTotal = len(runs)

	var totalFill float64
	var filledRuns int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusEnriching, model.RunStatusSynthesizing:
			snap.RunsActive++
		}
		if r.Result == nil {
			continue
		}
		snap.RunCostUSD += r.Result.TotalCostUSD
		if r.Result.FieldsTotal > 0 {
			totalFill += float64(r.Result.FieldsFound) / float64(r.Result.FieldsTotal)
			filledRuns++
		}
		if r.Result.Synthesized {
			snap.SynthesizedRuns++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if filledRuns > 0 {
		snap.AvgFieldFill = totalFill / float64(filledRuns)
	}
	return nil
}

func (c *Collector) collectCoverage(ctx context.Context, snap *MetricsSnapshot) error {
	actors, err := c.store.CountDeadActors(ctx)
	if err != nil {
		return eris.Wrap(err, "monitoring: count dead actors")
	}
	records, err := c.store.CountDeathRecords(ctx)
	if err != nil {
		return eris.Wrap(err, "monitoring: count death records")
	}
	snap.DeadActors = actors
	snap.DeathRecords = records
	if actors > 0 {
		snap.CoverageRate = float64(records) / float64(actors)
	}
	return nil
}

func (c *Collector) collectSyncs(ctx context.Context, snap *MetricsSnapshot, cutoff time.Time) error {
	if c.syncLog == nil {
		return nil
	}
	entries, err := c.syncLog.ListAll(ctx)
	if err != nil {
		return eris.Wrap(err, "monitoring: list sync entries")
	}
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.SyncTotal++
		switch e.Status {
		case "complete":
			snap.SyncComplete++
		case "failed":
			snap.SyncFailed++
		case "running":
			snap.SyncRunning++
		}
	}
	return nil
}
