package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deadonfilm/enrichment-cli/internal/imdbsync"
	"github.com/deadonfilm/enrichment-cli/internal/monitoring"
	"github.com/deadonfilm/enrichment-cli/internal/store"
)

var (
	statsLookbackHours int
	statsJSON          bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run, coverage, and dataset-sync metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		var syncLog monitoring.SyncLogQuerier
		if ps, ok := st.(*store.PostgresStore); ok {
			syncLog = imdbsync.NewSyncLog(ps.Pool())
		}

		lookback := statsLookbackHours
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}
		if lookback <= 0 {
			lookback = 24
		}

		snap, err := monitoring.NewCollector(st, syncLog).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

// formatSnapshot writes the snapshot as three plain key-value blocks.
func formatSnapshot(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Runs (last %dh)\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "  total\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  complete\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "  failed\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "  queued\t%d\n", s.RunsQueued)
	_, _ = fmt.Fprintf(w, "  active\t%d\n", s.RunsActive)
	_, _ = fmt.Fprintf(w, "  failure rate\t%.1f%%\n", s.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "  spend\t$%.4f\n", s.RunCostUSD)
	_, _ = fmt.Fprintf(w, "  avg field fill\t%.1f%%\n", s.AvgFieldFill*100)
	_, _ = fmt.Fprintf(w, "  synthesized\t%d\n", s.SynthesizedRuns)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "Coverage (all time)")
	_, _ = fmt.Fprintf(w, "  dead actors\t%d\n", s.DeadActors)
	_, _ = fmt.Fprintf(w, "  death records\t%d\n", s.DeathRecords)
	_, _ = fmt.Fprintf(w, "  coverage\t%.1f%%\n", s.CoverageRate*100)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Dataset syncs (last %dh)\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "  total\t%d\n", s.SyncTotal)
	_, _ = fmt.Fprintf(w, "  complete\t%d\n", s.SyncComplete)
	_, _ = fmt.Fprintf(w, "  failed\t%d\n", s.SyncFailed)
	_, _ = fmt.Fprintf(w, "  running\t%d\n", s.SyncRunning)

	_ = w.Flush()
}

func init() {
	statsCmd.Flags().IntVar(&statsLookbackHours, "hours", 0, "lookback window in hours (default from config)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw snapshot as JSON")
	rootCmd.AddCommand(statsCmd)
}
