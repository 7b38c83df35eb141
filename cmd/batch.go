package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/enrich"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/store"
)

var (
	batchLimit        int
	batchResume       string
	batchDryRun       bool
	batchPriorityFile string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich unenriched dead actors in bulk",
	Long:  "Walks dead actors with no death record yet in popularity order, checkpointing after every actor so an interrupted batch can resume.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// A priority file overrides the configured cascade order, so it
		// has to land before the registry is built.
		if batchPriorityFile != "" {
			names, err := enrich.LoadPriority(batchPriorityFile)
			if err != nil {
				return err
			}
			cfg.Enrich.SourcePriority = names
			zap.L().Info("source priority overridden",
				zap.String("file", batchPriorityFile),
				zap.Strings("priority", names))
		}

		env, err := initEnrich(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		var actors []model.Actor
		remaining := 0

		if batchResume != "" {
			cp, err := env.Store.LoadCheckpoint(ctx, batchResume)
			if err != nil {
				return eris.Wrapf(err, "load checkpoint %s", batchResume)
			}
			if cp == nil {
				return eris.Errorf("no checkpoint found for batch %s", batchResume)
			}
			actors, err = actorsByID(ctx, env.Store, cp.SubmittedIDs)
			if err != nil {
				return err
			}
			remaining = len(actors) - len(cp.ProcessedIDs)
			zap.L().Info("resuming batch",
				zap.String("batch_id", batchResume),
				zap.Int("submitted", len(actors)),
				zap.Int("processed", len(cp.ProcessedIDs)),
				zap.Float64("spent_usd", cp.SpentUSD))
		} else {
			actors, err = env.Store.ListDeadActors(ctx, store.ActorFilter{
				OnlyUnenriched: true,
				Limit:          batchLimit,
			})
			if err != nil {
				return eris.Wrap(err, "list unenriched actors")
			}
			remaining = len(actors)
		}

		if len(actors) == 0 {
			zap.L().Info("no unenriched actors found")
			return nil
		}

		if batchDryRun {
			est := enrich.EstimateBatch(env.Orch.Sources(), remaining)
			fmt.Print(enrich.FormatEstimate(est))
			return nil
		}

		runner := enrich.NewRunner(env.Orch, env.Store, enrich.RunnerConfig{
			BatchID:         batchResume,
			MaxTotalCost:    cfg.Enrich.CostLimits.MaxTotalCost,
			InterActorDelay: cfg.Enrich.InterActorDelay(),
		})

		results, stats, err := runner.EnrichBatch(ctx, actors)
		if stats != nil {
			fmt.Print(enrich.FormatBatchReport(stats))
		}
		if err != nil {
			var costErr *enrich.BatchCostLimitError
			if errors.As(err, &costErr) {
				fmt.Printf("\nBatch %s stopped at its $%.2f budget with $%.4f spent; %d of %d actors done.\n",
					costErr.BatchID, costErr.Limit, costErr.Spent, len(results), len(actors))
				fmt.Printf("Resume with a raised budget: enrichment-cli batch --resume %s\n", costErr.BatchID)
			}
			return err
		}

		return nil
	},
}

// actorsByID reloads the actors a checkpoint recorded as submitted.
func actorsByID(ctx context.Context, st store.Store, ids []int64) ([]model.Actor, error) {
	actors := make([]model.Actor, 0, len(ids))
	for _, id := range ids {
		a, err := st.GetActor(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "load actor %d", id)
		}
		if a == nil {
			zap.L().Warn("submitted actor no longer in catalog",
				zap.String("person_id", model.FormatNconst(id)))
			continue
		}
		actors = append(actors, *a)
	}
	return actors, nil
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max actors to enrich")
	batchCmd.Flags().StringVar(&batchResume, "resume", "", "batch id of a checkpoint to resume")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "print a cost estimate without enriching")
	batchCmd.Flags().StringVar(&batchPriorityFile, "priority-file", "", "YAML file overriding the source cascade order")
	rootCmd.AddCommand(batchCmd)
}
