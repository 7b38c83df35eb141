package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
	"github.com/deadonfilm/enrichment-cli/internal/imdbsync"
	"github.com/deadonfilm/enrichment-cli/internal/store"
)

var (
	filldbDatasets []string
	filldbForce    bool
)

var filldbCmd = &cobra.Command{
	Use:   "filldb",
	Short: "Sync IMDb datasets into Postgres",
	Long: `Downloads the IMDb name, title, and principals datasets and loads dead
actors, movies, and cast credits. Unchanged upstream files are skipped by
ETag; use --force to reload them anyway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("filldb"); err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "filldb"))

		ps, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer func() { _ = ps.Close() }()

		if err := ps.Migrate(ctx); err != nil {
			return eris.Wrap(err, "filldb: migrate")
		}

		tempDir := cfg.IMDB.TempDir
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return eris.Wrapf(err, "filldb: create temp dir %s", tempDir)
		}

		// Dataset files run to hundreds of MB, so the client timeout has
		// to cover a full streamed read.
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.HTTP.UserAgent,
			Timeout:    30 * time.Minute,
			MaxRetries: 3,
		})

		syncLog := imdbsync.NewSyncLog(ps.Pool())
		engine := imdbsync.NewEngine(ps.Pool(), f, syncLog, imdbsync.NewRegistry(), tempDir)

		log.Info("starting dataset sync",
			zap.Strings("datasets", filldbDatasets),
			zap.Bool("force", filldbForce))

		if err := engine.Run(ctx, imdbsync.RunOpts{
			Datasets: filldbDatasets,
			Force:    filldbForce,
		}); err != nil {
			return eris.Wrap(err, "filldb")
		}

		fmt.Println("Sync complete")
		return nil
	},
}

func init() {
	filldbCmd.Flags().StringSliceVar(&filldbDatasets, "dataset", nil, "restrict to specific datasets (namebasics, titlebasics, principals)")
	filldbCmd.Flags().BoolVar(&filldbForce, "force", false, "sync even when the upstream file is unchanged")
	rootCmd.AddCommand(filldbCmd)
}
