package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/store"
	"github.com/deadonfilm/enrichment-cli/pkg/imdb"
)

var (
	enrichPersonID int64
	enrichName     string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich death details for a single actor",
	Long:  "Runs the source cascade for one actor, saves the death record, and prints the result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrichPersonID == 0 && enrichName == "" {
			return eris.New("one of --person-id or --name is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrich(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		actor, err := resolveActor(ctx, env.Store, enrichPersonID, enrichName)
		if err != nil {
			return err
		}

		run, err := env.Store.CreateRun(ctx, *actor, "")
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		res, err := completeRun(ctx, env.Store, env.Orch, *actor, run)
		if err != nil {
			return eris.Wrapf(err, "enrich %s", actor.IMDbID())
		}

		zap.L().Info("enrichment complete",
			zap.String("imdb_id", actor.IMDbID()),
			zap.String("name", actor.Name),
			zap.Int("fields_found", res.Record.FilledCount()),
			zap.String("final_source", res.Stats.FinalSource),
			zap.Float64("cost_usd", res.Stats.TotalCostUSD))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// resolveActor turns the flags into an actor: by id from the local catalog,
// by name from the catalog first and the IMDb suggestion API for people not
// yet ingested. Suggest hits are enriched as transient actors without an
// upsert into dead_actors.
func resolveActor(ctx context.Context, st store.Store, personID int64, name string) (*model.Actor, error) {
	if personID != 0 {
		a, err := st.GetActor(ctx, personID)
		if err != nil {
			return nil, eris.Wrapf(err, "get actor %d", personID)
		}
		if a != nil {
			return a, nil
		}
		if name == "" {
			return nil, eris.Errorf("%s not in the catalog; pass --name to enrich anyway", model.FormatNconst(personID))
		}
		return &model.Actor{PersonID: personID, Name: name}, nil
	}

	actors, err := st.ListDeadActors(ctx, store.ActorFilter{Name: name, Limit: 1})
	if err != nil {
		return nil, eris.Wrapf(err, "search catalog for %q", name)
	}
	if len(actors) > 0 {
		return &actors[0], nil
	}

	suggest := imdb.NewClient(imdb.WithBaseURL(cfg.IMDB.SuggestBaseURL))
	hits, err := suggest.SuggestNames(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "suggest %q", name)
	}
	if len(hits) == 0 {
		return nil, eris.Errorf("no actor found for %q", name)
	}

	id, err := model.ParseIMDbID(hits[0].ID)
	if err != nil {
		return nil, eris.Wrapf(err, "suggestion %q", hits[0].ID)
	}

	zap.L().Info("actor resolved via suggestion api",
		zap.String("query", name),
		zap.String("matched", hits[0].L),
		zap.String("imdb_id", hits[0].ID))

	return &model.Actor{PersonID: id, Name: hits[0].L}, nil
}

func init() {
	enrichCmd.Flags().Int64Var(&enrichPersonID, "person-id", 0, "numeric IMDb person id (nm prefix stripped)")
	enrichCmd.Flags().StringVar(&enrichName, "name", "", "actor name to look up")
	rootCmd.AddCommand(enrichCmd)
}
