package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/enrich"
	"github.com/deadonfilm/enrichment-cli/internal/imdbsync"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/monitoring"
	"github.com/deadonfilm/enrichment-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the movie search, dead-cast, and enrichment API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrich(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Background alert checker when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			var syncLog monitoring.SyncLogQuerier
			if ps, ok := env.Store.(*store.PostgresStore); ok {
				syncLog = imdbsync.NewSyncLog(ps.Pool())
			}
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, syncLog),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		a := &api{
			store:     env.Store,
			orch:      env.Orch,
			enrichCtx: ctx,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(a),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// api bundles the serve dependencies behind the route handlers. enrichCtx
// outlives individual requests; webhook enrichments run on it so a closed
// client connection does not cancel the cascade mid-flight.
type api struct {
	store     store.Store
	orch      *enrich.Orchestrator
	enrichCtx context.Context
}

func newRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/search", a.handleSearch)
	r.Get("/died/{titleID}", a.handleDiedIn)
	r.Post("/enrich", a.handleEnrich)
	r.Get("/runs/{runID}", a.handleGetRun)

	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	movies, err := a.store.SearchMovies(r.Context(), q, 25)
	if err != nil {
		zap.L().Error("movie search failed", zap.String("query", q), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": movies,
	})
}

func (a *api) handleDiedIn(w http.ResponseWriter, r *http.Request) {
	titleID, err := strconv.ParseInt(chi.URLParam(r, "titleID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "titleID must be numeric")
		return
	}

	cast, err := a.store.DeadCast(r.Context(), titleID)
	if err != nil {
		zap.L().Error("dead cast lookup failed", zap.Int64("title_id", titleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"title_id":  titleID,
		"dead_cast": cast,
	})
}

func (a *api) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonID int64  `json:"person_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PersonID == 0 {
		writeError(w, http.StatusBadRequest, "person_id is required")
		return
	}

	actor, err := a.store.GetActor(r.Context(), req.PersonID)
	if err != nil {
		zap.L().Error("actor lookup failed", zap.Int64("person_id", req.PersonID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "actor lookup failed")
		return
	}
	if actor == nil {
		if req.Name == "" {
			writeError(w, http.StatusNotFound, "actor not in catalog; include name to enrich anyway")
			return
		}
		actor = &model.Actor{PersonID: req.PersonID, Name: req.Name}
	}

	run, err := a.store.CreateRun(a.enrichCtx, *actor, "")
	if err != nil {
		zap.L().Error("create run failed", zap.Int64("person_id", req.PersonID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}

	// Run enrichment asynchronously; poll GET /runs/{id} for the outcome.
	go func() {
		res, err := completeRun(a.enrichCtx, a.store, a.orch, *actor, run)
		if err != nil {
			zap.L().Error("webhook enrichment failed",
				zap.String("run_id", run.ID),
				zap.String("imdb_id", actor.IMDbID()),
				zap.Error(err))
			return
		}
		zap.L().Info("webhook enrichment complete",
			zap.String("run_id", run.ID),
			zap.String("imdb_id", actor.IMDbID()),
			zap.Int("fields_found", res.Record.FilledCount()))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": run.ID,
	})
}

func (a *api) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("run lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
