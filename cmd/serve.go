package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/monitoring"
	"github.com/seoworks/indexer-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history over HTTP",
	Long:  "Read-only reporting API over the audit store, with Prometheus metrics and webhook alerting on run health.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		collector := monitoring.NewCollector(st)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		api := &apiServer{store: st}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer carries the handler dependencies for the reporting API.
type apiServer struct {
	store store.Store
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/outcomes", s.handleListOutcomes)
		r.Get("/runs/{id}/domains", s.handleDomainStats)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		zap.L().Error("health check failed for store", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"store": "unhealthy"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"store": "healthy"})
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid since duration")
			return
		}
		filter.CreatedAfter = time.Now().Add(-d)
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("get run", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not get run")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.OutcomeFilter{
		RunID:  chi.URLParam(r, "id"),
		Host:   q.Get("host"),
		Result: model.OutcomeResult(q.Get("result")),
		Limit:  intParam(q.Get("limit"), 1000),
		Offset: intParam(q.Get("offset"), 0),
	}

	outcomes, err := s.store.ListOutcomes(r.Context(), filter)
	if err != nil {
		zap.L().Error("list outcomes", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not list outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	respondWithJSON(w, http.StatusOK, outcomes)
}

func (s *apiServer) handleDomainStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DomainStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("domain stats", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not compute domain stats")
		return
	}
	if stats == nil {
		stats = []store.DomainStat{}
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// intParam parses a query parameter, falling back to def when absent or
// malformed.
func intParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
