// Package api serves the read-only status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/models"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// StatsSource is the in-memory performance view.
type StatsSource interface {
	Stats() models.Stats
	StatsFor(instrument string) models.Stats
	ByInstrument() map[string]models.Stats
	Recent(n int) []models.Outcome
}

// OutcomeStore lists persisted outcomes, newest first.
type OutcomeStore interface {
	RecentOutcomes(k int) ([]models.Outcome, error)
}

// StatusFunc returns a one-line health summary.
type StatusFunc func() string

// Server exposes stats, outcomes and metrics over HTTP.
type Server struct {
	stats   StatsSource
	store   OutcomeStore
	status  StatusFunc
	metrics http.Handler
	srv     *http.Server
}

// New builds the router. store, status and metrics may be nil.
func New(addr string, stats StatsSource, store OutcomeStore, status StatusFunc, metrics http.Handler) *Server {
	s := &Server{stats: stats, store: store, status: status, metrics: metrics}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/{instrument}", s.handleInstrumentStats)
	r.Get("/outcomes", s.handleOutcomes)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.status != nil {
		body["detail"] = s.status()
	}
	writeJSON(w, http.StatusOK, body)
}

type statsResponse struct {
	Total        models.Stats            `json:"total"`
	ByInstrument map[string]models.Stats `json:"by_instrument"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Total:        s.stats.Stats(),
		ByInstrument: s.stats.ByInstrument(),
	})
}

func (s *Server) handleInstrumentStats(w http.ResponseWriter, r *http.Request) {
	instrument := strings.ToUpper(chi.URLParam(r, "instrument"))
	st := s.stats.StatsFor(instrument)
	if st.Total == 0 {
		writeError(w, http.StatusNotFound, "no outcomes for "+instrument)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	if s.store != nil {
		outcomes, err := s.store.RecentOutcomes(limit)
		if err != nil {
			logger.Error("Failed to load outcomes: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load outcomes")
			return
		}
		writeJSON(w, http.StatusOK, outcomes)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Recent(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
