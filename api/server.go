// Package api exposes the operator HTTP endpoints: manual runs, single
// listing refresh, prune, status, health and metrics.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/gabrrrielll/real-estate-scraper/internal/scraper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
	"github.com/gabrrrielll/real-estate-scraper/services/lock"
	"github.com/gabrrrielll/real-estate-scraper/services/worker"
)

const defaultPruneDays = 30

// RunTrigger starts runs under the run lock
type RunTrigger interface {
	RunOnce(ctx context.Context) (scraper.RunResult, error)
	Status() worker.Status
}

// Maintainer refreshes and prunes records
type Maintainer interface {
	RefreshOne(ctx context.Context, sourceURL string) (scraper.RefreshResult, error)
	Prune(ctx context.Context, maxAge time.Duration) (store.PruneResult, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Server holds the HTTP handlers
type Server struct {
	runs    RunTrigger
	maint   Maintainer
	locker  lock.Locker
	metrics http.Handler
	checks  map[string]HealthCheck
	log     *logger.Logger
}

// NewServer creates the API. metrics may be nil.
func NewServer(runs RunTrigger, maint Maintainer, locker lock.Locker, metrics http.Handler, checks map[string]HealthCheck, log *logger.Logger) *Server {
	return &Server{runs: runs, maint: maint, locker: locker, metrics: metrics, checks: checks, log: log}
}

// Router returns the mux router with every route registered
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/prune", s.handlePrune).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}

// handleRun runs a session synchronously. A client disconnect does not
// abort the run.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.runs.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	URL string `json:"url"`
}

// handleRefresh re-extracts one listing. The URL comes from the JSON body
// or the url query parameter; empty means the configured test URL.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.NewValidation("refresh", "invalid JSON body"))
			return
		}
	}
	if req.URL == "" {
		req.URL = r.URL.Query().Get("url")
	}

	release, err := s.locker.Acquire(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release(context.WithoutCancel(r.Context()))

	result, err := s.maint.RefreshOne(context.WithoutCancel(r.Context()), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePrune deletes imported records older than ?days= (default 30)
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	days := defaultPruneDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, errors.NewValidation("prune", "days must be a positive integer"))
			return
		}
		days = n
	}

	release, err := s.locker.Acquire(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release(context.WithoutCancel(r.Context()))

	result, err := s.maint.Prune(context.WithoutCancel(r.Context()), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		worker.Status
		Running bool `json:"running"`
	}{Status: s.runs.Status()}

	held, err := s.locker.Held(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status.Running = held
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	code := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": results})
}

// writeError maps pipeline errors onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, lock.ErrLocked):
		code = http.StatusConflict
	case errors.IsType(err, errors.ErrorTypeValidation), errors.IsType(err, errors.ErrorTypeConfiguration):
		code = http.StatusBadRequest
	case errors.IsType(err, errors.ErrorTypeExtraction):
		code = http.StatusUnprocessableEntity
	case errors.IsType(err, errors.ErrorTypeFetchExhausted), errors.IsType(err, errors.ErrorTypeFetch),
		errors.IsType(err, errors.ErrorTypeRateLimit):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
