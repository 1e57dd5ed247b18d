package api

import (
	"encoding/json"
	"net/http"

	"github.com/emisx/expander/expansion"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Router exposes the expansion pipeline over HTTP.
type Router struct {
	orchestrator *expansion.Orchestrator
	log          zerolog.Logger
}

func NewRouter(orchestrator *expansion.Orchestrator, log zerolog.Logger) *Router {
	return &Router{orchestrator: orchestrator, log: log}
}

func (rt *Router) SetupRoutes() http.Handler {
	r := mux.NewRouter()

	r.Use(rt.requestLogger)

	r.HandleFunc("/api/expand", rt.handleExpand).Methods(http.MethodPost)
	r.HandleFunc("/api/health", rt.handleHealth).Methods(http.MethodGet)

	return r
}

// requestLogger tags every request with an id and logs its outcome.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		log := rt.log.With().Str("requestId", requestID).Logger()

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Handling request")

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExpand expands every value set of the posted report and returns the
// full result record, including per-code failures and provenance.
func (rt *Router) handleExpand(w http.ResponseWriter, r *http.Request) {
	var report expansion.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(report.ValueSets) == 0 {
		respondWithError(w, http.StatusBadRequest, "Report contains no value sets")
		return
	}

	result, err := rt.orchestrator.ExpandReport(r.Context(), report)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		rt.log.Error().Err(err).Str("report", report.ID).Msg("Report expansion failed")
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
