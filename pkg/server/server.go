// Package server exposes the read-only dashboard API over the session store.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/analytics"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

// Server provides the HTTP API. All endpoints are reads; collection happens
// in the scheduler.
type Server struct {
	store  store.Store
	engine *analytics.Engine
	port   int
}

// New creates a new HTTP server.
func New(s store.Store, engine *analytics.Engine, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:  s,
		engine: engine,
		port:   port,
	}
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/sources/{source}/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/v1/sources/{source}/sessions/latest", s.handleLatestSession)
	mux.HandleFunc("GET /api/v1/sources/{source}/sessions/{id}/items", s.handleSessionItems)
	mux.HandleFunc("GET /api/v1/sources/{source}/sessions/{id}/summary", s.handleSessionSummary)
	mux.HandleFunc("GET /api/v1/sources/{source}/compare", s.handleCompare)
	mux.HandleFunc("GET /api/v1/sources/{source}/trend", s.handleTrend)
	mux.HandleFunc("GET /api/v1/jobs/runs", s.handleJobRuns)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("snaptrack server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	sessions, err := s.store.RecentSessions(r.Context(), src, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  sessions,
		"count": len(sessions),
	})
}

func (s *Server) handleLatestSession(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	sess, err := s.store.LatestSession(r.Context(), src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sess})
}

func (s *Server) handleSessionItems(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id must be an integer"})
		return
	}

	items, err := s.store.SessionItems(r.Context(), id, src)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id must be an integer"})
		return
	}

	summary, err := s.engine.Summarize(r.Context(), src, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": summary})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	older, err := strconv.ParseInt(r.URL.Query().Get("older"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "older must be a session id"})
		return
	}
	newer, err := strconv.ParseInt(r.URL.Query().Get("newer"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "newer must be a session id"})
		return
	}

	cmp, err := s.engine.Compare(r.Context(), src, older, newer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cmp})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	src, ok := pathSource(w, r)
	if !ok {
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be an integer"})
			return
		}
		days = n
	}

	points, err := s.engine.Trend(r.Context(), src, days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  points,
		"count": len(points),
	})
}

func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.RecentJobRuns(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func pathSource(w http.ResponseWriter, r *http.Request) (source.SourceType, bool) {
	src := source.SourceType(r.PathValue("source"))
	if !src.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown source %q", src),
		})
		return "", false
	}
	return src, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case store.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
