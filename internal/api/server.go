// Package api exposes the HTTP control surface: calibration, session
// control, impact retrieval and runtime tuning.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/echo-archery/impact.report/internal/camera"
	"github.com/echo-archery/impact.report/internal/config"
	"github.com/echo-archery/impact.report/internal/db"
	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/report"
	"github.com/echo-archery/impact.report/internal/session"
	"github.com/echo-archery/impact.report/internal/target"
	"github.com/echo-archery/impact.report/internal/vision"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	manager  *session.Manager
	db       *db.DB
	shutdown func() // requests process termination
}

func NewServer(manager *session.Manager, database *db.DB, shutdown func()) *Server {
	return &Server{
		manager:  manager,
		db:       database,
		shutdown: shutdown,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/calibrate", s.calibrate)
	mux.HandleFunc("/api/start", s.startSession)
	mux.HandleFunc("/api/stop", s.stopSession)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/shutdown", s.shutdownHandler)
	mux.HandleFunc("/api/impacts", s.listImpacts)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/", s.sessionByID)
	mux.HandleFunc("/api/params", s.params)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, vision.ErrNoTargetFound),
		errors.Is(err, vision.ErrAmbiguousTarget),
		errors.Is(err, vision.ErrPoorGeometry):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vision.ErrNotCalibrated),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNeedsReset):
		status = http.StatusConflict
	case errors.Is(err, camera.ErrCameraUnavailable),
		errors.Is(err, camera.ErrCaptureTimeout),
		errors.Is(err, session.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, db.ErrSessionNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	s.writeJSONError(w, status, err.Error())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		TargetSize string `json:"target_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	face, err := target.ParseFace(req.TargetSize)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := s.manager.Calibrate(r.Context(), face)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, err := s.manager.Start()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.manager.Stop(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.manager.Reset(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) shutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if s.shutdown != nil {
		// Let the response flush before termination begins.
		go s.shutdown()
	}
}

func (s *Server) listImpacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		parsed, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter")
			return
		}
		since = parsed
	}
	impacts := s.manager.Impacts(since)
	if impacts == nil {
		impacts = []vision.Impact{}
	}
	s.writeJSON(w, http.StatusOK, impacts)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sessions, err := s.db.ListSessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Summary{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// sessionByID serves /api/sessions/{id}, /api/sessions/{id}/stats and
// /api/sessions/{id}/report.
func (s *Server) sessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing session id")
		return
	}
	id := parts[0]

	sess, err := s.db.GetSession(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if len(parts) == 1 {
		s.writeJSON(w, http.StatusOK, sess)
		return
	}
	switch parts[1] {
	case "stats":
		s.writeJSON(w, http.StatusOK, db.ComputeStats(sess))
	case "report":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.Render(w, sess); err != nil {
			monitoring.Logf("api: render report for %s failed: %v", id, err)
		}
	default:
		s.writeJSONError(w, http.StatusNotFound, "Unknown session resource")
	}
}

func (s *Server) params(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.manager.Params())
	case http.MethodPost:
		patch := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		merged, err := s.manager.UpdateParams(patch)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, merged)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
