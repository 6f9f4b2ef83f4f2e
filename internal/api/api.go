package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/queue"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store     store.Store
	refresher *refresh.Refresher
	runner    *queue.Runner
}

// NewServer creates a new API server.
func NewServer(s store.Store, r *refresh.Refresher, q *queue.Runner) *Server {
	return &Server{
		store:     s,
		refresher: r,
		runner:    q,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.importProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/refresh", s.refreshProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/ignore", s.ignoreProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/activate", s.activateProject)

	mux.HandleFunc("POST /api/v1/refresh", s.enqueueRefresh)
	mux.HandleFunc("GET /api/v1/refresh/progress", s.refreshProgress)
	mux.HandleFunc("POST /api/v1/refresh/stream", s.streamRefresh)
	mux.HandleFunc("POST /api/v1/refresh/reset", s.resetRefresh)

	return logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store lookups onto 404 and everything else onto 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	filter := store.ProjectListFilter{Tag: r.URL.Query().Get("tag")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			status := models.ProjectStatus(strings.TrimSpace(st))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid status: "+string(status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	projects, err := s.store.ListProjects(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type importRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	Project *models.Project `json:"project"`
	Refresh refresh.Result  `json:"refresh"`
}

func (s *Server) importProject(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	p, res, err := s.refresher.Import(r.Context(), req.URL)
	if err != nil {
		writeError(w, importStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Project: p, Refresh: res})
}

// importStatus maps a rejected import onto an HTTP status.
func importStatus(err error) int {
	switch failure.KindOf(err) {
	case failure.KindInvalidURL:
		return http.StatusBadRequest
	case failure.KindDuplicateRepository:
		return http.StatusConflict
	case failure.KindClientError, failure.KindEmptyRepository:
		return http.StatusUnprocessableEntity
	case failure.KindNetwork, failure.KindServerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) refreshProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProject(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	res := refresh.SafeProject(r.Context(), s.refresher, id)
	if err := s.refresher.Cleanup(); err != nil {
		slog.Warn("remove scratch directories", "error", err)
	}
	writeJSON(w, http.StatusOK, res)
}

type ignoreRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ignoreProject(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := s.refresher.Ignore(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) activateProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.refresher.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Refresh runs ---

type refreshRequest struct {
	IDs []string `json:"ids"`
}

// ProgressResponse is the polling view of a refresh run.
type ProgressResponse struct {
	*queue.Progress
	Percent   int `json:"percent"`
	Remaining int `json:"remaining"`
}

func newProgressResponse(p *queue.Progress) ProgressResponse {
	return ProgressResponse{Progress: p, Percent: p.Percent(), Remaining: p.Remaining()}
}

func (s *Server) enqueueRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := s.runner.Enqueue(r.Context(), req.IDs)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, newProgressResponse(p))
}

func (s *Server) refreshProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.runner.Progress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newProgressResponse(p))
}

func (s *Server) streamRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := s.refresher.Stream(r.Context(), w, req.IDs); err != nil {
		slog.Warn("refresh stream stopped", "error", err)
	}
	if err := s.refresher.Cleanup(); err != nil {
		slog.Warn("remove scratch directories", "error", err)
	}
}

func (s *Server) resetRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
