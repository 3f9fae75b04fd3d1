// Package dashboard serves the board and statistics API and the dashboard
// HTML shell. Every route sits behind a session gate supplied by the caller.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"hub/cmd/internal/board"
	"hub/cmd/internal/gate"
	"hub/cmd/internal/httpjson"
	"hub/cmd/internal/stats"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	svc *board.Service
	log *slog.Logger
}

func NewHandler(svc *board.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the routes on mux. api wraps the JSON routes and page the
// HTML entry points; both are expected to be gate middlewares.
func (h *Handler) Register(mux *http.ServeMux, api, page func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, api(fn))
	}

	handle("GET /api/categories", h.listCategories)
	handle("POST /api/categories", h.createCategory)
	handle("DELETE /api/categories/{id}", h.deleteCategory)

	handle("GET /api/projects", h.listProjects)
	handle("POST /api/projects", h.createProject)
	handle("GET /api/projects/{id}", h.getProject)
	handle("PATCH /api/projects/{id}", h.updateProject)
	handle("DELETE /api/projects/{id}", h.deleteProject)
	handle("GET /api/projects/{id}/board", h.projectBoard)
	handle("GET /api/projects/{id}/tasks", h.listTasks)
	handle("POST /api/projects/{id}/tasks", h.createTask)

	handle("GET /api/tasks/{id}", h.getTask)
	handle("PATCH /api/tasks/{id}", h.updateTask)
	handle("DELETE /api/tasks/{id}", h.deleteTask)

	handle("GET /api/board", h.projectColumns)
	handle("GET /api/stats/overview", h.statsOverview)
	handle("GET /api/stats/categories", h.statsCategories)
	handle("GET /api/stats/workload", h.statsWorkload)

	mux.Handle("GET /dashboard", page(http.HandlerFunc(h.shell)))
	mux.HandleFunc("GET /login", h.login)
}

// writeBoardError maps board errors onto the JSON envelope.
func (h *Handler) writeBoardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, board.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, board.ErrInvalid):
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, board.ErrConflict):
		httpjson.WriteError(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		h.log.Error("dashboard.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func userID(r *http.Request) string {
	if s := gate.SessionFrom(r.Context()); s != nil {
		return s.UserID
	}
	return ""
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (stats.Snapshot, bool) {
	snap, err := stats.Load(r.Context(), h.svc.Store())
	if err != nil {
		h.writeBoardError(w, r, err)
		return stats.Snapshot{}, false
	}
	return snap, true
}
