package dashboard

import (
	"net/http"
	"strconv"

	"hub/cmd/internal/board"
	"hub/cmd/internal/httpjson"
)

type createCategoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.ListCategories(r.Context())
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	if cats == nil {
		cats = []board.Category{}
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"categories": cats})
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := httpjson.Decode(w, r, maxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	c, err := h.svc.CreateCategory(r.Context(), req.Name, req.Color)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{"category": c})
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listProjects returns the project list view: projects with task counts.
// Query: status (comma separated), category, owner, q.
func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := board.ProjectFilter{
		CategoryID: q.Get("category"),
		OwnerID:    q.Get("owner"),
		Search:     q.Get("q"),
	}
	for _, s := range splitList(q.Get("status")) {
		f.Status = append(f.Status, board.ProjectStatus(s))
	}

	projects, err := h.svc.ListProjects(r.Context(), f)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), board.TaskFilter{})
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"projects": board.ProjectList(projects, tasks, h.svc.Now()),
	})
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req board.NewProject
	if err := httpjson.Decode(w, r, maxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	p, err := h.svc.CreateProject(r.Context(), userID(r), req)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{"project": p})
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"project": p})
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	var req board.ProjectPatch
	if err := httpjson.Decode(w, r, maxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	p, err := h.svc.UpdateProject(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"project": p})
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) projectBoard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.svc.GetProject(r.Context(), id)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), board.TaskFilter{ProjectID: id})
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"project": p,
		"columns": board.TaskBoard(tasks),
	})
}

// listTasks query: status (comma separated), assignee, overdue=true.
func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.GetProject(r.Context(), id); err != nil {
		h.writeBoardError(w, r, err)
		return
	}

	q := r.URL.Query()
	f := board.TaskFilter{ProjectID: id, AssigneeID: q.Get("assignee")}
	for _, s := range splitList(q.Get("status")) {
		f.Status = append(f.Status, board.TaskStatus(s))
	}
	if v := q.Get("overdue"); v != "" {
		overdue, err := strconv.ParseBool(v)
		if err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_input", "overdue must be a boolean")
			return
		}
		if overdue {
			f.OverdueAt = h.svc.Now()
		}
	}

	tasks, err := h.svc.ListTasks(r.Context(), f)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*board.Task{}
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req board.NewTask
	if err := httpjson.Decode(w, r, maxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	t, err := h.svc.CreateTask(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{"task": t})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"task": t})
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req board.TaskPatch
	if err := httpjson.Decode(w, r, maxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	t, err := h.svc.UpdateTask(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"task": t})
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// projectColumns returns every project grouped into status columns.
func (h *Handler) projectColumns(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.ListProjects(r.Context(), board.ProjectFilter{})
	if err != nil {
		h.writeBoardError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"columns": board.ProjectBoard(projects)})
}
