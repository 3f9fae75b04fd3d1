package dashboard

import (
	"net/http"

	"hub/cmd/internal/httpjson"
	"hub/cmd/internal/stats"
)

func (h *Handler) statsOverview(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	httpjson.Write(w, http.StatusOK, stats.Overview(snap.Projects, snap.Tasks, h.svc.Now()))
}

func (h *Handler) statsCategories(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"categories": stats.CategoryProgress(snap.Categories, snap.Projects, snap.Tasks, h.svc.Now()),
	})
}

func (h *Handler) statsWorkload(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	entries := stats.Workload(snap.Tasks, h.svc.Now())
	if entries == nil {
		entries = []stats.WorkloadEntry{}
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"workload": entries})
}
