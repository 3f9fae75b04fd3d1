package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"hub/cmd/internal/board"
	"hub/cmd/internal/pgtest"
)

func TestPostgresStore_Integration(t *testing.T) {
	db := pgtest.New(t)
	store, err := New(db.SQL, db.Schema)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	svc := board.NewService(store, board.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	cat, err := svc.CreateCategory(ctx, "Marketing", "#FF6600")
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if _, err := svc.CreateCategory(ctx, "Marketing", ""); !errors.Is(err, board.ErrConflict) {
		t.Fatalf("duplicate category: expected ErrConflict, got %v", err)
	}

	due := now.Add(-time.Hour)
	p, err := svc.CreateProject(ctx, "u1", board.NewProject{Name: "Summer campaign", CategoryID: cat.ID})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := svc.CreateProject(ctx, "u1", board.NewProject{Name: "x", CategoryID: "missing"}); !errors.Is(err, board.ErrInvalid) {
		t.Fatalf("unknown category: expected ErrInvalid, got %v", err)
	}

	late, err := svc.CreateTask(ctx, p.ID, board.NewTask{Title: "Brief", AssigneeID: "u2", DueAt: &due})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := svc.CreateTask(ctx, p.ID, board.NewTask{Title: "Launch", Status: board.TaskDone}); err != nil {
		t.Fatalf("CreateTask done: %v", err)
	}

	overdue, err := svc.ListTasks(ctx, board.TaskFilter{OverdueAt: now})
	if err != nil {
		t.Fatalf("ListTasks overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.ID {
		t.Fatalf("expected only %s overdue, got %+v", late.ID, overdue)
	}

	done := board.TaskDone
	updated, err := svc.UpdateTask(ctx, late.ID, board.TaskPatch{Status: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := svc.GetTask(ctx, late.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(*updated.CompletedAt) {
		t.Fatalf("completed_at not persisted: %+v", got)
	}

	found, err := svc.ListProjects(ctx, board.ProjectFilter{Search: "summer"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %v %+v", err, found)
	}

	if err := svc.DeleteCategory(ctx, cat.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	p2, err := svc.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p2.CategoryID != "" {
		t.Fatalf("category reference not cleared: %q", p2.CategoryID)
	}

	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	rest, err := svc.ListTasks(ctx, board.TaskFilter{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("tasks not cascaded: %+v", rest)
	}
}
