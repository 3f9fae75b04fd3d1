package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"hub/cmd/identity/ids"
)

const (
	maxNameLen        = 120
	maxDescriptionLen = 4000
	slugAttempts      = 3
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Service validates board changes, stamps ids and timestamps, and persists
// them through a Store.
type Service struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
	slug  func() (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
		slug:  NewProjectSlug,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for read-only consumers (stats, export).
func (s *Service) Store() Store { return s.store }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) CreateCategory(ctx context.Context, name, color string) (Category, error) {
	name = strings.TrimSpace(name)
	if err := checkName("name", name); err != nil {
		return Category{}, err
	}
	color = strings.TrimSpace(color)
	if color != "" && !colorRe.MatchString(color) {
		return Category{}, invalid("color", "expected #rrggbb")
	}
	now := s.now()
	c := Category{ID: ids.MustULID(now), Name: name, Color: strings.ToLower(color), CreatedAt: now}
	if err := s.store.CreateCategory(ctx, &c); err != nil {
		return Category{}, err
	}
	s.log.Info("board.category.create", "category_id", c.ID)
	return c, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.log.Info("board.category.delete", "category_id", id)
	return nil
}

// CreateProject creates a project owned by ownerID. Status defaults to
// planning.
func (s *Service) CreateProject(ctx context.Context, ownerID string, in NewProject) (*Project, error) {
	now := s.now()
	p := &Project{
		ID:          ids.MustULID(now),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		CategoryID:  strings.TrimSpace(in.CategoryID),
		Status:      in.Status,
		OwnerID:     ownerID,
		StartAt:     utcPtr(in.StartAt),
		DueAt:       utcPtr(in.DueAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Status == "" {
		p.Status = ProjectPlanning
	}
	if err := validateProject(p); err != nil {
		return nil, err
	}

	// Slug collisions are vanishingly rare; retry a couple of times anyway.
	var err error
	for range slugAttempts {
		if p.Slug, err = s.slug(); err != nil {
			return nil, err
		}
		err = s.store.CreateProject(ctx, p)
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("board.project.create", "project_id", p.ID, "slug", p.Slug, "owner_id", ownerID)
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context, f ProjectFilter) ([]*Project, error) {
	for _, st := range f.Status {
		if !st.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown project status %q", st))
		}
	}
	return s.store.ListProjects(ctx, f)
}

func (s *Service) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.CategoryID != nil {
		p.CategoryID = strings.TrimSpace(*patch.CategoryID)
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ClearDates {
		p.StartAt, p.DueAt = nil, nil
	}
	if patch.StartAt != nil {
		p.StartAt = utcPtr(patch.StartAt)
	}
	if patch.DueAt != nil {
		p.DueAt = utcPtr(patch.DueAt)
	}
	if err := validateProject(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.log.Info("board.project.delete", "project_id", id)
	return nil
}

// CreateTask adds a task to projectID. Status defaults to todo, priority to
// medium.
func (s *Service) CreateTask(ctx context.Context, projectID string, in NewTask) (*Task, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	now := s.now()
	t := &Task{
		ID:          ids.MustULID(now),
		ProjectID:   projectID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Status:      in.Status,
		Priority:    in.Priority,
		AssigneeID:  strings.TrimSpace(in.AssigneeID),
		DueAt:       utcPtr(in.DueAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := validateTask(t); err != nil {
		return nil, err
	}
	if t.Status == TaskDone {
		t.CompletedAt = &now
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	for _, st := range f.Status {
		if !st.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown task status %q", st))
		}
	}
	return s.store.ListTasks(ctx, f)
}

// UpdateTask applies patch. Moving into done stamps CompletedAt; moving out
// clears it.
func (s *Service) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := t.Status
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.AssigneeID != nil {
		t.AssigneeID = strings.TrimSpace(*patch.AssigneeID)
	}
	if patch.ClearDueAt {
		t.DueAt = nil
	}
	if patch.DueAt != nil {
		t.DueAt = utcPtr(patch.DueAt)
	}
	if err := validateTask(t); err != nil {
		return nil, err
	}

	now := s.now()
	switch {
	case t.Status == TaskDone && prev != TaskDone:
		t.CompletedAt = &now
	case t.Status != TaskDone:
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	if prev != t.Status {
		s.log.Debug("board.task.move", "task_id", t.ID, "from", prev, "to", t.Status)
	}
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

func validateProject(p *Project) error {
	if err := checkName("name", p.Name); err != nil {
		return err
	}
	if len(p.Description) > maxDescriptionLen {
		return invalid("description", "too long")
	}
	if !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown project status %q", p.Status))
	}
	if p.StartAt != nil && p.DueAt != nil && p.DueAt.Before(*p.StartAt) {
		return invalid("due_at", "before start_at")
	}
	return nil
}

func validateTask(t *Task) error {
	if err := checkName("title", t.Title); err != nil {
		return err
	}
	if len(t.Description) > maxDescriptionLen {
		return invalid("description", "too long")
	}
	if !t.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown task status %q", t.Status))
	}
	if !t.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", t.Priority))
	}
	return nil
}

func checkName(field, v string) error {
	if v == "" {
		return invalid(field, "required")
	}
	if len([]rune(v)) > maxNameLen {
		return invalid(field, "too long")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
