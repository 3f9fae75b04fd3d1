package board

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests. It mirrors the
// Postgres constraints: unique category names and project slugs, category
// references cleared on delete, tasks removed with their project.
type MemoryStore struct {
	mu         sync.RWMutex
	categories map[string]Category
	projects   map[string]*Project
	tasks      map[string]*Task
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories: make(map[string]Category),
		projects:   make(map[string]*Project),
		tasks:      make(map[string]*Task),
	}
}

func (m *MemoryStore) CreateCategory(_ context.Context, c *Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.categories {
		if existing.Name == c.Name {
			return ErrConflict
		}
	}
	m.categories[c.ID] = *c
	return nil
}

func (m *MemoryStore) ListCategories(context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) DeleteCategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return ErrNotFound
	}
	delete(m.categories, id)
	for _, p := range m.projects {
		if p.CategoryID == id {
			p.CategoryID = ""
		}
	}
	return nil
}

func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.projects {
		if existing.Slug == p.Slug {
			return ErrConflict
		}
	}
	if err := m.checkCategory(p.CategoryID); err != nil {
		return err
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProject(p), nil
}

func (m *MemoryStore) ListProjects(_ context.Context, f ProjectFilter) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []*Project
	for _, p := range m.projects {
		if len(f.Status) > 0 && !containsStatus(f.Status, p.Status) {
			continue
		}
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.OwnerID != "" && p.OwnerID != f.OwnerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) UpdateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return ErrNotFound
	}
	if err := m.checkCategory(p.CategoryID); err != nil {
		return err
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	for tid, t := range m.tasks {
		if t.ProjectID == id {
			delete(m.tasks, tid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.projects[t.ProjectID]; !ok {
		return invalid("project_id", "unknown project")
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) ListTasks(_ context.Context, f TaskFilter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, t := range m.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		if len(f.Status) > 0 && !containsStatus(f.Status, t.Status) {
			continue
		}
		if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
			continue
		}
		if !f.OverdueAt.IsZero() && !t.Overdue(f.OverdueAt) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) checkCategory(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := m.categories[id]; !ok {
		return invalid("category_id", "unknown category")
	}
	return nil
}

func containsStatus[S ~string](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func createdBefore(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

func cloneProject(p *Project) *Project {
	c := *p
	c.StartAt = cloneTime(p.StartAt)
	c.DueAt = cloneTime(p.DueAt)
	return &c
}

func cloneTask(t *Task) *Task {
	c := *t
	c.DueAt = cloneTime(t.DueAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
