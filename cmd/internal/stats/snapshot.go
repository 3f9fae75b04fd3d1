package stats

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"hub/cmd/internal/board"
)

// Snapshot is every board record at one point in time.
type Snapshot struct {
	Categories []board.Category
	Projects   []*board.Project
	Tasks      []*board.Task
}

// Load reads categories, projects and tasks concurrently.
func Load(ctx context.Context, store board.Store) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Categories, err = store.ListCategories(ctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap.Projects, err = store.ListProjects(ctx, board.ProjectFilter{})
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap.Tasks, err = store.ListTasks(ctx, board.TaskFilter{})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
