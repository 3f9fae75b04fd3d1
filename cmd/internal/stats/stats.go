// Package stats computes the dashboard widgets from board records. Every
// aggregation is a pure function of its inputs and an injected now.
package stats

import (
	"sort"
	"time"

	"hub/cmd/internal/board"
)

// Week is the horizon of OverviewStats.DueThisWeek.
const Week = 7 * 24 * time.Hour

// UncategorizedName labels the bucket for projects without a known category.
const UncategorizedName = "Uncategorized"

type OverviewStats struct {
	Projects         int                         `json:"projects"`
	ProjectsByStatus map[board.ProjectStatus]int `json:"projects_by_status"`
	Tasks            int                         `json:"tasks"`
	TasksByStatus    map[board.TaskStatus]int    `json:"tasks_by_status"`
	OverdueTasks     int                         `json:"overdue_tasks"`
	DueThisWeek      int                         `json:"due_this_week"`
	// CompletionRate is done/total in [0,1]; 0 when there are no tasks.
	CompletionRate float64 `json:"completion_rate"`
}

// Overview totals projects and tasks by status. DueThisWeek counts open
// tasks due in [now, now+Week).
func Overview(projects []*board.Project, tasks []*board.Task, now time.Time) OverviewStats {
	out := OverviewStats{
		Projects:         len(projects),
		ProjectsByStatus: make(map[board.ProjectStatus]int, len(board.ProjectStatuses)),
		Tasks:            len(tasks),
		TasksByStatus:    make(map[board.TaskStatus]int, len(board.TaskStatuses)),
	}
	for _, st := range board.ProjectStatuses {
		out.ProjectsByStatus[st] = 0
	}
	for _, st := range board.TaskStatuses {
		out.TasksByStatus[st] = 0
	}
	for _, p := range projects {
		out.ProjectsByStatus[p.Status]++
	}

	horizon := now.Add(Week)
	for _, t := range tasks {
		out.TasksByStatus[t.Status]++
		if t.Overdue(now) {
			out.OverdueTasks++
		}
		if t.Open() && t.DueAt != nil && !t.DueAt.Before(now) && t.DueAt.Before(horizon) {
			out.DueThisWeek++
		}
	}
	if len(tasks) > 0 {
		out.CompletionRate = float64(out.TasksByStatus[board.TaskDone]) / float64(len(tasks))
	}
	return out
}

type CategoryCard struct {
	// CategoryID is empty for the uncategorized bucket.
	CategoryID string           `json:"category_id"`
	Name       string           `json:"name"`
	Color      string           `json:"color"`
	Projects   int              `json:"projects"`
	Tasks      board.TaskCounts `json:"tasks"`
	Percent    int              `json:"percent"`
}

// CategoryProgress returns one card per category, in the given category
// order, then an uncategorized card when some project has no known category.
// Percent is the floored share of done tasks.
func CategoryProgress(categories []board.Category, projects []*board.Project, tasks []*board.Task, now time.Time) []CategoryCard {
	cards := make([]CategoryCard, 0, len(categories)+1)
	byCategory := make(map[string]int, len(categories))
	for _, c := range categories {
		byCategory[c.ID] = len(cards)
		cards = append(cards, CategoryCard{CategoryID: c.ID, Name: c.Name, Color: c.Color})
	}

	uncategorized := -1
	cardOf := make(map[string]int, len(projects))
	for _, p := range projects {
		i, ok := byCategory[p.CategoryID]
		if !ok {
			if uncategorized < 0 {
				uncategorized = len(cards)
				cards = append(cards, CategoryCard{Name: UncategorizedName})
			}
			i = uncategorized
		}
		cards[i].Projects++
		cardOf[p.ID] = i
	}

	for _, t := range tasks {
		if i, ok := cardOf[t.ProjectID]; ok {
			cards[i].Tasks.Add(t, now)
		}
	}
	for i := range cards {
		cards[i].Percent = cards[i].Tasks.Progress()
	}
	return cards
}

type WorkloadEntry struct {
	AssigneeID string `json:"assignee_id"`
	Open       int    `json:"open"`
	Overdue    int    `json:"overdue"`
}

// Workload counts open tasks per assignee, busiest first. Unassigned tasks
// are not listed.
func Workload(tasks []*board.Task, now time.Time) []WorkloadEntry {
	idx := make(map[string]int)
	out := make([]WorkloadEntry, 0)
	for _, t := range tasks {
		if !t.Open() || t.AssigneeID == "" {
			continue
		}
		i, ok := idx[t.AssigneeID]
		if !ok {
			i = len(out)
			idx[t.AssigneeID] = i
			out = append(out, WorkloadEntry{AssigneeID: t.AssigneeID})
		}
		out[i].Open++
		if t.Overdue(now) {
			out[i].Overdue++
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Open != out[j].Open {
			return out[i].Open > out[j].Open
		}
		return out[i].AssigneeID < out[j].AssigneeID
	})
	return out
}
