package board

import (
	"sort"
	"strings"
	"time"
)

type ProjectColumn struct {
	Status   ProjectStatus `json:"status"`
	Projects []*Project    `json:"projects"`
}

// ProjectBoard groups projects into one column per status, in
// ProjectStatuses order. Every column is present even when empty. Inside a
// column projects are ordered by due date (undated last), then name.
func ProjectBoard(projects []*Project) []ProjectColumn {
	cols := make([]ProjectColumn, len(ProjectStatuses))
	idx := make(map[ProjectStatus]int, len(ProjectStatuses))
	for i, st := range ProjectStatuses {
		cols[i] = ProjectColumn{Status: st, Projects: []*Project{}}
		idx[st] = i
	}
	for _, p := range projects {
		i, ok := idx[p.Status]
		if !ok {
			continue
		}
		cols[i].Projects = append(cols[i].Projects, p)
	}
	for i := range cols {
		ps := cols[i].Projects
		sort.SliceStable(ps, func(a, b int) bool {
			if c := compareDue(ps[a].DueAt, ps[b].DueAt); c != 0 {
				return c < 0
			}
			if c := compareFold(ps[a].Name, ps[b].Name); c != 0 {
				return c < 0
			}
			return ps[a].ID < ps[b].ID
		})
	}
	return cols
}

type TaskColumn struct {
	Status TaskStatus `json:"status"`
	Tasks  []*Task    `json:"tasks"`
}

// TaskBoard groups tasks into one column per status, in TaskStatuses order.
// Inside a column tasks are ordered by priority (most urgent first), then due
// date (undated last), then creation.
func TaskBoard(tasks []*Task) []TaskColumn {
	cols := make([]TaskColumn, len(TaskStatuses))
	idx := make(map[TaskStatus]int, len(TaskStatuses))
	for i, st := range TaskStatuses {
		cols[i] = TaskColumn{Status: st, Tasks: []*Task{}}
		idx[st] = i
	}
	for _, t := range tasks {
		i, ok := idx[t.Status]
		if !ok {
			continue
		}
		cols[i].Tasks = append(cols[i].Tasks, t)
	}
	for i := range cols {
		ts := cols[i].Tasks
		sort.SliceStable(ts, func(a, b int) bool {
			if ra, rb := ts[a].Priority.Rank(), ts[b].Priority.Rank(); ra != rb {
				return ra > rb
			}
			if c := compareDue(ts[a].DueAt, ts[b].DueAt); c != 0 {
				return c < 0
			}
			return createdBefore(ts[a].CreatedAt, ts[a].ID, ts[b].CreatedAt, ts[b].ID)
		})
	}
	return cols
}

type TaskCounts struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Open    int `json:"open"`
	Overdue int `json:"overdue"`
}

// Add counts t as of now.
func (c *TaskCounts) Add(t *Task, now time.Time) {
	c.Total++
	if t.Open() {
		c.Open++
	} else {
		c.Done++
	}
	if t.Overdue(now) {
		c.Overdue++
	}
}

// Progress is the floored percentage of done tasks, 0 when there are none.
func (c TaskCounts) Progress() int { return Percent(c.Done, c.Total) }

type ProjectSummary struct {
	Project  *Project   `json:"project"`
	Tasks    TaskCounts `json:"tasks"`
	Progress int        `json:"progress"`
}

// ProjectList pairs each project with its task counts, sorted by name.
// Tasks of projects not in the list are ignored.
func ProjectList(projects []*Project, tasks []*Task, now time.Time) []ProjectSummary {
	counts := make(map[string]*TaskCounts, len(projects))
	for _, p := range projects {
		counts[p.ID] = &TaskCounts{}
	}
	for _, t := range tasks {
		if c, ok := counts[t.ProjectID]; ok {
			c.Add(t, now)
		}
	}

	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		c := *counts[p.ID]
		out = append(out, ProjectSummary{Project: p, Tasks: c, Progress: c.Progress()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := compareFold(out[i].Project.Name, out[j].Project.Name); c != 0 {
			return c < 0
		}
		return out[i].Project.ID < out[j].Project.ID
	})
	return out
}

// Percent returns floor(part*100/total), or 0 when total is 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
