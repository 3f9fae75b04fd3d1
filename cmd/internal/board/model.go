package board

import "time"

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// ProjectStatuses is the board column order.
var ProjectStatuses = []ProjectStatus{ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived}

func (s ProjectStatus) Valid() bool {
	for _, v := range ProjectStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

// TaskStatuses is the task board column order.
var TaskStatuses = []TaskStatus{TaskTodo, TaskInProgress, TaskReview, TaskDone}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; higher is more urgent. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	CategoryID  string        `json:"category_id,omitempty"`
	Status      ProjectStatus `json:"status"`
	OwnerID     string        `json:"owner_id"`
	StartAt     *time.Time    `json:"start_at,omitempty"`
	DueAt       *time.Time    `json:"due_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Open reports whether the task still needs work.
func (t *Task) Open() bool { return t.Status != TaskDone }

// Overdue reports whether an open task is past its due date at now.
func (t *Task) Overdue(now time.Time) bool {
	return t.Open() && t.DueAt != nil && t.DueAt.Before(now)
}

// ProjectFilter narrows ListProjects. Zero fields match everything.
type ProjectFilter struct {
	Status     []ProjectStatus
	CategoryID string
	OwnerID    string
	Search     string
}

// TaskFilter narrows ListTasks. A non-zero OverdueAt keeps only open tasks
// due before it.
type TaskFilter struct {
	ProjectID  string
	Status     []TaskStatus
	AssigneeID string
	OverdueAt  time.Time
}

// NewProject is the input for creating a project.
type NewProject struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	CategoryID  string        `json:"category_id"`
	Status      ProjectStatus `json:"status"`
	StartAt     *time.Time    `json:"start_at"`
	DueAt       *time.Time    `json:"due_at"`
}

// ProjectPatch updates a project. Nil fields are left alone; an empty
// CategoryID clears the category.
type ProjectPatch struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	CategoryID  *string        `json:"category_id"`
	Status      *ProjectStatus `json:"status"`
	StartAt     *time.Time     `json:"start_at"`
	DueAt       *time.Time     `json:"due_at"`
	ClearDates  bool           `json:"clear_dates"`
}

// NewTask is the input for creating a task.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assignee_id"`
	DueAt       *time.Time `json:"due_at"`
}

// TaskPatch updates a task. Nil fields are left alone.
type TaskPatch struct {
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	Status      *TaskStatus `json:"status"`
	Priority    *Priority   `json:"priority"`
	AssigneeID  *string     `json:"assignee_id"`
	DueAt       *time.Time  `json:"due_at"`
	ClearDueAt  bool        `json:"clear_due_at"`
}
