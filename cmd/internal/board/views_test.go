package board

import (
	"testing"
	"time"
)

func at(h int) *time.Time {
	t := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour)
	return &t
}

func TestProjectBoard_ColumnsAndOrder(t *testing.T) {
	projects := []*Project{
		{ID: "3", Name: "zeta", Status: ProjectActive},
		{ID: "1", Name: "Beta", Status: ProjectActive, DueAt: at(10)},
		{ID: "2", Name: "alpha", Status: ProjectActive},
		{ID: "4", Name: "Gamma", Status: ProjectArchived},
		{ID: "5", Name: "Early", Status: ProjectActive, DueAt: at(2)},
	}

	cols := ProjectBoard(projects)
	if len(cols) != len(ProjectStatuses) {
		t.Fatalf("expected %d columns, got %d", len(ProjectStatuses), len(cols))
	}
	for i, st := range ProjectStatuses {
		if cols[i].Status != st {
			t.Fatalf("column %d: got %s want %s", i, cols[i].Status, st)
		}
		if cols[i].Projects == nil {
			t.Fatalf("column %s must be an empty slice, not nil", st)
		}
	}

	var ids []string
	for _, p := range cols[1].Projects {
		ids = append(ids, p.ID)
	}
	want := []string{"5", "1", "2", "3"}
	if len(ids) != len(want) {
		t.Fatalf("active column = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("active column order = %v, want %v", ids, want)
		}
	}
	if len(cols[4].Projects) != 1 || cols[4].Projects[0].ID != "4" {
		t.Fatalf("archived column = %+v", cols[4].Projects)
	}
}

func TestTaskBoard_PriorityThenDue(t *testing.T) {
	created := *at(0)
	tasks := []*Task{
		{ID: "a", Status: TaskTodo, Priority: PriorityLow, CreatedAt: created},
		{ID: "b", Status: TaskTodo, Priority: PriorityUrgent, CreatedAt: created},
		{ID: "c", Status: TaskTodo, Priority: PriorityHigh, DueAt: at(5), CreatedAt: created},
		{ID: "d", Status: TaskTodo, Priority: PriorityHigh, DueAt: at(1), CreatedAt: created},
		{ID: "e", Status: TaskDone, Priority: PriorityLow, CreatedAt: created},
		{ID: "f", Status: TaskTodo, Priority: PriorityHigh, CreatedAt: created},
	}

	cols := TaskBoard(tasks)
	if len(cols) != 4 || cols[0].Status != TaskTodo || cols[3].Status != TaskDone {
		t.Fatalf("unexpected columns: %+v", cols)
	}

	want := []string{"b", "d", "c", "f", "a"}
	if len(cols[0].Tasks) != len(want) {
		t.Fatalf("todo column size %d", len(cols[0].Tasks))
	}
	for i, id := range want {
		if cols[0].Tasks[i].ID != id {
			t.Fatalf("todo[%d] = %s, want %s", i, cols[0].Tasks[i].ID, id)
		}
	}
	if len(cols[1].Tasks) != 0 || len(cols[3].Tasks) != 1 {
		t.Fatalf("unexpected in_progress/done sizes")
	}
}

func TestProjectList_Counts(t *testing.T) {
	now := *at(24)
	projects := []*Project{
		{ID: "p2", Name: "beta"},
		{ID: "p1", Name: "Alpha"},
		{ID: "p3", Name: "Gamma"},
	}
	tasks := []*Task{
		{ID: "t1", ProjectID: "p1", Status: TaskDone},
		{ID: "t2", ProjectID: "p1", Status: TaskTodo, DueAt: at(1)},
		{ID: "t3", ProjectID: "p1", Status: TaskReview},
		{ID: "t4", ProjectID: "p2", Status: TaskDone, DueAt: at(1)},
		{ID: "t5", ProjectID: "other", Status: TaskTodo},
	}

	list := ProjectList(projects, tasks, now)
	if len(list) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(list))
	}
	if list[0].Project.ID != "p1" || list[1].Project.ID != "p2" || list[2].Project.ID != "p3" {
		t.Fatalf("not sorted by name: %s %s %s", list[0].Project.ID, list[1].Project.ID, list[2].Project.ID)
	}

	p1 := list[0]
	if p1.Tasks != (TaskCounts{Total: 3, Done: 1, Open: 2, Overdue: 1}) {
		t.Fatalf("p1 counts = %+v", p1.Tasks)
	}
	if p1.Progress != 33 {
		t.Fatalf("p1 progress = %d, want floor(100/3)=33", p1.Progress)
	}
	if list[1].Progress != 100 || list[1].Tasks.Overdue != 0 {
		t.Fatalf("p2 = %+v", list[1])
	}
	if list[2].Progress != 0 || list[2].Tasks.Total != 0 {
		t.Fatalf("p3 = %+v", list[2])
	}
}

func TestPercent(t *testing.T) {
	for _, tc := range []struct{ part, total, want int }{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{5, -1, 0},
	} {
		if got := Percent(tc.part, tc.total); got != tc.want {
			t.Fatalf("Percent(%d,%d) = %d, want %d", tc.part, tc.total, got, tc.want)
		}
	}
}
