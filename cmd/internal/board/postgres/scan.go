package postgres

import (
	"database/sql"
	"time"

	"hub/cmd/internal/board"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanProject scans a row laid out as projectColumns.
func scanProject(row scannable) (*board.Project, error) {
	var p board.Project
	var (
		categoryID sql.NullString
		startAt    sql.NullTime
		dueAt      sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&p.Description,
		&categoryID,
		&p.Status,
		&p.OwnerID,
		&startAt,
		&dueAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CategoryID = categoryID.String
	p.StartAt = timePtr(startAt)
	p.DueAt = timePtr(dueAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// scanTask scans a row laid out as taskColumns.
func scanTask(row scannable) (*board.Task, error) {
	var t board.Task
	var (
		dueAt       sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssigneeID,
		&dueAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.DueAt = timePtr(dueAt)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString, treating "" as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
