package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"hub/cmd/internal/board"
)

const projectColumns = `id, slug, name, description, category_id, status, owner_id,
	start_at, due_at, created_at, updated_at`

const taskColumns = `id, project_id, title, description, status, priority, assignee_id,
	due_at, created_at, updated_at, completed_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateCategory(ctx context.Context, db executor, t tables, c *board.Category) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+t.categories+` (id, name, color, created_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Color, c.CreatedAt,
	)
	return err
}

func queryListCategories(ctx context.Context, db executor, t tables) ([]board.Category, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, color, created_at FROM `+t.categories+`
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []board.Category
	for rows.Next() {
		var c board.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func queryDeleteCategory(ctx context.Context, db executor, t tables, id string) error {
	return queryDeleteByID(ctx, db, t.categories, id)
}

// queryDeleteByID deletes one row by primary key, returning sql.ErrNoRows
// when nothing matched.
func queryDeleteByID(ctx context.Context, db executor, table, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func queryCreateProject(ctx context.Context, db executor, t tables, p *board.Project) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+t.projects+` (
			id, slug, name, description, category_id, status, owner_id,
			start_at, due_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11
		)`,
		p.ID,
		p.Slug,
		p.Name,
		p.Description,
		nullString(p.CategoryID),
		string(p.Status),
		p.OwnerID,
		nullTimePtr(p.StartAt),
		nullTimePtr(p.DueAt),
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func queryGetProject(ctx context.Context, db executor, t tables, id string) (*board.Project, error) {
	row := db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM `+t.projects+` WHERE id = $1`, id)
	return scanProject(row)
}

func queryListProjects(ctx context.Context, db executor, t tables, filter board.ProjectFilter) ([]*board.Project, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)
	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		whereClauses = append(whereClauses, "status = ANY("+nextArg()+")")
		args = append(args, pq.Array(statuses))
	}

	if filter.CategoryID != "" {
		whereClauses = append(whereClauses, "category_id = "+nextArg())
		args = append(args, filter.CategoryID)
	}

	if filter.OwnerID != "" {
		whereClauses = append(whereClauses, "owner_id = "+nextArg())
		args = append(args, filter.OwnerID)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		p := nextArg()
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", p, p))
		args = append(args, "%"+escapeLike(search)+"%")
	}

	query := `SELECT ` + projectColumns + ` FROM ` + t.projects
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*board.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryUpdateProject(ctx context.Context, db executor, t tables, p *board.Project) error {
	res, err := db.ExecContext(ctx, `
		UPDATE `+t.projects+` SET
			name = $2, description = $3, category_id = $4, status = $5,
			start_at = $6, due_at = $7, updated_at = $8
		WHERE id = $1`,
		p.ID,
		p.Name,
		p.Description,
		nullString(p.CategoryID),
		string(p.Status),
		nullTimePtr(p.StartAt),
		nullTimePtr(p.DueAt),
		p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func queryCreateTask(ctx context.Context, db executor, t tables, task *board.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+t.tasks+` (
			id, project_id, title, description, status, priority, assignee_id,
			due_at, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11
		)`,
		task.ID,
		task.ProjectID,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		task.AssigneeID,
		nullTimePtr(task.DueAt),
		task.CreatedAt,
		task.UpdatedAt,
		nullTimePtr(task.CompletedAt),
	)
	return err
}

func queryGetTask(ctx context.Context, db executor, t tables, id string) (*board.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM `+t.tasks+` WHERE id = $1`, id)
	return scanTask(row)
}

func queryListTasks(ctx context.Context, db executor, t tables, filter board.TaskFilter) ([]*board.Task, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)
	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.ProjectID != "" {
		whereClauses = append(whereClauses, "project_id = "+nextArg())
		args = append(args, filter.ProjectID)
	}

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		whereClauses = append(whereClauses, "status = ANY("+nextArg()+")")
		args = append(args, pq.Array(statuses))
	}

	if filter.AssigneeID != "" {
		whereClauses = append(whereClauses, "assignee_id = "+nextArg())
		args = append(args, filter.AssigneeID)
	}

	if !filter.OverdueAt.IsZero() {
		whereClauses = append(whereClauses, "status <> 'done' AND due_at IS NOT NULL AND due_at < "+nextArg())
		args = append(args, filter.OverdueAt)
	}

	query := `SELECT ` + taskColumns + ` FROM ` + t.tasks
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*board.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func queryUpdateTask(ctx context.Context, db executor, t tables, task *board.Task) error {
	res, err := db.ExecContext(ctx, `
		UPDATE `+t.tasks+` SET
			title = $2, description = $3, status = $4, priority = $5,
			assignee_id = $6, due_at = $7, updated_at = $8, completed_at = $9
		WHERE id = $1`,
		task.ID,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		task.AssigneeID,
		nullTimePtr(task.DueAt),
		task.UpdatedAt,
		nullTimePtr(task.CompletedAt),
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
