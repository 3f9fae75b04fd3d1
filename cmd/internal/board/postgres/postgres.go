// Package postgres implements board.Store on PostgreSQL through database/sql
// and lib/pq. The schema is created by the migrations package.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"hub/cmd/internal/board"
	"hub/cmd/internal/migrations"
)

// PostgresStore implements board.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db     *sql.DB
	tables tables
}

var _ board.Store = (*PostgresStore)(nil)

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// tables holds the schema-qualified table names.
type tables struct {
	categories string
	projects   string
	tasks      string
}

func newTables(schema string) tables {
	q := pq.QuoteIdentifier(schema)
	return tables{
		categories: q + ".categories",
		projects:   q + ".projects",
		tasks:      q + ".tasks",
	}
}

// New wraps an open database. An empty schema means migrations.DefaultSchema.
func New(db *sql.DB, schema string) (*PostgresStore, error) {
	if schema == "" {
		schema = migrations.DefaultSchema
	}
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("board/postgres: invalid schema %q", schema)
	}
	return &PostgresStore{db: db, tables: newTables(schema)}, nil
}

// Open connects to databaseURL and configures the connection pool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c *board.Category) error {
	return mapErr(queryCreateCategory(ctx, s.db, s.tables, c))
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]board.Category, error) {
	out, err := queryListCategories(ctx, s.db, s.tables)
	return out, mapErr(err)
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id string) error {
	return mapErr(queryDeleteCategory(ctx, s.db, s.tables, id))
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *board.Project) error {
	return mapErr(queryCreateProject(ctx, s.db, s.tables, p))
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*board.Project, error) {
	p, err := queryGetProject(ctx, s.db, s.tables, id)
	return p, mapErr(err)
}

func (s *PostgresStore) ListProjects(ctx context.Context, f board.ProjectFilter) ([]*board.Project, error) {
	out, err := queryListProjects(ctx, s.db, s.tables, f)
	return out, mapErr(err)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *board.Project) error {
	return mapErr(queryUpdateProject(ctx, s.db, s.tables, p))
}

// DeleteProject relies on ON DELETE CASCADE for the project's tasks.
func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	return mapErr(queryDeleteByID(ctx, s.db, s.tables.projects, id))
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *board.Task) error {
	return mapErr(queryCreateTask(ctx, s.db, s.tables, t))
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*board.Task, error) {
	t, err := queryGetTask(ctx, s.db, s.tables, id)
	return t, mapErr(err)
}

func (s *PostgresStore) ListTasks(ctx context.Context, f board.TaskFilter) ([]*board.Task, error) {
	out, err := queryListTasks(ctx, s.db, s.tables, f)
	return out, mapErr(err)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *board.Task) error {
	return mapErr(queryUpdateTask(ctx, s.db, s.tables, t))
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	return mapErr(queryDeleteByID(ctx, s.db, s.tables.tasks, id))
}

// mapErr translates driver errors into board sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return board.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%w: %s", board.ErrConflict, pqErr.Constraint)
		case "foreign_key_violation":
			return board.ValidationError{Field: fkField(pqErr.Constraint), Msg: "unknown reference"}
		case "check_violation":
			return board.ValidationError{Field: pqErr.Constraint, Msg: "rejected by check"}
		}
	}
	return err
}

func fkField(constraint string) string {
	switch constraint {
	case "projects_category_id_fkey":
		return "category_id"
	case "tasks_project_id_fkey":
		return "project_id"
	}
	return constraint
}
