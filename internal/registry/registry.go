// Package registry keeps the process-wide record of every workspace that
// has been touched, so any client can discover projects created by others.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Project is one registered workspace.
type Project struct {
	ID            string  `db:"id" json:"id"`
	WorkspacePath string  `db:"workspace_path" json:"workspace_path"`
	FriendlyName  *string `db:"friendly_name" json:"friendly_name"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
	LastAccessed  string  `db:"last_accessed" json:"last_accessed"`
}

// Name returns the friendly name, falling back to the directory name.
func (p Project) Name() string {
	if p.FriendlyName != nil && *p.FriendlyName != "" {
		return *p.FriendlyName
	}
	return filepath.Base(p.WorkspacePath)
}

var migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id             TEXT PRIMARY KEY,
			workspace_path TEXT NOT NULL UNIQUE,
			friendly_name  TEXT,
			created_at     TEXT NOT NULL,
			last_accessed  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_last_accessed ON projects(last_accessed)`,
	}},
}

// Registry is a handle on the shared registry database. It is opened once
// per process and closed on shutdown.
type Registry struct {
	db *sqlx.DB
}

// Open opens (creating and migrating when needed) the registry at path.
func Open(path string, busyTimeout time.Duration) (*Registry, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: busyTimeout, Immediate: true})
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	if err := sqlitedb.Migrate(context.Background(), db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the registry handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

const projectColumns = "id, workspace_path, friendly_name, created_at, last_accessed"

// Touch records an access to workspacePath: the row is created on first
// sight (named after the directory) and last_accessed is bumped otherwise.
func (r *Registry) Touch(ctx context.Context, workspacePath string) (Project, error) {
	id := workspace.Hash(workspacePath)
	now := sqlitedb.FormatTime(timeNow())

	var p Project
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &p, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			name := filepath.Base(workspacePath)
			p = Project{ID: id, WorkspacePath: workspacePath, FriendlyName: &name, CreatedAt: now, LastAccessed: now}
			_, err = tx.ExecContext(ctx,
				"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?)",
				p.ID, p.WorkspacePath, p.FriendlyName, p.CreatedAt, p.LastAccessed)
			if err != nil {
				return fmt.Errorf("registering %s: %w", workspacePath, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("looking up project %s: %w", id, err)
		}

		if p.WorkspacePath != workspacePath {
			return apperr.WorkspaceCollision(id, p.WorkspacePath, workspacePath)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE projects SET last_accessed = ? WHERE id = ?", now, id); err != nil {
			return fmt.Errorf("touching project %s: %w", id, err)
		}
		p.LastAccessed = now
		return nil
	})
	if err != nil {
		return Project{}, sqlitedb.Classify(err)
	}
	return p, nil
}

// Get returns the project registered for workspacePath.
func (r *Registry) Get(ctx context.Context, workspacePath string) (Project, error) {
	return r.GetByID(ctx, workspace.Hash(workspacePath))
}

// GetByID returns the project with the given hash id.
func (r *Registry) GetByID(ctx context.Context, id string) (Project, error) {
	var p Project
	err := r.db.GetContext(ctx, &p, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, &apperr.Error{
			Code:    apperr.CodeNotFound,
			Message: fmt.Sprintf("project %s not found", id),
			Details: map[string]any{"kind": "project", "id": id},
		}
	}
	if err != nil {
		return Project{}, sqlitedb.Classify(fmt.Errorf("getting project %s: %w", id, err))
	}
	return p, nil
}

// SetName sets the friendly name; an empty name clears it. The project is
// registered first if it has never been seen.
func (r *Registry) SetName(ctx context.Context, workspacePath, name string) (Project, error) {
	if _, err := r.Touch(ctx, workspacePath); err != nil {
		return Project{}, err
	}
	var value *string
	if name != "" {
		value = &name
	}
	if _, err := r.db.ExecContext(ctx,
		"UPDATE projects SET friendly_name = ? WHERE id = ?", value, workspace.Hash(workspacePath)); err != nil {
		return Project{}, sqlitedb.Classify(fmt.Errorf("renaming project: %w", err))
	}
	return r.Get(ctx, workspacePath)
}

// List returns one page of projects, most recently accessed first, and the
// total number registered.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]Project, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	var items []Project
	if err := r.db.SelectContext(ctx, &items,
		"SELECT "+projectColumns+" FROM projects ORDER BY last_accessed DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset); err != nil {
		return nil, 0, sqlitedb.Classify(fmt.Errorf("listing projects: %w", err))
	}
	if items == nil {
		items = []Project{}
	}
	return items, total, nil
}

// Count returns the number of registered projects.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM projects"); err != nil {
		return 0, sqlitedb.Classify(fmt.Errorf("counting projects: %w", err))
	}
	return n, nil
}

// All returns every registered project.
func (r *Registry) All(ctx context.Context) ([]Project, error) {
	var items []Project
	if err := r.db.SelectContext(ctx, &items,
		"SELECT "+projectColumns+" FROM projects ORDER BY last_accessed DESC, id ASC"); err != nil {
		return nil, sqlitedb.Classify(fmt.Errorf("listing projects: %w", err))
	}
	return items, nil
}

func (r *Registry) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning registry transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
