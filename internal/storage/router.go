// Package storage routes each workspace to its own SQLite file and runs a
// single call's work inside one transaction on a freshly opened handle.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/registry"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// Toucher records that a workspace was accessed.
type Toucher interface {
	Touch(ctx context.Context, workspacePath string) (registry.Project, error)
}

// Router opens the per-workspace database for every call and closes it
// before returning. Nothing is pooled across calls.
type Router struct {
	dataDir     string
	busyTimeout time.Duration
	registry    Toucher
	logger      *slog.Logger
}

// NewRouter creates a Router storing project files under
// <dataDir>/projects. reg may be nil, in which case nothing is registered.
func NewRouter(dataDir string, busyTimeout time.Duration, reg Toucher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{dataDir: dataDir, busyTimeout: busyTimeout, registry: reg, logger: logger}
}

// ProjectsDir is the directory holding per-workspace files.
func (r *Router) ProjectsDir() string {
	return filepath.Join(r.dataDir, "projects")
}

// DBPath is the database file for the canonical workspace path.
func (r *Router) DBPath(workspacePath string) string {
	return filepath.Join(r.ProjectsDir(), workspace.DBFileName(workspacePath))
}

// Write runs fn in a transaction that holds the write lock from BEGIN.
// fn's error, or a failed commit, rolls everything back.
func (r *Router) Write(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) error {
	return r.run(ctx, workspacePath, true, fn)
}

// Read runs fn in a deferred transaction, which sees one consistent
// snapshot while writers proceed.
func (r *Router) Read(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) error {
	return r.run(ctx, workspacePath, false, fn)
}

func (r *Router) run(ctx context.Context, workspacePath string, immediate bool, fn func(*sqlx.Tx) error) error {
	if err := r.touch(ctx, workspacePath); err != nil {
		return err
	}
	return r.transact(ctx, workspacePath, immediate, fn)
}

func (r *Router) transact(ctx context.Context, workspacePath string, immediate bool, fn func(*sqlx.Tx) error) error {
	db, err := r.open(ctx, workspacePath, immediate)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return sqlitedb.Classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return sqlitedb.Classify(err)
	}
	if err := tx.Commit(); err != nil {
		return sqlitedb.Classify(fmt.Errorf("committing: %w", err))
	}
	return nil
}

// Inspect opens an existing project file without registering the access.
// It reports false, without creating anything, when the file is missing.
func (r *Router) Inspect(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) (bool, error) {
	return r.inspect(ctx, workspacePath, false, fn)
}

// InspectWrite is Inspect with a write transaction. Maintenance sweeps use
// it so cleaning a project does not count as accessing it.
func (r *Router) InspectWrite(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) (bool, error) {
	return r.inspect(ctx, workspacePath, true, fn)
}

func (r *Router) inspect(ctx context.Context, workspacePath string, immediate bool, fn func(*sqlx.Tx) error) (bool, error) {
	if _, err := os.Stat(r.DBPath(workspacePath)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, sqlitedb.Classify(err)
	}
	return true, r.transact(ctx, workspacePath, immediate, fn)
}

func (r *Router) open(ctx context.Context, workspacePath string, immediate bool) (*sqlx.DB, error) {
	path := r.DBPath(workspacePath)
	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: r.busyTimeout, Immediate: immediate})
	if err != nil {
		return nil, sqlitedb.Classify(err)
	}
	if err := sqlitedb.Migrate(ctx, db, Migrations); err != nil {
		_ = db.Close()
		return nil, sqlitedb.Classify(fmt.Errorf("migrating %s: %w", path, err))
	}
	return db, nil
}

// touch registers the access. Registry trouble is logged and ignored,
// except a project id collision: the file belongs to another workspace.
func (r *Router) touch(ctx context.Context, workspacePath string) error {
	if r.registry == nil {
		return nil
	}
	_, err := r.registry.Touch(ctx, workspacePath)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrWorkspace) {
		return err
	}
	r.logger.Warn("registry touch failed", "workspace", workspacePath, "error", err)
	return nil
}
