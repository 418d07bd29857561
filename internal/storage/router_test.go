package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/registry"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

type recordingToucher struct {
	mu      sync.Mutex
	touched []string
	err     error
}

func (r *recordingToucher) Touch(_ context.Context, p string) (registry.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, p)
	return registry.Project{ID: workspace.Hash(p), WorkspacePath: p}, r.err
}

func TestRouter_WriteCreatesMigratedFileAndTouches(t *testing.T) {
	ctx := context.Background()
	reg := &recordingToucher{}
	r := NewRouter(t.TempDir(), time.Second, reg, nil)

	err := r.Write(ctx, "/w/alpha", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (title, created_at, updated_at) VALUES ('x', '2026', '2026')")
		return err
	})
	require.NoError(t, err)

	path := r.DBPath("/w/alpha")
	assert.Equal(t, workspace.Hash("/w/alpha")+".db", filepath.Base(path))
	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/alpha"}, reg.touched)

	var version, count int
	err = r.Read(ctx, "/w/alpha", func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM tasks"); err != nil {
			return err
		}
		v, err := sqlitedb.Version(ctx, tx)
		version = v
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, SchemaVersion(), version)
	assert.Len(t, reg.touched, 2)
}

func TestRouter_WriteRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), time.Second, nil, nil)

	err := r.Write(ctx, "/w/a", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (title, created_at, updated_at) VALUES ('x', '2026', '2026')"); err != nil {
			return err
		}
		return apperr.Validation("title", "nope")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var count int
	require.NoError(t, r.Read(ctx, "/w/a", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM tasks")
	}))
	assert.Equal(t, 0, count)
}

func TestRouter_TouchFailureIsNotFatal(t *testing.T) {
	reg := &recordingToucher{err: errors.New("registry locked")}
	r := NewRouter(t.TempDir(), time.Second, reg, nil)

	err := r.Read(context.Background(), "/w/a", func(*sqlx.Tx) error { return nil })
	assert.NoError(t, err)
	assert.Len(t, reg.touched, 1)
}

func TestRouter_HashCollisionFailsBeforeOpening(t *testing.T) {
	reg := &recordingToucher{err: apperr.WorkspaceCollision(workspace.Hash("/w/a"), "/w/other", "/w/a")}
	r := NewRouter(t.TempDir(), time.Second, reg, nil)

	called := false
	err := r.Write(context.Background(), "/w/a", func(*sqlx.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrWorkspace))
	assert.False(t, called)

	_, err = os.Stat(r.DBPath("/w/a"))
	assert.True(t, os.IsNotExist(err), "the other workspace's file is never opened")
}

func TestRouter_InspectMissingFile(t *testing.T) {
	reg := &recordingToucher{}
	r := NewRouter(t.TempDir(), time.Second, reg, nil)

	called := false
	exists, err := r.Inspect(context.Background(), "/w/ghost", func(*sqlx.Tx) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, called)
	assert.Empty(t, reg.touched)

	_, err = os.Stat(r.DBPath("/w/ghost"))
	assert.True(t, os.IsNotExist(err))
}

func TestSchema_PartialIndexes(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(t.TempDir(), time.Second, nil, nil)
	const now = "2026-01-01T00:00:00.000000Z"

	err := r.Write(ctx, "/w/a", func(tx *sqlx.Tx) error {
		insert := "INSERT INTO entities (entity_type, name, identifier, created_at, updated_at, deleted_at) VALUES (?, ?, ?, ?, ?, ?)"
		// NULL identifiers never conflict.
		if _, err := tx.ExecContext(ctx, insert, "file", "a", nil, now, now, nil); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, "file", "b", nil, now, now, nil); err != nil {
			return err
		}
		// A soft-deleted row does not block an active one.
		if _, err := tx.ExecContext(ctx, insert, "file", "c", "/x", now, now, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, "file", "d", "/x", now, now, nil); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insert, "file", "e", "/x", now, now, nil)
		return err
	})
	require.Error(t, err)
	assert.True(t, sqlitedb.IsUniqueViolation(err))
}
