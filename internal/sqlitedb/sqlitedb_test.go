package sqlitedb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "x.db")
	db, err := Open(path, Options{BusyTimeout: 1500 * time.Millisecond})
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.Get(&timeout, "PRAGMA busy_timeout"))
	assert.Equal(t, 1500, timeout)

	var fk int
	require.NoError(t, db.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}

func TestOpen_InjectedFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sqlx.DB, error) { return nil, errors.New("boom") }

	_, err := Open(filepath.Join(t.TempDir(), "x.db"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsBusy_RealContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder, err := Open(path, Options{Immediate: true})
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	tx, err := holder.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec("INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)

	waiter, err := Open(path, Options{Immediate: true, BusyTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer waiter.Close()

	_, err = waiter.BeginTxx(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsBusy(err), "expected busy error, got %v", err)

	classified := Classify(err)
	assert.True(t, errors.Is(classified, apperr.ErrLockTimeout))
}

func TestIsUniqueViolation_Real(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "u.db"), Options{})
	require.NoError(t, err)
	defer db.Close()

	db.MustExec("CREATE TABLE t (v TEXT UNIQUE)")
	db.MustExec("INSERT INTO t (v) VALUES ('a')")
	_, err = db.Exec("INSERT INTO t (v) VALUES ('a')")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsBusy(err))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	nf := apperr.NotFound("task", 1)
	assert.Same(t, error(nf), Classify(nf))

	err := Classify(fmt.Errorf("query: %w", errors.New("database is locked")))
	assert.True(t, errors.Is(err, apperr.ErrLockTimeout))

	err = Classify(errors.New("disk I/O error"))
	assert.True(t, errors.Is(err, apperr.ErrInternal))
}
