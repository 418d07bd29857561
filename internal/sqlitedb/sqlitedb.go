// Package sqlitedb opens SQLite files with the pragmas every taskmem
// database needs and classifies driver errors.
package sqlitedb

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// DefaultBusyTimeout is how long a writer waits for the lock.
const DefaultBusyTimeout = 5 * time.Second

// Options controls how a database file is opened.
type Options struct {
	// BusyTimeout is the lock wait before SQLITE_BUSY is returned.
	BusyTimeout time.Duration
	// Immediate makes every transaction take the write lock at BEGIN.
	// Write paths set it so a read-then-write transaction never fails
	// mid-way on a lock upgrade.
	Immediate bool
}

// openDB is a package-level var to allow test injection.
var openDB = sqlx.Open

// DSN builds the connection string for path. Pragmas ride on the DSN so
// they are re-applied if database/sql ever reconnects.
func DSN(path string, opts Options) string {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if opts.Immediate {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating when needed) the database at path. The pool is
// capped at one connection: each handle serves exactly one call.
func Open(path string, opts Options) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := openDB(DriverName, DSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, Classify(fmt.Errorf("connecting to %s: %w", path, err))
	}
	return db, nil
}

// ─── Error classification ───────────────────────────────────────────────────

func code(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// IsBusy reports whether err is lock contention (SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes).
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := code(err); ok {
		primary := c & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := code(err); ok {
		return c == sqlite3.SQLITE_CONSTRAINT_UNIQUE || c == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Classify maps driver errors to caller-facing errors. Errors that are
// already classified pass through unchanged; lock contention becomes
// LOCK_TIMEOUT; anything else becomes INTERNAL_ERROR.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if IsBusy(err) {
		return apperr.LockTimeout(err)
	}
	return apperr.Internal(err)
}

// ─── Timestamps ─────────────────────────────────────────────────────────────

// TimeLayout is the fixed-width UTC layout used for every stored timestamp,
// so lexical comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
