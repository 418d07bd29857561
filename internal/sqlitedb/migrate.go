package sqlitedb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration is one schema version. Statements must be safe to re-run
// (CREATE ... IF NOT EXISTS) because two processes can race to apply the
// same version against a fresh file.
type Migration struct {
	Version    int
	Statements []string
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Version returns the highest applied schema version, 0 for a fresh file.
func Version(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var exists int
	if err := sqlx.GetContext(ctx, q, &exists,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'"); err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v int
	if err := sqlx.GetContext(ctx, q, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// Migrate applies every migration newer than the file's current version.
// Pending versions run inside a single BEGIN IMMEDIATE transaction that
// re-reads the version after taking the write lock, so concurrent openers
// serialize and only one of them does the work.
func Migrate(ctx context.Context, db *sqlx.DB, migrations []Migration) error {
	if len(migrations) == 0 {
		return nil
	}
	latest := migrations[len(migrations)-1].Version

	current, err := Version(ctx, db)
	if err != nil {
		return err
	}
	if current >= latest {
		return nil
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquiring migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("locking for migration: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if _, err := conn.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}
	current, err = Version(ctx, conn)
	if err != nil {
		return err
	}

	now := FormatTime(time.Now())
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		for i, stmt := range m.Statements {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration v%d statement %d: %w", m.Version, i+1, err)
			}
		}
		if _, err := conn.ExecContext(ctx,
			"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)", m.Version, now); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.Version, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing migrations: %w", err)
	}
	committed = true
	return nil
}
