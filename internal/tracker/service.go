package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/sqlitedb"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

func now() string {
	return sqlitedb.FormatTime(timeNow())
}

// DefaultRetentionDays is how long soft-deleted tasks are kept.
const DefaultRetentionDays = 30

// Router runs a unit of work against one workspace's database.
type Router interface {
	Write(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) error
	Read(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) error
}

// Service implements task, entity and link operations.
type Service struct {
	router Router
}

// NewService creates a Service that routes every call through router.
func NewService(router Router) *Service {
	return &Service{router: router}
}

// ─── Query helpers ──────────────────────────────────────────────────────────

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// likePattern builds a LIKE pattern matching term anywhere, escaping the
// wildcards it contains. Use with ESCAPE '\'.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// prefixed qualifies every column in cols with alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func count(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int, error) {
	var n int
	if err := tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}
