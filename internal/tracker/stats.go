package tracker

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CollectStats counts the contents of one project database.
func CollectStats(ctx context.Context, q sqlx.QueryerContext) (Stats, error) {
	st := Stats{TasksByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		st.TasksByStatus[s] = 0
	}

	var rows []struct {
		Status Status `db:"status"`
		N      int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT status, COUNT(*) AS n FROM tasks WHERE deleted_at IS NULL GROUP BY status"); err != nil {
		return Stats{}, fmt.Errorf("counting tasks: %w", err)
	}
	for _, r := range rows {
		st.TasksByStatus[r.Status] = r.N
		st.ActiveTasks += r.N
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&st.DeletedTasks, "SELECT COUNT(*) FROM tasks WHERE deleted_at IS NOT NULL"},
		{&st.Entities, "SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL"},
		{&st.DeletedEntities, "SELECT COUNT(*) FROM entities WHERE deleted_at IS NOT NULL"},
		{&st.Links, "SELECT COUNT(*) FROM task_entity_links WHERE deleted_at IS NULL"},
	}
	for _, c := range counts {
		if err := sqlx.GetContext(ctx, q, c.dst, c.query); err != nil {
			return Stats{}, fmt.Errorf("collecting stats: %w", err)
		}
	}
	return st, nil
}
