package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
)

const taskColumns = `id, title, description, status, priority, parent_task_id, depends_on, tags,
	blocker_reason, file_references, created_by, created_at, updated_at, completed_at, deleted_at`

// CreateTaskParams holds input for creating a task.
type CreateTaskParams struct {
	Title          string
	Description    string
	Status         string
	Priority       string
	ParentTaskID   int64
	DependsOn      []int64
	Tags           []string
	BlockerReason  *string
	FileReferences []string
	CreatedBy      string
}

// UpdateTaskParams holds a partial update. Nil fields are left unchanged.
// A zero ParentTaskID clears the parent.
type UpdateTaskParams struct {
	ID             int64
	Title          *string
	Description    *string
	Status         *string
	Priority       *string
	ParentTaskID   *int64
	DependsOn      *[]int64
	Tags           *[]string
	BlockerReason  *string
	FileReferences *[]string
}

func (p UpdateTaskParams) empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.ParentTaskID == nil && p.DependsOn == nil && p.Tags == nil && p.BlockerReason == nil &&
		p.FileReferences == nil
}

// TaskFilter narrows list and search queries. Zero values match anything.
type TaskFilter struct {
	Status       string
	Priority     string
	Tag          string
	ParentTaskID *int64
	Query        string
	Limit        int
	Offset       int
}

// ─── Create / update ────────────────────────────────────────────────────────

// CreateTask validates p and inserts a new task. Parent and dependency ids
// are not required to exist, but a task created directly as in_progress or
// done must have every dependency already done.
func (s *Service) CreateTask(ctx context.Context, ws string, p CreateTaskParams) (Task, error) {
	t, err := buildTask(p)
	if err != nil {
		return Task{}, err
	}

	err = s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		if t.Status.requiresDependencies() {
			if err := requireDependenciesDone(ctx, tx, 0, t.Status, t.DependsOn); err != nil {
				return err
			}
		}

		ts := now()
		t.CreatedAt, t.UpdatedAt = ts, ts
		if t.Status == StatusDone {
			t.CompletedAt = &ts
		}

		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO tasks (title, description, status, priority, parent_task_id, depends_on, tags,
				blocker_reason, file_references, created_by, created_at, updated_at, completed_at)
			VALUES (:title, :description, :status, :priority, :parent_task_id, :depends_on, :tags,
				:blocker_reason, :file_references, :created_by, :created_at, :updated_at, :completed_at)`, &t)
		if err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading task id: %w", err)
		}
		t, err = getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func buildTask(p CreateTaskParams) (Task, error) {
	var t Task
	var err error

	if t.Title, err = NormalizeTitle(p.Title); err != nil {
		return Task{}, err
	}
	if t.Description, err = NormalizeDescription(p.Description); err != nil {
		return Task{}, err
	}
	t.Status = StatusTodo
	if strings.TrimSpace(p.Status) != "" {
		if t.Status, err = ParseStatus(p.Status); err != nil {
			return Task{}, err
		}
	}
	if t.Priority, err = ParsePriority(p.Priority); err != nil {
		return Task{}, err
	}
	if t.ParentTaskID, err = NormalizeParent(p.ParentTaskID, 0); err != nil {
		return Task{}, err
	}
	if t.DependsOn, err = NormalizeDependsOn(p.DependsOn, 0); err != nil {
		return Task{}, err
	}
	if t.Tags, err = NormalizeTags(p.Tags); err != nil {
		return Task{}, err
	}
	if t.FileReferences, err = NormalizeFileReferences(p.FileReferences); err != nil {
		return Task{}, err
	}
	if t.BlockerReason, err = checkBlocker(t.Status, p.BlockerReason); err != nil {
		return Task{}, err
	}
	if p.CreatedBy != "" {
		createdBy := p.CreatedBy
		t.CreatedBy = &createdBy
	}
	return t, nil
}

// UpdateTask applies a partial update. Moving a task into in_progress or
// done requires every dependency to be done; blocked requires a reason.
func (s *Service) UpdateTask(ctx context.Context, ws string, p UpdateTaskParams) (Task, error) {
	if p.ID <= 0 {
		return Task{}, apperr.Validation("task_id", "task_id must be positive")
	}
	if p.empty() {
		return Task{}, apperr.Validation("fields", "no fields to update")
	}

	var out Task
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		cur, err := getTask(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		next, err := applyTaskUpdate(cur, p)
		if err != nil {
			return err
		}

		statusChanged := next.Status != cur.Status
		if statusChanged && next.Status.requiresDependencies() {
			if err := requireDependenciesDone(ctx, tx, cur.ID, next.Status, next.DependsOn); err != nil {
				return err
			}
		}

		ts := now()
		next.UpdatedAt = ts
		switch {
		case next.Status != StatusDone:
			next.CompletedAt = nil
		case cur.Status != StatusDone:
			next.CompletedAt = &ts
		}

		if _, err := tx.NamedExecContext(ctx, `
			UPDATE tasks SET
				title = :title, description = :description, status = :status, priority = :priority,
				parent_task_id = :parent_task_id, depends_on = :depends_on, tags = :tags,
				blocker_reason = :blocker_reason, file_references = :file_references,
				updated_at = :updated_at, completed_at = :completed_at
			WHERE id = :id AND deleted_at IS NULL`, &next); err != nil {
			return fmt.Errorf("updating task %d: %w", cur.ID, err)
		}
		out, err = getTask(ctx, tx, cur.ID)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

func applyTaskUpdate(cur Task, p UpdateTaskParams) (Task, error) {
	next := cur
	var err error

	if p.Title != nil {
		if next.Title, err = NormalizeTitle(*p.Title); err != nil {
			return Task{}, err
		}
	}
	if p.Description != nil {
		if next.Description, err = NormalizeDescription(*p.Description); err != nil {
			return Task{}, err
		}
	}
	if p.Status != nil {
		if next.Status, err = ParseStatus(*p.Status); err != nil {
			return Task{}, err
		}
	}
	if p.Priority != nil {
		if strings.TrimSpace(*p.Priority) == "" {
			return Task{}, apperr.Validation("priority", "priority must not be empty")
		}
		if next.Priority, err = ParsePriority(*p.Priority); err != nil {
			return Task{}, err
		}
	}
	if p.ParentTaskID != nil {
		if next.ParentTaskID, err = NormalizeParent(*p.ParentTaskID, cur.ID); err != nil {
			return Task{}, err
		}
	}
	if p.DependsOn != nil {
		if next.DependsOn, err = NormalizeDependsOn(*p.DependsOn, cur.ID); err != nil {
			return Task{}, err
		}
	}
	if p.Tags != nil {
		if next.Tags, err = NormalizeTags(*p.Tags); err != nil {
			return Task{}, err
		}
	}
	if p.FileReferences != nil {
		if next.FileReferences, err = NormalizeFileReferences(*p.FileReferences); err != nil {
			return Task{}, err
		}
	}

	// The stored reason survives only while the task stays blocked.
	reason := p.BlockerReason
	if reason == nil && next.Status == StatusBlocked {
		reason = cur.BlockerReason
	}
	if next.BlockerReason, err = checkBlocker(next.Status, reason); err != nil {
		return Task{}, err
	}
	return next, nil
}

// requireDependenciesDone fails with DEPENDENCY_UNSATISFIED naming every id
// in deps that is missing, soft-deleted, or not done.
func requireDependenciesDone(ctx context.Context, tx *sqlx.Tx, taskID int64, target Status, deps IDList) error {
	if len(deps) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		"SELECT id FROM tasks WHERE id IN (?) AND deleted_at IS NULL AND status = ?", []int64(deps), StatusDone)
	if err != nil {
		return fmt.Errorf("building dependency query: %w", err)
	}
	var done []int64
	if err := tx.SelectContext(ctx, &done, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("checking dependencies: %w", err)
	}

	doneSet := make(map[int64]bool, len(done))
	for _, id := range done {
		doneSet[id] = true
	}
	var unmet []int64
	for _, id := range deps {
		if !doneSet[id] {
			unmet = append(unmet, id)
		}
	}
	if len(unmet) > 0 {
		return apperr.DependencyUnsatisfied(taskID, string(target), unmet)
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

func getTask(ctx context.Context, tx *sqlx.Tx, id int64) (Task, error) {
	var t Task
	err := tx.GetContext(ctx, &t, "SELECT "+taskColumns+" FROM tasks WHERE id = ? AND deleted_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.NotFound("task", id)
	}
	if err != nil {
		return Task{}, fmt.Errorf("getting task %d: %w", id, err)
	}
	return t, nil
}

// GetTask returns an active task.
func (s *Service) GetTask(ctx context.Context, ws string, id int64) (Task, error) {
	var t Task
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		t, err = getTask(ctx, tx, id)
		return err
	})
	return t, err
}

func taskWhere(f TaskFilter) (*where, error) {
	w := &where{}
	w.add("deleted_at IS NULL")
	if f.Status != "" {
		st, err := ParseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		w.add("status = ?", st)
	}
	if f.Priority != "" {
		pr, err := ParsePriority(f.Priority)
		if err != nil {
			return nil, err
		}
		w.add("priority = ?", pr)
	}
	if tag := strings.ToLower(strings.TrimSpace(f.Tag)); tag != "" {
		w.add(`tags LIKE ? ESCAPE '\'`, likePattern(tag))
	}
	if f.ParentTaskID != nil {
		w.add("parent_task_id = ?", *f.ParentTaskID)
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		pat := likePattern(q)
		w.add(`(lower(title) LIKE ? ESCAPE '\' OR lower(COALESCE(description, '')) LIKE ? ESCAPE '\')`, pat, pat)
	}
	return w, nil
}

// ListTasks returns one page of active tasks matching f, oldest first.
func (s *Service) ListTasks(ctx context.Context, ws string, f TaskFilter) (Page[Task], error) {
	w, err := taskWhere(f)
	if err != nil {
		return Page[Task]{}, err
	}

	var page Page[Task]
	err = s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		if page.Total, err = count(ctx, tx, "SELECT COUNT(*) FROM tasks"+w.String(), w.args...); err != nil {
			return err
		}
		args := append(append([]any{}, w.args...), sqlLimit(f.Limit), f.Offset)
		page.Items = []Task{}
		if err := tx.SelectContext(ctx, &page.Items,
			"SELECT "+taskColumns+" FROM tasks"+w.String()+" ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
			args...); err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		return nil
	})
	return page, err
}

// SearchTasks is ListTasks with a required case-insensitive substring
// matched against title and description.
func (s *Service) SearchTasks(ctx context.Context, ws string, f TaskFilter) (Page[Task], error) {
	if strings.TrimSpace(f.Query) == "" {
		return Page[Task]{}, apperr.Validation("query", "query is required")
	}
	return s.ListTasks(ctx, ws, f)
}

// GetBlockedTasks returns active blocked tasks with their reasons.
func (s *Service) GetBlockedTasks(ctx context.Context, ws string, limit, offset int) (Page[Task], error) {
	return s.ListTasks(ctx, ws, TaskFilter{Status: string(StatusBlocked), Limit: limit, Offset: offset})
}

// readyCondition selects todo tasks whose every dependency exists, is
// active, and is done. Tasks with no dependencies are always ready.
const readyCondition = `t.deleted_at IS NULL AND t.status = 'todo' AND NOT EXISTS (
	SELECT 1 FROM json_each(t.depends_on) d
	LEFT JOIN tasks dep ON dep.id = d.value AND dep.deleted_at IS NULL
	WHERE dep.id IS NULL OR dep.status <> 'done')`

// GetNextTasks returns ready-to-start work, highest priority first.
func (s *Service) GetNextTasks(ctx context.Context, ws string, limit, offset int) (Page[Task], error) {
	var page Page[Task]
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		if page.Total, err = count(ctx, tx, "SELECT COUNT(*) FROM tasks t WHERE "+readyCondition); err != nil {
			return err
		}
		page.Items = []Task{}
		if err := tx.SelectContext(ctx, &page.Items, "SELECT "+prefixed("t", taskColumns)+
			" FROM tasks t WHERE "+readyCondition+`
			ORDER BY CASE t.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
				t.created_at ASC, t.id ASC
			LIMIT ? OFFSET ?`, sqlLimit(limit), offset); err != nil {
			return fmt.Errorf("listing next tasks: %w", err)
		}
		return nil
	})
	return page, err
}

// GetTaskTree returns the task and its descendants, expanded breadth-first.
// A task already placed in the tree is never expanded again, so a
// parent_task_id cycle terminates and is reported. maxDepth <= 0 means
// unlimited.
func (s *Service) GetTaskTree(ctx context.Context, ws string, id int64, maxDepth int) (TaskTree, error) {
	var tree TaskTree
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		root, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}

		type queued struct {
			node  *TreeNode
			depth int
		}
		rootNode := &TreeNode{Task: root, Children: []*TreeNode{}}
		tree = TaskTree{Root: rootNode, TotalNodes: 1}
		visited := map[int64]bool{root.ID: true}
		queue := []queued{{rootNode, 0}}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			var children []Task
			if err := tx.SelectContext(ctx, &children,
				"SELECT "+taskColumns+` FROM tasks WHERE parent_task_id = ? AND deleted_at IS NULL
				ORDER BY created_at ASC, id ASC`, cur.node.Task.ID); err != nil {
				return fmt.Errorf("expanding task %d: %w", cur.node.Task.ID, err)
			}
			if len(children) > 0 && maxDepth > 0 && cur.depth >= maxDepth {
				tree.Truncated = true
				continue
			}
			for _, c := range children {
				if visited[c.ID] {
					tree.CycleDetected = true
					continue
				}
				visited[c.ID] = true
				child := &TreeNode{Task: c, Children: []*TreeNode{}}
				cur.node.Children = append(cur.node.Children, child)
				tree.TotalNodes++
				if cur.depth+1 > tree.MaxDepth {
					tree.MaxDepth = cur.depth + 1
				}
				queue = append(queue, queued{child, cur.depth + 1})
			}
		}
		return nil
	})
	return tree, err
}

// ─── Delete / retention ─────────────────────────────────────────────────────

// DeleteTask soft-deletes a task. Subtasks are left alone.
func (s *Service) DeleteTask(ctx context.Context, ws string, id int64) error {
	return s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		ts := now()
		res, err := tx.ExecContext(ctx,
			"UPDATE tasks SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", ts, ts, id)
		if err != nil {
			return fmt.Errorf("deleting task %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("task", id)
		}
		return nil
	})
}

// CleanupDeletedTasks permanently removes tasks soft-deleted more than
// retentionDays ago. Running it again right away removes nothing.
func (s *Service) CleanupDeletedTasks(ctx context.Context, ws string, retentionDays int) (CleanupResult, error) {
	if retentionDays <= 0 {
		return CleanupResult{}, apperr.Validation("retention_days", "retention_days must be positive, got %d", retentionDays)
	}
	var res CleanupResult
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		res, err = PurgeDeleted(ctx, tx, retentionDays)
		return err
	})
	return res, err
}

// PurgeDeleted is the body of a retention sweep, usable inside any write
// transaction. Tasks and entities soft-deleted before the cutoff are
// removed; their links go with them through the foreign key, and links
// soft-deleted before the cutoff are purged too.
func PurgeDeleted(ctx context.Context, tx *sqlx.Tx, retentionDays int) (CleanupResult, error) {
	cutoff := sqlitedb.FormatTime(timeNow().Add(-time.Duration(retentionDays) * 24 * time.Hour))
	res := CleanupResult{Cutoff: cutoff, RetentionDays: retentionDays}

	r, err := tx.ExecContext(ctx,
		"DELETE FROM tasks WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("purging tasks: %w", err)
	}
	res.PurgedCount, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx,
		"DELETE FROM task_entity_links WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("purging links: %w", err)
	}
	res.LinksPurged, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx,
		"DELETE FROM entities WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("purging entities: %w", err)
	}
	res.EntitiesPurged, _ = r.RowsAffected()
	return res, nil
}
