package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
)

const linkColumns = "id, task_id, entity_id, created_by, created_at, deleted_at"

// LinkEntityToTask links an active entity to an active task. Linking a
// pair that is already actively linked fails and changes nothing.
func (s *Service) LinkEntityToTask(ctx context.Context, ws string, taskID, entityID int64, createdBy string) (Link, error) {
	var link Link
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		if _, err := getEntity(ctx, tx, entityID); err != nil {
			return err
		}

		existing, err := activeLink(ctx, tx, taskID, entityID)
		if err == nil {
			return duplicateLink(taskID, entityID, existing.ID)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		var by *string
		if createdBy != "" {
			by = &createdBy
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO task_entity_links (task_id, entity_id, created_by, created_at) VALUES (?, ?, ?, ?)",
			taskID, entityID, by, now())
		if err != nil {
			if sqlitedb.IsUniqueViolation(err) {
				return duplicateLink(taskID, entityID, 0)
			}
			return fmt.Errorf("linking entity %d to task %d: %w", entityID, taskID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading link id: %w", err)
		}
		return tx.GetContext(ctx, &link, "SELECT "+linkColumns+" FROM task_entity_links WHERE id = ?", id)
	})
	if err != nil {
		return Link{}, err
	}
	return link, nil
}

// UnlinkEntityFromTask soft-deletes the active link between the pair.
func (s *Service) UnlinkEntityFromTask(ctx context.Context, ws string, taskID, entityID int64) (Link, error) {
	var link Link
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		if link, err = activeLink(ctx, tx, taskID, entityID); err != nil {
			return err
		}
		ts := now()
		if _, err := tx.ExecContext(ctx,
			"UPDATE task_entity_links SET deleted_at = ? WHERE id = ?", ts, link.ID); err != nil {
			return fmt.Errorf("unlinking: %w", err)
		}
		link.DeletedAt = &ts
		return nil
	})
	if err != nil {
		return Link{}, err
	}
	return link, nil
}

func activeLink(ctx context.Context, tx *sqlx.Tx, taskID, entityID int64) (Link, error) {
	var l Link
	err := tx.GetContext(ctx, &l, "SELECT "+linkColumns+
		" FROM task_entity_links WHERE task_id = ? AND entity_id = ? AND deleted_at IS NULL", taskID, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, &apperr.Error{
			Code:    apperr.CodeNotFound,
			Message: fmt.Sprintf("entity %d is not linked to task %d", entityID, taskID),
			Details: map[string]any{"kind": "link", "task_id": taskID, "entity_id": entityID},
		}
	}
	if err != nil {
		return Link{}, fmt.Errorf("looking up link: %w", err)
	}
	return l, nil
}

func duplicateLink(taskID, entityID, existingID int64) error {
	details := map[string]any{"task_id": taskID, "entity_id": entityID}
	msg := fmt.Sprintf("entity %d is already linked to task %d", entityID, taskID)
	if existingID != 0 {
		details["existing_link_id"] = existingID
		msg = fmt.Sprintf("%s (link %d)", msg, existingID)
	}
	return apperr.Duplicate(msg, details)
}

// GetTaskEntities returns active entities actively linked to the task,
// optionally narrowed to one entity type.
func (s *Service) GetTaskEntities(ctx context.Context, ws string, taskID int64, entityType string, limit, offset int) (Page[Entity], error) {
	w := &where{}
	w.add("l.task_id = ?", taskID)
	w.add("l.deleted_at IS NULL")
	w.add("e.deleted_at IS NULL")
	if entityType != "" {
		et, err := ParseEntityType(entityType)
		if err != nil {
			return Page[Entity]{}, err
		}
		w.add("e.entity_type = ?", et)
	}
	from := " FROM task_entity_links l JOIN entities e ON e.id = l.entity_id"

	var page Page[Entity]
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		var err error
		if page.Total, err = count(ctx, tx, "SELECT COUNT(*)"+from+w.String(), w.args...); err != nil {
			return err
		}
		args := append(append([]any{}, w.args...), sqlLimit(limit), offset)
		page.Items = []Entity{}
		if err := tx.SelectContext(ctx, &page.Items, "SELECT "+prefixed("e", entityColumns)+from+w.String()+
			" ORDER BY l.created_at ASC, l.id ASC LIMIT ? OFFSET ?", args...); err != nil {
			return fmt.Errorf("listing entities of task %d: %w", taskID, err)
		}
		return nil
	})
	return page, err
}

// GetEntityTasks returns active tasks actively linked to the entity,
// optionally narrowed to one status.
func (s *Service) GetEntityTasks(ctx context.Context, ws string, entityID int64, status string, limit, offset int) (Page[Task], error) {
	w := &where{}
	w.add("l.entity_id = ?", entityID)
	w.add("l.deleted_at IS NULL")
	w.add("t.deleted_at IS NULL")
	if status != "" {
		st, err := ParseStatus(status)
		if err != nil {
			return Page[Task]{}, err
		}
		w.add("t.status = ?", st)
	}
	from := " FROM task_entity_links l JOIN tasks t ON t.id = l.task_id"

	var page Page[Task]
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		if _, err := getEntity(ctx, tx, entityID); err != nil {
			return err
		}
		var err error
		if page.Total, err = count(ctx, tx, "SELECT COUNT(*)"+from+w.String(), w.args...); err != nil {
			return err
		}
		args := append(append([]any{}, w.args...), sqlLimit(limit), offset)
		page.Items = []Task{}
		if err := tx.SelectContext(ctx, &page.Items, "SELECT "+prefixed("t", taskColumns)+from+w.String()+
			" ORDER BY l.created_at ASC, l.id ASC LIMIT ? OFFSET ?", args...); err != nil {
			return fmt.Errorf("listing tasks of entity %d: %w", entityID, err)
		}
		return nil
	})
	return page, err
}
