package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/sqlitedb"
)

const entityColumns = `id, entity_type, name, identifier, description, metadata, tags,
	created_by, created_at, updated_at, deleted_at`

// CreateEntityParams holds input for creating an entity. Metadata is JSON
// text or any value that serializes to a JSON object or array.
type CreateEntityParams struct {
	EntityType  string
	Name        string
	Identifier  string
	Description string
	Metadata    any
	Tags        []string
	CreatedBy   string
}

// UpdateEntityParams holds a partial update. Nil fields are left unchanged;
// an empty Identifier clears it.
type UpdateEntityParams struct {
	ID          int64
	EntityType  *string
	Name        *string
	Identifier  *string
	Description *string
	Metadata    any
	Tags        *[]string
}

func (p UpdateEntityParams) empty() bool {
	return p.EntityType == nil && p.Name == nil && p.Identifier == nil && p.Description == nil &&
		p.Metadata == nil && p.Tags == nil
}

// EntityFilter narrows entity listings.
type EntityFilter struct {
	EntityType string
	Tag        string
	Limit      int
	Offset     int
}

// CreateEntity inserts an entity after checking that no active entity of
// the same type already carries its identifier.
func (s *Service) CreateEntity(ctx context.Context, ws string, p CreateEntityParams) (Entity, error) {
	var e Entity
	var err error

	if e.EntityType, err = ParseEntityType(p.EntityType); err != nil {
		return Entity{}, err
	}
	if e.Name, err = NormalizeName(p.Name); err != nil {
		return Entity{}, err
	}
	if e.Identifier, err = NormalizeIdentifier(p.Identifier); err != nil {
		return Entity{}, err
	}
	if e.Description, err = NormalizeDescription(p.Description); err != nil {
		return Entity{}, err
	}
	if e.Metadata, err = NormalizeMetadata(p.Metadata); err != nil {
		return Entity{}, err
	}
	if e.Tags, err = NormalizeTags(p.Tags); err != nil {
		return Entity{}, err
	}
	if p.CreatedBy != "" {
		createdBy := p.CreatedBy
		e.CreatedBy = &createdBy
	}

	err = s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		if err := checkDuplicateIdentifier(ctx, tx, e.EntityType, e.Identifier, 0); err != nil {
			return err
		}
		ts := now()
		e.CreatedAt, e.UpdatedAt = ts, ts
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO entities (entity_type, name, identifier, description, metadata, tags,
				created_by, created_at, updated_at)
			VALUES (:entity_type, :name, :identifier, :description, :metadata, :tags,
				:created_by, :created_at, :updated_at)`, &e)
		if err != nil {
			if sqlitedb.IsUniqueViolation(err) && e.Identifier != nil {
				return duplicateIdentifier(e.EntityType, *e.Identifier, 0)
			}
			return fmt.Errorf("inserting entity: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading entity id: %w", err)
		}
		e, err = getEntity(ctx, tx, id)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

// UpdateEntity applies a partial update, re-checking identifier uniqueness
// when the type or identifier changes.
func (s *Service) UpdateEntity(ctx context.Context, ws string, p UpdateEntityParams) (Entity, error) {
	if p.ID <= 0 {
		return Entity{}, apperr.Validation("entity_id", "entity_id must be positive")
	}
	if p.empty() {
		return Entity{}, apperr.Validation("fields", "no fields to update")
	}

	var out Entity
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		cur, err := getEntity(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		next := cur

		if p.EntityType != nil {
			if next.EntityType, err = ParseEntityType(*p.EntityType); err != nil {
				return err
			}
		}
		if p.Name != nil {
			if next.Name, err = NormalizeName(*p.Name); err != nil {
				return err
			}
		}
		if p.Identifier != nil {
			if next.Identifier, err = NormalizeIdentifier(*p.Identifier); err != nil {
				return err
			}
		}
		if p.Description != nil {
			if next.Description, err = NormalizeDescription(*p.Description); err != nil {
				return err
			}
		}
		if p.Metadata != nil {
			if next.Metadata, err = NormalizeMetadata(p.Metadata); err != nil {
				return err
			}
		}
		if p.Tags != nil {
			if next.Tags, err = NormalizeTags(*p.Tags); err != nil {
				return err
			}
		}

		if next.EntityType != cur.EntityType || !sameString(next.Identifier, cur.Identifier) {
			if err := checkDuplicateIdentifier(ctx, tx, next.EntityType, next.Identifier, cur.ID); err != nil {
				return err
			}
		}

		next.UpdatedAt = now()
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE entities SET
				entity_type = :entity_type, name = :name, identifier = :identifier,
				description = :description, metadata = :metadata, tags = :tags, updated_at = :updated_at
			WHERE id = :id AND deleted_at IS NULL`, &next); err != nil {
			if sqlitedb.IsUniqueViolation(err) && next.Identifier != nil {
				return duplicateIdentifier(next.EntityType, *next.Identifier, 0)
			}
			return fmt.Errorf("updating entity %d: %w", cur.ID, err)
		}
		out, err = getEntity(ctx, tx, cur.ID)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	return out, nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkDuplicateIdentifier fails when another active entity (not excludeID)
// has the same type and identifier. A nil identifier never conflicts.
func checkDuplicateIdentifier(ctx context.Context, tx *sqlx.Tx, et EntityType, identifier *string, excludeID int64) error {
	if identifier == nil {
		return nil
	}
	var existing int64
	err := tx.GetContext(ctx, &existing, `
		SELECT id FROM entities
		WHERE entity_type = ? AND identifier = ? AND deleted_at IS NULL AND id <> ?
		LIMIT 1`, et, *identifier, excludeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking identifier: %w", err)
	}
	return duplicateIdentifier(et, *identifier, existing)
}

func duplicateIdentifier(et EntityType, identifier string, existingID int64) error {
	details := map[string]any{"entity_type": et, "identifier": identifier}
	msg := fmt.Sprintf("an active %s entity with identifier %q already exists", et, identifier)
	if existingID != 0 {
		details["existing_id"] = existingID
		msg = fmt.Sprintf("%s (id %d)", msg, existingID)
	}
	return apperr.Duplicate(msg, details)
}

func getEntity(ctx context.Context, tx *sqlx.Tx, id int64) (Entity, error) {
	var e Entity
	err := tx.GetContext(ctx, &e, "SELECT "+entityColumns+" FROM entities WHERE id = ? AND deleted_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, apperr.NotFound("entity", id)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("getting entity %d: %w", id, err)
	}
	return e, nil
}

// GetEntity returns an active entity.
func (s *Service) GetEntity(ctx context.Context, ws string, id int64) (Entity, error) {
	var e Entity
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		e, err = getEntity(ctx, tx, id)
		return err
	})
	return e, err
}

// ListEntities returns one page of active entities, oldest first.
func (s *Service) ListEntities(ctx context.Context, ws string, f EntityFilter) (Page[Entity], error) {
	w := &where{}
	w.add("deleted_at IS NULL")
	if f.EntityType != "" {
		et, err := ParseEntityType(f.EntityType)
		if err != nil {
			return Page[Entity]{}, err
		}
		w.add("entity_type = ?", et)
	}
	if tag := strings.ToLower(strings.TrimSpace(f.Tag)); tag != "" {
		w.add(`tags LIKE ? ESCAPE '\'`, likePattern(tag))
	}

	var page Page[Entity]
	err := s.router.Read(ctx, ws, func(tx *sqlx.Tx) error {
		var err error
		if page.Total, err = count(ctx, tx, "SELECT COUNT(*) FROM entities"+w.String(), w.args...); err != nil {
			return err
		}
		args := append(append([]any{}, w.args...), sqlLimit(f.Limit), f.Offset)
		page.Items = []Entity{}
		if err := tx.SelectContext(ctx, &page.Items,
			"SELECT "+entityColumns+" FROM entities"+w.String()+" ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
			args...); err != nil {
			return fmt.Errorf("listing entities: %w", err)
		}
		return nil
	})
	return page, err
}

// DeleteEntity soft-deletes an entity. With cascade, every active link to
// it is soft-deleted in the same transaction.
func (s *Service) DeleteEntity(ctx context.Context, ws string, id int64, cascade bool) (DeleteEntityResult, error) {
	res := DeleteEntityResult{EntityID: id}
	err := s.router.Write(ctx, ws, func(tx *sqlx.Tx) error {
		ts := now()
		r, err := tx.ExecContext(ctx,
			"UPDATE entities SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", ts, ts, id)
		if err != nil {
			return fmt.Errorf("deleting entity %d: %w", id, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return apperr.NotFound("entity", id)
		}
		res.Deleted = true

		if !cascade {
			return nil
		}
		r, err = tx.ExecContext(ctx,
			"UPDATE task_entity_links SET deleted_at = ? WHERE entity_id = ? AND deleted_at IS NULL", ts, id)
		if err != nil {
			return fmt.Errorf("deleting links of entity %d: %w", id, err)
		}
		res.LinksDeleted, _ = r.RowsAffected()
		return nil
	})
	if err != nil {
		return DeleteEntityResult{}, err
	}
	return res, nil
}
