// Package tracker implements tasks, entities and the links between them on
// top of a per-workspace SQLite database.
//
// Every exported Service method runs as one transaction obtained from the
// Router: validation, the mutation or query, then commit. A failure at any
// point leaves the database untouched.
package tracker

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ─── Enums ───────────────────────────────────────────────────────────────────

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusBlocked, StatusDone, StatusCancelled}

// requiresDependencies reports whether entering s is gated on every
// dependency being done.
func (s Status) requiresDependencies() bool {
	return s == StatusInProgress || s == StatusDone
}

// Priority orders work within a status.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every valid priority.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// EntityType classifies an entity.
type EntityType string

const (
	EntityFile  EntityType = "file"
	EntityOther EntityType = "other"
)

// EntityTypes lists every valid entity type.
var EntityTypes = []EntityType{EntityFile, EntityOther}

// ─── Column types ───────────────────────────────────────────────────────────

// IDList is an ordered list of task ids stored as a JSON array.
type IDList []int64

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *IDList) Scan(src any) error {
	return scanJSON(src, (*[]int64)(l))
}

// StringList is an ordered list of strings stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, (*[]string)(l))
}

func scanJSON(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T as JSON", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Tags is a set of lowercase tokens stored space-joined.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	return strings.Join(t, " "), nil
}

func (t *Tags) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T as tags", src)
	}
	*t = Tags(strings.Fields(s))
	return nil
}

// JSONDoc is opaque JSON stored as text. A nil JSONDoc is SQL NULL and
// JSON null.
type JSONDoc []byte

func (d JSONDoc) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return string(d), nil
}

func (d *JSONDoc) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case string:
		*d = JSONDoc(v)
	case []byte:
		*d = append(JSONDoc(nil), v...)
	default:
		return fmt.Errorf("cannot scan %T as JSON document", src)
	}
	return nil
}

func (d JSONDoc) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// ─── Rows ────────────────────────────────────────────────────────────────────

// Task is one row of the tasks table.
type Task struct {
	ID             int64      `db:"id" json:"id"`
	Title          string     `db:"title" json:"title"`
	Description    *string    `db:"description" json:"description"`
	Status         Status     `db:"status" json:"status"`
	Priority       Priority   `db:"priority" json:"priority"`
	ParentTaskID   *int64     `db:"parent_task_id" json:"parent_task_id"`
	DependsOn      IDList     `db:"depends_on" json:"depends_on"`
	Tags           Tags       `db:"tags" json:"tags"`
	BlockerReason  *string    `db:"blocker_reason" json:"blocker_reason"`
	FileReferences StringList `db:"file_references" json:"file_references"`
	CreatedBy      *string    `db:"created_by" json:"created_by"`
	CreatedAt      string     `db:"created_at" json:"created_at"`
	UpdatedAt      string     `db:"updated_at" json:"updated_at"`
	CompletedAt    *string    `db:"completed_at" json:"completed_at"`
	DeletedAt      *string    `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TaskSummary is the reduced projection of a Task.
type TaskSummary struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Status       Status   `json:"status"`
	Priority     Priority `json:"priority"`
	ParentTaskID *int64   `json:"parent_task_id"`
	Tags         Tags     `json:"tags"`
	UpdatedAt    string   `json:"updated_at"`

	BlockerReason *string `json:"blocker_reason,omitempty"`
}

// Summary projects t down to its summary fields.
func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:           t.ID,
		Title:        t.Title,
		Status:       t.Status,
		Priority:     t.Priority,
		ParentTaskID: t.ParentTaskID,
		Tags:         t.Tags,
		UpdatedAt:    t.UpdatedAt,

		BlockerReason: t.BlockerReason,
	}
}

// Entity is one row of the entities table.
type Entity struct {
	ID          int64      `db:"id" json:"id"`
	EntityType  EntityType `db:"entity_type" json:"entity_type"`
	Name        string     `db:"name" json:"name"`
	Identifier  *string    `db:"identifier" json:"identifier"`
	Description *string    `db:"description" json:"description"`
	Metadata    JSONDoc    `db:"metadata" json:"metadata"`
	Tags        Tags       `db:"tags" json:"tags"`
	CreatedBy   *string    `db:"created_by" json:"created_by"`
	CreatedAt   string     `db:"created_at" json:"created_at"`
	UpdatedAt   string     `db:"updated_at" json:"updated_at"`
	DeletedAt   *string    `db:"deleted_at" json:"deleted_at,omitempty"`
}

// EntitySummary is the reduced projection of an Entity.
type EntitySummary struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Name       string     `json:"name"`
	Identifier *string    `json:"identifier"`
	Tags       Tags       `json:"tags"`
	UpdatedAt  string     `json:"updated_at"`
}

// Summary projects e down to its summary fields.
func (e Entity) Summary() EntitySummary {
	return EntitySummary{
		ID:         e.ID,
		EntityType: e.EntityType,
		Name:       e.Name,
		Identifier: e.Identifier,
		Tags:       e.Tags,
		UpdatedAt:  e.UpdatedAt,
	}
}

// Link joins a task and an entity.
type Link struct {
	ID        int64   `db:"id" json:"id"`
	TaskID    int64   `db:"task_id" json:"task_id"`
	EntityID  int64   `db:"entity_id" json:"entity_id"`
	CreatedBy *string `db:"created_by" json:"created_by"`
	CreatedAt string  `db:"created_at" json:"created_at"`
	DeletedAt *string `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ─── Results ─────────────────────────────────────────────────────────────────

// Page is one window of a list query plus the total number of matches.
type Page[T any] struct {
	Items []T
	Total int
}

// TreeNode is a task with its direct children.
type TreeNode struct {
	Task     Task        `json:"task"`
	Children []*TreeNode `json:"children"`
}

// TaskTree is a task and every descendant reachable through parent_task_id.
type TaskTree struct {
	Root          *TreeNode `json:"root"`
	TotalNodes    int       `json:"total_nodes"`
	MaxDepth      int       `json:"max_depth"`
	CycleDetected bool      `json:"cycle_detected"`
	Truncated     bool      `json:"truncated"`
}

// CleanupResult reports a retention sweep.
type CleanupResult struct {
	PurgedCount    int64  `json:"purged_count"`
	EntitiesPurged int64  `json:"entities_purged"`
	LinksPurged    int64  `json:"links_purged"`
	Cutoff         string `json:"cutoff"`
	RetentionDays  int    `json:"retention_days"`
}

// DeleteEntityResult reports an entity deletion.
type DeleteEntityResult struct {
	Deleted      bool  `json:"deleted"`
	EntityID     int64 `json:"entity_id"`
	LinksDeleted int64 `json:"links_deleted"`
}

// Stats aggregates the active contents of one project database.
type Stats struct {
	TasksByStatus   map[Status]int `json:"tasks_by_status"`
	ActiveTasks     int            `json:"active_tasks"`
	DeletedTasks    int            `json:"deleted_tasks"`
	Entities        int            `json:"entities"`
	DeletedEntities int            `json:"deleted_entities"`
	Links           int            `json:"links"`
}
