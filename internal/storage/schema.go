package storage

import "github.com/HendryAvila/taskmem/internal/sqlitedb"

// Migrations is the ordered schema history of a project database.
var Migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			title           TEXT    NOT NULL,
			description     TEXT,
			status          TEXT    NOT NULL DEFAULT 'todo'
			                CHECK (status IN ('todo', 'in_progress', 'blocked', 'done', 'cancelled')),
			priority        TEXT    NOT NULL DEFAULT 'medium'
			                CHECK (priority IN ('low', 'medium', 'high')),
			parent_task_id  INTEGER,
			depends_on      TEXT    NOT NULL DEFAULT '[]',
			tags            TEXT    NOT NULL DEFAULT '',
			blocker_reason  TEXT,
			file_references TEXT    NOT NULL DEFAULT '[]',
			created_by      TEXT,
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL,
			completed_at    TEXT,
			deleted_at      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deleted ON tasks(deleted_at)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT    NOT NULL DEFAULT 'other'
			            CHECK (entity_type IN ('file', 'other')),
			name        TEXT    NOT NULL,
			identifier  TEXT,
			description TEXT,
			metadata    TEXT,
			tags        TEXT    NOT NULL DEFAULT '',
			created_by  TEXT,
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL,
			deleted_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_deleted ON entities(deleted_at)`,
		// Unique only among active rows that carry an identifier, so a
		// soft-deleted entity never blocks re-creating its successor.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_active_identifier
			ON entities(entity_type, identifier)
			WHERE deleted_at IS NULL AND identifier IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS task_entity_links (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			entity_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			created_by TEXT,
			created_at TEXT    NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_task ON task_entity_links(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_entity ON task_entity_links(entity_id)`,
	}},
	{Version: 2, Statements: []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_links_active_pair
			ON task_entity_links(task_id, entity_id)
			WHERE deleted_at IS NULL`,
	}},
}

// SchemaVersion is the version a freshly migrated project database has.
func SchemaVersion() int {
	return Migrations[len(Migrations)-1].Version
}
