package db

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		task_text TEXT NOT NULL,
		deadline TEXT,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reminder_sent INTEGER NOT NULL DEFAULT 0,
		reminder_offset_minutes INTEGER NOT NULL DEFAULT 30
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_user_status_idx ON tasks (user_id, status)`,
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id BIGSERIAL PRIMARY KEY,
		event_name TEXT NOT NULL,
		event_time TEXT NOT NULL,
		user_id BIGINT NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}'
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		task_text TEXT NOT NULL,
		deadline TEXT,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reminder_sent INTEGER NOT NULL DEFAULT 0,
		reminder_offset_minutes INTEGER NOT NULL DEFAULT 30
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_user_status_idx ON tasks (user_id, status)`,
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_name TEXT NOT NULL,
		event_time TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}'
	)`,
}

// Migrate creates the tables if they don't exist yet.
func Migrate(ctx context.Context, d *DB) error {
	stmts := sqliteSchema
	if d.Dialect == Postgres {
		stmts = postgresSchema
	}

	for i, stmt := range stmts {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
