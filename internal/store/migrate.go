package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		fingerprint_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		department TEXT NOT NULL,
		student_id TEXT NOT NULL,
		class TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_attendance TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS students_fingerprint_id_key ON students (fingerprint_id)`,
	`CREATE INDEX IF NOT EXISTS students_department_idx ON students (department)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id UUID PRIMARY KEY,
		fingerprint_id INTEGER NOT NULL,
		student_name TEXT NOT NULL,
		department TEXT NOT NULL,
		course TEXT NOT NULL,
		period TEXT NOT NULL,
		date DATE NOT NULL,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		device_id TEXT NOT NULL DEFAULT 'esp32_classroom_1',
		status TEXT NOT NULL DEFAULT 'present',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Storage-level guard for one record per student per course per day.
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_student_course_day_key
		ON attendance (fingerprint_id, course, date)`,
	`CREATE INDEX IF NOT EXISTS attendance_ts_idx ON attendance (ts DESC)`,
	`CREATE INDEX IF NOT EXISTS attendance_course_idx ON attendance (course)`,
	`CREATE INDEX IF NOT EXISTS attendance_department_idx ON attendance (department)`,
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		student_id TEXT,
		student_name TEXT,
		device_id TEXT,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts DESC)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema statements in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
