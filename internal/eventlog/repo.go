// Package eventlog persists domain events for the bounded history read
// path. Live delivery is the bus's job; this log is what late readers
// query.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"classtrack/internal/eventbus"
)

// Repository appends events to Postgres and reads them back by recency.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends one event.
func (r *Repository) Insert(ctx context.Context, evt eventbus.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, student_id, student_name, device_id, ts, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, evt.ID, evt.Type, nullable(evt.StudentID), nullable(evt.StudentName), nullable(evt.DeviceID), evt.Timestamp, nullable(evt.Details))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]eventbus.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, student_id, student_name, device_id, ts, details
		FROM events
		ORDER BY ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	var res []eventbus.Event
	for rows.Next() {
		var evt eventbus.Event
		var studentID, studentName, deviceID, details sql.NullString
		if err := rows.Scan(&evt.ID, &evt.Type, &studentID, &studentName, &deviceID, &evt.Timestamp, &details); err != nil {
			return nil, err
		}
		evt.StudentID = studentID.String
		evt.StudentName = studentName.String
		evt.DeviceID = deviceID.String
		evt.Details = details.String
		res = append(res, evt)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
