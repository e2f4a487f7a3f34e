package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance records in Postgres. The compound
// unique index on (fingerprint_id, course, date) is the source of truth
// for the once-per-day rule.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, fingerprint_id, student_name, department, course, period, date, ts, device_id, status`

// FindByKey returns the record for (fingerprint, course, day) or nil.
func (r *Repository) FindByKey(ctx context.Context, fingerprintID int, course string, day time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE fingerprint_id = $1 AND course = $2 AND date = $3
	`, fingerprintID, course, day)
	var rec Record
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &rec, nil
}

// Insert writes a new record. A unique-index rejection is reported as
// ErrAlreadyMarked so a lost race looks the same as the pre-check hit.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.FingerprintID, rec.StudentName, rec.Department, rec.Course, rec.Period, rec.Date, rec.Timestamp, rec.DeviceID, rec.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMarked
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// Filter narrows listing and aggregate queries.
type Filter struct {
	Course     string
	Department string
	Period     string
	// Date restricts to the calendar day containing it; zero means all days.
	Date time.Time
}

func (f Filter) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	add := func(expr string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.Course != "" {
		add("course = $%d", f.Course)
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.Period != "" {
		add("period = $%d", f.Period)
	}
	if !f.Date.IsZero() {
		day := DayOf(f.Date)
		add("ts >= $%d", day)
		add("ts < $%d", day.AddDate(0, 0, 1))
	}
	return clauses, args
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// List returns matching records, newest first.
func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	clauses, args := f.clauses()
	query := `SELECT ` + recordColumns + ` FROM attendance` + whereClause(clauses) +
		fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Count returns the number of matching records.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	clauses, args := f.clauses()
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`+whereClause(clauses), args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return total, nil
}

// RecentByFingerprint returns a student's latest records.
func (r *Repository) RecentByFingerprint(ctx context.Context, fingerprintID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE fingerprint_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, fingerprintID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attendance: %w", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// DistinctPresent counts distinct fingerprints with a record matching f.
func (r *Repository) DistinctPresent(ctx context.Context, f Filter) (int, error) {
	clauses, args := f.clauses()
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT fingerprint_id) FROM attendance`+whereClause(clauses), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("distinct present: %w", err)
	}
	return n, nil
}

// GroupCount is one bucket of a group-by aggregate. The key is named
// _id on the wire for compatibility with the dashboard.
type GroupCount struct {
	Key   string `json:"_id"`
	Count int    `json:"count"`
}

// CountByGroup groups matching records by the given column. Only the
// fixed course/period columns are accepted.
func (r *Repository) CountByGroup(ctx context.Context, column string, f Filter) ([]GroupCount, error) {
	if column != "course" && column != "period" {
		return nil, fmt.Errorf("count by group: unsupported column %q", column)
	}
	clauses, args := f.clauses()
	query := `SELECT ` + column + `, COUNT(*) FROM attendance` + whereClause(clauses) +
		` GROUP BY ` + column + ` ORDER BY ` + column
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	var res []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// UpsertDevice ensures a device row exists and bumps its last-seen time.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO UPDATE SET last_seen = NOW()
	`, deviceID)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// ClearAll removes every attendance record.
func (r *Repository) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attendance`); err != nil {
		return fmt.Errorf("clear attendance: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *Record) error {
	return row.Scan(&rec.ID, &rec.FingerprintID, &rec.StudentName, &rec.Department,
		&rec.Course, &rec.Period, &rec.Date, &rec.Timestamp, &rec.DeviceID, &rec.Status)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
