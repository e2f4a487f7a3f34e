package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists student identities in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `id, fingerprint_id, name, department, student_id, class, is_active, registered_at, last_attendance`

// Insert writes a new student. A duplicate fingerprint id is reported
// as ErrFingerprintTaken whether caught here or by the unique index.
func (r *Repository) Insert(ctx context.Context, s Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, fingerprint_id, name, department, student_id, class, is_active, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.FingerprintID, s.Name, s.Department, s.StudentID, nullable(s.Class), s.IsActive, s.RegisteredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrFingerprintTaken
		}
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// ByFingerprint returns a student regardless of active flag, or nil.
func (r *Repository) ByFingerprint(ctx context.Context, fingerprintID int) (*Student, error) {
	return r.one(ctx, `SELECT `+studentColumns+` FROM students WHERE fingerprint_id = $1`, fingerprintID)
}

// ActiveByFingerprint returns an active student, or nil.
func (r *Repository) ActiveByFingerprint(ctx context.Context, fingerprintID int) (*Student, error) {
	return r.one(ctx, `SELECT `+studentColumns+` FROM students WHERE fingerprint_id = $1 AND is_active = TRUE`, fingerprintID)
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*Student, error) {
	var s Student
	var class sql.NullString
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&s.ID, &s.FingerprintID, &s.Name, &s.Department, &s.StudentID, &class, &s.IsActive, &s.RegisteredAt, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	s.Class = class.String
	if last.Valid {
		t := last.Time
		s.LastAttendance = &t
	}
	return &s, nil
}

// ListFilter narrows student listings.
type ListFilter struct {
	Department string
	IsActive   *bool
}

func (f ListFilter) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Department != "" {
		args = append(args, f.Department)
		clauses = append(clauses, fmt.Sprintf("department = $%d", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		clauses = append(clauses, fmt.Sprintf("is_active = $%d", len(args)))
	}
	return clauses, args
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// List returns students ordered by name.
func (r *Repository) List(ctx context.Context, f ListFilter, limit, offset int) ([]Student, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	clauses, args := f.clauses()
	query := `SELECT ` + studentColumns + ` FROM students` + whereClause(clauses) +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		var class sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&s.ID, &s.FingerprintID, &s.Name, &s.Department, &s.StudentID, &class, &s.IsActive, &s.RegisteredAt, &last); err != nil {
			return nil, err
		}
		s.Class = class.String
		if last.Valid {
			t := last.Time
			s.LastAttendance = &t
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Count returns the number of students matching f.
func (r *Repository) Count(ctx context.Context, f ListFilter) (int, error) {
	clauses, args := f.clauses()
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`+whereClause(clauses), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return total, nil
}

// CountActive returns active students, optionally within a department.
func (r *Repository) CountActive(ctx context.Context, department string) (int, error) {
	active := true
	return r.Count(ctx, ListFilter{Department: department, IsActive: &active})
}

// UpdateInput carries optional field changes; fingerprint id and
// registration time are immutable.
type UpdateInput struct {
	Name       *string
	Department *string
	Class      *string
	IsActive   *bool
}

// Update applies the provided fields and returns the updated student.
func (r *Repository) Update(ctx context.Context, fingerprintID int, in UpdateInput) (*Student, error) {
	var sets []string
	var args []any
	set := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if in.Name != nil {
		set("name", strings.TrimSpace(*in.Name))
	}
	if in.Department != nil {
		set("department", strings.TrimSpace(*in.Department))
	}
	if in.Class != nil {
		set("class", strings.TrimSpace(*in.Class))
	}
	if in.IsActive != nil {
		set("is_active", *in.IsActive)
	}
	if len(sets) == 0 {
		return r.ByFingerprint(ctx, fingerprintID)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, fingerprintID)
	query := fmt.Sprintf(`UPDATE students SET %s WHERE fingerprint_id = $%d RETURNING `+studentColumns,
		strings.Join(sets, ", "), len(args))

	var s Student
	var class sql.NullString
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&s.ID, &s.FingerprintID, &s.Name, &s.Department, &s.StudentID, &class, &s.IsActive, &s.RegisteredAt, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update student: %w", err)
	}
	s.Class = class.String
	if last.Valid {
		t := last.Time
		s.LastAttendance = &t
	}
	return &s, nil
}

// Deactivate flips the active flag off; the row survives for history.
func (r *Repository) Deactivate(ctx context.Context, fingerprintID int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET is_active = FALSE, updated_at = NOW() WHERE fingerprint_id = $1
	`, fingerprintID)
	if err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastAttendance records when the student was last seen by a device.
func (r *Repository) TouchLastAttendance(ctx context.Context, fingerprintID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET last_attendance = $2, updated_at = NOW() WHERE fingerprint_id = $1
	`, fingerprintID, at)
	if err != nil {
		return fmt.Errorf("touch last attendance: %w", err)
	}
	return nil
}

// ClearAll removes every student.
func (r *Repository) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return fmt.Errorf("clear students: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
