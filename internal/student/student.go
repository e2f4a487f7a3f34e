package student

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("student not found")
	ErrFingerprintTaken   = errors.New("fingerprint id already registered")
	ErrInvalidFingerprint = errors.New("fingerprint id must be between 1 and 1000")
	ErrInvalidName        = errors.New("name must be between 2 and 100 characters")
	ErrInvalidDepartment  = errors.New("department must be between 2 and 50 characters")
)

// Fingerprint identifiers live in the sensor's slot range.
const (
	MinFingerprintID = 1
	MaxFingerprintID = 1000
)

// Student is a registered identity a claim resolves against. Soft
// deleted via IsActive; rows are kept while attendance history
// references them.
type Student struct {
	ID             string     `json:"-"`
	FingerprintID  int        `json:"fingerprint_id"`
	Name           string     `json:"name"`
	Department     string     `json:"department"`
	StudentID      string     `json:"student_id"`
	Class          string     `json:"class,omitempty"`
	IsActive       bool       `json:"is_active"`
	RegisteredAt   time.Time  `json:"registered_at"`
	LastAttendance *time.Time `json:"last_attendance,omitempty"`
}
