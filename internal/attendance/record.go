package attendance

import (
	"errors"
	"time"
)

// Sentinel errors mapped to HTTP statuses at the transport layer.
var (
	ErrInvalidCourse   = errors.New("invalid course")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrStudentNotFound = errors.New("student not found or inactive")
	ErrAlreadyMarked   = errors.New("attendance already marked for today")
)

// Courses a device can report. Lowercase on the wire.
var validCourses = map[string]bool{
	"mathematics": true,
	"physics":     true,
	"chemistry":   true,
	"biology":     true,
	"english":     true,
}

// Day segments a device can report.
var validPeriods = map[string]bool{
	"morning":    true,
	"midmorning": true,
	"afternoon":  true,
	"evening":    true,
}

// DefaultDeviceID is assumed when a claim omits the originating device.
const DefaultDeviceID = "esp32_classroom_1"

// Attendance statuses.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// Record is one stored attendance mark. At most one record exists per
// (fingerprint id, course, calendar day); the storage unique index is
// the authoritative guard.
type Record struct {
	ID            string    `json:"attendance_id"`
	FingerprintID int       `json:"fingerprint_id"`
	StudentName   string    `json:"student_name"`
	Department    string    `json:"department"`
	Course        string    `json:"course"`
	Period        string    `json:"period"`
	Date          time.Time `json:"date"`
	Timestamp     time.Time `json:"timestamp"`
	DeviceID      string    `json:"device_id"`
	Status        string    `json:"status"`
}

// ValidCourse reports whether course belongs to the fixed enumeration.
func ValidCourse(course string) bool { return validCourses[course] }

// ValidPeriod reports whether period belongs to the fixed enumeration.
func ValidPeriod(period string) bool { return validPeriods[period] }

// DayOf truncates t to local midnight, the uniqueness bucket.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
