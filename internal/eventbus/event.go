package eventbus

import "time"

// Event kinds understood by stream consumers.
const (
	TypeAttendanceMarked   = "attendance_marked"
	TypeStudentRegistered  = "student_registered"
	TypeRegistrationFailed = "student_registration_failed"
)

// Event is a domain notification fanned out to live subscribers and
// archived to the event log. Field names follow the wire format the
// dashboard consumes.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Type        string    `json:"eventType"`
	StudentID   string    `json:"studentId,omitempty"`
	StudentName string    `json:"studentName,omitempty"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details,omitempty"`
}

// Publisher is the write side of the bus. Services depend on this
// interface so tests can capture published events.
type Publisher interface {
	Publish(evt Event)
}
