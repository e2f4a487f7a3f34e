package attendance

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/clock"
	"classtrack/internal/eventbus"
	"classtrack/internal/student"
)

// Store is the persistence surface the service needs.
type Store interface {
	FindByKey(ctx context.Context, fingerprintID int, course string, day time.Time) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, f Filter, limit, offset int) ([]Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	DistinctPresent(ctx context.Context, f Filter) (int, error)
	CountByGroup(ctx context.Context, column string, f Filter) ([]GroupCount, error)
	ClearAll(ctx context.Context) error
}

// Directory resolves claims against registered students.
type Directory interface {
	ActiveByFingerprint(ctx context.Context, fingerprintID int) (*student.Student, error)
	TouchLastAttendance(ctx context.Context, fingerprintID int, at time.Time) error
	CountActive(ctx context.Context, department string) (int, error)
}

// EventSink receives the attendance-marked event after a durable write.
type EventSink interface {
	Emit(ctx context.Context, evt eventbus.Event)
}

// Service is the ingestion gate: it validates claims, enforces the
// once-per-student-per-course-per-day rule and publishes domain events.
type Service struct {
	store    Store
	students Directory
	events   EventSink
	clock    clock.Clock
}

// NewService creates a service backed by a record store and directory.
func NewService(store Store, students Directory, events EventSink, clk clock.Clock) *Service {
	return &Service{store: store, students: students, events: events, clock: clk}
}

// Claim is an unvalidated attendance submission from a device.
type Claim struct {
	FingerprintID int
	Course        string
	Period        string
	DeviceID      string
}

// Mark records attendance for a claim. The pre-check against the store
// is a fast path only; a concurrent submission that wins the race is
// caught by the storage unique index and surfaces as the same
// ErrAlreadyMarked, so callers cannot tell the two apart.
func (s *Service) Mark(ctx context.Context, c Claim) (Record, error) {
	course := strings.ToLower(strings.TrimSpace(c.Course))
	period := strings.ToLower(strings.TrimSpace(c.Period))
	if !ValidCourse(course) {
		return Record{}, ErrInvalidCourse
	}
	if !ValidPeriod(period) {
		return Record{}, ErrInvalidPeriod
	}

	st, err := s.students.ActiveByFingerprint(ctx, c.FingerprintID)
	if err != nil {
		return Record{}, err
	}
	if st == nil {
		return Record{}, ErrStudentNotFound
	}

	now := s.clock.Now()
	day := DayOf(now)

	if existing, err := s.store.FindByKey(ctx, c.FingerprintID, course, day); err != nil {
		return Record{}, err
	} else if existing != nil {
		return Record{}, ErrAlreadyMarked
	}

	rec := Record{
		ID:            uuid.NewString(),
		FingerprintID: c.FingerprintID,
		StudentName:   st.Name,
		Department:    st.Department,
		Course:        course,
		Period:        period,
		Date:          day,
		Timestamp:     now,
		DeviceID:      c.DeviceID,
		Status:        StatusPresent,
	}
	if rec.DeviceID == "" {
		rec.DeviceID = DefaultDeviceID
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return Record{}, err
	}

	// The record is durable from here; a last-seen bookkeeping failure
	// must not fail the request.
	if err := s.students.TouchLastAttendance(ctx, c.FingerprintID, now); err != nil {
		log.Printf("touch last attendance for %d failed: %v", c.FingerprintID, err)
	}

	s.events.Emit(ctx, eventbus.Event{
		ID:          uuid.NewString(),
		Type:        eventbus.TypeAttendanceMarked,
		StudentID:   strconv.Itoa(rec.FingerprintID),
		StudentName: rec.StudentName,
		DeviceID:    rec.DeviceID,
		Timestamp:   now,
		Details:     fmt.Sprintf("%s (%s)", rec.Course, rec.Period),
	})
	return rec, nil
}

// List returns records matching f, newest first, plus the total for
// pagination.
func (s *Service) List(ctx context.Context, f Filter, page, limit int) ([]Record, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := s.store.List(ctx, f, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Summary is the daily attendance picture for a course/department slice.
type Summary struct {
	Date           string       `json:"date"`
	TotalStudents  int          `json:"total_students"`
	PresentToday   int          `json:"present_today"`
	AbsentToday    int          `json:"absent_today"`
	AttendanceRate string       `json:"attendance_rate"`
	ByCourse       []GroupCount `json:"by_course"`
	ByPeriod       []GroupCount `json:"by_period"`
}

// DailySummary computes present/absent counts and the attendance rate
// for the calendar day containing date (today when zero). Absent is
// floored at zero and the rate is "0.00" when no students are active.
func (s *Service) DailySummary(ctx context.Context, date time.Time, course, department string) (Summary, error) {
	if date.IsZero() {
		date = s.clock.Now()
	}
	day := DayOf(date)
	f := Filter{Course: course, Department: department, Date: day}

	total, err := s.students.CountActive(ctx, department)
	if err != nil {
		return Summary{}, err
	}
	present, err := s.store.DistinctPresent(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	byCourse, err := s.store.CountByGroup(ctx, "course", f)
	if err != nil {
		return Summary{}, err
	}
	byPeriod, err := s.store.CountByGroup(ctx, "period", f)
	if err != nil {
		return Summary{}, err
	}
	if byCourse == nil {
		byCourse = []GroupCount{}
	}
	if byPeriod == nil {
		byPeriod = []GroupCount{}
	}

	absent := total - present
	if absent < 0 {
		absent = 0
	}
	rate := "0.00"
	if total > 0 {
		rate = fmt.Sprintf("%.2f", float64(present)/float64(total)*100)
	}

	return Summary{
		Date:           day.Format("2006-01-02"),
		TotalStudents:  total,
		PresentToday:   present,
		AbsentToday:    absent,
		AttendanceRate: rate,
		ByCourse:       byCourse,
		ByPeriod:       byPeriod,
	}, nil
}

// ClearAll removes every attendance record.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}
