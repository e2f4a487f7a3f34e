package attendance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"classtrack/internal/clock"
	"classtrack/internal/eventbus"
	"classtrack/internal/student"
)

// fakeStore keeps records in memory and enforces the compound unique
// key the same way the Postgres index does, so check-then-insert races
// behave as they would in production.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	// hidePrecheck makes FindByKey blind, forcing the insert guard to
	// catch duplicates the way a lost race would.
	hidePrecheck bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func key(fingerprintID int, course string, day time.Time) string {
	return fmt.Sprintf("%d|%s|%s", fingerprintID, course, day.Format("2006-01-02"))
}

func (f *fakeStore) FindByKey(_ context.Context, fingerprintID int, course string, day time.Time) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hidePrecheck {
		return nil, nil
	}
	if rec, ok := f.records[key(fingerprintID, course, day)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(rec.FingerprintID, rec.Course, rec.Date)
	if _, ok := f.records[k]; ok {
		return ErrAlreadyMarked
	}
	f.records[k] = rec
	return nil
}

func (f *fakeStore) List(_ context.Context, _ Filter, _, _ int) ([]Record, error) { return nil, nil }

func (f *fakeStore) Count(_ context.Context, _ Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeStore) DistinctPresent(_ context.Context, flt Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[int]bool)
	for _, rec := range f.records {
		if flt.Course != "" && rec.Course != flt.Course {
			continue
		}
		if flt.Department != "" && rec.Department != flt.Department {
			continue
		}
		seen[rec.FingerprintID] = true
	}
	return len(seen), nil
}

func (f *fakeStore) CountByGroup(_ context.Context, column string, _ Filter) ([]GroupCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range f.records {
		if column == "course" {
			counts[rec.Course]++
		} else {
			counts[rec.Period]++
		}
	}
	var res []GroupCount
	for k, n := range counts {
		res = append(res, GroupCount{Key: k, Count: n})
	}
	return res, nil
}

func (f *fakeStore) ClearAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]Record)
	return nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	students map[int]student.Student
	touched  map[int]time.Time
}

func newFakeDirectory(students ...student.Student) *fakeDirectory {
	d := &fakeDirectory{students: make(map[int]student.Student), touched: make(map[int]time.Time)}
	for _, s := range students {
		d.students[s.FingerprintID] = s
	}
	return d
}

func (d *fakeDirectory) ActiveByFingerprint(_ context.Context, fingerprintID int) (*student.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.students[fingerprintID]
	if !ok || !s.IsActive {
		return nil, nil
	}
	return &s, nil
}

func (d *fakeDirectory) TouchLastAttendance(_ context.Context, fingerprintID int, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touched[fingerprintID] = at
	return nil
}

func (d *fakeDirectory) CountActive(_ context.Context, department string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.students {
		if s.IsActive && (department == "" || s.Department == department) {
			n++
		}
	}
	return n, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *captureSink) Emit(_ context.Context, evt eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) all() []eventbus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]eventbus.Event(nil), c.events...)
}

var testNow = time.Date(2026, 3, 9, 9, 0, 0, 0, time.Local)

func activeStudent(fp int) student.Student {
	return student.Student{FingerprintID: fp, Name: "Asha Rao", Department: "CS", IsActive: true}
}

func TestServiceMark(t *testing.T) {
	t.Run("stores a record and publishes one event", func(t *testing.T) {
		store := newFakeStore()
		sink := &captureSink{}
		dir := newFakeDirectory(activeStudent(42))
		svc := NewService(store, dir, sink, clock.NewFixed(testNow))

		rec, err := svc.Mark(context.Background(), Claim{FingerprintID: 42, Course: "mathematics", Period: "morning"})
		if err != nil {
			t.Fatalf("Mark: %v", err)
		}
		if rec.StudentName != "Asha Rao" || rec.Department != "CS" {
			t.Errorf("record missing student fields: %+v", rec)
		}
		if !rec.Date.Equal(DayOf(testNow)) {
			t.Errorf("expected date %v, got %v", DayOf(testNow), rec.Date)
		}
		if rec.Status != StatusPresent {
			t.Errorf("expected status present, got %q", rec.Status)
		}
		if rec.DeviceID != DefaultDeviceID {
			t.Errorf("expected default device id, got %q", rec.DeviceID)
		}
		if got, ok := dir.touched[42]; !ok || !got.Equal(testNow) {
			t.Errorf("last attendance not touched: %v", dir.touched)
		}

		events := sink.all()
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Type != eventbus.TypeAttendanceMarked {
			t.Errorf("expected attendance_marked event, got %q", events[0].Type)
		}
	})

	t.Run("normalizes course and period case", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, newFakeDirectory(activeStudent(42)), &captureSink{}, clock.NewFixed(testNow))

		rec, err := svc.Mark(context.Background(), Claim{FingerprintID: 42, Course: "Mathematics", Period: " MORNING "})
		if err != nil {
			t.Fatalf("Mark: %v", err)
		}
		if rec.Course != "mathematics" || rec.Period != "morning" {
			t.Errorf("enums not normalized: %q %q", rec.Course, rec.Period)
		}
	})

	t.Run("rejects unknown enums", func(t *testing.T) {
		svc := NewService(newFakeStore(), newFakeDirectory(activeStudent(42)), &captureSink{}, clock.NewFixed(testNow))

		if _, err := svc.Mark(context.Background(), Claim{FingerprintID: 42, Course: "astrology", Period: "morning"}); err != ErrInvalidCourse {
			t.Errorf("expected ErrInvalidCourse, got %v", err)
		}
		if _, err := svc.Mark(context.Background(), Claim{FingerprintID: 42, Course: "physics", Period: "midnight"}); err != ErrInvalidPeriod {
			t.Errorf("expected ErrInvalidPeriod, got %v", err)
		}
	})

	t.Run("rejects unknown or inactive students without publishing", func(t *testing.T) {
		inactive := activeStudent(7)
		inactive.IsActive = false
		sink := &captureSink{}
		svc := NewService(newFakeStore(), newFakeDirectory(inactive), sink, clock.NewFixed(testNow))

		if _, err := svc.Mark(context.Background(), Claim{FingerprintID: 999, Course: "physics", Period: "morning"}); err != ErrStudentNotFound {
			t.Errorf("expected ErrStudentNotFound for unknown, got %v", err)
		}
		if _, err := svc.Mark(context.Background(), Claim{FingerprintID: 7, Course: "physics", Period: "morning"}); err != ErrStudentNotFound {
			t.Errorf("expected ErrStudentNotFound for inactive, got %v", err)
		}
		if got := len(sink.all()); got != 0 {
			t.Errorf("rejected claims published %d events", got)
		}
	})

	t.Run("second claim same day conflicts, next day succeeds", func(t *testing.T) {
		store := newFakeStore()
		dir := newFakeDirectory(activeStudent(42))
		sink := &captureSink{}
		claim := Claim{FingerprintID: 42, Course: "mathematics", Period: "morning"}

		svc := NewService(store, dir, sink, clock.NewFixed(testNow))
		if _, err := svc.Mark(context.Background(), claim); err != nil {
			t.Fatalf("first Mark: %v", err)
		}
		if _, err := svc.Mark(context.Background(), claim); err != ErrAlreadyMarked {
			t.Fatalf("expected ErrAlreadyMarked, got %v", err)
		}

		// A different course the same day is a separate key.
		if _, err := svc.Mark(context.Background(), Claim{FingerprintID: 42, Course: "physics", Period: "morning"}); err != nil {
			t.Fatalf("different course same day: %v", err)
		}

		nextDay := NewService(store, dir, sink, clock.NewFixed(testNow.AddDate(0, 0, 1)))
		if _, err := nextDay.Mark(context.Background(), claim); err != nil {
			t.Fatalf("next day Mark: %v", err)
		}
		if got := len(sink.all()); got != 3 {
			t.Errorf("expected 3 events for 3 successful marks, got %d", got)
		}
	})

	t.Run("lost race is reported as the same conflict", func(t *testing.T) {
		store := newFakeStore()
		store.hidePrecheck = true
		svc := NewService(store, newFakeDirectory(activeStudent(42)), &captureSink{}, clock.NewFixed(testNow))
		claim := Claim{FingerprintID: 42, Course: "mathematics", Period: "morning"}

		if _, err := svc.Mark(context.Background(), claim); err != nil {
			t.Fatalf("first Mark: %v", err)
		}
		if _, err := svc.Mark(context.Background(), claim); err != ErrAlreadyMarked {
			t.Fatalf("expected ErrAlreadyMarked from storage guard, got %v", err)
		}
	})
}

// TestServiceMarkConcurrent submits N identical claims at once: exactly
// one record may win; the rest must see the conflict.
func TestServiceMarkConcurrent(t *testing.T) {
	store := newFakeStore()
	sink := &captureSink{}
	svc := NewService(store, newFakeDirectory(activeStudent(42)), sink, clock.NewFixed(testNow))
	claim := Claim{FingerprintID: 42, Course: "mathematics", Period: "morning"}

	const n = 32
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Mark(context.Background(), claim)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch err {
		case nil:
			ok++
		case ErrAlreadyMarked:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly 1 stored record, got %d", len(store.records))
	}
	if got := len(sink.all()); got != 1 {
		t.Fatalf("expected exactly 1 published event, got %d", got)
	}
}

func TestDailySummary(t *testing.T) {
	ctx := context.Background()

	t.Run("computes absent and rate", func(t *testing.T) {
		store := newFakeStore()
		dir := newFakeDirectory(activeStudent(1), activeStudent(2), activeStudent(3))
		svc := NewService(store, dir, &captureSink{}, clock.NewFixed(testNow))

		if _, err := svc.Mark(ctx, Claim{FingerprintID: 1, Course: "mathematics", Period: "morning"}); err != nil {
			t.Fatalf("Mark: %v", err)
		}
		if _, err := svc.Mark(ctx, Claim{FingerprintID: 2, Course: "physics", Period: "afternoon"}); err != nil {
			t.Fatalf("Mark: %v", err)
		}

		sum, err := svc.DailySummary(ctx, testNow, "", "")
		if err != nil {
			t.Fatalf("DailySummary: %v", err)
		}
		if sum.TotalStudents != 3 || sum.PresentToday != 2 || sum.AbsentToday != 1 {
			t.Errorf("unexpected counts: %+v", sum)
		}
		if sum.AttendanceRate != "66.67" {
			t.Errorf("expected rate 66.67, got %q", sum.AttendanceRate)
		}
		if sum.Date != testNow.Format("2006-01-02") {
			t.Errorf("expected date %s, got %s", testNow.Format("2006-01-02"), sum.Date)
		}
		if len(sum.ByCourse) != 2 || len(sum.ByPeriod) != 2 {
			t.Errorf("unexpected breakdowns: %+v", sum)
		}
	})

	t.Run("floors absent at zero", func(t *testing.T) {
		store := newFakeStore()
		// One active student, but two distinct fingerprints have records
		// (the second belongs to a since-deactivated student).
		store.records[key(1, "mathematics", DayOf(testNow))] = Record{FingerprintID: 1, Course: "mathematics", Period: "morning"}
		store.records[key(2, "mathematics", DayOf(testNow))] = Record{FingerprintID: 2, Course: "mathematics", Period: "morning"}
		dir := newFakeDirectory(activeStudent(1))
		svc := NewService(store, dir, &captureSink{}, clock.NewFixed(testNow))

		sum, err := svc.DailySummary(ctx, testNow, "", "")
		if err != nil {
			t.Fatalf("DailySummary: %v", err)
		}
		if sum.AbsentToday != 0 {
			t.Errorf("expected absent floored at 0, got %d", sum.AbsentToday)
		}
	})

	t.Run("zero students reports zero rate", func(t *testing.T) {
		svc := NewService(newFakeStore(), newFakeDirectory(), &captureSink{}, clock.NewFixed(testNow))

		sum, err := svc.DailySummary(ctx, time.Time{}, "", "")
		if err != nil {
			t.Fatalf("DailySummary: %v", err)
		}
		if sum.TotalStudents != 0 || sum.AttendanceRate != "0.00" {
			t.Errorf("expected empty summary with 0.00 rate, got %+v", sum)
		}
		if sum.ByCourse == nil || sum.ByPeriod == nil {
			t.Error("breakdowns must be empty slices, not nil")
		}
	})

	t.Run("single present student is 100.00", func(t *testing.T) {
		store := newFakeStore()
		dir := newFakeDirectory(activeStudent(42))
		svc := NewService(store, dir, &captureSink{}, clock.NewFixed(testNow))
		if _, err := svc.Mark(ctx, Claim{FingerprintID: 42, Course: "mathematics", Period: "morning"}); err != nil {
			t.Fatalf("Mark: %v", err)
		}

		sum, err := svc.DailySummary(ctx, testNow, "", "")
		if err != nil {
			t.Fatalf("DailySummary: %v", err)
		}
		if sum.TotalStudents != 1 || sum.PresentToday != 1 || sum.AbsentToday != 0 || sum.AttendanceRate != "100.00" {
			t.Errorf("unexpected summary: %+v", sum)
		}
	})
}

func TestDayOf(t *testing.T) {
	at := time.Date(2026, 3, 9, 23, 59, 59, 999, time.Local)
	day := DayOf(at)
	if day.Hour() != 0 || day.Minute() != 0 || day.Second() != 0 || day.Nanosecond() != 0 {
		t.Errorf("DayOf did not truncate: %v", day)
	}
	if day.Day() != 9 || day.Month() != time.March {
		t.Errorf("DayOf changed the date: %v", day)
	}
}
