package student

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"classtrack/internal/clock"
	"classtrack/internal/eventbus"
)

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, s Student) error
	ByFingerprint(ctx context.Context, fingerprintID int) (*Student, error)
	ActiveByFingerprint(ctx context.Context, fingerprintID int) (*Student, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]Student, error)
	Count(ctx context.Context, f ListFilter) (int, error)
	Update(ctx context.Context, fingerprintID int, in UpdateInput) (*Student, error)
	Deactivate(ctx context.Context, fingerprintID int) error
	ClearAll(ctx context.Context) error
}

// EventSink receives registration outcome events.
type EventSink interface {
	Emit(ctx context.Context, evt eventbus.Event)
}

// Service handles registration and student lifecycle.
type Service struct {
	store  Store
	events EventSink
	clock  clock.Clock
}

// NewService creates a service backed by a store.
func NewService(store Store, events EventSink, clk clock.Clock) *Service {
	return &Service{store: store, events: events, clock: clk}
}

// RegisterInput is an unvalidated registration request from a device.
type RegisterInput struct {
	FingerprintID int
	Name          string
	Department    string
	Class         string
}

// Register validates and stores a new student, publishing a
// student_registered event on success and a registration-failed event
// on any rejection.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Student, error) {
	if err := s.validate(in); err != nil {
		s.emitFailure(ctx, in, err)
		return nil, err
	}

	// Fast-path duplicate check; the unique index is authoritative.
	if existing, err := s.store.ByFingerprint(ctx, in.FingerprintID); err != nil {
		return nil, err
	} else if existing != nil {
		s.emitFailure(ctx, in, ErrFingerprintTaken)
		return nil, ErrFingerprintTaken
	}

	st := Student{
		ID:            uuid.NewString(),
		FingerprintID: in.FingerprintID,
		Name:          strings.TrimSpace(in.Name),
		Department:    strings.TrimSpace(in.Department),
		Class:         strings.TrimSpace(in.Class),
		IsActive:      true,
		RegisteredAt:  s.clock.Now(),
	}
	st.StudentID = st.ID

	if err := s.store.Insert(ctx, st); err != nil {
		if err == ErrFingerprintTaken {
			s.emitFailure(ctx, in, err)
		}
		return nil, err
	}

	s.events.Emit(ctx, eventbus.Event{
		ID:          uuid.NewString(),
		Type:        eventbus.TypeStudentRegistered,
		StudentID:   strconv.Itoa(st.FingerprintID),
		StudentName: st.Name,
		Timestamp:   s.clock.Now(),
		Details:     fmt.Sprintf("registered in %s", st.Department),
	})
	return &st, nil
}

func (s *Service) validate(in RegisterInput) error {
	if in.FingerprintID < MinFingerprintID || in.FingerprintID > MaxFingerprintID {
		return ErrInvalidFingerprint
	}
	if n := len(strings.TrimSpace(in.Name)); n < 2 || n > 100 {
		return ErrInvalidName
	}
	if n := len(strings.TrimSpace(in.Department)); n < 2 || n > 50 {
		return ErrInvalidDepartment
	}
	return nil
}

func (s *Service) emitFailure(ctx context.Context, in RegisterInput, cause error) {
	s.events.Emit(ctx, eventbus.Event{
		ID:          uuid.NewString(),
		Type:        eventbus.TypeRegistrationFailed,
		StudentID:   strconv.Itoa(in.FingerprintID),
		StudentName: strings.TrimSpace(in.Name),
		Timestamp:   s.clock.Now(),
		Details:     cause.Error(),
	})
}

// List returns students matching f plus the total for pagination.
func (s *Service) List(ctx context.Context, f ListFilter, page, limit int) ([]Student, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	students, err := s.store.List(ctx, f, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return students, total, nil
}

// Get returns an active student by fingerprint id.
func (s *Service) Get(ctx context.Context, fingerprintID int) (*Student, error) {
	st, err := s.store.ActiveByFingerprint(ctx, fingerprintID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

// Update applies mutable fields to a student.
func (s *Service) Update(ctx context.Context, fingerprintID int, in UpdateInput) (*Student, error) {
	if in.Name != nil {
		if n := len(strings.TrimSpace(*in.Name)); n < 2 || n > 100 {
			return nil, ErrInvalidName
		}
	}
	if in.Department != nil {
		if n := len(strings.TrimSpace(*in.Department)); n < 2 || n > 50 {
			return nil, ErrInvalidDepartment
		}
	}
	return s.store.Update(ctx, fingerprintID, in)
}

// Deactivate soft deletes a student.
func (s *Service) Deactivate(ctx context.Context, fingerprintID int) error {
	return s.store.Deactivate(ctx, fingerprintID)
}

// ClearAll removes every student.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}
