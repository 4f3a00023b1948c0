package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkpoint/internal/util"
	"checkpoint/pkg/domain"
	"checkpoint/pkg/events"
	"checkpoint/pkg/storage"
	"checkpoint/pkg/store"

	"github.com/google/uuid"
)

// Config holds the collaborators the application is built from.
type Config struct {
	Store  store.Store
	Tokens store.TokenStore
	// Objects may be nil for tools that never upload.
	Objects storage.ObjectStore
	// Events defaults to events.Noop.
	Events events.Publisher
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// App is the check-in service: records, accounts and uploads.
type App struct {
	store   store.Store
	tokens  store.TokenStore
	objects storage.ObjectStore
	events  events.Publisher
	now     func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("record store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token store required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Noop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:   cfg.Store,
		tokens:  cfg.Tokens,
		objects: cfg.Objects,
		events:  cfg.Events,
		now:     cfg.Now,
	}, nil
}

// ListStudents returns the filtered records in check-in order and the size
// of the filtered set.
func (a *App) ListStudents(ctx context.Context, filter store.StudentFilter) ([]domain.Student, int64, error) {
	items, total, err := a.store.ListStudents(ctx, filter.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	return items, total, nil
}

// GetStudent fetches a record by its id. Ids that are not UUIDs cannot exist.
func (a *App) GetStudent(ctx context.Context, id string) (domain.Student, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Student{}, ErrNotFound
	}
	return a.found(a.store.GetStudent(ctx, parsed.String()))
}

func (a *App) GetStudentByStudentID(ctx context.Context, studentID string) (domain.Student, error) {
	return a.found(a.store.GetStudentByStudentID(ctx, studentID))
}

func (a *App) GetStudentByRecordID(ctx context.Context, recordID string) (domain.Student, error) {
	parsed, err := uuid.Parse(recordID)
	if err != nil {
		return domain.Student{}, ErrNotFound
	}
	return a.found(a.store.GetStudentByRecordID(ctx, parsed.String()))
}

func (a *App) found(s domain.Student, ok bool, err error) (domain.Student, error) {
	if err != nil {
		return domain.Student{}, fmt.Errorf("fetch student: %w", err)
	}
	if !ok {
		return domain.Student{}, ErrNotFound
	}
	return s, nil
}

// CheckIn creates a new checked-in record from a validated payload.
func (a *App) CheckIn(ctx context.Context, p CheckInPayload) (domain.Student, error) {
	s := domain.Student{
		ID:                uuid.NewString(),
		StudentID:         p.StudentID,
		RecordID:          uuid.NewString(),
		Name:              p.Name,
		ClassName:         p.ClassName,
		Photo:             p.Photo,
		DevicePhotos:      append([]string{}, p.DevicePhotos...),
		DeviceDescription: p.DeviceDescription,
		CheckInTime:       a.stamp(),
		Status:            domain.StatusCheckedIn,
	}
	if err := a.store.CreateStudent(ctx, s); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Student{}, ErrConflict
		}
		return domain.Student{}, fmt.Errorf("create student: %w", err)
	}
	a.publish(ctx, events.TypeCheckedIn, s)
	return s, nil
}

// CheckOut marks the record for studentID as checked out. Checking out an
// already checked-out record stamps a fresh checkout time.
func (a *App) CheckOut(ctx context.Context, studentID string) (domain.Student, error) {
	s, err := a.GetStudentByStudentID(ctx, studentID)
	if err != nil {
		return domain.Student{}, err
	}
	s.CheckOut(a.stamp())
	if err := a.store.UpdateStudent(ctx, s); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Student{}, ErrNotFound
		}
		return domain.Student{}, fmt.Errorf("update student: %w", err)
	}
	a.publish(ctx, events.TypeCheckedOut, s)
	return s, nil
}

// Stats returns per-status totals.
func (a *App) Stats(ctx context.Context) (domain.StatusCounts, error) {
	counts, err := a.store.CountStudentsByStatus(ctx)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count students: %w", err)
	}
	return counts, nil
}

// stamp returns the current time at the precision Postgres timestamptz keeps,
// so a returned record equals the one read back later.
func (a *App) stamp() time.Time {
	return a.now().UTC().Truncate(time.Microsecond)
}

// publish never fails the caller; the record is already persisted.
func (a *App) publish(ctx context.Context, eventType string, s domain.Student) {
	evt := events.Event{
		ID:         util.NewID(),
		Type:       eventType,
		RecordID:   s.RecordID,
		StudentID:  s.StudentID,
		Status:     string(s.Status),
		OccurredAt: a.now().UTC(),
	}
	if err := a.events.Publish(ctx, evt); err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", eventType, "student_id", s.StudentID, "err", err)
	}
}
