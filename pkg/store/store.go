package store

import (
	"context"
	"errors"

	"checkpoint/pkg/domain"
)

var (
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrNotFound is returned by updates that match no row.
	ErrNotFound = errors.New("store: not found")
)

// AccountStore persists accounts and their role profiles.
type AccountStore interface {
	SaveUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error)
	SaveProfile(ctx context.Context, p domain.UserProfile) error
}

// RecordStore persists check-in records. There is no delete.
type RecordStore interface {
	CreateStudent(ctx context.Context, s domain.Student) error
	UpdateStudent(ctx context.Context, s domain.Student) error
	GetStudent(ctx context.Context, id string) (domain.Student, bool, error)
	GetStudentByStudentID(ctx context.Context, studentID string) (domain.Student, bool, error)
	GetStudentByRecordID(ctx context.Context, recordID string) (domain.Student, bool, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]domain.Student, int64, error)
	CountStudentsByStatus(ctx context.Context) (domain.StatusCounts, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	AccountStore
	RecordStore
}

// TokenStore maps opaque bearer tokens to user IDs.
type TokenStore interface {
	// IssueToken returns the live token for userID, creating one if needed.
	IssueToken(ctx context.Context, userID string) (string, error)
	UserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteToken(ctx context.Context, token string) error
}
