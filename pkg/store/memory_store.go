package store

import (
	"context"
	"fmt"
	"sync"

	"checkpoint/pkg/domain"
)

// MemoryStore keeps accounts and records in-process. Used by tests and
// single-node demos; data is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User // key: user ID
	email      map[string]string      // email -> user ID
	profiles   map[string]domain.UserProfile
	students   map[string]domain.Student // key: record primary key
	byStudent  map[string]string         // student_id -> id
	byRecordID map[string]string         // record_id -> id
	orders     []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		email:      make(map[string]string),
		profiles:   make(map[string]domain.UserProfile),
		students:   make(map[string]domain.Student),
		byStudent:  make(map[string]string),
		byRecordID: make(map[string]string),
	}
}

// SaveUser stores or replaces an account.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.email[u.Email]; ok && owner != u.ID {
		return fmt.Errorf("%w: account %s", ErrDuplicate, u.Email)
	}
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (domain.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

// CreateStudent inserts a record, rejecting duplicate student or record ids.
func (m *MemoryStore) CreateStudent(_ context.Context, s domain.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.students[s.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, s.ID)
	}
	if _, exists := m.byStudent[s.StudentID]; exists {
		return fmt.Errorf("%w: student %s", ErrDuplicate, s.StudentID)
	}
	if _, exists := m.byRecordID[s.RecordID]; exists {
		return fmt.Errorf("%w: record %s", ErrDuplicate, s.RecordID)
	}
	m.students[s.ID] = cloneStudent(s)
	m.byStudent[s.StudentID] = s.ID
	m.byRecordID[s.RecordID] = s.ID
	m.orders = append(m.orders, s.ID)
	return nil
}

// UpdateStudent replaces the mutable lifecycle fields of a record.
func (m *MemoryStore) UpdateStudent(_ context.Context, s domain.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[s.ID]
	if !ok {
		return fmt.Errorf("%w: student %s", ErrNotFound, s.ID)
	}
	cur.Status = s.Status
	if s.CheckOutTime != nil {
		t := *s.CheckOutTime
		cur.CheckOutTime = &t
	} else {
		cur.CheckOutTime = nil
	}
	m.students[s.ID] = cur
	return nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (domain.Student, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	return cloneStudent(s), ok, nil
}

func (m *MemoryStore) GetStudentByStudentID(_ context.Context, studentID string) (domain.Student, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byStudent, studentID)
}

func (m *MemoryStore) GetStudentByRecordID(_ context.Context, recordID string) (domain.Student, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byRecordID, recordID)
}

func (m *MemoryStore) lookup(index map[string]string, key string) (domain.Student, bool, error) {
	id, ok := index[key]
	if !ok {
		return domain.Student{}, false, nil
	}
	s, ok := m.students[id]
	return cloneStudent(s), ok, nil
}

// ListStudents returns matching records in insertion order.
func (m *MemoryStore) ListStudents(_ context.Context, filter StudentFilter) ([]domain.Student, int64, error) {
	filter = filter.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Student, 0, len(m.orders))
	for _, id := range m.orders {
		if s, ok := m.students[id]; ok && filter.Matches(s) {
			res = append(res, cloneStudent(s))
		}
	}
	return filter.Window(res), int64(len(res)), nil
}

func (m *MemoryStore) CountStudentsByStatus(_ context.Context) (domain.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts domain.StatusCounts
	for _, s := range m.students {
		counts.Total++
		switch s.Status {
		case domain.StatusCheckedIn:
			counts.CheckedIn++
		case domain.StatusCheckedOut:
			counts.CheckedOut++
		}
	}
	return counts, nil
}

func cloneStudent(s domain.Student) domain.Student {
	if s.DevicePhotos != nil {
		s.DevicePhotos = append([]string(nil), s.DevicePhotos...)
	}
	if s.CheckOutTime != nil {
		t := *s.CheckOutTime
		s.CheckOutTime = &t
	}
	return s
}
