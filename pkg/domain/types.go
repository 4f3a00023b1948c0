package domain

import "time"

type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleSecurity UserRole = "security"
	RoleStaff    UserRole = "staff"
)

// DefaultRole is assigned when an account has no profile yet.
const DefaultRole = RoleStaff

// ParseUserRole normalizes a role name.
func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleAdmin, RoleSecurity, RoleStaff:
		return UserRole(raw), true
	default:
		return "", false
	}
}

type StudentStatus string

const (
	StatusCheckedIn  StudentStatus = "checked-in"
	StatusCheckedOut StudentStatus = "checked-out"
)

// ParseStudentStatus reports whether raw is a known status value.
func ParseStudentStatus(raw string) (StudentStatus, bool) {
	switch StudentStatus(raw) {
	case StatusCheckedIn, StatusCheckedOut:
		return StudentStatus(raw), true
	default:
		return "", false
	}
}

type UploadCategory string

const (
	UploadStudent UploadCategory = "student"
	UploadDevice  UploadCategory = "device"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DisplayName prefers the first name and falls back to the username.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

type UserProfile struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
}

// Student is one check-in record.
type Student struct {
	ID                string
	StudentID         string
	RecordID          string
	Name              string
	ClassName         string
	Photo             string
	DevicePhotos      []string
	DeviceDescription string
	CheckInTime       time.Time
	CheckOutTime      *time.Time
	Status            StudentStatus
}

// CheckOut moves the record to checked-out and stamps the checkout time.
func (s *Student) CheckOut(now time.Time) {
	s.Status = StatusCheckedOut
	s.CheckOutTime = &now
}

type StatusCounts struct {
	Total      int64 `json:"total"`
	CheckedIn  int64 `json:"checkedIn"`
	CheckedOut int64 `json:"checkedOut"`
}
