package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"size:150;uniqueIndex;not null"`
	Email        string    `gorm:"size:254;uniqueIndex;not null"`
	FirstName    string    `gorm:"size:150"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type ProfileModel struct {
	UserID string `gorm:"primaryKey;size:36"`
	Role   string `gorm:"size:20;not null;default:staff"`
}

type StudentModel struct {
	ID                string         `gorm:"primaryKey;size:36"`
	StudentID         string         `gorm:"size:50;uniqueIndex;not null"`
	RecordID          string         `gorm:"size:36;uniqueIndex;not null"`
	Name              string         `gorm:"size:200;not null"`
	ClassName         string         `gorm:"size:200;not null"`
	Photo             string         `gorm:"type:text;not null"`
	DevicePhotos      datatypes.JSON `gorm:"not null"`
	DeviceDescription string         `gorm:"type:text;not null"`
	CheckInTime       time.Time      `gorm:"not null;index"`
	CheckOutTime      *time.Time
	Status            string `gorm:"size:20;not null;index"`
}

// TokenModel holds one opaque token per user.
type TokenModel struct {
	Token     string    `gorm:"primaryKey;size:40"`
	UserID    string    `gorm:"size:36;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
