package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Profile is an account that can log in. Role is either student or teacher.
type Profile struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string `gorm:"size:255;not null;uniqueIndex"`
	Name           string `gorm:"size:255"`
	Role           string `gorm:"size:32;not null;index"`
	HashedPassword []byte `gorm:"not null" json:"-"`
}
