package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AppealPending  = "pending"
	AppealApproved = "approved"
	AppealRejected = "rejected"
)

// Appeal is a student's request to override an ABSENT decision, resolved by the lecture's teacher.
type Appeal struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	LectureInstanceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"lecture_instance_id"`
	Reason            string     `gorm:"type:text;not null" json:"reason"`
	Status            string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	ResolvedBy        *uuid.UUID `gorm:"type:uuid" json:"resolved_by,omitempty"`
	ResolutionNote    string     `gorm:"type:text" json:"resolution_note,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func (Appeal) TableName() string { return "attendance_appeals" }
