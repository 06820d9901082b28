package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DecisionPresent = "PRESENT"
	DecisionAbsent  = "ABSENT"
	DecisionPending = "PENDING"
	DecisionOD      = "OD"
)

// Who last wrote an attendance record.
const (
	SourceEnrollment = "enrollment"
	SourceUpload     = "upload"
	SourcePipeline   = "pipeline"
	SourceAppeal     = "appeal"
	SourceTeacher    = "teacher"
	SourceLectureEnd = "lecture_end"
)

// AttendanceRecord is the authoritative attendance row for one student and one lecture
// instance. Version is bumped on every write; writers compare-and-swap on it.
type AttendanceRecord struct {
	UserID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	LectureInstanceID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"lecture_instance_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Decision           string    `gorm:"size:16;not null;default:PENDING" json:"decision"`
	Reason             string    `gorm:"type:text" json:"reason,omitempty"`
	UnderstandingLevel string    `gorm:"size:16" json:"understanding_level,omitempty"`
	Source             string    `gorm:"size:32;not null;default:enrollment" json:"source"`
	Version            int64     `gorm:"not null;default:0" json:"version"`
}

func (AttendanceRecord) TableName() string { return "attendance_registry" }

// ManuallySet reports whether a person (teacher or approved appeal) made the current decision.
func (r AttendanceRecord) ManuallySet() bool {
	return r.Source == SourceAppeal || r.Source == SourceTeacher
}

// ValidDecision reports whether d is one of the four attendance values.
func ValidDecision(d string) bool {
	switch d {
	case DecisionPresent, DecisionAbsent, DecisionPending, DecisionOD:
		return true
	}
	return false
}
