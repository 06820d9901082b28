package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	LectureScheduled = "scheduled"
	LectureLive      = "live"
	LectureEnded     = "ended"
)

// LectureInstance is one concrete occurrence of a timetabled class. Concept is the
// topic the teacher covered and is handed to the decision engine.
type LectureInstance struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TeacherID        uuid.UUID `gorm:"type:uuid;not null;index"`
	SubjectCode      string    `gorm:"size:32;not null"`
	SubjectName      string    `gorm:"size:255"`
	LectureDate      time.Time `gorm:"type:date;not null;index"`
	StartTime        string    `gorm:"size:8"` // HH:MM:SS
	EndTime          string    `gorm:"size:8"`
	Concept          string    `gorm:"type:text"`
	Status           string    `gorm:"size:16;not null;default:scheduled"`
	AttendanceLocked bool      `gorm:"default:false;not null"`
}

// AcceptsSubmissions reports whether students may upload notes for the lecture.
func (l LectureInstance) AcceptsSubmissions() bool {
	return l.Status == LectureLive && !l.AttendanceLocked
}
