package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) GetLecture(ctx context.Context, id uuid.UUID) (*models.LectureInstance, error) {
	var l models.LectureInstance
	if err := s.DB.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &l, nil
}

func (s *Store) CreateLecture(ctx context.Context, l *models.LectureInstance) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = models.LectureScheduled
	}
	return mapError(s.DB.WithContext(ctx).Create(l).Error)
}

// TeacherLectures lists a teacher's lectures on or after since, earliest first.
func (s *Store) TeacherLectures(ctx context.Context, teacherID uuid.UUID, since time.Time) ([]models.LectureInstance, error) {
	var ls []models.LectureInstance
	err := s.DB.WithContext(ctx).Where("teacher_id = ? AND lecture_date >= ?", teacherID, since.Format("2006-01-02")).
		Order("lecture_date, start_time").Find(&ls).Error
	return ls, err
}

// lockOwnedLecture loads the lecture FOR UPDATE and checks the teacher owns it.
func lockOwnedLecture(tx *gorm.DB, id, teacherID uuid.UUID) (*models.LectureInstance, error) {
	var l models.LectureInstance
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	if l.TeacherID != teacherID {
		return nil, ErrForbidden
	}
	return &l, nil
}

// StartLecture opens a lecture for submissions and records the concept being taught.
func (s *Store) StartLecture(ctx context.Context, id, teacherID uuid.UUID, concept string) (*models.LectureInstance, error) {
	var out *models.LectureInstance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := lockOwnedLecture(tx, id, teacherID)
		if err != nil {
			return err
		}
		if l.Status == models.LectureEnded {
			return fmt.Errorf("%w: lecture already ended", ErrInvalidState)
		}
		cols := map[string]any{"status": models.LectureLive}
		if concept != "" {
			cols["concept"] = concept
			l.Concept = concept
		}
		if err := tx.Model(l).Updates(cols).Error; err != nil {
			return err
		}
		l.Status = models.LectureLive
		out = l
		return nil
	})
	return out, err
}

// EndLecture closes a lecture, locks its attendance and marks every student still
// PENDING as ABSENT. It returns how many records were marked absent.
func (s *Store) EndLecture(ctx context.Context, id, teacherID uuid.UUID) (int64, error) {
	var absent int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := lockOwnedLecture(tx, id, teacherID)
		if err != nil {
			return err
		}
		if l.Status == models.LectureEnded {
			return fmt.Errorf("%w: lecture already ended", ErrInvalidState)
		}
		if err := tx.Model(l).Updates(map[string]any{"status": models.LectureEnded, "attendance_locked": true}).Error; err != nil {
			return err
		}
		res := tx.Model(&models.AttendanceRecord{}).
			Where("lecture_instance_id = ? AND decision = ?", id, models.DecisionPending).
			Updates(map[string]any{
				"decision": models.DecisionAbsent,
				"reason":   "no notes submitted before the lecture ended",
				"source":   models.SourceLectureEnd,
				"version":  gorm.Expr("version + 1"),
			})
		absent = res.RowsAffected
		return res.Error
	})
	return absent, err
}

// OwnsLecture reports whether teacherID teaches the lecture; ErrNotFound when it doesn't exist.
func (s *Store) OwnsLecture(ctx context.Context, id, teacherID uuid.UUID) error {
	l, err := s.GetLecture(ctx, id)
	if err != nil {
		return err
	}
	if l.TeacherID != teacherID {
		return ErrForbidden
	}
	return nil
}
