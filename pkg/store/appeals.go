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

// CreateAppeal files an appeal against an ABSENT decision. Only one appeal per student
// and lecture may be pending.
func (s *Store) CreateAppeal(ctx context.Context, userID, lectureID uuid.UUID, reason string) (*models.Appeal, error) {
	rec, err := s.GetAttendance(ctx, userID, lectureID)
	if err != nil {
		return nil, err
	}
	if rec.Decision != models.DecisionAbsent {
		return nil, fmt.Errorf("%w: attendance is %s, only ABSENT can be appealed", ErrInvalidState, rec.Decision)
	}
	a := &models.Appeal{
		ID:                uuid.New(),
		UserID:            userID,
		LectureInstanceID: lectureID,
		Reason:            reason,
		Status:            models.AppealPending,
	}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (s *Store) StudentAppeals(ctx context.Context, userID uuid.UUID) ([]models.Appeal, error) {
	var as []models.Appeal
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&as).Error
	return as, err
}

// AppealRow is an appeal with the student and lecture it concerns.
type AppealRow struct {
	models.Appeal
	Username    string    `json:"username"`
	StudentName string    `json:"student_name"`
	SubjectCode string    `json:"subject_code"`
	LectureDate time.Time `json:"lecture_date"`
}

// TeacherAppeals lists appeals on the teacher's lectures; status filters when non-empty.
func (s *Store) TeacherAppeals(ctx context.Context, teacherID uuid.UUID, status string) ([]AppealRow, error) {
	q := s.DB.WithContext(ctx).Table("attendance_appeals AS ap").
		Select("ap.*, p.username, p.name AS student_name, l.subject_code, l.lecture_date").
		Joins("JOIN lecture_instances l ON l.id = ap.lecture_instance_id").
		Joins("LEFT JOIN profiles p ON p.id = ap.user_id").
		Where("l.teacher_id = ?", teacherID)
	if status != "" {
		q = q.Where("ap.status = ?", status)
	}
	var rows []AppealRow
	err := q.Order("ap.created_at").Scan(&rows).Error
	return rows, err
}

// ResolveAppeal approves or rejects a pending appeal. Approval sets the attendance record
// to PRESENT with source appeal, in the same transaction.
func (s *Store) ResolveAppeal(ctx context.Context, appealID, teacherID uuid.UUID, approve bool, note string) (*models.Appeal, error) {
	var out models.Appeal
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", appealID).Error; err != nil {
			return mapError(err)
		}
		var l models.LectureInstance
		if err := tx.Select("id", "teacher_id").First(&l, "id = ?", out.LectureInstanceID).Error; err != nil {
			return mapError(err)
		}
		if l.TeacherID != teacherID {
			return ErrForbidden
		}
		if out.Status != models.AppealPending {
			return fmt.Errorf("%w: appeal already %s", ErrInvalidState, out.Status)
		}
		now := time.Now()
		out.Status = models.AppealRejected
		if approve {
			out.Status = models.AppealApproved
		}
		out.ResolvedBy = &teacherID
		out.ResolvedAt = &now
		out.ResolutionNote = note
		if err := tx.Model(&out).Updates(map[string]any{
			"status": out.Status, "resolved_by": teacherID, "resolved_at": now, "resolution_note": note,
		}).Error; err != nil {
			return err
		}
		if !approve {
			return nil
		}
		reason := "appeal approved"
		if note != "" {
			reason += ": " + note
		}
		_, _, err := casAttendance(tx, out.UserID, out.LectureInstanceID, func(r *models.AttendanceRecord) bool {
			r.Decision = models.DecisionPresent
			r.Reason = reason
			r.Source = models.SourceAppeal
			return true
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
