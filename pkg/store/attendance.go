package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Itypecode/E-DAV/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// casAttendance applies change to the attendance record of a student for a lecture,
// creating a PENDING placeholder first if none exists. The write only lands if the
// record's version is unchanged since it was read; otherwise the record is re-read and
// change re-evaluated. change returns false to leave the record alone.
func casAttendance(db *gorm.DB, userID, lectureID uuid.UUID, change func(*models.AttendanceRecord) bool) (models.AttendanceRecord, bool, error) {
	for i := 0; i < attendanceRetries; i++ {
		var cur models.AttendanceRecord
		err := db.Where("user_id = ? AND lecture_instance_id = ?", userID, lectureID).Take(&cur).Error
		if err != nil {
			if !errors.Is(mapError(err), ErrNotFound) {
				return cur, false, err
			}
			placeholder := models.AttendanceRecord{
				UserID: userID, LectureInstanceID: lectureID,
				Decision: models.DecisionPending, Source: models.SourceEnrollment,
			}
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error; err != nil {
				return cur, false, err
			}
			continue
		}
		next := cur
		if !change(&next) {
			return cur, false, nil
		}
		if !models.ValidDecision(next.Decision) {
			return cur, false, fmt.Errorf("invalid attendance decision %q", next.Decision)
		}
		res := db.Model(&models.AttendanceRecord{}).
			Where("user_id = ? AND lecture_instance_id = ? AND version = ?", userID, lectureID, cur.Version).
			Updates(map[string]any{
				"decision":            next.Decision,
				"reason":              next.Reason,
				"understanding_level": next.UnderstandingLevel,
				"source":              next.Source,
				"version":             cur.Version + 1,
			})
		if res.Error != nil {
			return cur, false, res.Error
		}
		if res.RowsAffected == 1 {
			next.Version = cur.Version + 1
			return next, true, nil
		}
	}
	return models.AttendanceRecord{}, false, ErrVersionConflict
}

func (s *Store) GetAttendance(ctx context.Context, userID, lectureID uuid.UUID) (models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := s.DB.WithContext(ctx).Where("user_id = ? AND lecture_instance_id = ?", userID, lectureID).Take(&rec).Error
	return rec, mapError(err)
}

// MarkUploaded optimistically marks the student present once notes are uploaded; the
// pipeline decision replaces it later. Manual decisions are left alone.
func (s *Store) MarkUploaded(ctx context.Context, userID, lectureID uuid.UUID) error {
	_, _, err := casAttendance(s.DB.WithContext(ctx), userID, lectureID, func(r *models.AttendanceRecord) bool {
		if r.ManuallySet() {
			return false
		}
		r.Decision = models.DecisionPresent
		r.Reason = "notes uploaded, evaluation pending"
		r.Source = models.SourceUpload
		return true
	})
	return err
}

// Override sets a student's attendance on behalf of the lecture's teacher.
func (s *Store) Override(ctx context.Context, userID, lectureID uuid.UUID, decision, reason string) (models.AttendanceRecord, error) {
	recs, err := s.OverrideMany(ctx, lectureID, []OverrideEntry{{UserID: userID, Decision: decision, Reason: reason}})
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	return recs[0], nil
}

type OverrideEntry struct {
	UserID   uuid.UUID
	Decision string
	Reason   string
}

// OverrideMany applies a teacher's decisions for several students in one transaction:
// either every entry is written or none is.
func (s *Store) OverrideMany(ctx context.Context, lectureID uuid.UUID, entries []OverrideEntry) ([]models.AttendanceRecord, error) {
	for _, e := range entries {
		if !models.ValidDecision(e.Decision) {
			return nil, fmt.Errorf("%w: invalid attendance decision %q", ErrInvalidState, e.Decision)
		}
	}
	out := make([]models.AttendanceRecord, 0, len(entries))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			rec, _, err := casAttendance(tx, e.UserID, lectureID, func(r *models.AttendanceRecord) bool {
				r.Decision = e.Decision
				r.Reason = e.Reason
				r.Source = models.SourceTeacher
				return true
			})
			if err != nil {
				return fmt.Errorf("user %s: %w", e.UserID, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttendanceRow is an attendance record with the student's names.
type AttendanceRow struct {
	models.AttendanceRecord
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (s *Store) LectureAttendance(ctx context.Context, lectureID uuid.UUID) ([]AttendanceRow, error) {
	var rows []AttendanceRow
	err := s.DB.WithContext(ctx).Table("attendance_registry AS a").
		Select("a.*, p.username, p.name").
		Joins("LEFT JOIN profiles p ON p.id = a.user_id").
		Where("a.lecture_instance_id = ?", lectureID).
		Order("p.username").Scan(&rows).Error
	return rows, err
}

func (s *Store) StudentAttendance(ctx context.Context, userID uuid.UUID) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&recs).Error
	return recs, err
}

// Enroll creates PENDING placeholders for students; existing records are kept.
func (s *Store) Enroll(ctx context.Context, lectureID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	recs := make([]models.AttendanceRecord, 0, len(userIDs))
	for _, id := range userIDs {
		recs = append(recs, models.AttendanceRecord{
			UserID: id, LectureInstanceID: lectureID,
			Decision: models.DecisionPending, Source: models.SourceEnrollment,
		})
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&recs)
	return res.RowsAffected, res.Error
}
