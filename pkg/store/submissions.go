package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/decision"
	"github.com/Itypecode/E-DAV/pkg/pipeline"
	"github.com/Itypecode/E-DAV/pkg/similarity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Store) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var sub models.Submission
	if err := s.DB.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &sub, nil
}

// CreateSubmission inserts a new pending submission. A second submission for the same
// student and lecture instance fails with ErrDuplicate.
func (s *Store) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Status = models.StatusPending
	return mapError(s.DB.WithContext(ctx).Create(sub).Error)
}

func (s *Store) HasSubmission(ctx context.Context, userID, lectureID uuid.UUID) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("user_id = ? AND lecture_instance_id = ?", userID, lectureID).Count(&n).Error
	return n > 0, err
}

// SaveStage writes u only while the submission is undecided and still at status from.
func (s *Store) SaveStage(ctx context.Context, id uuid.UUID, from models.SubmissionStatus, u models.SubmissionUpdate) error {
	if u.Status != "" && !models.CanAdvance(from, u.Status) {
		return fmt.Errorf("status move %q -> %q not allowed", from, u.Status)
	}
	if err := u.Validate(); err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ? AND decided_at IS NULL", id, from).
		Updates(u.Columns())
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSubmission(ctx, id); err != nil {
			return err
		}
		return pipeline.ErrStaleStatus
	}
	return nil
}

func (s *Store) MarkStalled(ctx context.Context, id uuid.UUID, stage pipeline.Stage, cause error) error {
	msg := clip(cause.Error(), 500)
	return s.DB.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).
		Updates(map[string]any{"failed_stage": string(stage), "last_error": msg}).Error
}

// clip shortens s to at most max runes so a multi-byte character is never split.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// SimilarityCandidates returns the submission's embedding and the embeddings of every
// other submission for the same lecture instance, ordered by ID.
func (s *Store) SimilarityCandidates(ctx context.Context, id uuid.UUID) ([]float64, []similarity.Candidate, error) {
	var self models.Submission
	if err := s.DB.WithContext(ctx).Select("id", "lecture_instance_id", "embedding").First(&self, "id = ?", id).Error; err != nil {
		return nil, nil, mapError(err)
	}
	if len(self.Embedding) == 0 {
		return nil, nil, nil
	}
	var rows []models.Submission
	err := s.DB.WithContext(ctx).Select("id", "embedding").
		Where("lecture_instance_id = ? AND id <> ? AND cardinality(embedding) > 0", self.LectureInstanceID, id).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	out := make([]similarity.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, similarity.Candidate{SubmissionID: r.ID, Embedding: r.Embedding})
	}
	return self.Embedding, out, nil
}

func (s *Store) DecisionInput(ctx context.Context, id uuid.UUID) (decision.Input, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return decision.Input{}, err
	}
	in := decision.Input{
		SubmissionID:      sub.ID,
		UserID:            sub.UserID,
		LectureInstanceID: sub.LectureInstanceID,
		Status:            sub.Status,
		Decided:           sub.DecidedAt != nil,
		CopiedFrom:        sub.CopiedFromSubmissionID,
	}
	if sub.OCRText != nil {
		in.OCRText = *sub.OCRText
	}
	if sub.AIScore != nil {
		in.AIScore = *sub.AIScore
	}
	if sub.AIConfidence != nil {
		in.AIConfidence = *sub.AIConfidence
	}
	if sub.AIReason != nil {
		in.AIReason = *sub.AIReason
	}
	if sub.MaxSimilarity != nil {
		in.MaxSimilarity = *sub.MaxSimilarity
	}
	var lec models.LectureInstance
	err = s.DB.WithContext(ctx).Select("subject_name", "concept").First(&lec, "id = ?", sub.LectureInstanceID).Error
	switch {
	case err == nil:
		in.SubjectName, in.Concept = lec.SubjectName, lec.Concept
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Printf("DECISION lecture %s of submission %s not found", sub.LectureInstanceID, id)
	default:
		return decision.Input{}, err
	}
	return in, nil
}

// RecordDecision stores the decision on the submission and projects it onto the student's
// attendance record in one transaction. A record last set by a teacher or an approved
// appeal keeps its value; the submission is still marked decided.
func (s *Store) RecordDecision(ctx context.Context, in decision.Input, out decision.Output) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Submission{}).
			Where("id = ? AND status = ? AND decided_at IS NULL", in.SubmissionID, models.StatusAllDone).
			Updates(map[string]any{"decision": datatypes.JSON(payload), "decided_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var sub models.Submission
			if err := tx.Select("status", "decided_at").First(&sub, "id = ?", in.SubmissionID).Error; err != nil {
				return mapError(err)
			}
			if sub.DecidedAt != nil {
				return decision.ErrAlreadyDecided
			}
			return decision.ErrNotReady
		}
		_, applied, err := casAttendance(tx, in.UserID, in.LectureInstanceID, func(r *models.AttendanceRecord) bool {
			if r.ManuallySet() {
				return false
			}
			r.Decision = out.AttendanceDecision
			r.UnderstandingLevel = out.UnderstandingLevel
			r.Reason = out.Reason
			r.Source = models.SourcePipeline
			return true
		})
		if err != nil {
			return err
		}
		if !applied {
			log.Printf("DECISION %s not applied: attendance was set manually", in.SubmissionID)
		}
		return nil
	})
}

// ListSubmissions returns a student's submissions, newest first, without embeddings.
func (s *Store) ListSubmissions(ctx context.Context, userID uuid.UUID) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.DB.WithContext(ctx).Omit("embedding").Where("user_id = ?", userID).
		Order("uploaded_at DESC").Find(&subs).Error
	return subs, err
}

// ListStalled returns undecided submissions not touched for at least olderThan, oldest first.
func (s *Store) ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Submission
	err := s.DB.WithContext(ctx).Omit("embedding", "ocr_text").
		Where("decided_at IS NULL AND updated_at < ?", time.Now().Add(-olderThan)).
		Order("uploaded_at").Limit(limit).Find(&subs).Error
	return subs, err
}
