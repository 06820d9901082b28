package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// SubmissionStatus is the pipeline position persisted on a submission. It only moves forward.
type SubmissionStatus string

const (
	StatusPending       SubmissionStatus = "pending"
	StatusOCRDone       SubmissionStatus = "ocr_done"
	StatusEmbeddingDone SubmissionStatus = "embedding_done"
	StatusAllDone       SubmissionStatus = "All done"
)

var statusOrder = []SubmissionStatus{StatusPending, StatusOCRDone, StatusEmbeddingDone, StatusAllDone}

// Rank returns the position of s in the pipeline order, or -1 for an unknown status.
func (s SubmissionStatus) Rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanAdvance reports whether a write may move a submission from one status to another:
// either staying put or stepping to the immediate successor.
func CanAdvance(from, to SubmissionStatus) bool {
	f, t := from.Rank(), to.Rank()
	if f < 0 || t < 0 {
		return false
	}
	return t == f || t == f+1
}

// Submission is one student's uploaded notes for one lecture instance. Pointer fields are
// nil until the stage that computes them has run.
type Submission struct {
	ID                     uuid.UUID        `gorm:"type:uuid;primaryKey"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
	UserID                 uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_submission_user_lecture" json:"user_id"`
	LectureInstanceID      uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_submission_user_lecture;index" json:"lecture_instance_id"`
	ImageRef               string           `gorm:"size:512;not null" json:"image_ref"`
	ContentType            string           `gorm:"size:128" json:"content_type"`
	UploadedAt             time.Time        `gorm:"not null" json:"uploaded_at"`
	Status                 SubmissionStatus `gorm:"size:32;not null;default:pending;index" json:"status"`
	OCRText                *string          `gorm:"column:ocr_text;type:text" json:"ocr_text,omitempty"`
	OCRProvider            string           `gorm:"column:ocr_provider;size:64" json:"ocr_provider,omitempty"`
	AIScore                *float64         `json:"ai_score,omitempty"`
	AIConfidence           *float64         `json:"ai_confidence,omitempty"`
	AIReason               *string          `gorm:"type:text" json:"ai_reason,omitempty"`
	Embedding              pq.Float64Array  `gorm:"type:double precision[]" json:"-"`
	MaxSimilarity          *float64         `json:"max_similarity,omitempty"`
	CopiedFromSubmissionID *uuid.UUID       `gorm:"type:uuid" json:"copied_from_submission_id,omitempty"`
	Decision               datatypes.JSON   `gorm:"type:jsonb" json:"decision,omitempty"`
	DecidedAt              *time.Time       `gorm:"index" json:"decided_at,omitempty"`
	// Failed stage and error of the last halted run; status is left at the last good value
	// so the submission can be inspected and resumed.
	FailedStage string `gorm:"size:32" json:"failed_stage,omitempty"`
	LastError   string `gorm:"size:512" json:"last_error,omitempty"`
}

// SubmissionUpdate is the set of fields a pipeline stage writes. Nil fields are untouched.
type SubmissionUpdate struct {
	Status        SubmissionStatus `validate:"omitempty,oneof=pending ocr_done embedding_done 'All done'"`
	OCRText       *string
	OCRProvider   string   `validate:"max=64"`
	AIScore       *float64 `validate:"omitempty,min=0,max=1"`
	AIConfidence  *float64 `validate:"omitempty,min=0,max=1"`
	AIReason      *string
	Embedding     []float64
	MaxSimilarity *float64 `validate:"omitempty,min=-1,max=1"`
	CopiedFrom    *uuid.UUID
}

var validate = validator.New()

// Validate checks the update's vocabulary and numeric ranges.
func (u SubmissionUpdate) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("invalid submission update: %w", err)
	}
	return nil
}

// Columns returns the column map for the update. Stage error fields are always cleared.
func (u SubmissionUpdate) Columns() map[string]any {
	cols := map[string]any{
		"failed_stage": "",
		"last_error":   "",
	}
	if u.Status != "" {
		cols["status"] = u.Status
	}
	if u.OCRText != nil {
		cols["ocr_text"] = *u.OCRText
	}
	if u.OCRProvider != "" {
		cols["ocr_provider"] = u.OCRProvider
	}
	if u.AIScore != nil {
		cols["ai_score"] = *u.AIScore
	}
	if u.AIConfidence != nil {
		cols["ai_confidence"] = *u.AIConfidence
	}
	if u.AIReason != nil {
		cols["ai_reason"] = *u.AIReason
	}
	if u.Embedding != nil {
		cols["embedding"] = pq.Float64Array(u.Embedding)
	}
	if u.MaxSimilarity != nil {
		cols["max_similarity"] = *u.MaxSimilarity
	}
	if u.CopiedFrom != nil {
		cols["copied_from_submission_id"] = *u.CopiedFrom
	}
	return cols
}

// Apply copies the update onto s, mirroring what a successful write persisted.
func (s *Submission) Apply(u SubmissionUpdate) {
	if u.Status != "" {
		s.Status = u.Status
	}
	if u.OCRText != nil {
		t := *u.OCRText
		s.OCRText = &t
	}
	if u.OCRProvider != "" {
		s.OCRProvider = u.OCRProvider
	}
	if u.AIScore != nil {
		v := *u.AIScore
		s.AIScore = &v
	}
	if u.AIConfidence != nil {
		v := *u.AIConfidence
		s.AIConfidence = &v
	}
	if u.AIReason != nil {
		r := *u.AIReason
		s.AIReason = &r
	}
	if u.Embedding != nil {
		s.Embedding = append(pq.Float64Array{}, u.Embedding...)
	}
	if u.MaxSimilarity != nil {
		v := *u.MaxSimilarity
		s.MaxSimilarity = &v
	}
	if u.CopiedFrom != nil {
		id := *u.CopiedFrom
		s.CopiedFromSubmissionID = &id
	}
	s.FailedStage = ""
	s.LastError = ""
}
