// Package intake accepts a student's photographed notes for a live lecture, stores the
// image, creates the pending submission and hands it to the pipeline.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/storage"
	"github.com/Itypecode/E-DAV/pkg/store"
	"github.com/google/uuid"
)

var (
	ErrLectureNotFound = errors.New("lecture not found")
	ErrLectureClosed   = errors.New("lecture is not accepting submissions")
	ErrNotEnrolled     = errors.New("student is not enrolled for this lecture")
	ErrMarkedAbsent    = errors.New("student is already marked absent")
	ErrDuplicate       = errors.New("notes already submitted for this lecture")
	ErrTooLarge        = errors.New("image too large")
	ErrBadImage        = errors.New("not a supported image")
)

type Store interface {
	GetLecture(ctx context.Context, id uuid.UUID) (*models.LectureInstance, error)
	GetAttendance(ctx context.Context, userID, lectureID uuid.UUID) (models.AttendanceRecord, error)
	HasSubmission(ctx context.Context, userID, lectureID uuid.UUID) (bool, error)
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	MarkUploaded(ctx context.Context, userID, lectureID uuid.UUID) error
}

// Starter begins background processing of a submission.
type Starter interface {
	Start(id uuid.UUID) bool
}

type Service struct {
	Store    Store
	Objects  storage.ObjectStore
	Pipeline Starter
	// KeyPrefix is the first path segment of stored image keys.
	KeyPrefix string
	MaxBytes  int64
}

// Receipt is returned to the uploader once the submission exists and processing started.
type Receipt struct {
	SubmissionID uuid.UUID               `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	ImageURL     string                  `json:"image_url"`
}

// Submit validates the upload against the lecture and the student's attendance, stores
// the normalised image and starts the pipeline. Pipeline failures are not reported here.
func (s *Service) Submit(ctx context.Context, userID, lectureID uuid.UUID, data []byte) (*Receipt, error) {
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	lec, err := s.Store.GetLecture(ctx, lectureID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLectureNotFound
	}
	if err != nil {
		return nil, err
	}
	if !lec.AcceptsSubmissions() {
		return nil, fmt.Errorf("%w (status %s, locked %v)", ErrLectureClosed, lec.Status, lec.AttendanceLocked)
	}
	rec, err := s.Store.GetAttendance(ctx, userID, lectureID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, err
	}
	if rec.Decision == models.DecisionAbsent {
		return nil, ErrMarkedAbsent
	}
	dup, err := s.Store.HasSubmission(ctx, userID, lectureID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicate
	}

	img, err := storage.NormalizeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	ref, err := s.Objects.Put(ctx, storage.NewKey(s.KeyPrefix, lectureID, userID, ".jpg"), img, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	sub := &models.Submission{
		ID:                uuid.New(),
		UserID:            userID,
		LectureInstanceID: lectureID,
		ImageRef:          ref,
		ContentType:       "image/jpeg",
		UploadedAt:        time.Now(),
	}
	if err := s.Store.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}
	log.Printf("NEW submission %s user=%s lecture=%s ref=%s", sub.ID, userID, lectureID, ref)

	if err := s.Store.MarkUploaded(ctx, userID, lectureID); err != nil {
		log.Printf("INTAKE could not mark %s present for %s: %v", userID, lectureID, err)
	}
	if s.Pipeline != nil {
		s.Pipeline.Start(sub.ID)
	}

	url, err := s.Objects.URL(ctx, ref)
	if err != nil {
		log.Printf("INTAKE url for %s: %v", ref, err)
	}
	return &Receipt{SubmissionID: sub.ID, Status: models.StatusPending, ImageURL: url}, nil
}
