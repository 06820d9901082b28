// Package pipeline runs one submission through extraction, classification, embedding,
// similarity search and the attendance decision, persisting after every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/aicheck"
	"github.com/Itypecode/E-DAV/pkg/decision"
	"github.com/Itypecode/E-DAV/pkg/ocr"
	"github.com/Itypecode/E-DAV/pkg/similarity"
	"github.com/google/uuid"
)

type Stage string

const (
	StageLoad       Stage = "load"
	StageOCR        Stage = "ocr"
	StageAICheck    Stage = "ai_check"
	StageEmbedding  Stage = "embedding"
	StageSimilarity Stage = "similarity"
	StageDecision   Stage = "decision"
)

var (
	// ErrStaleStatus is returned by Store.SaveStage when the submission is no longer at
	// the status the write was based on; another run got there first.
	ErrStaleStatus = errors.New("submission status changed concurrently")
)

// StageError reports the stage that halted a run and the status the submission was left at.
type StageError struct {
	Stage  Stage
	Status models.SubmissionStatus
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed at status %q: %v", e.Stage, e.Status, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Store interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	// SaveStage applies u only while the submission is still at status from.
	SaveStage(ctx context.Context, id uuid.UUID, from models.SubmissionStatus, u models.SubmissionUpdate) error
	// MarkStalled records the failed stage and error without touching status.
	MarkStalled(ctx context.Context, id uuid.UUID, stage Stage, cause error) error
}

type TextExtractor interface {
	Extract(ctx context.Context, imageRef string) ocr.Result
}

type Classifier interface {
	Classify(ctx context.Context, text string) (aicheck.Result, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Searcher interface {
	BestMatch(ctx context.Context, submissionID uuid.UUID) (*similarity.Match, error)
}

type Decider interface {
	Decide(ctx context.Context, submissionID uuid.UUID) (*decision.Output, error)
}

type Orchestrator struct {
	Store      Store
	OCR        TextExtractor
	Classifier Classifier
	Embedder   Embedder
	Similarity Searcher
	Decision   Decider
}

// Process advances a submission from its persisted status to a recorded decision.
// Stages whose output is already persisted are skipped, so a halted run can be resumed by
// calling Process again; a decided submission is left alone.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	sub, err := o.Store.GetSubmission(ctx, id)
	if err != nil {
		return &StageError{Stage: StageLoad, Err: err}
	}
	if sub.DecidedAt != nil {
		log.Printf("PIPELINE %s already decided, nothing to do", id)
		return nil
	}
	start := time.Now()
	log.Printf("PIPELINE start %s status=%q", id, sub.Status)

	if sub.Status == models.StatusPending {
		res := o.OCR.Extract(ctx, sub.ImageRef)
		if err := ctx.Err(); err != nil {
			return o.halt(ctx, sub, StageOCR, err)
		}
		text := res.Text
		if err := o.save(ctx, sub, models.SubmissionUpdate{Status: models.StatusOCRDone, OCRText: &text, OCRProvider: res.Provider}); err != nil {
			return o.halt(ctx, sub, StageOCR, err)
		}
		log.Printf("PIPELINE %s ocr_done provider=%q chars=%d", id, res.Provider, len(text))
	}

	if sub.Status == models.StatusOCRDone && sub.AIScore == nil {
		res, err := o.Classifier.Classify(ctx, ocrText(sub))
		if err != nil {
			return o.halt(ctx, sub, StageAICheck, err)
		}
		reason := res.Reason
		if err := o.save(ctx, sub, models.SubmissionUpdate{AIScore: &res.Score, AIConfidence: &res.Confidence, AIReason: &reason}); err != nil {
			return o.halt(ctx, sub, StageAICheck, err)
		}
	}

	if sub.Status == models.StatusOCRDone {
		vec, err := o.Embedder.Embed(ctx, ocrText(sub))
		if err != nil {
			return o.halt(ctx, sub, StageEmbedding, err)
		}
		if err := o.save(ctx, sub, models.SubmissionUpdate{Status: models.StatusEmbeddingDone, Embedding: vec}); err != nil {
			return o.halt(ctx, sub, StageEmbedding, err)
		}
	}

	if sub.Status == models.StatusEmbeddingDone {
		u := models.SubmissionUpdate{Status: models.StatusAllDone}
		if len(sub.Embedding) == 0 {
			log.Printf("PIPELINE %s no embedding, similarity skipped", id)
		} else {
			m, err := o.Similarity.BestMatch(ctx, id)
			if err != nil {
				return o.halt(ctx, sub, StageSimilarity, err)
			}
			if m != nil {
				u.MaxSimilarity = &m.Similarity
				u.CopiedFrom = &m.SubmissionID
			}
		}
		if err := o.save(ctx, sub, u); err != nil {
			return o.halt(ctx, sub, StageSimilarity, err)
		}
	}

	if sub.Status == models.StatusAllDone {
		out, err := o.Decision.Decide(ctx, id)
		if errors.Is(err, decision.ErrAlreadyDecided) {
			log.Printf("PIPELINE %s decided by another run", id)
			return nil
		}
		if err != nil {
			return o.halt(ctx, sub, StageDecision, err)
		}
		log.Printf("PIPELINE done %s decision=%s in %s", id, out.AttendanceDecision, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, sub *models.Submission, u models.SubmissionUpdate) error {
	if u.Status != "" && !models.CanAdvance(sub.Status, u.Status) {
		return fmt.Errorf("refusing status move %q -> %q", sub.Status, u.Status)
	}
	if err := u.Validate(); err != nil {
		return err
	}
	if err := o.Store.SaveStage(ctx, sub.ID, sub.Status, u); err != nil {
		return err
	}
	sub.Apply(u)
	return nil
}

// halt records the failure on the submission, unless another run moved it on, and
// returns the typed stage error.
func (o *Orchestrator) halt(ctx context.Context, sub *models.Submission, stage Stage, cause error) error {
	log.Printf("PIPELINE halt %s stage=%s status=%q: %v", sub.ID, stage, sub.Status, cause)
	if !errors.Is(cause, ErrStaleStatus) {
		// the run's context may be the reason for the failure
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.Store.MarkStalled(mctx, sub.ID, stage, cause); err != nil {
			log.Printf("PIPELINE could not mark %s stalled: %v", sub.ID, err)
		}
	}
	return &StageError{Stage: stage, Status: sub.Status, Err: cause}
}

func ocrText(s *models.Submission) string {
	if s.OCRText == nil {
		return ""
	}
	return *s.OCRText
}
