// Package decision turns the signals gathered by the pipeline into the final attendance
// decision for a submission and records it.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned when the submission has not reached "All done".
	ErrNotReady = errors.New("submission is not ready for a decision")
	// ErrAlreadyDecided is returned for a submission whose decision is already recorded.
	ErrAlreadyDecided = errors.New("submission already decided")
	// ErrInvalidDecision is returned when the provider's answer is outside the vocabulary.
	ErrInvalidDecision = errors.New("invalid decision output")
	ErrProvider        = errors.New("decision provider failed")
)

const (
	LevelHigh   = "HIGH"
	LevelMedium = "MEDIUM"
	LevelPoor   = "POOR"
)

// Output is the closed three-field answer of the decision model.
type Output struct {
	AttendanceDecision string `json:"attendance_decision" validate:"required,oneof=PRESENT ABSENT"`
	UnderstandingLevel string `json:"understanding_level" validate:"required,oneof=HIGH MEDIUM POOR"`
	Reason             string `json:"reason" validate:"required,max=2000"`
}

// Input is everything the decision is based on.
type Input struct {
	SubmissionID      uuid.UUID
	UserID            uuid.UUID
	LectureInstanceID uuid.UUID
	Status            models.SubmissionStatus
	Decided           bool
	OCRText           string
	AIScore           float64
	AIConfidence      float64
	AIReason          string
	MaxSimilarity     float64
	CopiedFrom        *uuid.UUID
	SubjectName       string
	Concept           string
}

type Store interface {
	DecisionInput(ctx context.Context, submissionID uuid.UUID) (Input, error)
	// RecordDecision stores out on the submission and projects it onto the attendance
	// record in one transaction. It returns ErrNotReady or ErrAlreadyDecided when the
	// submission changed underneath.
	RecordDecision(ctx context.Context, in Input, out Output) error
}

type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type Engine struct {
	Store    Store
	Provider Generator
	Timeout  time.Duration
	// MaxTextChars bounds the transcription quoted in the prompt.
	MaxTextChars int
}

var validate = validator.New()

// Decide renders and records the attendance decision for a finished submission. Nothing
// is written unless the provider's answer validates.
func (e *Engine) Decide(ctx context.Context, submissionID uuid.UUID) (*Output, error) {
	in, err := e.Store.DecisionInput(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load decision input: %w", err)
	}
	if in.Status != models.StatusAllDone {
		return nil, fmt.Errorf("%w: status is %q", ErrNotReady, in.Status)
	}
	if in.Decided {
		return nil, ErrAlreadyDecided
	}

	pctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	raw, err := e.Provider.Generate(pctx, buildPrompt(in, e.MaxTextChars))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	out, err := Parse(raw)
	if err != nil {
		log.Printf("DECISION rejected output for %s: %v", submissionID, err)
		return nil, err
	}
	if err := e.Store.RecordDecision(ctx, in, out); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	log.Printf("DECISION %s -> %s (%s)", submissionID, out.AttendanceDecision, out.UnderstandingLevel)
	return &out, nil
}

// Parse decodes and validates a provider answer. Unknown fields and values outside the
// vocabulary are rejected as they are; nothing is coerced.
func Parse(raw []byte) (Output, error) {
	var out Output
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if dec.More() {
		return Output{}, fmt.Errorf("%w: trailing data", ErrInvalidDecision)
	}
	if err := validate.Struct(out); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return out, nil
}
