package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/aicheck"
	"github.com/Itypecode/E-DAV/pkg/decision"
	"github.com/Itypecode/E-DAV/pkg/ocr"
	"github.com/Itypecode/E-DAV/pkg/similarity"
	"github.com/google/uuid"
)

var errNoSubmission = errors.New("no such submission")

// memStore keeps one submission and records every status it was moved to.
type memStore struct {
	mu       sync.Mutex
	sub      models.Submission
	statuses []models.SubmissionStatus
	stalled  Stage
	saves    int
}

func newMemStore(status models.SubmissionStatus) *memStore {
	return &memStore{sub: models.Submission{ID: uuid.New(), Status: status, ImageRef: "img.jpg"}}
}

func (m *memStore) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.sub.ID {
		return nil, errNoSubmission
	}
	cp := m.sub
	return &cp, nil
}

func (m *memStore) SaveStage(ctx context.Context, id uuid.UUID, from models.SubmissionStatus, u models.SubmissionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub.Status != from {
		return ErrStaleStatus
	}
	m.saves++
	m.sub.Apply(u)
	if u.Status != "" {
		m.statuses = append(m.statuses, u.Status)
	}
	return nil
}

func (m *memStore) MarkStalled(ctx context.Context, id uuid.UUID, stage Stage, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalled = stage
	m.sub.FailedStage = string(stage)
	m.sub.LastError = cause.Error()
	return nil
}

type stubOCR struct {
	res   ocr.Result
	calls int
	after func()
}

func (s *stubOCR) Extract(ctx context.Context, ref string) ocr.Result {
	s.calls++
	if s.after != nil {
		s.after()
	}
	return s.res
}

type stubClassifier struct {
	err   error
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (aicheck.Result, error) {
	s.calls++
	if s.err != nil {
		return aicheck.Result{}, s.err
	}
	if text == "" {
		return aicheck.NoText, nil
	}
	return aicheck.Result{Score: 0.1, Confidence: 0.9, Reason: "human"}, nil
}

type stubEmbedder struct{ calls int }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	s.calls++
	if text == "" {
		return []float64{}, nil
	}
	return []float64{1, 0}, nil
}

type stubSearcher struct {
	match *similarity.Match
	calls int
}

func (s *stubSearcher) BestMatch(ctx context.Context, id uuid.UUID) (*similarity.Match, error) {
	s.calls++
	return s.match, nil
}

// stubDecider marks the submission decided in the store, like the real engine.
type stubDecider struct {
	store *memStore
	err   error
	calls int
}

func (s *stubDecider) Decide(ctx context.Context, id uuid.UUID) (*decision.Output, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.sub.Status != models.StatusAllDone {
		return nil, decision.ErrNotReady
	}
	now := time.Now()
	s.store.sub.DecidedAt = &now
	return &decision.Output{AttendanceDecision: "PRESENT", UnderstandingLevel: "HIGH", Reason: "ok"}, nil
}

type harness struct {
	store *memStore
	ocr   *stubOCR
	cls   *stubClassifier
	emb   *stubEmbedder
	sim   *stubSearcher
	dec   *stubDecider
	orch  *Orchestrator
}

func newHarness(status models.SubmissionStatus) *harness {
	h := &harness{
		store: newMemStore(status),
		ocr:   &stubOCR{res: ocr.Result{Text: "notes on entropy", Provider: "gemini"}},
		cls:   &stubClassifier{},
		emb:   &stubEmbedder{},
		sim:   &stubSearcher{},
	}
	h.dec = &stubDecider{store: h.store}
	h.orch = &Orchestrator{Store: h.store, OCR: h.ocr, Classifier: h.cls, Embedder: h.emb, Similarity: h.sim, Decision: h.dec}
	return h
}

func TestProcessFullRunAdvancesForwardOnly(t *testing.T) {
	h := newHarness(models.StatusPending)
	other := uuid.New()
	h.sim.match = &similarity.Match{SubmissionID: other, Similarity: 0.97}
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := []models.SubmissionStatus{models.StatusOCRDone, models.StatusEmbeddingDone, models.StatusAllDone}
	if len(h.store.statuses) != len(want) {
		t.Fatalf("expected statuses %v got %v", want, h.store.statuses)
	}
	for i := range want {
		if h.store.statuses[i] != want[i] {
			t.Fatalf("expected statuses %v got %v", want, h.store.statuses)
		}
	}
	s := h.store.sub
	if *s.OCRText != "notes on entropy" || s.OCRProvider != "gemini" || *s.AIScore != 0.1 {
		t.Fatalf("unexpected persisted fields %+v", s)
	}
	if s.CopiedFromSubmissionID == nil || *s.CopiedFromSubmissionID != other || *s.MaxSimilarity != 0.97 {
		t.Fatalf("expected similarity persisted got %+v", s)
	}
	if s.DecidedAt == nil || h.dec.calls != 1 {
		t.Fatalf("expected one decision")
	}
}

func TestProcessBlankImage(t *testing.T) {
	h := newHarness(models.StatusPending)
	h.ocr.res = ocr.Result{}
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	s := h.store.sub
	if s.OCRText == nil || *s.OCRText != "" {
		t.Fatalf("expected empty text persisted")
	}
	if s.Embedding == nil || len(s.Embedding) != 0 {
		t.Fatalf("expected empty embedding persisted got %v", s.Embedding)
	}
	if h.sim.calls != 0 || s.MaxSimilarity != nil {
		t.Fatalf("expected similarity to be skipped")
	}
	if s.Status != models.StatusAllDone || s.DecidedAt == nil {
		t.Fatalf("expected a decision for a blank submission got %+v", s)
	}
}

func TestProcessHaltsAtLastGoodStatus(t *testing.T) {
	h := newHarness(models.StatusPending)
	h.cls.err = aicheck.ErrProvider
	err := h.orch.Process(context.Background(), h.store.sub.ID)
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError got %v", err)
	}
	if se.Stage != StageAICheck || se.Status != models.StatusOCRDone || !errors.Is(err, aicheck.ErrProvider) {
		t.Fatalf("unexpected stage error %+v", se)
	}
	if h.store.sub.Status != models.StatusOCRDone || h.store.stalled != StageAICheck {
		t.Fatalf("expected submission stalled at ocr_done got %+v", h.store.sub)
	}
	if h.emb.calls != 0 || h.dec.calls != 0 {
		t.Fatalf("later stages must not run")
	}
}

func TestProcessResumeSkipsPersistedStages(t *testing.T) {
	h := newHarness(models.StatusPending)
	h.cls.err = errors.New("flaky")
	_ = h.orch.Process(context.Background(), h.store.sub.ID)

	h.cls.err = nil
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("unexpected error on resume %v", err)
	}
	if h.ocr.calls != 1 {
		t.Fatalf("expected OCR to run once got %d", h.ocr.calls)
	}
	if h.store.sub.FailedStage != "" || h.store.sub.LastError != "" {
		t.Fatalf("expected stage error cleared after resume")
	}
	if h.store.sub.DecidedAt == nil {
		t.Fatalf("expected resumed run to decide")
	}
}

func TestProcessAllDoneRunsOnlyDecision(t *testing.T) {
	h := newHarness(models.StatusAllDone)
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if h.ocr.calls+h.cls.calls+h.emb.calls+h.sim.calls != 0 || h.dec.calls != 1 {
		t.Fatalf("expected only the decision stage to run")
	}
	if h.store.saves != 0 {
		t.Fatalf("expected no submission writes got %d", h.store.saves)
	}
}

func TestProcessDecidedIsNoop(t *testing.T) {
	h := newHarness(models.StatusAllDone)
	now := time.Now()
	h.store.sub.DecidedAt = &now
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if h.dec.calls != 0 {
		t.Fatalf("decided submission must not be decided again")
	}
}

func TestProcessAlreadyDecidedByOtherRun(t *testing.T) {
	h := newHarness(models.StatusAllDone)
	h.dec.err = decision.ErrAlreadyDecided
	if err := h.orch.Process(context.Background(), h.store.sub.ID); err != nil {
		t.Fatalf("expected nil got %v", err)
	}
}

func TestProcessDecisionFailureKeepsAllDone(t *testing.T) {
	h := newHarness(models.StatusEmbeddingDone)
	h.store.sub.Embedding = []float64{1, 0}
	h.dec.err = decision.ErrInvalidDecision
	err := h.orch.Process(context.Background(), h.store.sub.ID)
	if !errors.Is(err, decision.ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision got %v", err)
	}
	if h.store.sub.Status != models.StatusAllDone || h.store.stalled != StageDecision {
		t.Fatalf("expected All done and stalled at decision got %+v", h.store.sub)
	}
}

func TestProcessCancelledDuringOCRPersistsNothing(t *testing.T) {
	h := newHarness(models.StatusPending)
	ctx, cancel := context.WithCancel(context.Background())
	h.ocr.after = cancel
	err := h.orch.Process(ctx, h.store.sub.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if h.store.sub.Status != models.StatusPending || h.store.sub.OCRText != nil {
		t.Fatalf("cancelled run must not persist OCR output")
	}
	if h.store.stalled != StageOCR {
		t.Fatalf("expected stall recorded with a fresh context")
	}
}

func TestProcessStaleStatusIsNotMarkedStalled(t *testing.T) {
	h := newHarness(models.StatusPending)
	h.ocr.after = func() {
		h.store.mu.Lock()
		h.store.sub.Status = models.StatusOCRDone
		h.store.mu.Unlock()
	}
	err := h.orch.Process(context.Background(), h.store.sub.ID)
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus got %v", err)
	}
	if h.store.stalled != "" {
		t.Fatalf("a concurrent run must not be reported as stalled")
	}
}

func TestProcessUnknownSubmission(t *testing.T) {
	h := newHarness(models.StatusPending)
	err := h.orch.Process(context.Background(), uuid.New())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageLoad || !errors.Is(err, errNoSubmission) {
		t.Fatalf("expected load StageError got %v", err)
	}
}
