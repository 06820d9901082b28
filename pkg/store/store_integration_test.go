package store

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/config"
	"github.com/Itypecode/E-DAV/pkg/decision"
	"github.com/Itypecode/E-DAV/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// openTestStore connects to DB_DSN. Integration tests are opt-in: set DB_DSN_TEST=1.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	cfg := config.Load()
	cfg.DBAutoMigrate = true
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return New(db)
}

type fixture struct {
	teacher, student *models.Profile
	lecture          *models.LectureInstance
	sub              *models.Submission
}

func newFixture(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	teacher, err := s.CreateProfile(ctx, "t_"+suffix, "Teacher", models.RoleTeacher, "pw")
	if err != nil {
		t.Fatalf("create teacher: %v", err)
	}
	student, err := s.CreateProfile(ctx, "s_"+suffix, "Student", models.RoleStudent, "pw")
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	lec := &models.LectureInstance{TeacherID: teacher.ID, SubjectCode: "PH101", SubjectName: "Physics", LectureDate: time.Now()}
	if err := s.CreateLecture(ctx, lec); err != nil {
		t.Fatalf("create lecture: %v", err)
	}
	if _, err := s.Enroll(ctx, lec.ID, []uuid.UUID{student.ID}); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	sub := &models.Submission{UserID: student.ID, LectureInstanceID: lec.ID, ImageRef: "x.jpg", UploadedAt: time.Now()}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return fixture{teacher: teacher, student: student, lecture: lec, sub: sub}
}

func TestIntegrationSubmissionUniquePerLecture(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	dup := &models.Submission{UserID: f.student.ID, LectureInstanceID: f.lecture.ID, ImageRef: "y.jpg", UploadedAt: time.Now()}
	if err := s.CreateSubmission(context.Background(), dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate got %v", err)
	}
}

func TestIntegrationSaveStageCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	text := "notes"
	u := models.SubmissionUpdate{Status: models.StatusOCRDone, OCRText: &text}
	if err := s.SaveStage(ctx, f.sub.ID, models.StatusPending, u); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveStage(ctx, f.sub.ID, models.StatusPending, u); !errors.Is(err, pipeline.ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus got %v", err)
	}
	if err := s.SaveStage(ctx, f.sub.ID, models.StatusOCRDone, models.SubmissionUpdate{Status: models.StatusAllDone}); err == nil {
		t.Fatalf("expected skipping a status to fail")
	}
}

func TestIntegrationDecisionRespectsManualOverride(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	out := decision.Output{AttendanceDecision: "ABSENT", UnderstandingLevel: "POOR", Reason: "copied"}
	in := decision.Input{SubmissionID: f.sub.ID, UserID: f.student.ID, LectureInstanceID: f.lecture.ID}

	if err := s.RecordDecision(ctx, in, out); !errors.Is(err, decision.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before All done got %v", err)
	}
	rec, _ := s.GetAttendance(ctx, f.student.ID, f.lecture.ID)
	if rec.Decision != models.DecisionPending {
		t.Fatalf("attendance must be untouched got %s", rec.Decision)
	}

	if err := s.DB.Model(&models.Submission{}).Where("id = ?", f.sub.ID).Update("status", models.StatusAllDone).Error; err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := s.Override(ctx, f.student.ID, f.lecture.ID, models.DecisionOD, "sports event"); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := s.RecordDecision(ctx, in, out); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	rec, _ = s.GetAttendance(ctx, f.student.ID, f.lecture.ID)
	if rec.Decision != models.DecisionOD || rec.Source != models.SourceTeacher {
		t.Fatalf("manual decision must win got %+v", rec)
	}
	if err := s.RecordDecision(ctx, in, out); !errors.Is(err, decision.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided got %v", err)
	}
}

func TestIntegrationLectureEndAndAppeal(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	if _, err := s.StartLecture(ctx, f.lecture.ID, f.student.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner got %v", err)
	}
	if _, err := s.StartLecture(ctx, f.lecture.ID, f.teacher.ID, "entropy"); err != nil {
		t.Fatalf("start: %v", err)
	}
	n, err := s.EndLecture(ctx, f.lecture.ID, f.teacher.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected one absent got %d %v", n, err)
	}
	rec, _ := s.GetAttendance(ctx, f.student.ID, f.lecture.ID)
	if rec.Decision != models.DecisionAbsent || rec.Source != models.SourceLectureEnd || rec.Version != 1 {
		t.Fatalf("unexpected record after end %+v", rec)
	}

	a, err := s.CreateAppeal(ctx, f.student.ID, f.lecture.ID, "I was there")
	if err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if _, err := s.CreateAppeal(ctx, f.student.ID, f.lecture.ID, "again"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected one pending appeal got %v", err)
	}
	if _, err := s.ResolveAppeal(ctx, a.ID, f.teacher.ID, true, "seen in class"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rec, _ = s.GetAttendance(ctx, f.student.ID, f.lecture.ID)
	if rec.Decision != models.DecisionPresent || rec.Source != models.SourceAppeal {
		t.Fatalf("expected PRESENT via appeal got %+v", rec)
	}
	if _, err := s.ResolveAppeal(ctx, a.ID, f.teacher.ID, false, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second resolve got %v", err)
	}
}

func TestIntegrationSimilarityCandidatesScopedToLecture(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	vec := pq.Float64Array{0.1, 0.2, 0.3}
	setEmbedding := func(id uuid.UUID, e pq.Float64Array) {
		t.Helper()
		if err := s.DB.Model(&models.Submission{}).Where("id = ?", id).Update("embedding", e).Error; err != nil {
			t.Fatalf("set embedding: %v", err)
		}
	}
	addSubmission := func(lectureID uuid.UUID, e pq.Float64Array) uuid.UUID {
		t.Helper()
		p, err := s.CreateProfile(ctx, "s_"+uuid.NewString()[:8], "Peer", models.RoleStudent, "pw")
		if err != nil {
			t.Fatalf("create peer: %v", err)
		}
		sub := &models.Submission{UserID: p.ID, LectureInstanceID: lectureID, ImageRef: "p.jpg", UploadedAt: time.Now()}
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("create submission: %v", err)
		}
		setEmbedding(sub.ID, e)
		return sub.ID
	}

	setEmbedding(f.sub.ID, vec)
	peerA := addSubmission(f.lecture.ID, pq.Float64Array{0.3, 0.2, 0.1})
	peerB := addSubmission(f.lecture.ID, vec)
	addSubmission(f.lecture.ID, pq.Float64Array{})

	other := &models.LectureInstance{TeacherID: f.teacher.ID, SubjectCode: "PH102", LectureDate: time.Now()}
	if err := s.CreateLecture(ctx, other); err != nil {
		t.Fatalf("create lecture: %v", err)
	}
	addSubmission(other.ID, vec)

	target, cands, err := s.SimilarityCandidates(ctx, f.sub.ID)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(target) != len(vec) {
		t.Fatalf("expected target embedding of %d got %v", len(vec), target)
	}
	want := []uuid.UUID{peerA, peerB}
	sort.Slice(want, func(i, j int) bool { return want[i].String() < want[j].String() })
	if len(cands) != len(want) {
		t.Fatalf("expected %d same-lecture candidates got %d: %+v", len(want), len(cands), cands)
	}
	for i, c := range cands {
		if c.SubmissionID != want[i] {
			t.Fatalf("candidate %d: expected %s got %s", i, want[i], c.SubmissionID)
		}
		if len(c.Embedding) == 0 {
			t.Fatalf("empty embedding returned for %s", c.SubmissionID)
		}
	}
}

func TestIntegrationOverrideManyWritesEveryEntry(t *testing.T) {
	s := openTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	other, err := s.CreateProfile(ctx, "s2_"+uuid.NewString()[:8], "Student", models.RoleStudent, "pw")
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	if _, err := s.OverrideMany(ctx, f.lecture.ID, []OverrideEntry{
		{UserID: f.student.ID, Decision: models.DecisionOD, Reason: "sports meet"},
		{UserID: other.ID, Decision: "MAYBE"},
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for a bad decision got %v", err)
	}
	if rec, _ := s.GetAttendance(ctx, f.student.ID, f.lecture.ID); rec.Decision == models.DecisionOD {
		t.Fatalf("rejected batch must not write any entry got %+v", rec)
	}
	recs, err := s.OverrideMany(ctx, f.lecture.ID, []OverrideEntry{
		{UserID: f.student.ID, Decision: models.DecisionOD, Reason: "sports meet"},
		{UserID: other.ID, Decision: models.DecisionAbsent},
	})
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected two records got %d %v", len(recs), err)
	}
	rec, _ := s.GetAttendance(ctx, other.ID, f.lecture.ID)
	if rec.Decision != models.DecisionAbsent || rec.Source != models.SourceTeacher {
		t.Fatalf("expected teacher ABSENT for second student got %+v", rec)
	}
}
