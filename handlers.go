package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/intake"
	"github.com/Itypecode/E-DAV/pkg/storage"
	"github.com/Itypecode/E-DAV/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type profileFinder interface {
	ProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
	ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// apiStore is what the HTTP layer reads and writes; *store.Store implements it.
type apiStore interface {
	profileFinder
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	ListSubmissions(ctx context.Context, userID uuid.UUID) ([]models.Submission, error)
	StudentAttendance(ctx context.Context, userID uuid.UUID) ([]models.AttendanceRecord, error)
	CreateAppeal(ctx context.Context, userID, lectureID uuid.UUID, reason string) (*models.Appeal, error)
	StudentAppeals(ctx context.Context, userID uuid.UUID) ([]models.Appeal, error)
	TeacherAppeals(ctx context.Context, teacherID uuid.UUID, status string) ([]store.AppealRow, error)
	ResolveAppeal(ctx context.Context, appealID, teacherID uuid.UUID, approve bool, note string) (*models.Appeal, error)
	TeacherLectures(ctx context.Context, teacherID uuid.UUID, since time.Time) ([]models.LectureInstance, error)
	OwnsLecture(ctx context.Context, id, teacherID uuid.UUID) error
	StartLecture(ctx context.Context, id, teacherID uuid.UUID, concept string) (*models.LectureInstance, error)
	EndLecture(ctx context.Context, id, teacherID uuid.UUID) (int64, error)
	Enroll(ctx context.Context, lectureID uuid.UUID, userIDs []uuid.UUID) (int64, error)
	LectureAttendance(ctx context.Context, lectureID uuid.UUID) ([]store.AttendanceRow, error)
	OverrideMany(ctx context.Context, lectureID uuid.UUID, entries []store.OverrideEntry) ([]models.AttendanceRecord, error)
}

type uploader interface {
	Submit(ctx context.Context, userID, lectureID uuid.UUID, data []byte) (*intake.Receipt, error)
}

type server struct {
	store    apiStore
	intake   uploader
	objects  storage.ObjectStore
	auth     authConfig
	maxBytes int64
}

func setupRoutes(r *gin.Engine, s *server) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if l, ok := s.objects.(*storage.Local); ok {
		r.Static(l.URLPrefix, l.Base)
	}
	r.POST("/auth/login", s.loginHandler)

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware(s.auth))
	authGroup.GET("/auth/me", s.meHandler)
	authGroup.GET("/submissions/:id/status", s.submissionStatusHandler)

	student := authGroup.Group("")
	student.Use(requireRole(models.RoleStudent))
	student.POST("/upload", s.uploadHandler)
	student.GET("/submissions", s.listSubmissionsHandler)
	student.GET("/attendance", s.myAttendanceHandler)
	student.POST("/appeals", s.createAppealHandler)
	student.GET("/appeals", s.myAppealsHandler)

	teacher := authGroup.Group("/teacher")
	teacher.Use(requireRole(models.RoleTeacher))
	teacher.GET("/lectures", s.teacherLecturesHandler)
	teacher.POST("/lectures/:id/start", s.startLectureHandler)
	teacher.POST("/lectures/:id/end", s.endLectureHandler)
	teacher.POST("/lectures/:id/enroll", s.enrollHandler)
	teacher.GET("/lectures/:id/attendance", s.lectureAttendanceHandler)
	teacher.POST("/lectures/:id/attendance", s.overrideAttendanceHandler)
	teacher.GET("/appeals", s.teacherAppealsHandler)
	teacher.POST("/appeals/:id/resolve", s.resolveAppealHandler)
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, intake.ErrLectureNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrForbidden), errors.Is(err, intake.ErrNotEnrolled), errors.Is(err, intake.ErrMarkedAbsent):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, intake.ErrDuplicate),
		errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, intake.ErrLectureClosed):
		status = http.StatusConflict
	case errors.Is(err, intake.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrBadImage):
		status = http.StatusUnsupportedMediaType
	}
	if status == http.StatusInternalServerError {
		log.Printf("API %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (s *server) loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Authenticate(c.Request.Context(), s.store, req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	token, exp, err := s.auth.issueToken(p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "login successful",
		"token":      token,
		"expires_at": exp,
		"user":       gin.H{"id": p.ID, "username": p.Username, "name": p.Name, "role": p.Role},
	})
}

func (s *server) meHandler(c *gin.Context) {
	p, err := s.store.ProfileByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.ID, "username": p.Username, "name": p.Name, "role": p.Role})
}

// uploadHandler accepts multipart notes: lecture_instance_id and file.
func (s *server) uploadHandler(c *gin.Context) {
	lectureID, err := uuid.Parse(c.PostForm("lecture_instance_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lecture_instance_id missing or invalid"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if s.maxBytes > 0 && file.Size > s.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	receipt, err := s.intake.Submit(c.Request.Context(), currentUserID(c), lectureID, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"submission_id": receipt.SubmissionID,
		"image_url":     receipt.ImageURL,
	})
}

func (s *server) listSubmissionsHandler(c *gin.Context) {
	subs, err := s.store.ListSubmissions(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

// submissionStatusHandler shows where a submission is in the pipeline. Visible to its
// owner and to the lecture's teacher.
func (s *server) submissionStatusHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	uid := currentUserID(c)
	if sub.UserID != uid {
		if c.GetString("role") != models.RoleTeacher || s.store.OwnsLecture(ctx, sub.LectureInstanceID, uid) != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             sub.ID,
		"status":         sub.Status,
		"ocr_provider":   sub.OCRProvider,
		"ai_score":       sub.AIScore,
		"max_similarity": sub.MaxSimilarity,
		"decided":        sub.DecidedAt != nil,
		"decided_at":     sub.DecidedAt,
		"decision":       sub.Decision,
		"failed_stage":   sub.FailedStage,
		"last_error":     sub.LastError,
		"updated_at":     sub.UpdatedAt,
	})
}

func (s *server) myAttendanceHandler(c *gin.Context) {
	recs, err := s.store.StudentAttendance(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *server) createAppealHandler(c *gin.Context) {
	var req struct {
		LectureInstanceID uuid.UUID `json:"lecture_instance_id" binding:"required"`
		Reason            string    `json:"reason" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.store.CreateAppeal(c.Request.Context(), currentUserID(c), req.LectureInstanceID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *server) myAppealsHandler(c *gin.Context) {
	as, err := s.store.StudentAppeals(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, as)
}

func (s *server) teacherLecturesHandler(c *gin.Context) {
	since := time.Now().Truncate(24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be YYYY-MM-DD"})
			return
		}
		since = t
	}
	ls, err := s.store.TeacherLectures(c.Request.Context(), currentUserID(c), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

func (s *server) startLectureHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Concept string `json:"concept"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	l, err := s.store.StartLecture(c.Request.Context(), id, currentUserID(c), req.Concept)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *server) endLectureHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	n, err := s.store.EndLecture(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.LectureEnded, "marked_absent": n})
}

func (s *server) enrollHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := s.store.OwnsLecture(ctx, id, currentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	n, err := s.store.Enroll(ctx, id, req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": n})
}

func (s *server) lectureAttendanceHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.OwnsLecture(ctx, id, currentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	rows, err := s.store.LectureAttendance(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// overrideAttendanceHandler applies teacher decisions (for example OD) in bulk. The batch
// is all or nothing.
func (s *server) overrideAttendanceHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Entries []struct {
			UserID   uuid.UUID `json:"user_id" binding:"required"`
			Decision string    `json:"decision" binding:"required,oneof=PRESENT ABSENT PENDING OD"`
			Reason   string    `json:"reason"`
		} `json:"entries" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := s.store.OwnsLecture(ctx, id, currentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	entries := make([]store.OverrideEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, store.OverrideEntry{UserID: e.UserID, Decision: e.Decision, Reason: e.Reason})
	}
	updated, err := s.store.OverrideMany(ctx, id, entries)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (s *server) teacherAppealsHandler(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", models.AppealPending, models.AppealApproved, models.AppealRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	rows, err := s.store.TeacherAppeals(c.Request.Context(), currentUserID(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *server) resolveAppealHandler(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Approve *bool  `json:"approve" binding:"required"`
		Note    string `json:"note" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.store.ResolveAppeal(c.Request.Context(), id, currentUserID(c), *req.Approve, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
