package main

import (
	"testing"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/storage"
	"github.com/google/uuid"
)

func TestDescribeImage(t *testing.T) {
	lec, user := uuid.New(), uuid.New()
	sub := &models.Submission{UserID: user, LectureInstanceID: lec, ImageRef: storage.NewKey("submission", lec, user, ".jpg")}
	info := describeImage(sub)
	if info["owner_matches"] != true {
		t.Fatalf("expected owner_matches got %v", info)
	}
	ts, ok := info["stored_at"].(time.Time)
	if !ok || time.Since(ts) > time.Minute {
		t.Fatalf("expected a recent stored_at got %v", info["stored_at"])
	}

	sub.UserID = uuid.New()
	if info := describeImage(sub); info["owner_matches"] != false {
		t.Fatalf("expected owner mismatch for another student got %v", info)
	}

	sub.ImageRef = "uploads/legacy.jpg"
	if info := describeImage(sub); info["foreign_key"] != true {
		t.Fatalf("expected foreign_key for a hand-made ref got %v", info)
	}
}
