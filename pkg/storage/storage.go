// Package storage keeps uploaded note images, on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var ErrNotFound = errors.New("object not found")

// ObjectStore stores images under a key and returns the reference persisted on the
// submission. Load satisfies ocr.Loader.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Load(ctx context.Context, ref string) ([]byte, string, error)
	// URL returns an address a browser can fetch the image from.
	URL(ctx context.Context, ref string) (string, error)
}

// NewKey returns a unique, time-sortable key for a student's notes for one lecture.
func NewKey(prefix string, lectureID, userID uuid.UUID, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return path.Join(strings.Trim(prefix, "/"), lectureID.String(), userID.String(),
		ulid.Make().String()+ext)
}

// ParseKey extracts the lecture and user IDs from a key built by NewKey.
func ParseKey(key string) (lectureID, userID uuid.UUID, ok bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 3 {
		return uuid.Nil, uuid.Nil, false
	}
	n := len(parts)
	l, err1 := uuid.Parse(parts[n-3])
	u, err2 := uuid.Parse(parts[n-2])
	if err1 != nil || err2 != nil {
		return uuid.Nil, uuid.Nil, false
	}
	if _, err := ulid.ParseStrict(strings.TrimSuffix(parts[n-1], path.Ext(parts[n-1]))); err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return l, u, true
}

// KeyTime returns the creation time encoded in a key's ULID.
func KeyTime(key string) (time.Time, error) {
	base := path.Base(key)
	id, err := ulid.ParseStrict(strings.TrimSuffix(base, path.Ext(base)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse key %q: %w", key, err)
	}
	return ulid.Time(id.Time()), nil
}
