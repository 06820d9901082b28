// Package store is the Postgres persistence layer, built on gorm.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is a unique-constraint violation.
	ErrDuplicate = errors.New("already exists")
	// ErrVersionConflict is returned when an attendance record kept changing underneath a
	// compare-and-swap writer.
	ErrVersionConflict = errors.New("attendance record changed concurrently")
)

// attendanceRetries bounds compare-and-swap attempts on one attendance record.
const attendanceRetries = 5

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

// mapError translates driver errors into the package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

var (
	// ErrForbidden is returned when the acting teacher does not own the lecture.
	ErrForbidden = errors.New("not allowed")
	// ErrInvalidState is returned when a lifecycle step does not apply to the current state.
	ErrInvalidState = errors.New("invalid state")
)
