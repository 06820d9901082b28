package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{gorm.ErrRecordNotFound, ErrNotFound},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ErrDuplicate},
		{&pq.Error{Code: "23505"}, ErrDuplicate},
		{gorm.ErrDuplicatedKey, ErrDuplicate},
	}
	for _, c := range cases {
		if got := mapError(c.in); !errors.Is(got, c.want) {
			t.Fatalf("mapError(%v) expected %v got %v", c.in, c.want, got)
		}
	}
	other := &pgconn.PgError{Code: "23503"}
	if got := mapError(other); got != error(other) {
		t.Fatalf("expected FK violation to pass through got %v", got)
	}
	if mapError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestSQLLoggerLogMode(t *testing.T) {
	l := newSQLLogger(0)
	quiet := l.LogMode(gormlogger.Silent)
	if quiet.(*sqlLogger).level != gormlogger.Silent {
		t.Fatalf("expected silent level")
	}
	if l.(*sqlLogger).level != gormlogger.Warn {
		t.Fatalf("LogMode must not change the original logger")
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", 499) + "é tail"
	got := clip(msg, 500)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8 got %q", got)
	}
	if utf8.RuneCountInString(got) != 500 || !strings.HasSuffix(got, "é") {
		t.Fatalf("expected 500 runes ending in é got %q", got[len(got)-4:])
	}
	if clip("short", 500) != "short" {
		t.Fatalf("short messages must be unchanged")
	}
}
