// Package sweeper finds submissions whose pipeline run stopped before a decision and,
// when allowed, restarts them from their last persisted status.
package sweeper

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/process/report"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

type Lister interface {
	ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.Submission, error)
}

// Resumer starts a pipeline run; false means one is already in flight or it is shutting down.
type Resumer interface {
	Start(id uuid.UUID) bool
}

type Sweeper struct {
	Store Lister
	After time.Duration
	Limit int
	// Resumer is optional; without it the sweep only reports.
	Resumer Resumer
	// Report receives the stalled report of every sweep when set.
	Report io.Writer
}

// Result of one sweep.
type Result struct {
	Found   int
	Resumed int
}

// Sweep lists stalled submissions and resumes them when a Resumer is configured.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	subs, err := s.Store.ListStalled(ctx, s.After, s.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("list stalled: %w", err)
	}
	res := Result{Found: len(subs)}
	if s.Report != nil {
		if err := report.Stalled(s.Report, subs, s.After); err != nil {
			log.Printf("SWEEP report: %v", err)
		}
	}
	if s.Resumer == nil {
		return res, nil
	}
	for _, sub := range subs {
		if s.Resumer.Start(sub.ID) {
			res.Resumed++
			log.Printf("SWEEP resumed %s from %q (failed stage %q)", sub.ID, sub.Status, sub.FailedStage)
		}
	}
	return res, nil
}

// Schedule runs Sweep on the cron spec (standard five fields or descriptors like
// "@every 5m") and returns the started scheduler. Stop it on shutdown.
func (s *Sweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		res, err := s.Sweep(ctx)
		if err != nil {
			log.Printf("SWEEP failed: %v", err)
			return
		}
		if res.Found > 0 {
			log.Printf("SWEEP stalled=%d resumed=%d", res.Found, res.Resumed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	c.Start()
	log.Printf("SWEEP scheduled %q (after=%s resume=%v)", spec, s.After, s.Resumer != nil)
	return c, nil
}
