package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type blockingProc struct {
	release chan struct{}
	runs    atomic.Int32
	mu      sync.Mutex
	errs    []error
}

func (b *blockingProc) Process(ctx context.Context, id uuid.UUID) error {
	b.runs.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		b.errs = append(b.errs, ctx.Err())
		b.mu.Unlock()
		return ctx.Err()
	}
}

func TestRunnerDeduplicatesAndDrains(t *testing.T) {
	p := &blockingProc{release: make(chan struct{})}
	r := NewRunner(p, time.Minute)
	id := uuid.New()
	if !r.Start(id) {
		t.Fatalf("expected first start to run")
	}
	if r.Start(id) {
		t.Fatalf("expected duplicate start to be refused")
	}
	close(p.release)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected wait error %v", err)
	}
	if p.runs.Load() != 1 {
		t.Fatalf("expected one run got %d", p.runs.Load())
	}
	if r.Start(uuid.New()) {
		t.Fatalf("runner must refuse work after Wait")
	}
}

func TestRunnerWaitCancelsOnDeadline(t *testing.T) {
	p := &blockingProc{release: make(chan struct{})}
	r := NewRunner(p, 0)
	r.Start(uuid.New())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) != 1 {
		t.Fatalf("expected in-flight run to be cancelled")
	}
}
