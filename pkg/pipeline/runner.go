package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Processor interface {
	Process(ctx context.Context, id uuid.UUID) error
}

// Runner processes submissions in the background, one goroutine per submission. A
// submission already running in this process is not started twice.
type Runner struct {
	proc    Processor
	timeout time.Duration

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight map[uuid.UUID]struct{}
}

func NewRunner(p Processor, timeout time.Duration) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{proc: p, timeout: timeout, base: base, cancel: cancel, inflight: map[uuid.UUID]struct{}{}}
}

// Start launches processing of id and reports whether a new run was started.
func (r *Runner) Start(id uuid.UUID) bool {
	r.mu.Lock()
	if _, ok := r.inflight[id]; ok || r.closed {
		r.mu.Unlock()
		return false
	}
	r.inflight[id] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, id)
			r.mu.Unlock()
		}()
		ctx := r.base
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		if err := r.proc.Process(ctx, id); err != nil {
			log.Printf("PIPELINE %s: %v", id, err)
		}
	}()
	return true
}

// Wait stops accepting new runs and blocks until in-flight runs finish. When ctx ends
// first the remaining runs are cancelled and ctx's error is returned.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	stopped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-stopped
		return ctx.Err()
	}
}
