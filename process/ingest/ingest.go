// Package ingest feeds photographed notes from a drop directory into intake. Files are
// named <username>__<lecture-id>.<ext>, for example when a classroom scanner or a
// teaching assistant collects paper notes in bulk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/intake"
	"github.com/Itypecode/E-DAV/pkg/store"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const nameSep = "__"

// ErrBadName is returned by ParseName for files not following <username>__<lecture-id>.<ext>.
var ErrBadName = errors.New("file name must be <username>__<lecture-id>.<ext>")

type Submitter interface {
	Submit(ctx context.Context, userID, lectureID uuid.UUID, data []byte) (*intake.Receipt, error)
}

type ProfileFinder interface {
	ProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
}

// Ingester moves every file it handles out of Dir: accepted (or already submitted) files
// go to ProcessedDir, rejected ones to FailedDir. Transient errors leave the file in place.
type Ingester struct {
	Dir          string
	ProcessedDir string
	FailedDir    string
	Intake       Submitter
	Profiles     ProfileFinder
	Workers      int
	Verbose      bool
}

// Stats counts outcomes of a scan.
type Stats struct {
	Submitted int
	Skipped   int
	Failed    int
}

type outcome int

const (
	outSubmitted outcome = iota
	outSkipped
	outFailed
	outRetry
)

func (in *Ingester) workers() int {
	if in.Workers <= 0 {
		return runtime.NumCPU()
	}
	return in.Workers
}

func (in *Ingester) logV(format string, args ...any) {
	if in.Verbose {
		log.Printf(format, args...)
	}
}

// ParseName splits a drop-directory file name into username and lecture ID.
func ParseName(name string) (string, uuid.UUID, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.LastIndex(base, nameSep)
	if i <= 0 {
		return "", uuid.Nil, ErrBadName
	}
	lecture, err := uuid.Parse(base[i+len(nameSep):])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: %v", ErrBadName, err)
	}
	return base[:i], lecture, nil
}

func isSupportedExt(name string) bool {
	// ignore partial writes
	if strings.HasSuffix(name, ".part") || strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Scan submits every file currently in Dir using a worker pool.
func (in *Ingester) Scan(ctx context.Context) (Stats, error) {
	files, err := listImageFiles(in.Dir)
	if err != nil {
		return Stats{}, err
	}
	log.Printf("INGEST scanning %d files in %s (workers=%d)", len(files), in.Dir, in.workers())
	fileCh := make(chan string)
	go func() {
		defer close(fileCh)
		for _, f := range files {
			select {
			case fileCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return in.runWorkerPool(ctx, fileCh), nil
}

// Watch scans Dir once, then submits new files as they appear until ctx is cancelled.
// Create events are debounced so files still being written are not read early.
func (in *Ingester) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.Dir); err != nil {
		return err
	}
	if _, err := in.Scan(ctx); err != nil {
		return err
	}
	log.Printf("INGEST watching %s (debounced) ...", in.Dir)

	fileCh := make(chan string, 256)
	done := make(chan Stats, 1)
	go func() { done <- in.runWorkerPool(ctx, fileCh) }()

	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(fileCh)
			st := <-done
			log.Printf("INGEST watch stopped: submitted=%d skipped=%d failed=%d", st.Submitted, st.Skipped, st.Failed)
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				close(fileCh)
				<-done
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				name := filepath.Base(ev.Name)
				if isSupportedExt(name) {
					pending[name] = time.Now()
				}
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > 300*time.Millisecond { // stable
					fileCh <- name
					delete(pending, name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				close(fileCh)
				<-done
				return nil
			}
			log.Printf("INGEST watch error: %v", err)
		}
	}
}

func (in *Ingester) runWorkerPool(ctx context.Context, fileCh <-chan string) Stats {
	var (
		mu sync.Mutex
		st Stats
		wg sync.WaitGroup
	)
	for i := 0; i < in.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				o := in.processFile(ctx, name)
				mu.Lock()
				switch o {
				case outSubmitted:
					st.Submitted++
				case outSkipped:
					st.Skipped++
				case outFailed, outRetry:
					st.Failed++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return st
}

func (in *Ingester) processFile(ctx context.Context, name string) outcome {
	src := filepath.Join(in.Dir, name)
	username, lectureID, err := ParseName(name)
	if err != nil {
		log.Printf("INGEST reject %s: %v", name, err)
		in.moveTo(in.FailedDir, src, name)
		return outFailed
	}
	p, err := in.Profiles.ProfileByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("INGEST reject %s: unknown user %q", name, username)
		in.moveTo(in.FailedDir, src, name)
		return outFailed
	}
	if err != nil {
		log.Printf("INGEST %s will be retried: profile lookup: %v", name, err)
		return outRetry
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) { // another worker got there first
			return outSkipped
		}
		log.Printf("INGEST read %s: %v", name, err)
		return outRetry
	}
	receipt, err := in.Intake.Submit(ctx, p.ID, lectureID, data)
	switch {
	case err == nil:
		log.Printf("INGEST submitted %s as %s", name, receipt.SubmissionID)
		in.moveTo(in.ProcessedDir, src, name)
		return outSubmitted
	case errors.Is(err, intake.ErrDuplicate):
		in.logV("SKIP already submitted %s", name)
		in.moveTo(in.ProcessedDir, src, name)
		return outSkipped
	case errors.Is(err, intake.ErrLectureNotFound), errors.Is(err, intake.ErrLectureClosed),
		errors.Is(err, intake.ErrNotEnrolled), errors.Is(err, intake.ErrMarkedAbsent),
		errors.Is(err, intake.ErrTooLarge), errors.Is(err, intake.ErrBadImage):
		log.Printf("INGEST reject %s: %v", name, err)
		in.moveTo(in.FailedDir, src, name)
		return outFailed
	}
	log.Printf("INGEST %s will be retried: %v", name, err)
	return outRetry
}

// moveTo moves src into dir. It attempts an atomic rename and falls back to copy+remove
// when dir is on another device. An empty dir leaves the file where it is.
func (in *Ingester) moveTo(dir, src, name string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("WARN create %s: %v", dir, err)
		return
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err == nil {
		in.logV("moved %s to %s", name, dir)
		return
	}
	if err := copyRemove(src, dst); err != nil {
		log.Printf("WARN failed to move %s to %s: %v", name, dir, err)
	}
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
