package ocr

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLoader struct{ err error }

func (f fakeLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("img"), "image/jpeg", nil
}

type fakeTranscriber struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte, ct, prompt string) (string, error) {
	f.calls++
	if prompt == "" {
		return "", errors.New("missing prompt")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestExtractPrimarySuccessSkipsFallback(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", text: "  notes\n- bullet  "}
	f := &fakeTranscriber{name: "groq", text: "other"}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{}}
	r := e.Extract(context.Background(), "a.jpg")
	if r.Text != "notes\n- bullet" || r.Provider != "gemini" {
		t.Fatalf("unexpected result %+v", r)
	}
	if f.calls != 0 {
		t.Fatalf("expected fallback not called got %d", f.calls)
	}
}

func TestExtractFallbackCalledOnceOnError(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", err: errors.New("503")}
	f := &fakeTranscriber{name: "groq", text: "fallback text"}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{}}
	r := e.Extract(context.Background(), "a.jpg")
	if r.Text != "fallback text" || r.Provider != "groq" {
		t.Fatalf("unexpected result %+v", r)
	}
	if p.calls != 1 || f.calls != 1 {
		t.Fatalf("expected one call each got primary=%d fallback=%d", p.calls, f.calls)
	}
}

func TestExtractFallbackOnEmptyPrimary(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", text: "   "}
	f := &fakeTranscriber{name: "groq", text: "x"}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{}}
	if r := e.Extract(context.Background(), "a.jpg"); r.Text != "x" || f.calls != 1 {
		t.Fatalf("expected fallback result got %+v calls=%d", r, f.calls)
	}
}

func TestExtractBothFailDegradesToEmpty(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", err: errors.New("boom")}
	f := &fakeTranscriber{name: "groq", text: ""}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{}}
	r := e.Extract(context.Background(), "a.jpg")
	if r.Text != "" || r.Provider != "" {
		t.Fatalf("expected empty result got %+v", r)
	}
	if f.calls != 1 {
		t.Fatalf("expected fallback once got %d", f.calls)
	}
}

func TestExtractPrimaryTimeoutFallsBack(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", text: "late", delay: time.Second}
	f := &fakeTranscriber{name: "groq", text: "quick"}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{}, Timeout: 20 * time.Millisecond}
	if r := e.Extract(context.Background(), "a.jpg"); r.Text != "quick" {
		t.Fatalf("expected fallback after timeout got %+v", r)
	}
}

func TestExtractNoFallbackConfigured(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", err: errors.New("boom")}
	e := &Extractor{Primary: p, Images: fakeLoader{}}
	if r := e.Extract(context.Background(), "a.jpg"); r.Text != "" {
		t.Fatalf("expected empty got %+v", r)
	}
}

func TestExtractLoadErrorDegradesToEmpty(t *testing.T) {
	p := &fakeTranscriber{name: "gemini", text: "x"}
	f := &fakeTranscriber{name: "groq", text: "y"}
	e := &Extractor{Primary: p, Fallback: f, Images: fakeLoader{err: errors.New("missing")}}
	r := e.Extract(context.Background(), "a.jpg")
	if r.Text != "" || p.calls != 0 || f.calls != 0 {
		t.Fatalf("expected no transcriber calls got %+v p=%d f=%d", r, p.calls, f.calls)
	}
}
