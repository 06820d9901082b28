// Package ocr turns an uploaded notes image into verbatim text. A primary transcriber is
// tried first and a fallback transcriber exactly once when the primary fails; Extract
// never returns an error.
package ocr

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Loader fetches image bytes and their content type for a stored image reference.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, string, error)
}

// Transcriber is one OCR capability provider.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, data []byte, contentType, prompt string) (string, error)
}

// Result is the extracted text and the provider that produced it. Provider is empty when
// neither attempt produced text.
type Result struct {
	Text     string
	Provider string
}

type Extractor struct {
	Primary  Transcriber
	Fallback Transcriber
	Images   Loader
	// Timeout bounds each attempt, image load included. Zero means no extra bound.
	Timeout time.Duration
	// Prompt defaults to the package Prompt.
	Prompt string
}

// Extract transcribes the image at ref. When the primary attempt errors, times out or
// returns blank text, the fallback runs once and its result, possibly empty, is returned.
func (e *Extractor) Extract(ctx context.Context, ref string) Result {
	text, err := e.attempt(ctx, e.Primary, ref)
	if err == nil {
		return Result{Text: text, Provider: e.Primary.Name()}
	}
	log.Printf("OCR primary failed ref=%s: %v", ref, err)

	if ctx.Err() != nil {
		return Result{}
	}
	text, err = e.attempt(ctx, e.Fallback, ref)
	if err != nil {
		log.Printf("OCR fallback failed ref=%s: %v", ref, err)
		return Result{}
	}
	log.Printf("OCR fallback %s ok ref=%s text=%q", e.Fallback.Name(), ref, snippet(text, 60))
	return Result{Text: text, Provider: e.Fallback.Name()}
}

func (e *Extractor) attempt(ctx context.Context, t Transcriber, ref string) (string, error) {
	if t == nil {
		return "", ErrNoProvider
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	if e.Images == nil {
		return "", fmt.Errorf("%s: no image loader", t.Name())
	}
	data, ct, err := e.Images.Load(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%s: load image: %w", t.Name(), err)
	}
	prompt := e.Prompt
	if prompt == "" {
		prompt = Prompt
	}
	text, err := t.Transcribe(ctx, data, ct, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", t.Name(), ErrEmptyText)
	}
	return text, nil
}
