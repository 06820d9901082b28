// Package aicheck scores transcribed notes for the likelihood that they were not written
// by the student.
package aicheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

var (
	// ErrProvider wraps any failure of the underlying model call.
	ErrProvider = errors.New("ai check provider failed")
	// ErrMalformed is returned when the provider answered with something that is not a
	// usable classification.
	ErrMalformed = errors.New("malformed ai check response")
)

// Generator returns the raw JSON answer of a model to a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Result is a classification on a 0-1 scale.
type Result struct {
	Score      float64 `json:"ai_score"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// NoText is returned for blank input without calling the provider.
var NoText = Result{Score: 0, Confidence: 0, Reason: "no text to classify"}

type Classifier struct {
	Provider Generator
	Timeout  time.Duration
	// MaxChars truncates long transcriptions before they are sent. Zero means no limit.
	MaxChars int
}

func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return NoText, nil
	}
	if c.MaxChars > 0 {
		if r := []rune(text); len(r) > c.MaxChars {
			text = string(r[:c.MaxChars])
		}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	raw, err := c.Provider.Generate(ctx, buildPrompt(text))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	res, err := parse(raw)
	if err != nil {
		log.Printf("AICHECK bad response %q: %v", string(raw), err)
		return Result{}, err
	}
	return res, nil
}

func parse(raw []byte) (Result, error) {
	raw = stripFence(raw)
	var wire struct {
		Score      *float64 `json:"ai_score"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Score == nil || wire.Confidence == nil {
		return Result{}, fmt.Errorf("%w: missing ai_score or confidence", ErrMalformed)
	}
	scale := 1.0
	if *wire.Score > 1 || *wire.Confidence > 1 {
		scale = 100
	}
	score, err := unit(*wire.Score, scale)
	if err != nil {
		return Result{}, fmt.Errorf("%w: ai_score %v", ErrMalformed, err)
	}
	conf, err := unit(*wire.Confidence, scale)
	if err != nil {
		return Result{}, fmt.Errorf("%w: confidence %v", ErrMalformed, err)
	}
	return Result{Score: score, Confidence: conf, Reason: strings.TrimSpace(wire.Reason)}, nil
}

// unit maps v onto 0-1. Models sometimes answer in percent; the caller picks the scale
// once per response so both fields are read the same way.
func unit(v, scale float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > scale {
		return 0, fmt.Errorf("%v out of range", v)
	}
	return v / scale, nil
}

// stripFence removes a markdown code fence some models wrap around JSON.
func stripFence(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```json"))
	raw = bytes.TrimPrefix(raw, []byte("```"))
	raw = bytes.TrimSuffix(raw, []byte("```"))
	return bytes.TrimSpace(raw)
}

func buildPrompt(text string) string {
	return `You review handwritten lecture notes that were photographed and transcribed by OCR.
Estimate how likely it is that the text below was produced by an AI model or copied from a
generated source rather than written by a student during the lecture.

OCR noise, spelling mistakes, abbreviations, crossed-out words and ` + "[UNCLEAR]" + ` markers are
normal for student notes and point towards human authorship.

Answer with JSON only:
{"ai_score": <0.0-1.0, likelihood of AI origin>, "confidence": <0.0-1.0>, "reason": "<one short sentence>"}

Text:
"""
` + text + `
"""`
}
