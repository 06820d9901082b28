// Package embed maps transcribed text to a fixed-dimension vector for similarity search.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrDimension is returned when the provider's vector length differs from the configured one.
var ErrDimension = errors.New("embedding dimension mismatch")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Service struct {
	Provider Embedder
	// Dim is the expected vector length; zero disables the check.
	Dim     int
	Timeout time.Duration
}

// Embed returns the vector for text. Blank text and a provider that answers without a
// vector both yield an empty, non-nil vector, which callers treat as "similarity skipped".
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		log.Printf("EMBED skipped: no text")
		return []float64{}, nil
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	vec, err := s.Provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		log.Printf("EMBED provider returned no vector (text len=%d)", len(text))
		return []float64{}, nil
	}
	if s.Dim > 0 && len(vec) != s.Dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimension, len(vec), s.Dim)
	}
	return vec, nil
}
