// Package similarity finds the most similar earlier submission for the same lecture instance.
package similarity

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Candidate is another submission's stored embedding.
type Candidate struct {
	SubmissionID uuid.UUID
	Embedding    []float64
}

// CandidateSource returns the target submission's embedding and every other submission of
// the same lecture instance that has a non-empty embedding.
type CandidateSource interface {
	SimilarityCandidates(ctx context.Context, submissionID uuid.UUID) (self []float64, others []Candidate, err error)
}

type Match struct {
	SubmissionID uuid.UUID `json:"matched_submission_id"`
	Similarity   float64   `json:"similarity"`
}

type Searcher struct {
	Source CandidateSource
}

// BestMatch returns the candidate with the highest cosine similarity, or nil when the
// submission has no embedding or there is nothing to compare against. Equal scores are
// resolved to the lowest submission ID.
func (s *Searcher) BestMatch(ctx context.Context, submissionID uuid.UUID) (*Match, error) {
	self, others, err := s.Source.SimilarityCandidates(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load similarity candidates: %w", err)
	}
	return best(submissionID, self, others), nil
}

func best(selfID uuid.UUID, self []float64, others []Candidate) *Match {
	if len(self) == 0 || len(others) == 0 {
		return nil
	}
	sorted := append([]Candidate(nil), others...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SubmissionID[:], sorted[j].SubmissionID[:]) < 0
	})
	var m *Match
	for _, c := range sorted {
		if c.SubmissionID == selfID {
			continue
		}
		if len(c.Embedding) != len(self) {
			log.Printf("SIMILARITY skip %s: dimension %d != %d", c.SubmissionID, len(c.Embedding), len(self))
			continue
		}
		sim, ok := Cosine(self, c.Embedding)
		if !ok {
			continue
		}
		if m == nil || sim > m.Similarity {
			m = &Match{SubmissionID: c.SubmissionID, Similarity: sim}
		}
	}
	return m
}

// Cosine returns the cosine similarity of a and b. ok is false for mismatched lengths or
// a zero vector.
func Cosine(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push identical vectors just past 1
	return math.Max(-1, math.Min(1, sim)), true
}
