package similarity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
)

type fakeSource struct {
	self   []float64
	others []Candidate
	err    error
}

func (f fakeSource) SimilarityCandidates(ctx context.Context, id uuid.UUID) ([]float64, []Candidate, error) {
	return f.self, f.others, f.err
}

// vecAt returns a unit vector with cosine c against (1, 0).
func vecAt(c float64) []float64 { return []float64{c, math.Sqrt(1 - c*c)} }

func TestBestMatchFindsCopiedNotes(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	s := &Searcher{Source: fakeSource{
		self:   []float64{1, 0},
		others: []Candidate{{SubmissionID: c, Embedding: vecAt(0.4)}, {SubmissionID: a, Embedding: vecAt(0.97)}},
	}}
	m, err := s.BestMatch(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if m == nil || m.SubmissionID != a || math.Abs(m.Similarity-0.97) > 1e-9 {
		t.Fatalf("expected match %s at 0.97 got %+v", a, m)
	}
}

func TestBestMatchTieBreaksOnLowestID(t *testing.T) {
	low := uuid.MustParse("10000000-0000-0000-0000-000000000000")
	high := uuid.MustParse("f0000000-0000-0000-0000-000000000000")
	src := fakeSource{
		self:   []float64{1, 2, 3},
		others: []Candidate{{SubmissionID: high, Embedding: []float64{1, 2, 3}}, {SubmissionID: low, Embedding: []float64{1, 2, 3}}},
	}
	s := &Searcher{Source: src}
	for i := 0; i < 5; i++ {
		m, err := s.BestMatch(context.Background(), uuid.New())
		if err != nil || m == nil || m.SubmissionID != low {
			t.Fatalf("expected lowest id %s got %+v %v", low, m, err)
		}
	}
}

func TestBestMatchEmptyCases(t *testing.T) {
	other := []Candidate{{SubmissionID: uuid.New(), Embedding: []float64{1, 0}}}
	cases := []fakeSource{
		{self: []float64{}, others: other},
		{self: nil, others: other},
		{self: []float64{1, 0}},
		{self: []float64{1, 0}, others: []Candidate{{SubmissionID: uuid.New(), Embedding: []float64{1, 0, 0}}}},
	}
	for i, src := range cases {
		m, err := (&Searcher{Source: src}).BestMatch(context.Background(), uuid.New())
		if err != nil || m != nil {
			t.Fatalf("case %d: expected no match got %+v %v", i, m, err)
		}
	}
}

func TestBestMatchSkipsSelf(t *testing.T) {
	self := uuid.New()
	src := fakeSource{self: []float64{1, 0}, others: []Candidate{{SubmissionID: self, Embedding: []float64{1, 0}}}}
	if m, _ := (&Searcher{Source: src}).BestMatch(context.Background(), self); m != nil {
		t.Fatalf("expected self to be ignored got %+v", m)
	}
}

func TestBestMatchSourceError(t *testing.T) {
	boom := errors.New("db down")
	if _, err := (&Searcher{Source: fakeSource{err: boom}}).BestMatch(context.Background(), uuid.New()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error got %v", err)
	}
}

func TestCosine(t *testing.T) {
	if _, ok := Cosine([]float64{0, 0}, []float64{1, 0}); ok {
		t.Fatalf("zero vector must not compare")
	}
	if v, ok := Cosine([]float64{1, 0}, []float64{-1, 0}); !ok || v != -1 {
		t.Fatalf("expected -1 got %v", v)
	}
}
