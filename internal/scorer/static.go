package scorer

import (
	"context"
	"fmt"
)

const staticFeedback = "static scorer: fixed similarity, no rule-level feedback"

// Static is a fixed-score oracle for offline smoke runs: every evaluation
// returns the same similarity, so the loop and CLI can be exercised without
// the similarity service or an API key. Not a meaningful evaluator.
type Static struct {
	similarity float64
}

var _ Oracle = (*Static)(nil)

// NewStatic creates a static oracle returning the given similarity
func NewStatic(similarity float64) (*Static, error) {
	if similarity < 0 || similarity > 1 {
		return nil, fmt.Errorf("static similarity must be between 0.0 and 1.0 (got %g)", similarity)
	}
	return &Static{similarity: similarity}, nil
}

// Score implements Scorer
func (s *Static) Score(ctx context.Context, candidate, reference string) (Result, error) {
	return Result{Similarity: s.similarity, Feedback: staticFeedback}, nil
}

// Pairwise implements PairwiseScorer
func (s *Static) Pairwise(ctx context.Context, a, b string) (float64, error) {
	return s.similarity, nil
}
