// Package scorer defines the scoring oracle contract: a similarity score in
// [0,1] plus structured feedback comparing a candidate rule set against a
// reference. The same underlying metric, with the reference argument swapped
// for a second candidate, serves as the symmetric pairwise scorer used by
// self-consistency selection.
package scorer

import "context"

// Result is one evaluation outcome
type Result struct {
	Similarity float64 `json:"similarity"`
	Feedback   string  `json:"feedback"`
}

// Scorer evaluates candidate rules against a reference definition
type Scorer interface {
	// Score compares candidate rules with the reference and returns a
	// similarity in [0,1] together with structured feedback describing the
	// differences (missing rules, extra rules, mismatches).
	Score(ctx context.Context, candidate, reference string) (Result, error)
}

// PairwiseScorer computes a symmetric similarity between two candidates.
// No feedback is produced; only the score matters for consensus selection.
type PairwiseScorer interface {
	Pairwise(ctx context.Context, a, b string) (float64, error)
}

// Oracle is a backend serving both scoring roles. The refinement loop uses
// one service for reference scoring and pairwise consensus scoring alike.
type Oracle interface {
	Scorer
	PairwiseScorer
}
