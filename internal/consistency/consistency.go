// Package consistency selects a consensus candidate from an ensemble of
// stochastic generations.
//
// Multiple candidates are sampled at an exploration temperature, every pair
// is scored for mutual similarity, and the candidate most representative of
// the ensemble (highest mean similarity to the others) wins. No ground-truth
// reference is involved; agreement is the only signal.
package consistency

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"rtecgen/internal/scorer"
)

// Selection is the outcome of consensus selection over N candidates.
// Matrix is the N×N symmetric similarity matrix (diagonal 1.0); Averages[i]
// is candidate i's mean similarity to the other candidates. For the trivial
// N=1 case no pairwise work happens and both are nil.
type Selection struct {
	Index      int
	Confidence float64
	Matrix     [][]float64
	Averages   []float64
	Samples    int
	Unanimous  bool
}

// Selector computes consensus selections using a pairwise scorer
type Selector struct {
	scorer scorer.PairwiseScorer

	// MaxConcurrentPairs bounds parallel pairwise scoring (0 = unbounded).
	MaxConcurrentPairs int
}

// NewSelector creates a selector over the given pairwise scorer
func NewSelector(ps scorer.PairwiseScorer) *Selector {
	return &Selector{scorer: ps}
}

// Select chooses the consensus candidate among the given texts.
//
// The N·(N−1)/2 pairwise scores are computed concurrently. If any pairwise
// call fails the whole selection fails; an argmax over a partial matrix
// would be meaningless. Ties on mean similarity break toward the lowest
// index. Confidence is the geometric mean of the winner's typicality (its
// mean similarity) and overall ensemble agreement (mean of all off-diagonal
// entries), so it stays in [0,1].
func (s *Selector) Select(ctx context.Context, candidates []string) (*Selection, error) {
	n := len(candidates)
	if n == 0 {
		return nil, fmt.Errorf("no candidates to select from")
	}
	if n == 1 {
		return &Selection{Index: 0, Confidence: 1.0, Samples: 1, Unanimous: true}, nil
	}

	var matrix [][]float64
	if allIdentical(candidates) {
		// Identical texts score 1.0 by definition; skip the scorer entirely.
		matrix = onesMatrix(n)
	} else {
		var err error
		matrix, err = s.pairwiseMatrix(ctx, candidates)
		if err != nil {
			return nil, err
		}
	}

	averages := meanOffDiagonal(matrix)
	best := argmax(averages)

	return &Selection{
		Index:      best,
		Confidence: confidence(averages, matrix),
		Matrix:     matrix,
		Averages:   averages,
		Samples:    n,
		Unanimous:  unanimous(matrix),
	}, nil
}

// pairwiseMatrix fills the symmetric N×N matrix, computing only the upper
// triangle and mirroring it.
func (s *Selector) pairwiseMatrix(ctx context.Context, candidates []string) ([][]float64, error) {
	n := len(candidates)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1.0
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if s.MaxConcurrentPairs > 0 {
		eg.SetLimit(s.MaxConcurrentPairs)
	}

	var mu sync.Mutex
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			i, j := i, j
			eg.Go(func() error {
				sim, err := s.scorer.Pairwise(egCtx, candidates[i], candidates[j])
				if err != nil {
					return fmt.Errorf("pairwise scoring (%d, %d) failed: %w", i, j, err)
				}
				mu.Lock()
				matrix[i][j] = sim
				matrix[j][i] = sim
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return matrix, nil
}

// meanOffDiagonal returns, per row, the mean of the entries excluding the
// diagonal.
func meanOffDiagonal(matrix [][]float64) []float64 {
	n := len(matrix)
	averages := make([]float64, n)
	for i := 0; i < n; i++ {
		var total float64
		for j := 0; j < n; j++ {
			if j != i {
				total += matrix[i][j]
			}
		}
		averages[i] = total / float64(n-1)
	}
	return averages
}

// argmax returns the index of the largest value, lowest index on ties
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// confidence is sqrt(max mean similarity × mean off-diagonal similarity)
func confidence(averages []float64, matrix [][]float64) float64 {
	maxAvg := averages[argmax(averages)]

	n := len(matrix)
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += matrix[i][j]
			count++
		}
	}
	meanPairwise := 1.0
	if count > 0 {
		meanPairwise = sum / float64(count)
	}
	return math.Sqrt(maxAvg * meanPairwise)
}

// unanimous reports whether every off-diagonal entry is exactly 1.0
func unanimous(matrix [][]float64) bool {
	n := len(matrix)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && matrix[i][j] != 1.0 {
				return false
			}
		}
	}
	return true
}

func allIdentical(candidates []string) bool {
	for _, c := range candidates[1:] {
		if c != candidates[0] {
			return false
		}
	}
	return true
}

func onesMatrix(n int) [][]float64 {
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		for j := range matrix[i] {
			matrix[i][j] = 1.0
		}
	}
	return matrix
}
