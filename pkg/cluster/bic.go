package cluster

import (
	"fmt"
	"math"

	"github.com/orneryd/embedlens/pkg/math/vector"
)

// BICMaxIterations is the reduced Lloyd budget used for each candidate k.
const BICMaxIterations = 50

// BICScore is the Bayesian Information Criterion of one k-means run.
// Lower is better.
type BICScore struct {
	K   int     `json:"k"`
	BIC float64 `json:"bic"`
}

// Selection is the outcome of automatic cluster-count selection.
type Selection struct {
	OptimalK int        `json:"optimal_k"`
	Scores   []BICScore `json:"bic_scores"`
}

// SelectK picks a cluster count in [minK, maxK] by minimizing BIC over
// k-means runs that all share seed.
//
// For each k:
//
//	wcss      = Σ ‖p − centroid(p)‖²
//	variance  = wcss / (n − k)
//	logL      = −n · ln(variance) / 2
//	numParams = k·d + k
//	bic       = −2·logL + ln(n)·numParams
//
// The minimum is tracked with a strict <, so the smallest k wins ties.
//
// Preconditions (ErrInvalidInput otherwise): a valid point set,
// 1 <= minK <= maxK and n > maxK, so that n − k stays positive.
// A k whose clustering fits perfectly (variance <= 0, e.g. duplicate
// points) makes ln(variance) undefined and fails with ErrDegenerateCase.
func SelectK(points [][]float64, minK, maxK int, seed int64) (Selection, error) {
	return SelectKWithIterations(points, minK, maxK, seed, BICMaxIterations)
}

// SelectKWithIterations is SelectK with an explicit per-k Lloyd budget.
func SelectKWithIterations(points [][]float64, minK, maxK int, seed int64, maxIterations int) (Selection, error) {
	n, dim, err := validatePoints(points)
	if err != nil {
		return Selection{}, err
	}
	if minK < 1 || minK > maxK {
		return Selection{}, fmt.Errorf("%w: cluster range [%d, %d] is empty or non-positive", ErrInvalidInput, minK, maxK)
	}
	if n <= maxK {
		return Selection{}, fmt.Errorf("%w: BIC needs more points than clusters (n=%d, maxK=%d)", ErrInvalidInput, n, maxK)
	}
	if maxIterations < 1 {
		return Selection{}, fmt.Errorf("%w: maxIterations=%d must be positive", ErrInvalidInput, maxIterations)
	}

	sel := Selection{
		OptimalK: minK,
		Scores:   make([]BICScore, 0, maxK-minK+1),
	}
	bestBIC := math.Inf(1)

	for k := minK; k <= maxK; k++ {
		model := lloyd(points, k, maxIterations, seed)

		bic, err := bicScore(points, model, dim)
		if err != nil {
			return Selection{}, err
		}

		sel.Scores = append(sel.Scores, BICScore{K: k, BIC: bic})
		if bic < bestBIC {
			bestBIC = bic
			sel.OptimalK = k
		}
	}

	return sel, nil
}

// bicScore computes the BIC of a fitted model.
func bicScore(points [][]float64, model kmeansModel, dim int) (float64, error) {
	n := len(points)
	k := len(model.centroids)

	var wcss float64
	for i, p := range points {
		wcss += vector.SquaredEuclidean(p, model.centroids[model.labels[i]])
	}

	variance := wcss / float64(n-k)
	if !(variance > 0) {
		return 0, fmt.Errorf("%w: variance %g at k=%d (wcss=%g)", ErrDegenerateCase, variance, k, wcss)
	}

	logLikelihood := -float64(n) * math.Log(variance) / 2
	numParams := float64(k*dim + k)
	return -2*logLikelihood + math.Log(float64(n))*numParams, nil
}
