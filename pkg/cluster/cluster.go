// Package cluster provides unsupervised clustering of embedding point sets.
//
// Three algorithms are available, all operating on dense float64 points of
// any dimension (raw embeddings or externally reduced 2D/3D coordinates):
//
//   - KMeans: Lloyd's iterative centroid refinement, seeded deterministically
//   - DBSCAN: density-based clustering with a -1 noise label
//   - Hierarchical: agglomerative single-linkage merging
//
// SelectK scores k-means runs over a k range with the Bayesian Information
// Criterion and picks the cluster count automatically.
//
// Run and Dispatch form the single entry point: Run takes a typed Method
// (KMeansMethod, DBSCANMethod, HierarchicalMethod); Dispatch parses the wire
// request {points, method, params} into one first.
//
// Example Usage:
//
//	points := [][]float64{{0, 0}, {0, 1}, {10, 10}, {10, 11}}
//
//	res, err := cluster.KMeans(points, 2, cluster.DefaultMaxIterations, 42)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Labels, res.NClusters) // [1 1 0 0] 2
//
//	eps, minSamples := 1.5, 2
//	res, err = cluster.Dispatch(cluster.Request{
//		Points: points,
//		Method: "dbscan",
//		Params: cluster.Params{Eps: &eps, MinSamples: &minSamples},
//	})
//
// Determinism:
//
// Every function here is a pure function of its inputs (and seed). There is
// no package-level state, no goroutines and no I/O: the same points, method
// and seed always produce bit-identical labels. Long runs are not
// cancellable from inside; hosts impose deadlines externally (see
// pkg/analytics).
package cluster

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by the clustering engine. Callers match with errors.Is;
// messages carry the offending detail.
var (
	// ErrInvalidInput covers empty point sets, out-of-range parameters,
	// inconsistent dimensions and non-finite coordinates.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownMethod is returned for an unrecognized clustering method.
	ErrUnknownMethod = errors.New("unknown clustering method")

	// ErrDegenerateCase is returned when BIC variance is not positive
	// (a perfect fit), where ln(variance) is undefined.
	ErrDegenerateCase = errors.New("degenerate case")
)

// NoiseLabel marks a DBSCAN point that belongs to no cluster.
const NoiseLabel = -1

// Result is the outcome of a clustering run.
//
// len(Labels) always equals the number of input points. Every label lies in
// [0, NClusters), except DBSCAN's NoiseLabel.
type Result struct {
	Labels    []int `json:"labels"`
	NClusters int   `json:"n_clusters"`

	// BICScores is set only when the cluster count was selected
	// automatically.
	BICScores []BICScore `json:"bic_scores,omitempty"`
}

// ClusterSizes returns the member count of each cluster id. Noise points
// are not counted.
func (r Result) ClusterSizes() []int {
	sizes := make([]int, r.NClusters)
	for _, l := range r.Labels {
		if l >= 0 && l < r.NClusters {
			sizes[l]++
		}
	}
	return sizes
}

// NoiseCount returns how many points were labeled as noise.
func (r Result) NoiseCount() int {
	count := 0
	for _, l := range r.Labels {
		if l == NoiseLabel {
			count++
		}
	}
	return count
}

// validatePoints checks that points is non-empty, rectangular and finite.
// It returns the point count and dimension.
func validatePoints(points [][]float64) (n, dim int, err error) {
	n = len(points)
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: empty dataset", ErrInvalidInput)
	}

	dim = len(points[0])
	if dim == 0 {
		return 0, 0, fmt.Errorf("%w: point 0 has no coordinates", ErrInvalidInput)
	}

	for i, p := range points {
		if len(p) != dim {
			return 0, 0, fmt.Errorf("%w: point %d has dimension %d, expected %d", ErrInvalidInput, i, len(p), dim)
		}
		for j, x := range p {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return 0, 0, fmt.Errorf("%w: point %d has non-finite value at index %d", ErrInvalidInput, i, j)
			}
		}
	}

	return n, dim, nil
}
