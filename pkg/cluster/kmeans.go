package cluster

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/orneryd/embedlens/pkg/math/prng"
)

// DefaultMaxIterations bounds Lloyd iterations when the caller does not.
const DefaultMaxIterations = 100

// kmeansModel is the full output of a Lloyd run. The centroids are needed by
// the BIC selector; public callers only see the labels.
type kmeansModel struct {
	labels     []int
	centroids  [][]float64
	iterations int
}

// KMeans partitions points into k clusters with Lloyd's algorithm.
//
// Algorithm:
//  1. Seed k distinct centroids by drawing point indices from a mulberry32
//     source seeded with seed (repeats are redrawn).
//  2. Assign each point to the nearest centroid (Euclidean); ties go to the
//     lowest centroid index.
//  3. Move each centroid to the mean of its points. A centroid that lost all
//     of its points keeps its previous position.
//  4. Repeat until no label changes or maxIterations is reached.
//
// Preconditions (ErrInvalidInput otherwise): a non-empty rectangular finite
// point set, 1 <= k <= len(points), maxIterations >= 1. Checking k up front
// keeps distinct-centroid sampling from spinning forever.
//
// Example:
//
//	points := [][]float64{{0, 0}, {0, 1}, {10, 10}, {10, 11}}
//	res, _ := cluster.KMeans(points, 2, 100, 42)
//	// res.Labels groups {0,1} and {2,3}
func KMeans(points [][]float64, k, maxIterations int, seed int64) (Result, error) {
	n, _, err := validatePoints(points)
	if err != nil {
		return Result{}, err
	}
	if err := validateKMeansParams(n, k, maxIterations); err != nil {
		return Result{}, err
	}

	model := lloyd(points, k, maxIterations, seed)
	return Result{Labels: model.labels, NClusters: k}, nil
}

func validateKMeansParams(n, k, maxIterations int) error {
	if k < 1 || k > n {
		return fmt.Errorf("%w: k=%d must be in [1, %d]", ErrInvalidInput, k, n)
	}
	if maxIterations < 1 {
		return fmt.Errorf("%w: maxIterations=%d must be positive", ErrInvalidInput, maxIterations)
	}
	return nil
}

// lloyd runs k-means on pre-validated input.
func lloyd(points [][]float64, k, maxIterations int, seed int64) kmeansModel {
	n := len(points)
	centroids := initCentroids(points, k, seed)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	// Pre-allocate centroid update buffers to avoid allocations in hot loop
	dims := len(points[0])
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	counts := make([]int, k)

	iterations := 0
	for iter := 0; iter < maxIterations; iter++ {
		iterations++

		changed := false
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		updateCentroids(points, labels, centroids, sums, counts)
	}

	return kmeansModel{labels: labels, centroids: centroids, iterations: iterations}
}

// initCentroids draws k distinct point indices, in draw order. Requires
// k <= len(points).
func initCentroids(points [][]float64, k int, seed int64) [][]float64 {
	rng := prng.New(seed)
	n := len(points)

	chosen := make(map[int]struct{}, k)
	centroids := make([][]float64, 0, k)
	for len(centroids) < k {
		idx := rng.Intn(n)
		if _, dup := chosen[idx]; dup {
			continue
		}
		chosen[idx] = struct{}{}
		centroids = append(centroids, slices.Clone(points[idx]))
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid. Strict < keeps
// the lowest index on ties.
func nearestCentroid(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		d := floats.Distance(p, centroid, 2)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// updateCentroids moves each non-empty centroid to the mean of its members.
func updateCentroids(points [][]float64, labels []int, centroids, sums [][]float64, counts []int) {
	for c := range sums {
		clear(sums[c])
		counts[c] = 0
	}

	for i, p := range points {
		c := labels[i]
		floats.Add(sums[c], p)
		counts[c]++
	}

	for c, count := range counts {
		if count == 0 {
			continue // keep previous position
		}
		for d := range sums[c] {
			centroids[c][d] = sums[c][d] / float64(count)
		}
	}
}
