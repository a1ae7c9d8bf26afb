package cluster

import (
	"fmt"
	"math"

	"github.com/orneryd/embedlens/pkg/math/vector"
)

// DBSCAN groups points by density using Euclidean neighborhoods.
//
// A point's neighbors are the other points within eps (inclusive). A point
// is dense when it and its neighbors number at least minSamples; the point
// counts toward its own neighborhood, so minSamples = 1 makes every point a
// core point and no point is ever noise.
//
// Points are visited in index order. A point that is not dense is marked
// NoiseLabel. A dense unvisited point opens a new cluster and the cluster is
// grown from a seed set:
//   - a seed that was marked noise joins the cluster as a border point and is
//     not expanded again
//   - a seed already in any cluster keeps its label
//   - a dense seed appends its own neighbors to the seed set
//
// Cluster ids are assigned in discovery order, which follows point index
// order. Neighborhood queries are brute force, O(n) each.
//
// Preconditions (ErrInvalidInput otherwise): a non-empty rectangular finite
// point set, eps > 0, minSamples >= 1.
func DBSCAN(points [][]float64, eps float64, minSamples int) (Result, error) {
	n, _, err := validatePoints(points)
	if err != nil {
		return Result{}, err
	}
	if !(eps > 0) || math.IsInf(eps, 0) {
		return Result{}, fmt.Errorf("%w: eps=%v must be a positive finite number", ErrInvalidInput, eps)
	}
	if minSamples < 1 {
		return Result{}, fmt.Errorf("%w: minSamples=%d must be positive", ErrInvalidInput, minSamples)
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	visited := make([]bool, n)
	clusterID := 0

	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, eps)
		if len(neighbors)+1 < minSamples {
			labels[i] = NoiseLabel
			continue
		}

		labels[i] = clusterID
		seeds := neighbors
		for s := 0; s < len(seeds); s++ {
			q := seeds[s]
			if labels[q] == NoiseLabel {
				labels[q] = clusterID
			}
			if visited[q] {
				continue
			}
			visited[q] = true

			qNeighbors := regionQuery(points, q, eps)
			if len(qNeighbors)+1 >= minSamples {
				seeds = append(seeds, qNeighbors...)
			}
		}

		clusterID++
	}

	return Result{Labels: labels, NClusters: clusterID}, nil
}

// regionQuery returns the indices of all points within eps of points[idx],
// excluding idx itself, in index order.
func regionQuery(points [][]float64, idx int, eps float64) []int {
	var result []int
	q := points[idx]
	for j, p := range points {
		if j == idx {
			continue
		}
		// Lengths were validated up front; the error is unreachable.
		d, _ := vector.EuclideanDistance(q, p)
		if d <= eps {
			result = append(result, j)
		}
	}
	return result
}
