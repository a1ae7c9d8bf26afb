package cluster

import (
	"fmt"
	"slices"

	"github.com/orneryd/embedlens/pkg/math/vector"
)

// Hierarchical performs agglomerative single-linkage clustering down to
// nClusters clusters.
//
// Algorithm:
//  1. Precompute the symmetric Euclidean distance matrix, O(n²·d).
//  2. Start with one cluster per point, in point order.
//  3. Scan all cluster pairs (i, j), ascending i then ascending j, and merge
//     the pair with the smallest single-linkage distance (the minimum
//     point-to-point distance between the clusters). The first pair found
//     wins ties. Cluster j is folded into cluster i and removed from the
//     list, so the relative order of the remaining clusters is preserved.
//  4. Repeat until nClusters remain.
//
// Labels are the index of each point's cluster in the final list. The
// numbering is deterministic for a given input order but carries no further
// meaning.
//
// Cluster-to-cluster distances are kept in a matrix updated with min() after
// each merge, which yields exactly the single-linkage minimum without
// rescanning member pairs.
//
// Preconditions (ErrInvalidInput otherwise): a non-empty rectangular finite
// point set, 1 <= nClusters <= len(points).
func Hierarchical(points [][]float64, nClusters int) (Result, error) {
	n, _, err := validatePoints(points)
	if err != nil {
		return Result{}, err
	}
	if nClusters < 1 || nClusters > n {
		return Result{}, fmt.Errorf("%w: nClusters=%d must be in [1, %d]", ErrInvalidInput, nClusters, n)
	}

	linkage := distanceMatrix(points)

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for len(clusters) > nClusters {
		bi, bj := closestPair(linkage)

		clusters[bi] = append(clusters[bi], clusters[bj]...)
		for m := range clusters {
			if m == bi || m == bj {
				continue
			}
			d := min(linkage[bi][m], linkage[bj][m])
			linkage[bi][m] = d
			linkage[m][bi] = d
		}

		clusters = slices.Delete(clusters, bj, bj+1)
		linkage = slices.Delete(linkage, bj, bj+1)
		for m := range linkage {
			linkage[m] = slices.Delete(linkage[m], bj, bj+1)
		}
	}

	labels := make([]int, n)
	for c, members := range clusters {
		for _, p := range members {
			labels[p] = c
		}
	}

	return Result{Labels: labels, NClusters: nClusters}, nil
}

// closestPair returns the first pair (i < j) with minimal linkage distance.
// Requires at least two clusters.
func closestPair(linkage [][]float64) (int, int) {
	bi, bj := 0, 1
	best := linkage[0][1]
	for i := 0; i < len(linkage); i++ {
		for j := i + 1; j < len(linkage); j++ {
			if linkage[i][j] < best {
				best = linkage[i][j]
				bi, bj = i, j
			}
		}
	}
	return bi, bj
}

// distanceMatrix computes all pairwise Euclidean distances.
func distanceMatrix(points [][]float64) [][]float64 {
	n := len(points)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, _ := vector.EuclideanDistance(points[i], points[j])
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m
}
