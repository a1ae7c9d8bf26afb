// Package vector provides vector math operations for embedlens.
//
// This package consolidates all vector similarity and distance calculations
// used throughout the codebase. The clustering algorithms and the similarity
// search orchestrator both score vectors through these functions so that a
// distance means the same thing everywhere.
//
// Main Functions:
//   - CosineSimilarity: 1 - cosine distance, unclamped
//   - EuclideanDistance: raw L2 distance
//   - EuclideanSimilarity: distance mapped to (0, 1] via 1 / (1 + d)
//   - DotProduct: raw inner product, unnormalized
//   - SquaredEuclidean: squared L2 distance (BIC)
//   - Validate: rejects empty and non-finite vectors
//
// All functions operate on float64 slices. Stored embeddings are float32;
// use FromFloat32 to widen them before scoring.
//
// Dimension contract: every two-vector function returns ErrDimensionMismatch
// when the lengths differ. Callers never get a silently truncated score.
package vector

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Errors returned by vector operations.
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVector       = errors.New("empty vector")
	ErrNonFinite         = errors.New("vector contains non-finite value")
)

// CosineSimilarity calculates 1 - cosine_distance(a, b).
//
// The result is NOT clamped. For unit-normalized inputs it lies in [-1, 1];
// callers that assume a [0, 1] range must normalize upstream. When either
// vector has zero norm the cosine is undefined and the pair is scored as
// orthogonal (0).
//
// Example:
//
//	a := []float64{1.0, 2.0, 3.0}
//	b := []float64{4.0, 5.0, 6.0}
//	sim, _ := CosineSimilarity(a, b) // 0.9746318461970762
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	cosineDistance := 1 - floats.Dot(a, b)/(normA*normB)
	return 1 - cosineDistance, nil
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(a, b, 2), nil
}

// EuclideanSimilarity maps Euclidean distance into a ranking score.
//
// Formula: 1 / (1 + distance)
//
// Identical vectors score 1.0; the score decays toward 0 as the distance
// grows.
//
// Example:
//
//	a := []float64{1.0, 2.0, 3.0}
//	b := []float64{4.0, 5.0, 6.0}
//	sim, _ := EuclideanSimilarity(a, b) // ~0.161
func EuclideanSimilarity(a, b []float64) (float64, error) {
	d, err := EuclideanDistance(a, b)
	if err != nil {
		return 0, err
	}
	return 1.0 / (1.0 + d), nil
}

// DotProduct calculates the raw dot product of two vectors.
//
// Only a meaningful similarity proxy for unit-normalized inputs; the value
// is not clamped.
func DotProduct(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Dot(a, b), nil
}

// SquaredEuclidean returns the squared L2 distance between a and b.
//
// Used for the BIC within-cluster sum of squares. Lengths are assumed
// equal (callers validate the whole point set once up front), so no error
// is returned.
func SquaredEuclidean(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// Validate reports whether v is usable for scoring: non-empty and finite.
func Validate(v []float64) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	return nil
}

// FromFloat32 widens a stored float32 embedding to float64.
func FromFloat32(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// ToFloat32 narrows a float64 vector for storage.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func dimensionError(a, b int) error {
	return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, a, b)
}
