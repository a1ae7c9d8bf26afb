package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchical_TwoPairs(t *testing.T) {
	res, err := Hierarchical(twoPairs, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, res.Labels)
	assert.Equal(t, 2, res.NClusters)
}

func TestHierarchical_SingleCluster(t *testing.T) {
	res, err := Hierarchical(threeBlobs, 1)
	require.NoError(t, err)
	for _, l := range res.Labels {
		assert.Equal(t, 0, l)
	}
}

func TestHierarchical_NoMerges(t *testing.T) {
	res, err := Hierarchical(twoPairs, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, res.Labels)
}

func TestHierarchical_ThreeBlobs(t *testing.T) {
	res, err := Hierarchical(threeBlobs, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2}, res.Labels)
}

func TestHierarchical_SingleLinkageChains(t *testing.T) {
	// Single linkage follows the chain 0-1-2-3 (gaps of 1) before bridging
	// the gap of 5 to point 4.
	points := [][]float64{{0}, {1}, {2}, {3}, {8}}
	res, err := Hierarchical(points, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 1}, res.Labels)
}

func TestHierarchical_TiesMergeFirstPair(t *testing.T) {
	// All adjacent gaps are equal; the first pair (0,1) merges first, then
	// {0,1} with 2 (pair index 0,1 again), leaving 3 alone.
	points := [][]float64{{0}, {1}, {2}, {3}}
	res, err := Hierarchical(points, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1}, res.Labels)
}

func TestHierarchical_InvalidInput(t *testing.T) {
	_, err := Hierarchical(nil, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Hierarchical(twoPairs, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Hierarchical(twoPairs, 5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
