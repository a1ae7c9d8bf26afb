package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/embedlens/pkg/cluster"
	"github.com/orneryd/embedlens/pkg/config"
	"github.com/orneryd/embedlens/pkg/math/vector"
	"github.com/orneryd/embedlens/pkg/search"
	"github.com/orneryd/embedlens/pkg/storage"
)

var twoPairs = [][]float64{{0, 0}, {0, 1}, {10, 10}, {10, 11}}

func intPtr(v int) *int { return &v }

func newStore(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	store := storage.NewMemoryEngine()
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutBatch([]*storage.Embedding{
		{ID: "p1", URI: "doc://1", ModelName: "m", Vector: []float32{0, 0}},
		{ID: "p2", URI: "doc://2", ModelName: "m", Vector: []float32{0, 1}},
		{ID: "p3", URI: "doc://3", ModelName: "m", Vector: []float32{10, 10}},
		{ID: "p4", URI: "doc://4", ModelName: "m", Vector: []float32{10, 11}},
	}))
	return store
}

func TestEngine_Cluster(t *testing.T) {
	engine := New(nil, DefaultOptions())

	res, err := engine.Cluster(context.Background(), cluster.Request{
		Points: twoPairs,
		Method: "kmeans",
		Params: cluster.Params{NClusters: intPtr(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0, 0}, res.Labels)

	_, err = engine.Cluster(context.Background(), cluster.Request{Points: twoPairs, Method: "spectral"})
	assert.ErrorIs(t, err, cluster.ErrUnknownMethod)
}

func TestEngine_ClusterUsesConfiguredDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Clustering.MinClusters = 1
	cfg.Clustering.MaxClusters = 2
	engine := New(nil, OptionsFromConfig(cfg))

	res, err := engine.Cluster(context.Background(), cluster.Request{
		Points: twoPairs,
		Method: "hierarchical",
		Params: cluster.Params{AutoClusters: true},
	})
	require.NoError(t, err)
	require.Len(t, res.BICScores, 2)
	assert.Equal(t, 1, res.BICScores[0].K)
	assert.Equal(t, 2, res.NClusters)
}

func TestEngine_JobTimeout(t *testing.T) {
	engine := New(nil, Options{MaxConcurrentJobs: 1, JobTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	finished := make(chan struct{})
	err := engine.run(context.Background(), "slow", nil, func(context.Context) error {
		defer close(finished)
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned job still holds the only slot.
	err = engine.run(context.Background(), "queued", nil, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-finished
	require.Eventually(t, func() bool {
		return engine.run(context.Background(), "after", nil, func(context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_CancelledContext(t *testing.T) {
	engine := New(nil, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Cluster(ctx, cluster.Request{
		Points: twoPairs,
		Method: "kmeans",
		Params: cluster.Params{NClusters: intPtr(2)},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWait_FinishedJobWinsOverDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		done := make(chan error, 1)
		done <- nil
		require.NoError(t, wait(ctx, done))
	}

	boom := errors.New("boom")
	done := make(chan error, 1)
	done <- boom
	assert.ErrorIs(t, wait(ctx, done), boom)

	assert.ErrorIs(t, wait(ctx, make(chan error, 1)), context.Canceled)
}

func TestEngine_JobErrorPassesThrough(t *testing.T) {
	engine := New(nil, DefaultOptions())
	boom := errors.New("boom")

	err := engine.run(context.Background(), "failing", nil, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestEngine_Search(t *testing.T) {
	engine := New(newStore(t), DefaultOptions())

	results, err := engine.Search(context.Background(), search.Request{
		QueryEmbedding: []float64{10, 11},
		ModelName:      "m",
		Limit:          2,
		Metric:         vector.MetricEuclidean,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p4", results[0].ID)
	assert.Equal(t, 1.0, results[0].Similarity)
	assert.Equal(t, "p3", results[1].ID)

	_, err = New(nil, DefaultOptions()).Search(context.Background(), search.Request{
		QueryEmbedding: []float64{1},
		Limit:          1,
	})
	assert.ErrorIs(t, err, search.ErrInvalidRequest)
}

func TestEngine_ClusterStored(t *testing.T) {
	engine := New(newStore(t), DefaultOptions())

	eps, minSamples := 1.5, 2
	out, err := engine.ClusterStored(context.Background(), "m", "dbscan",
		cluster.Params{Eps: &eps, MinSamples: &minSamples})
	require.NoError(t, err)

	assert.Equal(t, 2, out.NClusters)
	require.Len(t, out.Assignments, 4)
	assert.Equal(t, Assignment{ID: "p1", URI: "doc://1", Label: 0}, out.Assignments[0])
	assert.Equal(t, Assignment{ID: "p4", URI: "doc://4", Label: 1}, out.Assignments[3])

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"labels":[0,0,1,1]`)
	assert.Contains(t, string(data), `"assignments":[`)

	_, err = engine.ClusterStored(context.Background(), "missing", "dbscan",
		cluster.Params{Eps: &eps, MinSamples: &minSamples})
	assert.ErrorIs(t, err, ErrNoEmbeddings)
}

func TestEngine_ClusterStoredSkipsWrongDimension(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Put(&storage.Embedding{ID: "p5", URI: "doc://5", ModelName: "m", Vector: []float32{1, 2, 3}}))

	core, logs := observer.New(zap.WarnLevel)
	opts := DefaultOptions()
	opts.Logger = zap.New(core)
	engine := New(store, opts)

	eps, minSamples := 1.5, 2
	out, err := engine.ClusterStored(context.Background(), "m", "dbscan",
		cluster.Params{Eps: &eps, MinSamples: &minSamples})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 1, 1}, out.Labels)
	require.Len(t, out.Assignments, 4)
	assert.Equal(t, "p4", out.Assignments[3].ID)

	skipped := logs.FilterMessage("skipping malformed embedding").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "p5", skipped[0].ContextMap()["id"])
}

func TestEngine_ClusterResultCache(t *testing.T) {
	opts := DefaultOptions()
	opts.ResultCacheSize = 8
	engine := New(nil, opts)

	req := cluster.Request{
		Points: twoPairs,
		Method: "kmeans",
		Params: cluster.Params{NClusters: intPtr(2)},
	}

	first, err := engine.Cluster(context.Background(), req)
	require.NoError(t, err)
	first.Labels[0] = 99

	second, err := engine.Cluster(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0, 0}, second.Labels)

	stats := engine.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)

	// A different seed is a different request.
	seed := int64(7)
	req.Params.Seed = &seed
	_, err = engine.Cluster(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.CacheStats().Size)

	assert.Zero(t, New(nil, DefaultOptions()).CacheStats().MaxSize)
}
