// Package analytics hosts the clustering and similarity search engines.
//
// The algorithms in pkg/cluster are synchronous and cannot be interrupted.
// Engine runs every call on its own goroutine, bounds how many run at once
// with a weighted semaphore and gives each call a deadline. A call that
// outlives its deadline returns context.DeadlineExceeded to the caller while
// the computation finishes in the background and then frees its slot.
//
// Example Usage:
//
//	engine := analytics.New(store, analytics.OptionsFromConfig(cfg))
//
//	res, err := engine.Cluster(ctx, cluster.Request{
//		Points: points,
//		Method: "kmeans",
//		Params: cluster.Params{AutoClusters: true},
//	})
//	if errors.Is(err, context.DeadlineExceeded) {
//		log.Println("clustering took too long")
//	}
package analytics

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/orneryd/embedlens/pkg/cache"
	"github.com/orneryd/embedlens/pkg/cluster"
	"github.com/orneryd/embedlens/pkg/config"
	"github.com/orneryd/embedlens/pkg/logging"
	"github.com/orneryd/embedlens/pkg/math/vector"
	"github.com/orneryd/embedlens/pkg/search"
	"github.com/orneryd/embedlens/pkg/storage"
)

// DefaultJobTimeout is the per-call deadline when none is configured.
const DefaultJobTimeout = 30 * time.Second

// ErrNoEmbeddings is returned by ClusterStored when the model has no usable
// vectors.
var ErrNoEmbeddings = errors.New("no embeddings to cluster")

// Options configures an Engine.
type Options struct {
	// MaxConcurrentJobs bounds concurrently running calls.
	// Zero means runtime.NumCPU().
	MaxConcurrentJobs int

	// JobTimeout is the deadline of each call. Zero means DefaultJobTimeout.
	JobTimeout time.Duration

	// DotProductWindow is passed to the search service.
	DotProductWindow int

	// Clustering supplies defaults for missing clustering parameters.
	Clustering cluster.Options

	// ResultCacheSize is the number of Cluster results kept for identical
	// requests. Zero disables the cache.
	ResultCacheSize int

	// ResultCacheTTL expires cached results. Zero keeps them until evicted.
	ResultCacheTTL time.Duration

	// Logger receives per-call logs. Nil disables logging.
	Logger *zap.Logger
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentJobs: runtime.NumCPU(),
		JobTimeout:        DefaultJobTimeout,
		DotProductWindow:  search.DefaultDotProductWindow,
		Clustering:        cluster.DefaultOptions(),
	}
}

// OptionsFromConfig maps the loaded configuration onto engine options.
// The logger is left unset.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxConcurrentJobs: cfg.Analytics.MaxConcurrentJobs,
		JobTimeout:        cfg.Analytics.JobTimeout,
		ResultCacheSize:   cfg.Analytics.ResultCacheSize,
		ResultCacheTTL:    cfg.Analytics.ResultCacheTTL,
		DotProductWindow:  cfg.Search.DotProductWindow,
		Clustering: cluster.Options{
			MaxIterations: cfg.Clustering.MaxIterations,
			BICIterations: cfg.Clustering.BICIterations,
			Seed:          cfg.Clustering.Seed,
			MinClusters:   cfg.Clustering.MinClusters,
			MaxClusters:   cfg.Clustering.MaxClusters,
		},
	}
}

// Engine runs clustering and search calls under a concurrency bound and a
// per-call deadline. It is safe for concurrent use.
type Engine struct {
	source  search.CandidateSource
	search  *search.Service
	sem     *semaphore.Weighted
	timeout time.Duration
	cluster cluster.Options
	results *cache.ResultCache // nil when disabled
	logger  *zap.Logger
}

// New creates an Engine searching and clustering the embeddings of source.
// source may be nil when only Cluster is used.
func New(source search.CandidateSource, opts Options) *Engine {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = runtime.NumCPU()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.Clustering == (cluster.Options{}) {
		opts.Clustering = cluster.DefaultOptions()
	}
	logger := logging.Or(opts.Logger).Named("analytics")

	e := &Engine{
		source:  source,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		timeout: opts.JobTimeout,
		cluster: opts.Clustering,
		logger:  logger,
	}
	if opts.ResultCacheSize > 0 {
		e.results = cache.New(opts.ResultCacheSize, opts.ResultCacheTTL)
	}
	if source != nil {
		e.search = search.NewService(source, search.Options{
			DotProductWindow: opts.DotProductWindow,
			Logger:           opts.Logger,
		})
	}
	return e
}

// run executes fn on a worker goroutine once a slot is free.
//
// The slot is held until fn returns, even if the caller has already given
// up, so the bound reflects real CPU use.
func (e *Engine) run(ctx context.Context, op string, fields []zap.Field, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.logger.Warn("job not started", append(fields, zap.String("op", op), zap.Error(err))...)
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer e.sem.Release(1)
		done <- fn(ctx)
	}()

	err := wait(ctx, done)

	fields = append(fields, zap.String("op", op), zap.Duration("took", time.Since(start)))
	if err != nil {
		e.logger.Warn("job failed", append(fields, zap.Error(err))...)
		return err
	}
	e.logger.Info("job complete", fields...)
	return nil
}

// wait returns the job's result, or ctx.Err() once ctx is done. A job that
// has already finished when the deadline fires still reports its own result.
func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

// Cluster parses and runs a clustering request, filling missing parameters
// from the configured defaults.
//
// Results are deterministic, so when the result cache is enabled an
// identical request (same points, method, parameters and defaults) is
// answered from it without taking a job slot.
func (e *Engine) Cluster(ctx context.Context, req cluster.Request) (cluster.Result, error) {
	var key cache.Key
	if e.results != nil {
		var err error
		if key, err = cache.KeyOf(req, e.cluster); err != nil {
			return cluster.Result{}, fmt.Errorf("hashing request: %w", err)
		}
		if v, ok := e.results.Get(key); ok {
			e.logger.Debug("cluster result served from cache", zap.String("method", req.Method))
			return copyResult(v.(cluster.Result)), nil
		}
	}

	var res cluster.Result
	err := e.run(ctx, "cluster",
		[]zap.Field{zap.String("method", req.Method), zap.Int("points", len(req.Points))},
		func(context.Context) error {
			var err error
			res, err = cluster.DispatchWithOptions(req, e.cluster)
			return err
		})
	if err != nil {
		return cluster.Result{}, err
	}
	if e.results != nil {
		e.results.Put(key, copyResult(res))
	}
	return res, nil
}

// CacheStats reports result cache usage. The zero value is returned when
// the cache is disabled.
func (e *Engine) CacheStats() cache.Stats {
	if e.results == nil {
		return cache.Stats{}
	}
	return e.results.Stats()
}

// copyResult keeps cached results isolated from callers.
func copyResult(r cluster.Result) cluster.Result {
	r.Labels = append([]int(nil), r.Labels...)
	if r.BICScores != nil {
		r.BICScores = append([]cluster.BICScore(nil), r.BICScores...)
	}
	return r
}

// Search runs a similarity query.
func (e *Engine) Search(ctx context.Context, req search.Request) ([]search.SimilarityResult, error) {
	if e.search == nil {
		return nil, fmt.Errorf("%w: engine has no embedding source", search.ErrInvalidRequest)
	}

	var results []search.SimilarityResult
	err := e.run(ctx, "search",
		[]zap.Field{zap.String("model", req.ModelName), zap.Stringer("metric", req.Metric), zap.Int("limit", req.Limit)},
		func(ctx context.Context) error {
			var err error
			results, err = e.search.Search(ctx, req)
			return err
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Assignment ties a stored embedding to its cluster label.
type Assignment struct {
	ID    string `json:"id"`
	URI   string `json:"uri"`
	Label int    `json:"label"`
}

// StoredClustering is the result of clustering a model's stored embeddings.
// Assignments[i] corresponds to Labels[i].
type StoredClustering struct {
	cluster.Result
	Assignments []Assignment `json:"assignments"`
}

// ClusterStored clusters every usable embedding of modelName. Rows with
// empty or non-finite vectors, or with a dimension other than the first
// usable row's, are logged and left out.
func (e *Engine) ClusterStored(ctx context.Context, modelName, method string, params cluster.Params) (*StoredClustering, error) {
	if e.source == nil {
		return nil, fmt.Errorf("%w: engine has no embedding source", cluster.ErrInvalidInput)
	}

	var out *StoredClustering
	err := e.run(ctx, "cluster_stored",
		[]zap.Field{zap.String("model", modelName), zap.String("method", method)},
		func(ctx context.Context) error {
			var (
				points      [][]float64
				assignments []Assignment
			)
			err := e.source.StreamEmbeddings(ctx, modelName, func(emb *storage.Embedding) error {
				vec := vector.FromFloat32(emb.Vector)
				err := vector.Validate(vec)
				if err == nil && len(points) > 0 && len(vec) != len(points[0]) {
					err = fmt.Errorf("%w: expected %d dimensions, got %d",
						vector.ErrDimensionMismatch, len(points[0]), len(vec))
				}
				if err != nil {
					e.logger.Warn("skipping malformed embedding", zap.String("id", emb.ID), zap.Error(err))
					return nil
				}
				points = append(points, vec)
				assignments = append(assignments, Assignment{ID: emb.ID, URI: emb.URI})
				return nil
			})
			if err != nil {
				return fmt.Errorf("loading embeddings: %w", err)
			}
			if len(points) == 0 {
				return fmt.Errorf("%w for model %q", ErrNoEmbeddings, modelName)
			}

			res, err := cluster.DispatchWithOptions(cluster.Request{Points: points, Method: method, Params: params}, e.cluster)
			if err != nil {
				return err
			}
			for i := range assignments {
				assignments[i].Label = res.Labels[i]
			}
			out = &StoredClustering{Result: res, Assignments: assignments}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}
