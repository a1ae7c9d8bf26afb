// Package search ranks stored embeddings by similarity to a query vector.
//
// The Service pulls candidates for one embedding model from a
// CandidateSource (normally a storage.Engine), scores each one under the
// requested metric, drops those below the threshold and returns the best
// matches in descending order.
//
// Search Capabilities:
//   - Cosine similarity (unclamped, zero-norm vectors score 0)
//   - Euclidean similarity, 1 / (1 + L2 distance)
//   - Raw dot product, read over a bounded candidate window
//   - Native pre-scoring when the source can do it (see NativeScorer)
//
// Example Usage:
//
//	svc := search.NewService(engine, search.DefaultOptions())
//
//	threshold := 0.75
//	results, err := svc.Search(ctx, search.Request{
//		QueryEmbedding: queryVec,
//		ModelName:      "text-embedding-3-small",
//		Limit:          10,
//		Threshold:      &threshold,
//		Metric:         vector.MetricCosine,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for _, r := range results {
//		fmt.Printf("[%.3f] %s\n", r.Similarity, r.URI)
//	}
//
// Fault isolation:
//
// A stored vector that cannot be scored (empty, non-finite or of another
// dimension than the query) is skipped and logged; the query still answers
// from the remaining rows. Only when every examined row disagrees with the
// query's dimension is the query itself rejected with ErrDimensionMismatch.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/embedlens/pkg/math/vector"
	"github.com/orneryd/embedlens/pkg/storage"
)

// DefaultDotProductWindow bounds how many candidates a dot-product query
// reads before ranking.
const DefaultDotProductWindow = 10000

var (
	// ErrInvalidRequest is returned for a malformed Request (non-positive
	// limit, empty or non-finite query, unknown metric, NaN threshold).
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrDimensionMismatch is returned when no examined candidate shares the
	// query's dimension.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
)

// CandidateSource streams the stored embeddings of one model.
// storage.Engine satisfies it.
type CandidateSource interface {
	StreamEmbeddings(ctx context.Context, modelName string, fn func(e *storage.Embedding) error) error
}

// NativeScorer is implemented by sources that can score and pre-filter
// candidates themselves (storage.MemoryEngine keeps widened vectors for
// this). The Service uses it for cosine and euclidean queries.
//
// Rows scoring below minScore may be omitted; the number omitted is
// returned. Rows that cannot be scored are reported through fn with a
// non-nil err.
type NativeScorer interface {
	ScoreEmbeddings(ctx context.Context, modelName string, query []float64, metric vector.Metric,
		minScore float64, fn func(e *storage.Embedding, score float64, err error) error) (int, error)
}

// Request is one similarity query.
type Request struct {
	QueryEmbedding []float64     `json:"query_embedding"`
	ModelName      string        `json:"model_name"`
	Limit          int           `json:"limit"`
	Threshold      *float64      `json:"threshold,omitempty"`
	Metric         vector.Metric `json:"metric"`
}

// SimilarityResult is one ranked match.
type SimilarityResult struct {
	ID         string    `json:"id"`
	URI        string    `json:"uri"`
	Text       string    `json:"text"`
	ModelName  string    `json:"model_name"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Options configures a Service.
type Options struct {
	// DotProductWindow caps the candidates read by a dot-product query.
	// Zero means DefaultDotProductWindow.
	DotProductWindow int

	// Logger receives skipped-row warnings. Nil disables logging.
	Logger *zap.Logger
}

// DefaultOptions returns the default Service options.
func DefaultOptions() Options {
	return Options{DotProductWindow: DefaultDotProductWindow}
}

// Service answers similarity queries against a CandidateSource.
//
// Thread Safety:
//
//	A Service holds no per-query state and is safe for concurrent use.
type Service struct {
	source CandidateSource
	window int
	logger *zap.Logger
}

// NewService creates a search service over source.
func NewService(source CandidateSource, opts Options) *Service {
	window := opts.DotProductWindow
	if window <= 0 {
		window = DefaultDotProductWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source: source,
		window: window,
		logger: logger.Named("search"),
	}
}

// candidate is a scored row waiting to be ranked.
type candidate struct {
	emb   *storage.Embedding
	score float64
}

// scanStats counts rows seen during one query.
type scanStats struct {
	examined   int
	mismatched int
	skipped    int
}

// Search returns at most req.Limit embeddings of req.ModelName ranked by
// descending similarity to req.QueryEmbedding.
//
// When req.Threshold is set, every returned similarity is >= *req.Threshold.
// Equal similarities keep the order in which the source streamed them.
func (s *Service) Search(ctx context.Context, req Request) ([]SimilarityResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	minScore := math.Inf(-1)
	if req.Threshold != nil {
		minScore = *req.Threshold
	}

	start := time.Now()
	var (
		candidates []candidate
		stats      scanStats
		err        error
	)
	native, ok := s.source.(NativeScorer)
	if ok && req.Metric != vector.MetricDotProduct {
		candidates, stats, err = s.scanNative(ctx, native, req, minScore)
	} else {
		candidates, stats, err = s.scan(ctx, req, minScore)
	}
	if err != nil {
		return nil, err
	}

	if stats.examined > 0 && stats.mismatched == stats.examined {
		return nil, fmt.Errorf("%w: query has %d dimensions but none of the %d %q embeddings do",
			ErrDimensionMismatch, len(req.QueryEmbedding), stats.examined, req.ModelName)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	results := make([]SimilarityResult, len(candidates))
	for i, c := range candidates {
		results[i] = SimilarityResult{
			ID:         c.emb.ID,
			URI:        c.emb.URI,
			Text:       c.emb.Text,
			ModelName:  c.emb.ModelName,
			Similarity: c.score,
			CreatedAt:  c.emb.CreatedAt,
			UpdatedAt:  c.emb.UpdatedAt,
		}
	}

	s.logger.Debug("search complete",
		zap.String("model", req.ModelName),
		zap.Stringer("metric", req.Metric),
		zap.Int("examined", stats.examined),
		zap.Int("skipped", stats.skipped),
		zap.Int("returned", len(results)),
		zap.Duration("took", time.Since(start)))
	return results, nil
}

// scan streams candidates and scores them here. Dot-product queries stop
// after the configured window.
func (s *Service) scan(ctx context.Context, req Request, minScore float64) ([]candidate, scanStats, error) {
	var (
		out   []candidate
		stats scanStats
	)
	limitWindow := req.Metric == vector.MetricDotProduct

	err := s.source.StreamEmbeddings(ctx, req.ModelName, func(e *storage.Embedding) error {
		if limitWindow && stats.examined >= s.window {
			return storage.ErrIterationStopped
		}
		stats.examined++

		vec := vector.FromFloat32(e.Vector)
		score, err := 0.0, vector.Validate(vec)
		if err == nil {
			score, err = req.Metric.Similarity(req.QueryEmbedding, vec)
		}
		if err != nil {
			s.skip(e, err, &stats)
			return nil
		}
		if score >= minScore {
			out = append(out, candidate{emb: e, score: score})
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("streaming candidates: %w", err)
	}
	return out, stats, nil
}

// scanNative lets the source score and pre-filter.
func (s *Service) scanNative(ctx context.Context, native NativeScorer, req Request, minScore float64) ([]candidate, scanStats, error) {
	var (
		out   []candidate
		stats scanStats
	)
	filtered, err := native.ScoreEmbeddings(ctx, req.ModelName, req.QueryEmbedding, req.Metric, minScore,
		func(e *storage.Embedding, score float64, err error) error {
			stats.examined++
			if err != nil {
				s.skip(e, err, &stats)
				return nil
			}
			// Re-checked: the source is allowed to be lenient.
			if score >= minScore {
				out = append(out, candidate{emb: e, score: score})
			}
			return nil
		})
	if err != nil {
		return nil, stats, fmt.Errorf("scoring candidates: %w", err)
	}
	// Filtered rows were scored, so they matched the query dimension.
	stats.examined += filtered
	return out, stats, nil
}

func (s *Service) skip(e *storage.Embedding, err error, stats *scanStats) {
	stats.skipped++
	if errors.Is(err, vector.ErrDimensionMismatch) {
		stats.mismatched++
	}
	s.logger.Warn("skipping malformed embedding",
		zap.String("id", e.ID),
		zap.String("model", e.ModelName),
		zap.Int("dimensions", len(e.Vector)),
		zap.Error(err))
}

func validateRequest(req Request) error {
	if req.Limit <= 0 {
		return fmt.Errorf("%w: limit=%d must be positive", ErrInvalidRequest, req.Limit)
	}
	if err := vector.Validate(req.QueryEmbedding); err != nil {
		return fmt.Errorf("%w: query embedding: %v", ErrInvalidRequest, err)
	}
	if _, err := req.Metric.MarshalText(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Threshold != nil && math.IsNaN(*req.Threshold) {
		return fmt.Errorf("%w: threshold is NaN", ErrInvalidRequest)
	}
	return nil
}
