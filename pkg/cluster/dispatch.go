package cluster

import (
	"fmt"
	"strings"
)

// Method tags accepted on the wire.
const (
	MethodKMeans       = "kmeans"
	MethodDBSCAN       = "dbscan"
	MethodHierarchical = "hierarchical"
)

// Method is a closed sum type over the supported algorithms:
// KMeansMethod, DBSCANMethod and HierarchicalMethod. Pass variants by value.
type Method interface {
	// Tag returns the wire tag of the method.
	Tag() string

	sealed()
}

// AutoK requests BIC selection of the cluster count over
// [MinClusters, MaxClusters]. MaxClusters is clamped to n-1.
type AutoK struct {
	MinClusters int
	MaxClusters int

	// Iterations is the per-k Lloyd budget (default BICMaxIterations).
	Iterations int
}

// KMeansMethod runs KMeans with a fixed or BIC-selected k.
type KMeansMethod struct {
	NClusters     int
	Auto          *AutoK
	MaxIterations int // default DefaultMaxIterations
	Seed          int64
}

// DBSCANMethod runs DBSCAN.
type DBSCANMethod struct {
	Eps        float64
	MinSamples int
}

// HierarchicalMethod runs Hierarchical with a fixed or BIC-selected k.
// Seed only drives the k-means runs of BIC selection.
type HierarchicalMethod struct {
	NClusters int
	Auto      *AutoK
	Seed      int64
}

func (KMeansMethod) Tag() string       { return MethodKMeans }
func (DBSCANMethod) Tag() string       { return MethodDBSCAN }
func (HierarchicalMethod) Tag() string { return MethodHierarchical }

func (KMeansMethod) sealed()       {}
func (DBSCANMethod) sealed()       {}
func (HierarchicalMethod) sealed() {}

// Run clusters points with the given method.
//
// The match is exhaustive: anything other than the three value variants
// (including nil) fails with ErrUnknownMethod rather than falling back to a
// default algorithm.
func Run(points [][]float64, m Method) (Result, error) {
	switch m := m.(type) {
	case KMeansMethod:
		k, scores, err := resolveK(points, m.NClusters, m.Auto, m.Seed)
		if err != nil {
			return Result{}, err
		}
		maxIter := m.MaxIterations
		if maxIter == 0 {
			maxIter = DefaultMaxIterations
		}
		res, err := KMeans(points, k, maxIter, m.Seed)
		if err != nil {
			return Result{}, err
		}
		res.BICScores = scores
		return res, nil

	case DBSCANMethod:
		return DBSCAN(points, m.Eps, m.MinSamples)

	case HierarchicalMethod:
		k, scores, err := resolveK(points, m.NClusters, m.Auto, m.Seed)
		if err != nil {
			return Result{}, err
		}
		res, err := Hierarchical(points, k)
		if err != nil {
			return Result{}, err
		}
		res.BICScores = scores
		return res, nil

	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownMethod, m)
	}
}

// resolveK returns fixed when auto is nil, otherwise the BIC-optimal k.
func resolveK(points [][]float64, fixed int, auto *AutoK, seed int64) (int, []BICScore, error) {
	if auto == nil {
		return fixed, nil, nil
	}

	n, _, err := validatePoints(points)
	if err != nil {
		return 0, nil, err
	}

	maxK := min(auto.MaxClusters, n-1)
	if auto.MinClusters < 1 || auto.MinClusters > maxK {
		return 0, nil, fmt.Errorf("%w: min_clusters=%d exceeds usable max_clusters=%d for %d points",
			ErrInvalidInput, auto.MinClusters, maxK, n)
	}

	iterations := auto.Iterations
	if iterations == 0 {
		iterations = BICMaxIterations
	}

	sel, err := SelectKWithIterations(points, auto.MinClusters, maxK, seed, iterations)
	if err != nil {
		return 0, nil, err
	}
	return sel.OptimalK, sel.Scores, nil
}

// Params are the optional wire parameters of a clustering request.
type Params struct {
	NClusters    *int     `json:"n_clusters,omitempty"`
	Eps          *float64 `json:"eps,omitempty"`
	MinSamples   *int     `json:"min_samples,omitempty"`
	AutoClusters bool     `json:"auto_clusters,omitempty"`
	MinClusters  *int     `json:"min_clusters,omitempty"`
	MaxClusters  *int     `json:"max_clusters,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
}

// Request is the wire form of a clustering call.
type Request struct {
	Points [][]float64 `json:"points"`
	Method string      `json:"method"`
	Params Params      `json:"params"`
}

// Options supplies the defaults applied to missing Params.
type Options struct {
	MaxIterations int
	BICIterations int
	Seed          int64
	MinClusters   int
	MaxClusters   int
}

// DefaultOptions returns the defaults used by Dispatch.
func DefaultOptions() Options {
	return Options{
		MaxIterations: DefaultMaxIterations,
		BICIterations: BICMaxIterations,
		Seed:          42,
		MinClusters:   2,
		MaxClusters:   10,
	}
}

// Dispatch parses req and runs it with DefaultOptions.
func Dispatch(req Request) (Result, error) {
	return DispatchWithOptions(req, DefaultOptions())
}

// DispatchWithOptions parses req with opts as defaults and runs it.
func DispatchWithOptions(req Request, opts Options) (Result, error) {
	m, err := ParseMethod(req.Method, req.Params, opts)
	if err != nil {
		return Result{}, err
	}
	return Run(req.Points, m)
}

// ParseMethod builds a typed Method from a wire tag and its params.
//
// Unknown tags fail with ErrUnknownMethod. A missing required parameter
// (n_clusters without auto_clusters, eps, min_samples) fails with
// ErrInvalidInput.
func ParseMethod(tag string, p Params, opts Options) (Method, error) {
	seed := opts.Seed
	if p.Seed != nil {
		seed = *p.Seed
	}

	switch strings.ToLower(strings.TrimSpace(tag)) {
	case MethodKMeans:
		nClusters, auto, err := parseClusterCount(MethodKMeans, p, opts)
		if err != nil {
			return nil, err
		}
		return KMeansMethod{
			NClusters:     nClusters,
			Auto:          auto,
			MaxIterations: opts.MaxIterations,
			Seed:          seed,
		}, nil

	case MethodDBSCAN:
		if p.Eps == nil {
			return nil, fmt.Errorf("%w: eps is required for %s", ErrInvalidInput, MethodDBSCAN)
		}
		if p.MinSamples == nil {
			return nil, fmt.Errorf("%w: min_samples is required for %s", ErrInvalidInput, MethodDBSCAN)
		}
		return DBSCANMethod{Eps: *p.Eps, MinSamples: *p.MinSamples}, nil

	case MethodHierarchical:
		nClusters, auto, err := parseClusterCount(MethodHierarchical, p, opts)
		if err != nil {
			return nil, err
		}
		return HierarchicalMethod{NClusters: nClusters, Auto: auto, Seed: seed}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tag)
	}
}

func parseClusterCount(method string, p Params, opts Options) (int, *AutoK, error) {
	if p.AutoClusters {
		auto := &AutoK{
			MinClusters: opts.MinClusters,
			MaxClusters: opts.MaxClusters,
			Iterations:  opts.BICIterations,
		}
		if p.MinClusters != nil {
			auto.MinClusters = *p.MinClusters
		}
		if p.MaxClusters != nil {
			auto.MaxClusters = *p.MaxClusters
		}
		return 0, auto, nil
	}

	if p.NClusters == nil {
		return 0, nil, fmt.Errorf("%w: n_clusters is required for %s unless auto_clusters is set", ErrInvalidInput, method)
	}
	return *p.NClusters, nil, nil
}
