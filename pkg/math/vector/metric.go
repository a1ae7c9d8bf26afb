package vector

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned when a metric tag is not recognized.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric selects how two vectors are compared during similarity search.
type Metric int

const (
	// MetricCosine scores by 1 - cosine distance.
	MetricCosine Metric = iota
	// MetricEuclidean scores by 1 / (1 + L2 distance).
	MetricEuclidean
	// MetricDotProduct scores by the raw inner product.
	MetricDotProduct
)

// String returns the wire tag of the metric.
func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDotProduct:
		return "dot_product"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric converts a wire tag ("cosine", "euclidean", "dot_product")
// into a Metric. Matching is case-insensitive.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return MetricCosine, nil
	case "euclidean":
		return MetricEuclidean, nil
	case "dot_product":
		return MetricDotProduct, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// MarshalText implements encoding.TextMarshaler so metrics serialize by tag.
func (m Metric) MarshalText() ([]byte, error) {
	switch m {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, int(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Similarity scores a and b under the metric. Higher is always more similar.
func (m Metric) Similarity(a, b []float64) (float64, error) {
	switch m {
	case MetricCosine:
		return CosineSimilarity(a, b)
	case MetricEuclidean:
		return EuclideanSimilarity(a, b)
	case MetricDotProduct:
		return DotProduct(a, b)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMetric, int(m))
	}
}
