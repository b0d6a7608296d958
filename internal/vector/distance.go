package vector

import (
	"errors"
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// ErrUnknownMetric is returned when an index is constructed with an unsupported metric.
var ErrUnknownMetric = errors.New("unknown distance metric")

// Metric is the distance function an index is built with. It is fixed for the lifetime of the index.
type Metric uint8

const (
	// Cosine distance is 1 - dot over L2-normalized vectors.
	Cosine Metric = iota + 1
	// Euclidean is the L2 distance.
	Euclidean
	// Dot is the negated inner product, so smaller is closer.
	Dot
)

// ParseMetric converts a config name into a Metric.
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "cosine", "":
		return Cosine, nil
	case "euclidean", "l2":
		return Euclidean, nil
	case "dot", "inner_product":
		return Dot, nil
	}
	return 0, fmt.Errorf("%w: %q (supported: cosine, euclidean, dot)", ErrUnknownMetric, name)
}

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case Dot:
		return "dot"
	}
	return fmt.Sprintf("metric(%d)", uint8(m))
}

func (m Metric) valid() bool {
	return m >= Cosine && m <= Dot
}

type distanceFunc func(a, b []float32) float32

// distance returns the hot-path distance function. Both slices must already have equal length;
// vek32 dispatches to AVX2 kernels when the CPU supports them.
func (m Metric) distance() distanceFunc {
	switch m {
	case Euclidean:
		return vek32.Distance
	case Dot:
		return func(a, b []float32) float32 { return -vek32.Dot(a, b) }
	default:
		return func(a, b []float32) float32 { return 1 - vek32.Dot(a, b) }
	}
}

// Similarity converts a distance produced by metric m into a higher-is-better score.
// Cosine maps to [0,1]; Euclidean maps to (0,1]; Dot returns the raw inner product.
func Similarity(m Metric, d float32) float64 {
	switch m {
	case Euclidean:
		return 1 / (1 + float64(d))
	case Dot:
		return -float64(d)
	default:
		return math.Max(0, math.Min(1, 1-float64(d)))
	}
}

// prepare validates the dimension and returns a private copy of vec, normalized for cosine.
func prepare(m Metric, dim int, vec []float32) ([]float32, error) {
	if len(vec) != dim {
		return nil, dimensionError(dim, len(vec))
	}
	out := make([]float32, dim)
	copy(out, vec)
	if m == Cosine {
		if n := vek32.Norm(out); n > 0 {
			vek32.MulNumber_Inplace(out, 1/n)
		}
	}
	return out, nil
}
