// Package vector provides approximate and exact nearest-neighbor indexes over fixed-dimension vectors.
package vector

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hyperjump/mnemo/internal/models"
	"go.uber.org/zap"
)

// Index stores vectors by document ID and answers top-k nearest-neighbor queries.
// Implementations are safe for concurrent use: searches run in parallel,
// mutations are exclusive, and readers never observe a partially applied mutation.
type Index interface {
	// Insert adds vec under id, replacing any vector already stored for id.
	Insert(ctx context.Context, id string, vec []float32) error
	// Remove deletes id. Returns models.ErrNotFound when id is absent.
	Remove(ctx context.Context, id string) error
	// Search returns up to k hits ordered by ascending distance, ties by ID.
	// ef is the candidate beam width; values below k are raised to k.
	Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error)
	// Rebuild replaces the index contents with a fresh build over src.
	Rebuild(ctx context.Context, src VectorSource) error
	// Save writes a snapshot tagged with gen, the store generation the index reflects.
	Save(path string, gen uint64) error
	// Load replaces the contents with a snapshot and returns the generation it was saved with.
	Load(path string) (uint64, error)
	Size() int
	Dimensions() int
	Metric() Metric
	Type() string
	Close() error
}

// Hit is a single search result.
type Hit struct {
	ID       string
	Distance float32
}

// VectorSource streams stored vectors for a rebuild.
type VectorSource interface {
	ForEachVector(ctx context.Context, fn func(id string, vec []float32) error) error
}

// Option configures an index.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for maintenance events and recovered panics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func dimensionError(expected, got int) error {
	return models.NewDimensionError(expected, got)
}

// recoverIndex converts a panic during graph maintenance into models.ErrIndex.
func recoverIndex(logger *zap.Logger, op string, errp *error) {
	if r := recover(); r != nil {
		logger.Error("vector index panic recovered",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
		*errp = fmt.Errorf("%w: %s: %v", models.ErrIndex, op, r)
	}
}
