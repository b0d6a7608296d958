package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/mnemo/internal/models"
	"go.uber.org/zap"
)

// FlatIndex is an exact brute-force index. Suitable for small corpora and as a ground-truth
// oracle when measuring HNSW recall.
type FlatIndex struct {
	dimensions int
	metric     Metric
	dist       distanceFunc
	logger     *zap.Logger

	mu      sync.RWMutex
	ids     []string
	vectors [][]float32
	pos     map[string]int
}

// NewFlatIndex creates an exact index with the given dimension and metric.
func NewFlatIndex(dimensions int, metric Metric, opts ...Option) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if !metric.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	o := applyOptions(opts)
	return &FlatIndex{
		dimensions: dimensions,
		metric:     metric,
		dist:       metric.distance(),
		logger:     o.logger,
		pos:        make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string { return string(IndexTypeFlat) }

// Metric returns the distance metric fixed at construction.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Dimensions returns the vector length accepted by the index.
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// Insert stores vec under id, replacing any previous vector.
func (f *FlatIndex) Insert(ctx context.Context, id string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := prepare(f.metric, f.dimensions, vec)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(id, v)
	return nil
}

func (f *FlatIndex) put(id string, v []float32) {
	if i, ok := f.pos[id]; ok {
		f.vectors[i] = v
		return
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, v)
}

// Remove deletes id by swapping the last entry into its position.
func (f *FlatIndex) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.pos[id]
	if !ok {
		return fmt.Errorf("%w: vector %s", models.ErrNotFound, id)
	}
	last := len(f.ids) - 1
	if i != last {
		f.ids[i] = f.ids[last]
		f.vectors[i] = f.vectors[last]
		f.pos[f.ids[i]] = i
	}
	f.ids = f.ids[:last]
	f.vectors = f.vectors[:last]
	delete(f.pos, id)
	return nil
}

// Search scans every vector. ef is ignored.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k, _ int) ([]Hit, error) {
	q, err := prepare(f.metric, f.dimensions, query)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, len(f.ids))
	for i, vec := range f.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[i] = Hit{ID: f.ids[i], Distance: f.dist(q, vec)}
	}
	sortHits(hits)
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Rebuild replaces the contents with the vectors from src.
func (f *FlatIndex) Rebuild(ctx context.Context, src VectorSource) error {
	fresh, err := NewFlatIndex(f.dimensions, f.metric)
	if err != nil {
		return err
	}
	err = src.ForEachVector(ctx, func(id string, vec []float32) error {
		v, err := prepare(f.metric, f.dimensions, vec)
		if err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		fresh.put(id, v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	f.mu.Lock()
	f.ids, f.vectors, f.pos = fresh.ids, fresh.vectors, fresh.pos
	f.mu.Unlock()
	f.logger.Info("vector index rebuilt", zap.Int("nodes", len(fresh.ids)))
	return nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
