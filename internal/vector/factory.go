package vector

import (
	"fmt"

	"github.com/hyperjump/mnemo/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeHNSW uses the approximate HNSW graph. Default.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat uses exact brute-force search. Good for small datasets (<10k vectors).
	IndexTypeFlat IndexType = "flat"
)

// New creates a vector index from configuration.
func New(cfg config.IndexConfig, dimensions int, opts ...Option) (Index, error) {
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch IndexType(cfg.Type) {
	case IndexTypeHNSW, "":
		return NewHNSW(HNSWConfig{
			Dimensions:     dimensions,
			Metric:         metric,
			M:              cfg.M,
			EfConstruction: cfg.EfConstruction,
			EfSearch:       cfg.EfSearch,
			Seed:           cfg.Seed,
		}, opts...)
	case IndexTypeFlat:
		return NewFlatIndex(dimensions, metric, opts...)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat)", cfg.Type)
	}
}
