// Package search provides the hybrid (vector + lexical) search engine.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/embedding"
	"github.com/hyperjump/mnemo/internal/keyword"
	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/storage"
	"github.com/hyperjump/mnemo/internal/vector"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Engine runs hybrid search over the document store and both indices.
type Engine struct {
	store    storage.Store
	embedder embedding.Embedder
	vectors  vector.Index
	lexical  keyword.Index
	config   config.SearchConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = utils.OrNop(l)
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	store storage.Store,
	embedder embedding.Embedder,
	vectors vector.Index,
	lexical keyword.Index,
	cfg config.SearchConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs hybrid search and returns ranked, hydrated documents.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if e.config.MaxLimit > 0 && query.Limit > e.config.MaxLimit {
		query.Limit = e.config.MaxLimit
	}
	vectorWeight, lexicalWeight := e.weights(query)

	var vectorHits, lexicalHits []Scored
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query.Query)
		if err != nil {
			return err
		}
		hits, err := e.vectors.Search(gctx, vec, max(query.Limit+query.Offset, e.config.VectorCandidates), 0)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		vectorHits = e.similarities(hits)
		return nil
	})
	g.Go(func() error {
		hits, err := e.lexical.Search(gctx, query.Query, e.config.LexicalCandidates)
		if err != nil {
			return fmt.Errorf("lexical search failed: %w", err)
		}
		lexicalHits = make([]Scored, len(hits))
		for i, h := range hits {
			lexicalHits[i] = Scored{ID: h.ID, Score: h.Score}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(Normalize(vectorHits), Normalize(lexicalHits), vectorWeight, lexicalWeight)
	if query.MinScore > 0 {
		filtered := fused[:0]
		for _, r := range fused {
			if r.CombinedScore >= query.MinScore {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	lo := min(query.Offset, len(fused))
	hi := min(query.Offset+query.Limit, len(fused))
	page := fused[lo:hi]

	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(page)),
		Total:   len(fused),
		Query:   query.Query,
	}
	for i, r := range page {
		doc, err := e.store.Get(ctx, r.DocID)
		if errors.Is(err, models.ErrNotFound) {
			// removed between index lookup and hydration
			e.logger.Debug("search hit vanished", zap.String("doc_id", r.DocID))
			continue
		}
		if err != nil {
			return nil, err
		}
		r.Document = doc
		r.Rank = lo + i + 1
		response.Results = append(response.Results, r)
	}

	elapsed := time.Since(start)
	response.QueryTime = elapsed.Milliseconds()
	metrics.SearchDuration.WithLabelValues("hybrid").Observe(elapsed.Seconds())
	e.logger.Debug("hybrid search",
		zap.String("query", utils.Truncate(query.Query, 80)),
		zap.Int("vector_candidates", len(vectorHits)),
		zap.Int("lexical_candidates", len(lexicalHits)),
		zap.Int("results", len(response.Results)),
		zap.Duration("took", elapsed))
	return response, nil
}

// SearchVector runs a raw k-NN lookup. Scores are similarities, not min-max normalized,
// and documents are not hydrated.
func (e *Engine) SearchVector(ctx context.Context, vec []float32, k int) ([]*models.SearchResult, error) {
	start := time.Now()
	hits, err := e.vectors.Search(ctx, vec, k, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SearchResult, len(hits))
	for i, h := range hits {
		sim := vector.Similarity(e.vectors.Metric(), h.Distance)
		out[i] = &models.SearchResult{DocID: h.ID, VectorScore: sim, CombinedScore: sim, Rank: i + 1}
	}
	metrics.SearchDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
	return out, nil
}

// weights returns the request's fusion weights when either is set, otherwise the configured
// ones, scaled to sum to 1 so combined scores stay in [0, 1].
func (e *Engine) weights(q *models.SearchQuery) (float64, float64) {
	v, l := e.config.VectorWeight, e.config.LexicalWeight
	if q.VectorWeight > 0 || q.LexicalWeight > 0 {
		v, l = q.VectorWeight, q.LexicalWeight
	}
	if sum := v + l; sum > 0 {
		return v / sum, l / sum
	}
	return v, l
}

func (e *Engine) similarities(hits []vector.Hit) []Scored {
	out := make([]Scored, len(hits))
	for i, h := range hits {
		out[i] = Scored{ID: h.ID, Score: vector.Similarity(e.vectors.Metric(), h.Distance)}
	}
	return out
}
