package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
)

// TimeoutEmbedder bounds each call and normalizes failures to models.ErrEmbedding.
// It also rejects vectors whose length differs from Dimensions.
type TimeoutEmbedder struct {
	Embedder
	provider string
	timeout  time.Duration
}

// NewTimeoutEmbedder wraps inner. A zero timeout disables the deadline.
func NewTimeoutEmbedder(inner Embedder, provider string, timeout time.Duration) *TimeoutEmbedder {
	return &TimeoutEmbedder{Embedder: inner, provider: provider, timeout: timeout}
}

// Embed embeds text under the configured deadline.
func (t *TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := t.Embedder.Embed(ctx, text)
	metrics.EmbeddingRequestDuration.WithLabelValues(t.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(t.provider, "error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", models.ErrEmbedding, t.provider, err)
	}
	if dim := t.Dimensions(); dim > 0 && len(v) != dim {
		metrics.EmbeddingRequestsTotal.WithLabelValues(t.provider, "error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", models.ErrEmbedding, t.provider, models.NewDimensionError(dim, len(v)))
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(t.provider, "success").Inc()
	return v, nil
}

// EmbedBatch embeds each text with its own deadline.
func (t *TimeoutEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, t.Embed)
}
