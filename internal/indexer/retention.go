package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
)

const sweepBatch = 100

// Retention periodically removes documents older than a maximum age through the
// Indexer, so the vector and lexical indexes never keep orphaned entries.
type Retention struct {
	indexer  *Indexer
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewRetention returns a sweeper for cfg. A zero MaxAge makes Run return immediately.
func NewRetention(idx *Indexer, cfg config.RetentionConfig) *Retention {
	return &Retention{
		indexer:  idx,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		now:      time.Now,
		logger:   idx.logger.Named("retention"),
	}
}

// Run sweeps once per interval until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	if r.maxAge <= 0 || r.interval <= 0 {
		return
	}
	r.logger.Info("retention sweeper started",
		zap.Duration("max_age", r.maxAge),
		zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep removes every document created before now minus the maximum age and returns
// how many were removed.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	removed := 0
	for {
		ids, err := r.indexer.store.OlderThan(ctx, cutoff, sweepBatch)
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			if err := r.indexer.Remove(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
				return removed, err
			}
			removed++
		}
		if len(ids) < sweepBatch {
			break
		}
	}
	if removed > 0 {
		r.logger.Info("expired documents removed", zap.Int("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}
