package storage

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// SharedCache is an optional second-tier document cache shared between processes.
// Implementations swallow their own failures: a failed Get is a miss, failed writes are dropped.
type SharedCache interface {
	Get(ctx context.Context, id string) (*models.Document, bool)
	Set(ctx context.Context, doc *models.Document)
	Delete(ctx context.Context, id string)
}

const genStripes = 64

// genStripe counts writes to the ids hashing onto it.
type genStripe struct {
	mu  sync.Mutex
	gen uint64
}

// CachedStore decorates a Store with a bounded in-memory LRU and an optional shared cache.
// Caches are only written after the durable store has accepted the write. A read that
// missed is not cached if a Put or Delete for the same id finished while it was in flight.
type CachedStore struct {
	Store
	l1     *utils.LRU[string, *models.Document]
	l2     SharedCache
	logger *zap.Logger
	gens   [genStripes]genStripe
}

// CachedOption configures a CachedStore.
type CachedOption func(*CachedStore)

// WithSharedCache adds a second cache tier consulted after the in-memory LRU.
func WithSharedCache(c SharedCache) CachedOption {
	return func(s *CachedStore) {
		s.l2 = c
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.Logger) CachedOption {
	return func(s *CachedStore) {
		s.logger = utils.OrNop(l)
	}
}

// NewCachedStore wraps inner with an LRU of the given capacity.
func NewCachedStore(inner Store, capacity int, opts ...CachedOption) *CachedStore {
	s := &CachedStore{
		Store:  inner,
		l1:     utils.NewLRU[string, *models.Document](capacity),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CachedStore) stripe(id string) *genStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.gens[h.Sum32()%genStripes]
}

func (s *CachedStore) generation(id string) uint64 {
	st := s.stripe(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// fill caches doc unless a write to its id finished after gen was read.
func (s *CachedStore) fill(ctx context.Context, gen uint64, doc *models.Document, shared bool) {
	st := s.stripe(doc.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return
	}
	s.l1.Set(doc.ID, doc)
	if shared && s.l2 != nil {
		s.l2.Set(ctx, doc)
	}
}

// Put writes through to the durable store, then refreshes the caches.
func (s *CachedStore) Put(ctx context.Context, doc *models.Document) error {
	if err := s.Store.Put(ctx, doc); err != nil {
		return err
	}
	st := s.stripe(doc.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	s.l1.Set(doc.ID, doc)
	if s.l2 != nil {
		s.l2.Set(ctx, doc)
	}
	return nil
}

// Get checks the LRU, then the shared cache, then the durable store, filling upper tiers on the way back.
func (s *CachedStore) Get(ctx context.Context, id string) (*models.Document, error) {
	if doc, ok := s.l1.Get(id); ok {
		metrics.DocumentCacheTotal.WithLabelValues("l1", "hit").Inc()
		return doc, nil
	}
	metrics.DocumentCacheTotal.WithLabelValues("l1", "miss").Inc()
	gen := s.generation(id)

	if s.l2 != nil {
		if doc, ok := s.l2.Get(ctx, id); ok {
			metrics.DocumentCacheTotal.WithLabelValues("l2", "hit").Inc()
			s.fill(ctx, gen, doc, false)
			return doc, nil
		}
		metrics.DocumentCacheTotal.WithLabelValues("l2", "miss").Inc()
	}

	doc, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, gen, doc, true)
	return doc, nil
}

// Delete removes from the durable store, then invalidates both tiers.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	// invalidate even on ErrNotFound
	st := s.stripe(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	s.l1.Remove(id)
	if s.l2 != nil {
		s.l2.Delete(ctx, id)
	}
	return err
}

// Cached reports how many documents the in-memory tier holds.
func (s *CachedStore) Cached() int {
	return s.l1.Len()
}

// Purge empties the in-memory tier.
func (s *CachedStore) Purge() {
	n := s.l1.Len()
	s.l1.Purge()
	s.logger.Debug("document cache purged", zap.Int("entries", n))
}
