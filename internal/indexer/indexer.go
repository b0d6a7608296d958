// Package indexer coordinates writes across the document store, vector index, and lexical index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/embedding"
	"github.com/hyperjump/mnemo/internal/extract"
	"github.com/hyperjump/mnemo/internal/keyword"
	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/storage"
	"github.com/hyperjump/mnemo/internal/vector"
	"github.com/hyperjump/mnemo/pkg/utils"
)

const lockStripes = 64

// Indexer is the only writer of documents. A document becomes searchable after it is
// stored, inserted into the vector index, and indexed lexically, in that order.
type Indexer struct {
	store      storage.Store
	embedder   embedding.Embedder
	vectors    vector.Index
	lexical    keyword.Index
	extractor  *extract.Extractor
	extensions []string
	logger     *zap.Logger

	// writes to the same id hash to the same stripe and are serialized
	locks [lockStripes]sync.Mutex
	// writes hold it shared, Rebuild holds it exclusively
	rebuildMu sync.RWMutex
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithExtractor sets the file extractor used by IngestFile. Without one, files are read as plain text.
func WithExtractor(e *extract.Extractor) Option {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithExtensions restricts IngestFile and IngestDirectory to the given extensions.
func WithExtensions(exts []string) Option {
	return func(idx *Indexer) { idx.extensions = exts }
}

// New creates an indexer over the given components.
func New(store storage.Store, embedder embedding.Embedder, vectors vector.Index, lexical keyword.Index, opts ...Option) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Indexer) lock(id string) func() {
	idx.rebuildMu.RLock()
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &idx.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return func() {
		mu.Unlock()
		idx.rebuildMu.RUnlock()
	}
}

// Ingest embeds input and writes it to the store, vector index, and lexical index.
// An empty ID gets a UUID. Re-ingesting an ID replaces the previous document.
// A failure after the store write is compensated: a new document is removed again and a
// replaced one is restored, so no partial document stays visible.
func (idx *Indexer) Ingest(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	text := Preprocess(input.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", models.ErrInvalidInput)
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, err
	}
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	unlock := idx.lock(id)
	defer unlock()

	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(vec) != idx.vectors.Dimensions() {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, models.NewDimensionError(idx.vectors.Dimensions(), len(vec))
	}

	prior, err := idx.store.Get(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		prior = nil
	case err != nil:
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	doc := &models.Document{ID: id, Text: text, Metadata: input.Metadata, Vector: vec}
	if err := idx.store.Put(ctx, doc); err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := idx.vectors.Insert(ctx, id, vec); err != nil {
		idx.compensate(ctx, id, prior, err)
		return nil, err
	}
	if err := idx.lexical.Index(ctx, id, text); err != nil {
		idx.compensate(ctx, id, prior, err)
		return nil, fmt.Errorf("%w: lexical index %s: %w", models.ErrIndex, id, err)
	}

	metrics.IngestTotal.WithLabelValues("ok").Inc()
	metrics.IndexSize.Set(float64(idx.vectors.Size()))
	idx.logger.Debug("document ingested", zap.String("doc_id", id), zap.Int("chars", len(text)))
	return doc, nil
}

// compensate undoes a partially applied ingest. A non-nil prior is written back in place
// of the failed replacement. It runs even if ctx is already done.
func (idx *Indexer) compensate(ctx context.Context, id string, prior *models.Document, cause error) {
	metrics.IngestTotal.WithLabelValues("compensated").Inc()
	ctx = context.WithoutCancel(ctx)
	if prior != nil {
		idx.restore(ctx, prior)
		idx.logger.Warn("ingest rolled back to previous version", zap.String("doc_id", id), zap.Error(cause))
		return
	}
	if err := idx.store.Delete(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		idx.logger.Error("compensating delete failed", zap.String("doc_id", id), zap.Error(err))
	}
	if err := idx.vectors.Remove(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		idx.logger.Error("compensating vector remove failed", zap.String("doc_id", id), zap.Error(err))
	}
	if err := idx.lexical.Delete(ctx, id); err != nil {
		idx.logger.Error("compensating lexical delete failed", zap.String("doc_id", id), zap.Error(err))
	}
	idx.logger.Warn("ingest rolled back", zap.String("doc_id", id), zap.Error(cause))
}

func (idx *Indexer) restore(ctx context.Context, prior *models.Document) {
	id := prior.ID
	if err := idx.store.Put(ctx, prior); err != nil {
		idx.logger.Error("restoring previous document failed", zap.String("doc_id", id), zap.Error(err))
	}
	if err := idx.vectors.Insert(ctx, id, prior.Vector); err != nil {
		idx.logger.Error("restoring previous vector failed", zap.String("doc_id", id), zap.Error(err))
	}
	if err := idx.lexical.Index(ctx, id, prior.Text); err != nil {
		idx.logger.Error("restoring previous lexical entry failed", zap.String("doc_id", id), zap.Error(err))
	}
}

// Remove deletes id everywhere. Returns models.ErrNotFound when the store has no such
// document; index entries for it are still cleared.
func (idx *Indexer) Remove(ctx context.Context, id string) error {
	unlock := idx.lock(id)
	defer unlock()

	storeErr := idx.store.Delete(ctx, id)
	if storeErr != nil && !errors.Is(storeErr, models.ErrNotFound) {
		return storeErr
	}
	if err := idx.vectors.Remove(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if err := idx.lexical.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: lexical delete %s: %w", models.ErrIndex, id, err)
	}
	metrics.IndexSize.Set(float64(idx.vectors.Size()))
	if storeErr != nil {
		return storeErr
	}
	idx.logger.Debug("document removed", zap.String("doc_id", id))
	return nil
}

// Rebuild rebuilds the vector index from stored vectors and re-indexes any stored
// document text missing from the lexical index. Writes wait until it returns.
func (idx *Indexer) Rebuild(ctx context.Context) error {
	idx.rebuildMu.Lock()
	defer idx.rebuildMu.Unlock()

	if err := idx.vectors.Rebuild(ctx, idx.store); err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}
	metrics.IndexSize.Set(float64(idx.vectors.Size()))

	stored, err := idx.store.Count(ctx)
	if err != nil {
		return err
	}
	indexed, err := idx.lexical.Count()
	if err != nil {
		return fmt.Errorf("%w: lexical count: %w", models.ErrIndex, err)
	}
	if int64(indexed) == stored {
		idx.logger.Info("index rebuilt", zap.Int("vectors", idx.vectors.Size()))
		return nil
	}
	const page = 256
	for offset := 0; ; offset += page {
		docs, err := idx.store.List(ctx, offset, page)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := idx.lexical.Index(ctx, doc.ID, doc.Text); err != nil {
				return fmt.Errorf("%w: lexical index %s: %w", models.ErrIndex, doc.ID, err)
			}
		}
		if len(docs) < page {
			break
		}
	}
	idx.logger.Info("index rebuilt",
		zap.Int("vectors", idx.vectors.Size()),
		zap.Int64("documents", stored),
		zap.Uint64("lexical_before", indexed))
	return nil
}

// IngestDirectory walks dir recursively and ingests each regular file with an allowed
// extension. Returns the number of files ingested and the first error encountered.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !idx.Allowed(path) {
			return nil
		}
		// resolve symlinks
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, err := idx.IngestFile(ctx, path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Allowed reports whether path has an extension the indexer accepts.
func (idx *Indexer) Allowed(path string) bool {
	return len(idx.extensions) == 0 || extensionAllowed(filepath.Ext(path), idx.extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
