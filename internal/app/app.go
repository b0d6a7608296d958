// Package app assembles the engine components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/embedding"
	"github.com/hyperjump/mnemo/internal/extract"
	"github.com/hyperjump/mnemo/internal/feedback"
	"github.com/hyperjump/mnemo/internal/indexer"
	"github.com/hyperjump/mnemo/internal/keyword"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/router"
	"github.com/hyperjump/mnemo/internal/search"
	"github.com/hyperjump/mnemo/internal/server"
	"github.com/hyperjump/mnemo/internal/storage"
	"github.com/hyperjump/mnemo/internal/vector"
	"github.com/hyperjump/mnemo/internal/watcher"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Core owns every engine component. Build one per process with New and release it with Close.
type Core struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *storage.SQLiteStore
	Documents *storage.CachedStore
	Embedder  embedding.Embedder
	Vectors   vector.Index
	Lexical   keyword.Index
	Engine    *search.Engine
	Indexer   *indexer.Indexer
	Feedback  *feedback.SQLiteRecorder
	Cascade   *router.Cascade
	Retention *indexer.Retention
	Watcher   *watcher.Watcher

	redis     *storage.RedisCache
	ready     bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New builds a Core from cfg. The vector index is restored from its snapshot when one is
// usable and rebuilt from the document store otherwise.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Core, err error) {
	c := &Core{Config: cfg, Logger: utils.OrNop(logger)}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Store, err = storage.NewSQLiteStore(cfg.Storage.Driver, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	cacheOpts := []storage.CachedOption{storage.WithCacheLogger(c.Logger)}
	if cfg.Cache.Redis.Enabled {
		c.redis, err = storage.NewRedisCache(cfg.Cache.Redis, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if pingErr := c.redis.Ping(pingCtx); pingErr != nil {
			c.Logger.Warn("redis unreachable, shared cache will miss until it recovers", zap.Error(pingErr))
		}
		cancel()
		cacheOpts = append(cacheOpts, storage.WithSharedCache(c.redis))
	}
	c.Documents = storage.NewCachedStore(c.Store, cfg.Cache.Documents, cacheOpts...)

	c.Embedder, err = embedding.New(cfg.Embedding, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.Vectors, err = vector.New(cfg.Index, c.Embedder.Dimensions(), vector.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	lexical, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath, keyword.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
	}
	c.Lexical = lexical

	c.Engine = search.NewEngine(c.Documents, c.Embedder, c.Vectors, c.Lexical, cfg.Search,
		search.WithLogger(c.Logger))
	c.Indexer = indexer.New(c.Documents, c.Embedder, c.Vectors, c.Lexical,
		indexer.WithLogger(c.Logger),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithExtensions(cfg.Watch.Extensions))
	c.Retention = indexer.NewRetention(c.Indexer, cfg.Retention)

	c.Feedback, err = feedback.NewSQLiteRecorder(c.Store.DB(), feedback.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feedback recorder: %w", err)
	}
	c.Cascade, err = buildCascade(ctx, cfg, c.Embedder, c.Engine, c.Feedback, c.Logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Watch.Directories) > 0 {
		c.Watcher = watcher.New(c.Indexer, cfg.Watch, watcher.WithLogger(c.Logger))
	}

	if err := c.restoreVectors(ctx); err != nil {
		return nil, err
	}
	c.ready = true
	return c, nil
}

func buildCascade(
	ctx context.Context,
	cfg *config.Config,
	embedder embedding.Embedder,
	evidence router.EvidenceSource,
	recorder router.DecisionRecorder,
	logger *zap.Logger,
) (*router.Cascade, error) {
	opts := []router.Option{
		router.WithEvidence(evidence),
		router.WithRecorder(recorder),
		router.WithLogger(logger),
	}
	if path := cfg.Cascade.ExemplarsPath; path != "" {
		exemplars, err := router.LoadExemplars(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load exemplars: %w", err)
		}
		classifier, err := router.NewExemplarClassifier(ctx, embedder, exemplars, cfg.Cascade.EvidenceBoost)
		if err != nil {
			return nil, fmt.Errorf("failed to build exemplar classifier: %w", err)
		}
		opts = append(opts, router.WithStrategy(classifier))
	}
	if path := cfg.Cascade.RulesPath; path != "" {
		rules, err := router.LoadRules(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		matcher, err := router.NewPatternMatcher(rules)
		if err != nil {
			return nil, fmt.Errorf("failed to build pattern matcher: %w", err)
		}
		opts = append(opts, router.WithStrategy(matcher))
	}
	if cfg.Inference.Provider == "openai" {
		client := router.NewOpenAIClient(cfg.Inference, logger)
		opts = append(opts, router.WithStrategy(router.NewInferenceStrategy(client)))
	}
	return router.NewCascade(cfg.Cascade, opts...), nil
}

// restoreVectors loads the index snapshot and falls back to a rebuild from the store
// when the snapshot is missing or unreadable, or was saved at another store generation.
func (c *Core) restoreVectors(ctx context.Context) error {
	current, err := c.Store.Generation(ctx)
	if err != nil {
		return err
	}
	stale := false
	if path := c.Config.Storage.IndexSnapshotPath; path != "" {
		saved, err := c.Vectors.Load(path)
		switch {
		case err == nil && saved != current:
			stale = true
			c.Logger.Info("vector index snapshot is stale, rebuilding", zap.String("path", path),
				zap.Uint64("snapshot_generation", saved), zap.Uint64("store_generation", current))
		case err == nil:
			c.Logger.Info("vector index loaded", zap.String("path", path), zap.Int("nodes", c.Vectors.Size()))
		case errors.Is(err, fs.ErrNotExist):
			c.Logger.Info("no vector index snapshot", zap.String("path", path))
		default:
			c.Logger.Warn("vector index snapshot unusable, rebuilding", zap.String("path", path), zap.Error(err))
		}
	}
	stored, err := c.Documents.Count(ctx)
	if err != nil {
		return err
	}
	lexical, err := c.Lexical.Count()
	if err != nil {
		return fmt.Errorf("%w: count: %w", models.ErrIndex, err)
	}
	if !stale && int64(c.Vectors.Size()) == stored && int64(lexical) == stored {
		return nil
	}
	c.Logger.Info("rebuilding indexes from store",
		zap.Int64("documents", stored),
		zap.Int("vector_nodes", c.Vectors.Size()),
		zap.Uint64("lexical_documents", lexical))
	if err := c.Indexer.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to rebuild indexes: %w", err)
	}
	return nil
}

// Start launches the retention sweeper and the directory watcher. Existing files under
// the watched directories are synced in the background.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Retention.Run(ctx)
	}()
	if c.Watcher == nil {
		return nil
	}
	if err := c.Watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Watcher.Sync(ctx)
	}()
	return nil
}

// ServerDeps exposes the core to the HTTP API.
func (c *Core) ServerDeps() server.Deps {
	return server.Deps{
		Ingester:  c.Indexer,
		Documents: c.Documents,
		Searcher:  c.Engine,
		Router:    c.Cascade,
		Feedback:  c.Feedback,
		Status:    c,
	}
}

// Status reports document and index counts, disk usage, routing statistics, and
// threshold suggestions derived from recorded outcomes.
func (c *Core) Status(ctx context.Context) (*models.Status, error) {
	docs, err := c.Documents.Count(ctx)
	if err != nil {
		return nil, err
	}
	lexical, err := c.Lexical.Count()
	if err != nil {
		return nil, fmt.Errorf("%w: count: %w", models.ErrIndex, err)
	}
	paths := append(storage.DatabaseFiles(c.Config.Storage.DatabasePath),
		c.Config.Storage.BleveIndexPath, c.Config.Storage.IndexSnapshotPath)
	usage, err := storage.DiskUsage(paths...)
	if err != nil {
		c.Logger.Warn("disk usage unavailable", zap.Error(err))
	}
	stats, err := c.Feedback.Stats(ctx)
	if err != nil {
		return nil, err
	}

	th := c.Cascade.Thresholds()
	st := &models.Status{
		Documents:      docs,
		VectorNodes:    c.Vectors.Size(),
		LexicalDocs:    lexical,
		IndexType:      c.Vectors.Type(),
		Metric:         c.Vectors.Metric().String(),
		Dimensions:     c.Vectors.Dimensions(),
		DiskUsageBytes: usage,
		Thresholds: map[models.Strategy]float64{
			models.StrategyFastLocal:    th.Fast,
			models.StrategyPatternMatch: th.Pattern,
		},
		Strategies: stats,
	}
	for strategy, current := range st.Thresholds {
		if next, ok := feedback.SuggestThreshold(stats, strategy, current, c.Config.Cascade.TargetSuccessRate); ok {
			if st.Suggested == nil {
				st.Suggested = make(map[models.Strategy]float64)
			}
			st.Suggested[strategy] = next
		}
	}
	if c.Watcher != nil {
		st.WatchedDirs = c.Watcher.Directories()
	}
	return st, nil
}

// Close stops background work, saves the vector index snapshot, and releases every
// component. It is safe to call more than once.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Core) close() error {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	if c.Vectors != nil {
		if path := c.Config.Storage.IndexSnapshotPath; path != "" && c.ready {
			gen, err := c.Store.Generation(context.Background())
			if err == nil {
				err = c.Vectors.Save(path, gen)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("save vector index: %w", err))
			} else {
				c.Logger.Info("vector index saved", zap.String("path", path), zap.Int("nodes", c.Vectors.Size()))
			}
		}
		errs = append(errs, c.Vectors.Close())
	}
	if c.Lexical != nil {
		errs = append(errs, c.Lexical.Close())
	}
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.redis != nil {
		c.redis.Close()
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
