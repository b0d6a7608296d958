package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/keyword"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/storage"
	"github.com/hyperjump/mnemo/internal/vector"
)

// tableEmbedder maps known texts to fixed vectors.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (e *tableEmbedder) Dimensions() int { return 3 }
func (e *tableEmbedder) Close() error { return nil }

type fixture struct {
	engine  *Engine
	store   storage.Store
	vectors vector.Index
	lexical keyword.Index
	emb     *tableEmbedder
}

func newFixture(t *testing.T, cfg config.SearchConfig) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(storage.DriverCGO, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vectors, err := vector.New(config.IndexConfig{Type: "flat", Metric: "cosine"}, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	lexical, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	emb := &tableEmbedder{vectors: map[string][]float32{}}
	return &fixture{
		engine:  NewEngine(store, emb, vectors, lexical, cfg),
		store:   store,
		vectors: vectors,
		lexical: lexical,
		emb:     emb,
	}
}

func (f *fixture) add(t *testing.T, id, text string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, &models.Document{ID: id, Text: text, Vector: vec}))
	require.NoError(t, f.vectors.Insert(ctx, id, vec))
	require.NoError(t, f.lexical.Index(ctx, id, text))
}

func defaultConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxLimit:          100,
		VectorCandidates:  100,
		LexicalCandidates: 100,
		VectorWeight:      0.5,
		LexicalWeight:     0.5,
	}
}

func TestEngine_EmptyCorpus(t *testing.T) {
	f := newFixture(t, defaultConfig())
	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "anything", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestEngine_UnionOfSignals(t *testing.T) {
	cfg := defaultConfig()
	cfg.VectorCandidates = 1
	f := newFixture(t, cfg)
	f.emb.vectors["zebra"] = []float32{1, 0, 0}

	// doc-a matches lexically only, doc-b by vector only
	f.add(t, "doc-a", "zebra crossing ahead", []float32{0, 1, 0})
	f.add(t, "doc-b", "completely unrelated words", []float32{1, 0, 0})

	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "zebra", Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	got := map[string]*models.SearchResult{}
	for _, r := range resp.Results {
		got[r.DocID] = r
	}
	require.Contains(t, got, "doc-a")
	require.Contains(t, got, "doc-b")
	assert.Equal(t, 0.0, got["doc-a"].VectorScore)
	assert.Equal(t, 1.0, got["doc-a"].LexicalScore)
	assert.Equal(t, 1.0, got["doc-b"].VectorScore)
	assert.Equal(t, 0.0, got["doc-b"].LexicalScore)

	// equal combined scores tie-break on DocID
	assert.Equal(t, "doc-a", resp.Results[0].DocID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
	assert.Equal(t, "zebra crossing ahead", resp.Results[0].Document.Text)
}

func TestEngine_NoLexicalMatchesFallsBackToVector(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.emb.vectors["qqq"] = []float32{1, 0, 0}
	f.add(t, "near", "alpha", []float32{0.9, 0.1, 0})
	f.add(t, "far", "beta", []float32{0, 0.2, 1})

	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "qqq", Limit: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "near", resp.Results[0].DocID)
	for _, r := range resp.Results {
		assert.Equal(t, 0.0, r.LexicalScore)
	}
}

func TestEngine_VectorCandidatesCoverRequestedPage(t *testing.T) {
	cfg := defaultConfig()
	cfg.VectorCandidates = 1
	f := newFixture(t, cfg)
	f.emb.vectors["qqq"] = []float32{1, 0, 0}
	f.add(t, "v1", "alpha", []float32{1, 0, 0})
	f.add(t, "v2", "beta", []float32{0.8, 0.2, 0})
	f.add(t, "v3", "gamma", []float32{0.5, 0.5, 0})

	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "qqq", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "v2", resp.Results[0].DocID)
	assert.Equal(t, "v3", resp.Results[1].DocID)
}

func TestEngine_MinScoreAndPaging(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.emb.vectors["shared"] = []float32{1, 0, 0}
	f.add(t, "d1", "shared token one", []float32{1, 0, 0})
	f.add(t, "d2", "shared token two", []float32{0.7, 0.7, 0})
	f.add(t, "d3", "nothing here", []float32{0, 0, 1})

	ctx := context.Background()
	all, err := f.engine.Search(ctx, &models.SearchQuery{Query: "shared", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 3, all.Total)

	page, err := f.engine.Search(ctx, &models.SearchQuery{Query: "shared", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, all.Results[1].DocID, page.Results[0].DocID)
	assert.Equal(t, 2, page.Results[0].Rank)
	assert.Equal(t, 3, page.Total)

	filtered, err := f.engine.Search(ctx, &models.SearchQuery{Query: "shared", Limit: 10, MinScore: 0.5})
	require.NoError(t, err)
	for _, r := range filtered.Results {
		assert.GreaterOrEqual(t, r.CombinedScore, 0.5)
	}
	assert.Less(t, filtered.Total, all.Total)
}

func TestEngine_WeightOverride(t *testing.T) {
	cfg := defaultConfig()
	cfg.VectorCandidates = 1
	f := newFixture(t, cfg)
	f.emb.vectors["zebra"] = []float32{1, 0, 0}
	f.add(t, "lex", "zebra", []float32{0, 1, 0})
	f.add(t, "vec", "other", []float32{1, 0, 0})

	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "zebra", Limit: 2, VectorWeight: 9, LexicalWeight: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "vec", resp.Results[0].DocID)
	for _, r := range resp.Results {
		assert.LessOrEqual(t, r.CombinedScore, 1.0, r.DocID)
	}
}

func TestEngine_EmbeddingFailureSurfaces(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.emb.err = models.ErrEmbedding
	_, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "x"})
	assert.True(t, errors.Is(err, models.ErrEmbedding))
}

func TestEngine_InvalidQuery(t *testing.T) {
	f := newFixture(t, defaultConfig())
	_, err := f.engine.Search(context.Background(), &models.SearchQuery{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestEngine_SearchVector(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.add(t, "x", "x", []float32{1, 0, 0})
	f.add(t, "y", "y", []float32{0, 1, 0})

	hits, err := f.engine.SearchVector(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].DocID)
	assert.InDelta(t, 1.0, hits[0].VectorScore, 1e-6)

	_, err = f.engine.SearchVector(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}
