package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/embedding"
	"github.com/hyperjump/mnemo/internal/extract"
	"github.com/hyperjump/mnemo/internal/keyword"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/storage"
	"github.com/hyperjump/mnemo/internal/vector"
)

const dims = 4

type parts struct {
	store   storage.Store
	vectors vector.Index
	lexical keyword.Index
}

func newParts(t *testing.T) parts {
	t.Helper()
	store, err := storage.NewSQLiteStore(storage.DriverCGO, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vectors, err := vector.New(config.IndexConfig{Type: "flat", Metric: "cosine"}, dims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = vectors.Close() })
	lexical, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lexical.Close() })
	return parts{store: store, vectors: vectors, lexical: lexical}
}

func newTestIndexer(t *testing.T, opts ...Option) (*Indexer, parts) {
	t.Helper()
	p := newParts(t)
	return New(p.store, embedding.NewMockEmbedder(dims), p.vectors, p.lexical, opts...), p
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: provider down", models.ErrEmbedding)
}

type failingPut struct{ storage.Store }

func (failingPut) Put(context.Context, *models.Document) error { return models.ErrStore }

type failingInsert struct{ vector.Index }

func (failingInsert) Insert(context.Context, string, []float32) error { return models.ErrIndex }

type failingLexical struct{ inner keyword.Index }

func (failingLexical) Index(context.Context, string, string) error { return errors.New("disk full") }

func (f failingLexical) Delete(ctx context.Context, id string) error { return f.inner.Delete(ctx, id) }

func (f failingLexical) Search(ctx context.Context, query string, limit int) ([]keyword.Hit, error) {
	return f.inner.Search(ctx, query, limit)
}

func (f failingLexical) Count() (uint64, error) { return f.inner.Count() }

func (f failingLexical) Close() error { return f.inner.Close() }

// removeDuringScan starts a Remove of victim once the vector scan has read every row.
type removeDuringScan struct {
	storage.Store
	idx     *Indexer
	victim  string
	removed chan error
}

func (s *removeDuringScan) ForEachVector(ctx context.Context, fn func(string, []float32) error) error {
	if err := s.Store.ForEachVector(ctx, fn); err != nil {
		return err
	}
	go func() { s.removed <- s.idx.Remove(context.Background(), s.victim) }()
	select {
	case err := <-s.removed:
		s.removed <- err
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".pdf", []string{".txt", ".md", ".pdf"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestIngest_writesEverywhere(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	doc, err := idx.Ingest(ctx, &models.DocumentInput{
		Text:     "  invoice\tpayment   overdue ",
		Metadata: models.Metadata{{Key: "label", Value: "billing"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID == "" {
		t.Fatal("expected generated id")
	}
	if doc.Text != "invoice payment overdue" {
		t.Errorf("text not preprocessed: %q", doc.Text)
	}

	stored, err := p.store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metadata.String("label") != "billing" || len(stored.Vector) != dims {
		t.Errorf("stored %+v", stored)
	}
	if p.vectors.Size() != 1 {
		t.Errorf("vector index size = %d", p.vectors.Size())
	}
	hits, err := p.lexical.Search(ctx, "overdue", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != doc.ID {
		t.Errorf("lexical hits = %v", hits)
	}
}

func TestIngest_rejectsInvalidInput(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, &models.DocumentInput{Text: " \n\t "}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("blank text: got %v", err)
	}
	dup := models.Metadata{{Key: "k", Value: "a"}, {Key: "k", Value: "b"}}
	if _, err := idx.Ingest(ctx, &models.DocumentInput{Text: "x", Metadata: dup}); err == nil {
		t.Error("duplicate metadata keys should be rejected")
	}
}

func TestIngest_replacesSameID(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: "a", Text: "first version walrus"}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: "a", Text: "second version penguin"}); err != nil {
		t.Fatal(err)
	}

	if n, _ := p.store.Count(ctx); n != 1 {
		t.Errorf("store count = %d", n)
	}
	if p.vectors.Size() != 1 {
		t.Errorf("vector index size = %d", p.vectors.Size())
	}
	if hits, _ := p.lexical.Search(ctx, "walrus", 5); len(hits) != 0 {
		t.Errorf("stale text still searchable: %v", hits)
	}
	got, _ := p.store.Get(ctx, "a")
	if got.Text != "second version penguin" {
		t.Errorf("later write should win, got %q", got.Text)
	}
}

func TestIngest_concurrentSameID(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: "same", Text: fmt.Sprintf("revision %d", i)}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n, _ := p.store.Count(ctx); n != 1 {
		t.Errorf("store count = %d", n)
	}
	if p.vectors.Size() != 1 {
		t.Errorf("vector index size = %d", p.vectors.Size())
	}
	if n, _ := p.lexical.Count(); n != 1 {
		t.Errorf("lexical count = %d", n)
	}
}

func TestIngest_embeddingFailureWritesNothing(t *testing.T) {
	p := newParts(t)
	idx := New(p.store, failingEmbedder{embedding.NewMockEmbedder(dims)}, p.vectors, p.lexical)

	_, err := idx.Ingest(context.Background(), &models.DocumentInput{ID: "a", Text: "hello"})
	if !errors.Is(err, models.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if n, _ := p.store.Count(context.Background()); n != 0 {
		t.Errorf("store count = %d", n)
	}
}

func TestIngest_dimensionMismatch(t *testing.T) {
	p := newParts(t)
	idx := New(p.store, embedding.NewMockEmbedder(dims+1), p.vectors, p.lexical)

	_, err := idx.Ingest(context.Background(), &models.DocumentInput{ID: "a", Text: "hello"})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if n, _ := p.store.Count(context.Background()); n != 0 {
		t.Errorf("store count = %d", n)
	}
}

func TestIngest_failedPutNeverReachesIndex(t *testing.T) {
	p := newParts(t)
	idx := New(failingPut{p.store}, embedding.NewMockEmbedder(dims), p.vectors, p.lexical)

	_, err := idx.Ingest(context.Background(), &models.DocumentInput{ID: "a", Text: "hello"})
	if !errors.Is(err, models.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if p.vectors.Size() != 0 {
		t.Errorf("vector index size = %d", p.vectors.Size())
	}
	if n, _ := p.lexical.Count(); n != 0 {
		t.Errorf("lexical count = %d", n)
	}
}

func TestIngest_compensatesFailedInsert(t *testing.T) {
	p := newParts(t)
	idx := New(p.store, embedding.NewMockEmbedder(dims), failingInsert{p.vectors}, p.lexical)

	_, err := idx.Ingest(context.Background(), &models.DocumentInput{ID: "a", Text: "hello"})
	if !errors.Is(err, models.ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if _, err := p.store.Get(context.Background(), "a"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("stored document should be compensated, got %v", err)
	}
}

func TestIngest_compensatesFailedLexical(t *testing.T) {
	p := newParts(t)
	idx := New(p.store, embedding.NewMockEmbedder(dims), p.vectors, failingLexical{p.lexical})

	_, err := idx.Ingest(context.Background(), &models.DocumentInput{ID: "a", Text: "hello"})
	if !errors.Is(err, models.ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if _, err := p.store.Get(context.Background(), "a"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("stored document should be compensated, got %v", err)
	}
	if p.vectors.Size() != 0 {
		t.Errorf("vector should be compensated, size = %d", p.vectors.Size())
	}
}

func TestIngest_failedUpdateRestoresPrevious(t *testing.T) {
	p := newParts(t)
	ctx := context.Background()
	good := New(p.store, embedding.NewMockEmbedder(dims), p.vectors, p.lexical)
	if _, err := good.Ingest(ctx, &models.DocumentInput{ID: "x", Text: "version one"}); err != nil {
		t.Fatal(err)
	}

	bad := New(p.store, embedding.NewMockEmbedder(dims), p.vectors, failingLexical{p.lexical})
	if _, err := bad.Ingest(ctx, &models.DocumentInput{ID: "x", Text: "version two"}); !errors.Is(err, models.ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}

	got, err := p.store.Get(ctx, "x")
	if err != nil {
		t.Fatalf("previous document should survive a failed update: %v", err)
	}
	if got.Text != "version one" {
		t.Errorf("text = %q, want the previous version", got.Text)
	}
	if p.vectors.Size() != 1 {
		t.Fatalf("vector index size = %d", p.vectors.Size())
	}
	want, _ := embedding.NewMockEmbedder(dims).Embed(ctx, "version one")
	hits, err := p.vectors.Search(ctx, want, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "x" || hits[0].Distance > 1e-5 {
		t.Errorf("vector should match the previous text, hits = %v", hits)
	}
	if lex, _ := p.lexical.Search(ctx, "one", 5); len(lex) != 1 || lex[0].ID != "x" {
		t.Errorf("lexical hits = %v", lex)
	}
}

func TestRemove(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: id, Text: "shared words " + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, "a"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}

	vec, _ := embedding.NewMockEmbedder(dims).Embed(ctx, "shared words a")
	hits, err := p.vectors.Search(ctx, vec, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("removed id returned by vector search")
		}
	}
	lex, _ := p.lexical.Search(ctx, "shared", 10)
	if len(lex) != 1 || lex[0].ID != "b" {
		t.Errorf("lexical hits = %v", lex)
	}
}

func TestRebuild(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()
	for i := range 5 {
		if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: fmt.Sprint(i), Text: fmt.Sprintf("document number %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	fresh := newParts(t)
	rebuilt := New(p.store, embedding.NewMockEmbedder(dims), fresh.vectors, fresh.lexical)
	if err := rebuilt.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if fresh.vectors.Size() != 5 {
		t.Errorf("vector index size = %d", fresh.vectors.Size())
	}
	if n, _ := fresh.lexical.Count(); n != 5 {
		t.Errorf("lexical count = %d", n)
	}
}

func TestRebuild_holdsOffConcurrentRemove(t *testing.T) {
	p := newParts(t)
	ctx := context.Background()
	seed := New(p.store, embedding.NewMockEmbedder(dims), p.vectors, p.lexical)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := seed.Ingest(ctx, &models.DocumentInput{ID: id, Text: "text for " + id}); err != nil {
			t.Fatal(err)
		}
	}

	wrapped := &removeDuringScan{Store: p.store, victim: "a", removed: make(chan error, 1)}
	idx := New(wrapped, embedding.NewMockEmbedder(dims), p.vectors, p.lexical)
	wrapped.idx = idx
	if err := idx.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-wrapped.removed; err != nil {
		t.Fatalf("remove: %v", err)
	}

	if p.vectors.Size() != 2 {
		t.Errorf("vector index size = %d, want 2", p.vectors.Size())
	}
	vec, _ := embedding.NewMockEmbedder(dims).Embed(ctx, "text for a")
	hits, err := p.vectors.Search(ctx, vec, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("removed document came back after rebuild")
		}
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"  a  b ", "a b"},
		{"line\r\nbreak\x00here", "line breakhere"},
		{"tab\tand  spaces", "tab and spaces"},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIngestFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	idx, p := newTestIndexer(t, WithExtensions([]string{".txt", ".md"}))
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(fPath, []byte("Hello world content."), 0600); err != nil {
		t.Fatal(err)
	}
	doc, err := idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != FileDocID(fPath) {
		t.Errorf("id = %s", doc.ID)
	}
	stored, err := p.store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Text != "Hello world content." {
		t.Errorf("text = %q", stored.Text)
	}
	if stored.Metadata.String(MetaSourcePath) != fPath || stored.Metadata.String(MetaTitle) != "doc.txt" {
		t.Errorf("metadata = %v", stored.Metadata)
	}

	if err := os.WriteFile(fPath, []byte("Updated content, longer."), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IngestFile(ctx, fPath); err != nil {
		t.Fatal(err)
	}
	stored, _ = p.store.Get(ctx, doc.ID)
	if stored.Text != "Updated content, longer." {
		t.Errorf("after update: text = %q", stored.Text)
	}
	if n, _ := p.store.Count(ctx); n != 1 {
		t.Errorf("store count = %d", n)
	}
}

func TestIngestFile_skipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "same.md")
	if err := os.WriteFile(fPath, []byte("stable"), 0600); err != nil {
		t.Fatal(err)
	}
	first, err := idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}

	// a skipped file must not reach the embedder
	idx.embedder = failingEmbedder{}
	again, err := idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatalf("unchanged file should be skipped: %v", err)
	}
	if again.ID != first.ID || p.vectors.Size() != 1 {
		t.Errorf("unexpected re-ingest: %+v", again)
	}
}

func TestIngestFile_rejected(t *testing.T) {
	dir := t.TempDir()
	idx, _ := newTestIndexer(t, WithExtensions([]string{".txt"}))
	ctx := context.Background()

	script := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(script, []byte("#!/bin/bash"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IngestFile(ctx, script); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("disallowed extension: got %v", err)
	}

	folder := filepath.Join(dir, "folder.txt")
	if err := os.Mkdir(folder, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IngestFile(ctx, folder); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("directory: got %v", err)
	}

	if _, err := idx.IngestFile(ctx, filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	idx, p := newTestIndexer(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "note.md")
	if err := os.WriteFile(fPath, []byte("Note content."), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IngestFile(ctx, fPath); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemoveFile(ctx, fPath); err != nil {
		t.Fatal(err)
	}
	if _, err := p.store.Get(ctx, FileDocID(fPath)); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("document should be removed, got %v", err)
	}
}

func TestIngestFile_excelWithExtractor(t *testing.T) {
	dir := t.TempDir()
	idx, p := newTestIndexer(t, WithExtractor(extract.NewExtractor()), WithExtensions([]string{".xlsx", ".txt"}))

	fPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	ctx := context.Background()
	doc, err := idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if doc.Text != "# Sheet1 Excel searchable content" {
		t.Errorf("text = %q", doc.Text)
	}
	hits, _ := p.lexical.Search(ctx, "searchable", 5)
	if len(hits) != 1 {
		t.Errorf("lexical hits = %v", hits)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	idx, _ := newTestIndexer(t, WithExtensions([]string{".txt"}))
	ctx := context.Background()

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):    "file a",
		filepath.Join(dir, "b.txt"):    "file b",
		filepath.Join(sub, "c.txt"):    "file c",
		filepath.Join(dir, "skip.xyz"): "skip",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.IngestDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if n != 3 {
		t.Errorf("IngestDirectory: ingested %d files, want 3", n)
	}
	if _, err := idx.IngestDirectory(ctx, filepath.Join(dir, "a.txt")); err == nil {
		t.Error("expected error for non-directory")
	}
}

func TestRetention_Sweep(t *testing.T) {
	idx, p := newTestIndexer(t)
	ctx := context.Background()
	for i := range 3 {
		if _, err := idx.Ingest(ctx, &models.DocumentInput{ID: fmt.Sprint(i), Text: "ephemeral"}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRetention(idx, config.RetentionConfig{MaxAge: time.Hour, Interval: time.Minute})
	n, err := r.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("fresh documents swept: n=%d err=%v", n, err)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = r.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("swept %d, want 3", n)
	}
	if c, _ := p.store.Count(ctx); c != 0 {
		t.Errorf("store count = %d", c)
	}
	if p.vectors.Size() != 0 {
		t.Errorf("vector index size = %d", p.vectors.Size())
	}
}

func TestRetention_RunDisabled(t *testing.T) {
	idx, _ := newTestIndexer(t)
	done := make(chan struct{})
	go func() {
		NewRetention(idx, config.RetentionConfig{}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero max age should return immediately")
	}
}
