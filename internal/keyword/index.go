// Package keyword provides the lexical (TF-IDF) side of hybrid search.
package keyword

import "context"

// Index defines lexical indexing and search over document text.
type Index interface {
	Index(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	// Search returns up to limit hits ordered by descending score.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Count() (uint64, error)
	Close() error
}

// Hit is a single lexical match with its raw relevance score.
type Hit struct {
	ID    string
	Score float64
}
