// Package storage defines the durable document store and its cache layers.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/mnemo/internal/models"
)

// Store persists documents. It never touches the vector or lexical index; callers coordinate that.
type Store interface {
	// Put writes doc atomically, replacing any document with the same ID.
	Put(ctx context.Context, doc *models.Document) error
	// Get returns models.ErrNotFound (wrapped) when id is absent.
	Get(ctx context.Context, id string) (*models.Document, error)
	// Delete returns models.ErrNotFound (wrapped) when id is absent.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// ForEachVector streams every stored vector, used to rebuild the vector index.
	ForEachVector(ctx context.Context, fn func(id string, vec []float32) error) error
	Count(ctx context.Context) (int64, error)
	// Generation increases with every successful Put and Delete.
	Generation(ctx context.Context) (uint64, error)
	// OlderThan returns up to limit IDs of documents created before cutoff, oldest first.
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Close() error
}
