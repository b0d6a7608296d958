package router

import (
	"context"

	"github.com/hyperjump/mnemo/internal/models"
)

// Request is the input handed to every stage.
type Request struct {
	Query string
	// Evidence holds hybrid search hits for the query, best first. May be empty.
	Evidence []*models.SearchResult
}

// Documents returns the hydrated evidence documents.
func (r *Request) Documents() []*models.Document {
	docs := make([]*models.Document, 0, len(r.Evidence))
	for _, e := range r.Evidence {
		if e.Document != nil {
			docs = append(docs, e.Document)
		}
	}
	return docs
}

// Answer is a stage's proposed resolution.
type Answer struct {
	Payload    string
	Label      string
	Confidence float64
}

// Strategy resolves a request with a confidence score.
type Strategy interface {
	Name() models.Strategy
	Resolve(ctx context.Context, req *Request) (Answer, error)
}
