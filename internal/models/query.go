package models

import "fmt"

// SearchQuery represents a hybrid search request.
type SearchQuery struct {
	Query    string  `json:"query"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
	MinScore float64 `json:"min_score,omitempty"` // minimum combined score
	// VectorWeight and LexicalWeight replace the configured fusion weights when either is set.
	VectorWeight  float64 `json:"vector_weight,omitempty"`
	LexicalWeight float64 `json:"lexical_weight,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset cannot be negative", ErrInvalidInput)
	}
	if q.VectorWeight < 0 || q.LexicalWeight < 0 {
		return fmt.Errorf("%w: weights cannot be negative", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// RouteQuery is a request to resolve a query through the routing cascade.
type RouteQuery struct {
	Query string `json:"query"`
	// EvidenceLimit bounds how many hybrid search hits are passed to the strategies.
	EvidenceLimit int `json:"evidence_limit,omitempty"`
}

// Validate ensures the route query has valid fields and sets defaults.
func (q *RouteQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.EvidenceLimit <= 0 {
		q.EvidenceLimit = 5
	}
	if q.EvidenceLimit > 50 {
		q.EvidenceLimit = 50
	}
	return nil
}
