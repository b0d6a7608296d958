package models

// SearchResult represents a single fused hit. VectorScore and LexicalScore are
// min-max normalized over the query's candidate set; a signal that did not
// return the document contributes 0.
type SearchResult struct {
	DocID         string    `json:"doc_id"`
	Document      *Document `json:"document,omitempty"`
	VectorScore   float64   `json:"vector_score"`
	LexicalScore  float64   `json:"lexical_score"`
	CombinedScore float64   `json:"combined_score"`
	Rank          int       `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"` // candidates after filtering, before paging
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
