package models

// Status summarizes the engine's contents and the cascade's recorded performance.
// Suggested holds threshold proposals for strategies with enough judged outcomes.
type Status struct {
	Documents      int64                `json:"documents"`
	VectorNodes    int                  `json:"vector_nodes"`
	LexicalDocs    uint64               `json:"lexical_documents"`
	IndexType      string               `json:"index_type"`
	Metric         string               `json:"metric"`
	Dimensions     int                  `json:"dimensions"`
	DiskUsageBytes int64                `json:"disk_usage_bytes"`
	Thresholds     map[Strategy]float64 `json:"thresholds"`
	Suggested      map[Strategy]float64 `json:"suggested_thresholds,omitempty"`
	Strategies     []StrategyStats      `json:"strategies"`
	WatchedDirs    []string             `json:"watched_directories,omitempty"`
}
