package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/mnemo/data/db/documents.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/mnemo/data/indices/bleve"
	}
	if cfg.Storage.IndexSnapshotPath == "" {
		cfg.Storage.IndexSnapshotPath = "/usr/local/var/mnemo/data/indices/vectors.mnhx"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/mnemo/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 5 * time.Second
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "hnsw"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "cosine"
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = 200
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 64
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.VectorCandidates == 0 {
		cfg.Search.VectorCandidates = 100
	}
	if cfg.Search.LexicalCandidates == 0 {
		cfg.Search.LexicalCandidates = 100
	}
	if cfg.Search.VectorWeight == 0 && cfg.Search.LexicalWeight == 0 {
		cfg.Search.VectorWeight = 0.5
		cfg.Search.LexicalWeight = 0.5
	}
	if cfg.Cascade.FastThreshold == 0 {
		cfg.Cascade.FastThreshold = 0.7
	}
	if cfg.Cascade.PatternThreshold == 0 {
		cfg.Cascade.PatternThreshold = 0.5
	}
	if cfg.Cascade.FastTimeout == 0 {
		cfg.Cascade.FastTimeout = 200 * time.Millisecond
	}
	if cfg.Cascade.PatternTimeout == 0 {
		cfg.Cascade.PatternTimeout = 200 * time.Millisecond
	}
	if cfg.Cascade.InferenceTimeout == 0 {
		cfg.Cascade.InferenceTimeout = 10 * time.Second
	}
	if cfg.Cascade.RecordTimeout == 0 {
		cfg.Cascade.RecordTimeout = 500 * time.Millisecond
	}
	if cfg.Cascade.EvidenceBoost == 0 {
		cfg.Cascade.EvidenceBoost = 0.1
	}
	if cfg.Cascade.TargetSuccessRate == 0 {
		cfg.Cascade.TargetSuccessRate = 0.9
	}
	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = "none"
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = "gpt-4o-mini"
	}
	if cfg.Inference.MaxTokens == 0 {
		cfg.Inference.MaxTokens = 512
	}
	if cfg.Inference.Burst == 0 {
		cfg.Inference.Burst = 1
	}
	if cfg.Cache.Documents == 0 {
		cfg.Cache.Documents = 4096
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = "mnemo:doc:"
	}
	if cfg.Cache.Redis.TTL == 0 {
		cfg.Cache.Redis.TTL = 10 * time.Minute
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Hour
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".xlsx"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
