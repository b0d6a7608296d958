// Package config provides configuration loading and structs for the mnemo server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Cascade   CascadeConfig   `yaml:"cascade"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
	Retention RetentionConfig `yaml:"retention"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver            string `yaml:"driver"`
	DatabasePath      string `yaml:"database_path"`
	BleveIndexPath    string `yaml:"bleve_index_path"`
	IndexSnapshotPath string `yaml:"index_snapshot_path"`
}

// EmbeddingConfig selects and configures the embedding adapter.
type EmbeddingConfig struct {
	// Provider is "mock", "onnx", or "openai".
	Provider   string        `yaml:"provider"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
}

// IndexConfig holds vector index parameters.
type IndexConfig struct {
	// Type is "hnsw" or "flat".
	Type string `yaml:"type"`
	// Metric is "cosine", "euclidean", or "dot".
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Seed           int64  `yaml:"seed"`
}

// SearchConfig holds hybrid search settings.
type SearchConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MaxLimit          int     `yaml:"max_limit"`
	VectorCandidates  int     `yaml:"vector_candidates"`
	LexicalCandidates int     `yaml:"lexical_candidates"`
	VectorWeight      float64 `yaml:"vector_weight"`
	LexicalWeight     float64 `yaml:"lexical_weight"`
}

// CascadeConfig holds routing thresholds, per-stage timeouts, and strategy data files.
type CascadeConfig struct {
	FastThreshold    float64       `yaml:"fast_threshold"`
	PatternThreshold float64       `yaml:"pattern_threshold"`
	FastTimeout      time.Duration `yaml:"fast_timeout"`
	PatternTimeout   time.Duration `yaml:"pattern_timeout"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	RecordTimeout    time.Duration `yaml:"record_timeout"`
	ExemplarsPath    string        `yaml:"exemplars_path"`
	RulesPath        string        `yaml:"rules_path"`

	// EvidenceBoost is the weight given to hybrid search label agreement in the fast stage.
	EvidenceBoost float64 `yaml:"evidence_boost"`

	// TargetSuccessRate drives the threshold suggestions reported by status.
	TargetSuccessRate float64 `yaml:"target_success_rate"`
}

// InferenceConfig configures the external inference client.
type InferenceConfig struct {
	// Provider is "openai" or "none".
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// CacheConfig holds document cache settings.
type CacheConfig struct {
	Documents int         `yaml:"documents"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig configures the optional shared L2 document cache.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addrs     []string      `yaml:"addrs"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// RetentionConfig controls the background sweeper. MaxAge 0 disables it.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the config file at path, expands ${VAR} references and paths,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.IndexSnapshotPath = expandPath(cfg.Storage.IndexSnapshotPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Cascade.ExemplarsPath = expandPath(cfg.Cascade.ExemplarsPath, configDir)
	cfg.Cascade.RulesPath = expandPath(cfg.Cascade.RulesPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be \"sqlite3\" or \"sqlite\", got %q", c.Storage.Driver)
	}
	switch c.Embedding.Provider {
	case "mock", "onnx", "openai":
	default:
		return fmt.Errorf("embedding.provider must be \"mock\", \"onnx\", or \"openai\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Index.Type {
	case "hnsw", "flat":
	default:
		return fmt.Errorf("index.type must be \"hnsw\" or \"flat\", got %q", c.Index.Type)
	}
	switch c.Index.Metric {
	case "cosine", "euclidean", "dot":
	default:
		return fmt.Errorf("index.metric must be \"cosine\", \"euclidean\", or \"dot\", got %q", c.Index.Metric)
	}
	if c.Index.M < 2 {
		return fmt.Errorf("index.m must be at least 2, got %d", c.Index.M)
	}
	if c.Search.VectorWeight < 0 || c.Search.LexicalWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	if c.Search.VectorWeight+c.Search.LexicalWeight == 0 {
		return fmt.Errorf("search weights must not both be zero")
	}
	for name, v := range map[string]float64{
		"cascade.fast_threshold":      c.Cascade.FastThreshold,
		"cascade.pattern_threshold":   c.Cascade.PatternThreshold,
		"cascade.target_success_rate": c.Cascade.TargetSuccessRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	switch c.Inference.Provider {
	case "openai", "none":
	default:
		return fmt.Errorf("inference.provider must be \"openai\" or \"none\", got %q", c.Inference.Provider)
	}
	if c.Cache.Redis.Enabled && len(c.Cache.Redis.Addrs) == 0 {
		return fmt.Errorf("cache.redis.addrs is required when redis is enabled")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}
