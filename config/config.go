package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrieval service.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Data      DataConfig      `yaml:"data"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig holds chunking and vector index configuration.
type IndexConfig struct {
	Dir          string `yaml:"dir"` // Empty keeps the index in memory only
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Metric       string `yaml:"metric"` // "l2", "inner_product", "cosine"
}

// DataConfig describes where the knowledge-base collections live.
type DataConfig struct {
	Dir      string   `yaml:"dir"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// RetrieveConfig holds query-time configuration.
type RetrieveConfig struct {
	TopK           int           `yaml:"top_k"`
	OverFetch      int           `yaml:"over_fetch"`      // Candidate multiplier when a category filter is set
	AdaptiveFilter bool          `yaml:"adaptive_filter"` // Widen the search until top_k filtered results or exhaustion
	CacheSize      int           `yaml:"cache_size"`      // 0 disables the query cache
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	DedupJaccard   float64       `yaml:"dedup_jaccard"` // Drop results more similar than this to a better one; 0 disables
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`    // "openai", "ollama", "jina", "deepseek", "hash"
	Model             string        `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables rate limiting
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// FallbackConfig configures the keyword retriever used when vector search is unavailable.
type FallbackConfig struct {
	KnowledgeFile string  `yaml:"knowledge_file"`
	CategoryBoost float64 `yaml:"category_boost"`
	Tokenizer     string  `yaml:"tokenizer"` // "whitespace" or "words"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:          ".kbrag",
			ChunkSize:    500,
			ChunkOverlap: 50,
			Metric:       "l2",
		},
		Data: DataConfig{
			Dir:      "data",
			Includes: []string{"**/*.json"},
			Excludes: []string{"**/.*/**", "**/node_modules/**"},
		},
		Retrieve: RetrieveConfig{
			TopK:           5,
			OverFetch:      3,
			AdaptiveFilter: true,
			CacheSize:      256,
			CacheTTL:       5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         1536,
			BatchSize:         100,
			RequestsPerSecond: 0,
			BreakerFailures:   3,
			BreakerTimeout:    30 * time.Second,
		},
		Fallback: FallbackConfig{
			CategoryBoost: 5,
			Tokenizer:     "whitespace",
		},
		Server: ServerConfig{
			Addr:            ":8002",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kbrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "kbrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".kbrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ResolvePath anchors a relative path at root. Empty paths stay empty.
func ResolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
