// Package config handles embedlens configuration via environment variables
// and an optional YAML file.
//
// Defaults are overlaid by the YAML file (when one is given) and then by
// EMBEDLENS_* environment variables, so the environment always wins.
//
// Example Usage:
//
//	cfg, err := config.Load("./embedlens.yaml")
//	if err != nil {
//		log.Fatalf("Loading config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Storage:
//   - EMBEDLENS_DATA_DIR="./data"
//   - EMBEDLENS_IN_MEMORY=false
//   - EMBEDLENS_SYNC_WRITES=false
//
// Search:
//   - EMBEDLENS_SEARCH_DEFAULT_LIMIT=10
//   - EMBEDLENS_SEARCH_METRIC="cosine"
//   - EMBEDLENS_SEARCH_DOT_WINDOW=10000
//
// Clustering:
//   - EMBEDLENS_CLUSTER_MAX_ITERATIONS=100
//   - EMBEDLENS_CLUSTER_BIC_ITERATIONS=50
//   - EMBEDLENS_CLUSTER_SEED=42
//   - EMBEDLENS_CLUSTER_MIN_CLUSTERS=2
//   - EMBEDLENS_CLUSTER_MAX_CLUSTERS=10
//
// Analytics:
//   - EMBEDLENS_ANALYTICS_MAX_JOBS=<number of CPUs>
//   - EMBEDLENS_ANALYTICS_JOB_TIMEOUT=30s
//   - EMBEDLENS_ANALYTICS_CACHE_SIZE=256
//   - EMBEDLENS_ANALYTICS_CACHE_TTL=10m
//
// Logging:
//   - EMBEDLENS_LOG_LEVEL="info"
//   - EMBEDLENS_LOG_FORMAT="text" or "json"
//   - EMBEDLENS_LOG_OUTPUT="stderr"
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/embedlens/pkg/math/vector"
)

// Config holds all embedlens configuration.
//
// Configuration is organized into logical sections:
//   - Database: Embedding store location and durability
//   - Search: Similarity search defaults
//   - Clustering: Algorithm defaults for the dispatcher
//   - Analytics: Job concurrency and deadlines
//   - Logging: Logging configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Search     SearchConfig     `yaml:"search"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig holds embedding store settings.
type DatabaseConfig struct {
	// DataDir is the directory for data storage
	DataDir string `yaml:"data_dir"`
	// InMemory keeps everything in RAM (nothing is persisted)
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs after every write
	SyncWrites bool `yaml:"sync_writes"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	// DefaultLimit when a request does not set one
	DefaultLimit int `yaml:"default_limit"`
	// DefaultMetric (cosine, euclidean, dot_product)
	DefaultMetric string `yaml:"default_metric"`
	// DotProductWindow caps candidates read by dot-product queries
	DotProductWindow int `yaml:"dot_product_window"`
}

// ClusteringConfig holds clustering defaults.
type ClusteringConfig struct {
	// MaxIterations of Lloyd's algorithm for a direct k-means run
	MaxIterations int `yaml:"max_iterations"`
	// BICIterations per candidate k during automatic selection
	BICIterations int `yaml:"bic_iterations"`
	// Seed used when a request does not carry one
	Seed int64 `yaml:"seed"`
	// MinClusters and MaxClusters bound automatic k selection
	MinClusters int `yaml:"min_clusters"`
	MaxClusters int `yaml:"max_clusters"`
}

// AnalyticsConfig holds job scheduling settings.
type AnalyticsConfig struct {
	// MaxConcurrentJobs running at once
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// JobTimeout per call
	JobTimeout time.Duration `yaml:"job_timeout"`
	// ResultCacheSize is the number of clustering results kept (0 disables)
	ResultCacheSize int `yaml:"result_cache_size"`
	// ResultCacheTTL expires cached results (0 = never)
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
	// Output path (stdout, stderr, or file path)
	Output string `yaml:"output"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir: "./data",
		},
		Search: SearchConfig{
			DefaultLimit:     10,
			DefaultMetric:    "cosine",
			DotProductWindow: 10000,
		},
		Clustering: ClusteringConfig{
			MaxIterations: 100,
			BICIterations: 50,
			Seed:          42,
			MinClusters:   2,
			MaxClusters:   10,
		},
		Analytics: AnalyticsConfig{
			MaxConcurrentJobs: runtime.NumCPU(),
			JobTimeout:        30 * time.Second,
			ResultCacheSize:   256,
			ResultCacheTTL:    10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns the defaults overlaid with EMBEDLENS_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile returns the defaults overlaid with the YAML file at path.
// Keys missing from the file keep their default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the YAML file at path (skipped when path is empty) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DataDir = getEnv("EMBEDLENS_DATA_DIR", c.Database.DataDir)
	c.Database.InMemory = getEnvBool("EMBEDLENS_IN_MEMORY", c.Database.InMemory)
	c.Database.SyncWrites = getEnvBool("EMBEDLENS_SYNC_WRITES", c.Database.SyncWrites)

	c.Search.DefaultLimit = getEnvInt("EMBEDLENS_SEARCH_DEFAULT_LIMIT", c.Search.DefaultLimit)
	c.Search.DefaultMetric = getEnv("EMBEDLENS_SEARCH_METRIC", c.Search.DefaultMetric)
	c.Search.DotProductWindow = getEnvInt("EMBEDLENS_SEARCH_DOT_WINDOW", c.Search.DotProductWindow)

	c.Clustering.MaxIterations = getEnvInt("EMBEDLENS_CLUSTER_MAX_ITERATIONS", c.Clustering.MaxIterations)
	c.Clustering.BICIterations = getEnvInt("EMBEDLENS_CLUSTER_BIC_ITERATIONS", c.Clustering.BICIterations)
	c.Clustering.Seed = getEnvInt64("EMBEDLENS_CLUSTER_SEED", c.Clustering.Seed)
	c.Clustering.MinClusters = getEnvInt("EMBEDLENS_CLUSTER_MIN_CLUSTERS", c.Clustering.MinClusters)
	c.Clustering.MaxClusters = getEnvInt("EMBEDLENS_CLUSTER_MAX_CLUSTERS", c.Clustering.MaxClusters)

	c.Analytics.MaxConcurrentJobs = getEnvInt("EMBEDLENS_ANALYTICS_MAX_JOBS", c.Analytics.MaxConcurrentJobs)
	c.Analytics.JobTimeout = getEnvDuration("EMBEDLENS_ANALYTICS_JOB_TIMEOUT", c.Analytics.JobTimeout)
	c.Analytics.ResultCacheSize = getEnvInt("EMBEDLENS_ANALYTICS_CACHE_SIZE", c.Analytics.ResultCacheSize)
	c.Analytics.ResultCacheTTL = getEnvDuration("EMBEDLENS_ANALYTICS_CACHE_TTL", c.Analytics.ResultCacheTTL)

	c.Logging.Level = getEnv("EMBEDLENS_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("EMBEDLENS_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("EMBEDLENS_LOG_OUTPUT", c.Logging.Output)
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if !c.Database.InMemory && c.Database.DataDir == "" {
		return fmt.Errorf("data directory is required unless running in memory")
	}

	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("invalid search default limit: %d", c.Search.DefaultLimit)
	}
	if _, err := vector.ParseMetric(c.Search.DefaultMetric); err != nil {
		return fmt.Errorf("invalid search default metric: %w", err)
	}
	if c.Search.DotProductWindow <= 0 {
		return fmt.Errorf("invalid dot product window: %d", c.Search.DotProductWindow)
	}

	if c.Clustering.MaxIterations <= 0 || c.Clustering.BICIterations <= 0 {
		return fmt.Errorf("invalid clustering iterations: max=%d bic=%d",
			c.Clustering.MaxIterations, c.Clustering.BICIterations)
	}
	if c.Clustering.MinClusters < 1 || c.Clustering.MaxClusters < c.Clustering.MinClusters {
		return fmt.Errorf("invalid cluster range: [%d, %d]", c.Clustering.MinClusters, c.Clustering.MaxClusters)
	}

	if c.Analytics.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("invalid max concurrent jobs: %d", c.Analytics.MaxConcurrentJobs)
	}
	if c.Analytics.JobTimeout <= 0 {
		return fmt.Errorf("invalid job timeout: %s", c.Analytics.JobTimeout)
	}
	if c.Analytics.ResultCacheSize < 0 || c.Analytics.ResultCacheTTL < 0 {
		return fmt.Errorf("invalid result cache: size=%d ttl=%s", c.Analytics.ResultCacheSize, c.Analytics.ResultCacheTTL)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a compact representation of the Config for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, Metric: %s, DotWindow: %d, Seed: %d, Jobs: %d, Timeout: %s, Log: %s/%s}",
		c.Database.DataDir, c.Database.InMemory,
		c.Search.DefaultMetric, c.Search.DotProductWindow,
		c.Clustering.Seed,
		c.Analytics.MaxConcurrentJobs, c.Analytics.JobTimeout,
		c.Logging.Level, c.Logging.Format,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
