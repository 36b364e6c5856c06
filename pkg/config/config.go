// Package config handles nornicdb-check configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --workers, etc.)
//  2. Environment variables (NORNICDB_CHECK_*)
//  3. Config file (check.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Printf("Checking %s with %d workers\n", cfg.Store.DataDir, cfg.Execution.Workers)
//
// Environment Variables:
//
// Store:
//   - NORNICDB_CHECK_DATA_DIR="./data"
//   - NORNICDB_CHECK_RECORDS_PER_PAGE=128
//   - NORNICDB_CHECK_LOW_MEMORY=true
//   - NORNICDB_ENCRYPTION_PASSWORD="secret"
//
// Memory:
//   - NORNICDB_CHECK_MAX_MEMORY="2GB"
//   - NORNICDB_CHECK_GROUP_CACHE_MEMORY="512MB"
//   - NORNICDB_CHECK_MEMORY_LIMIT="4GB" (GOMEMLIMIT)
//   - NORNICDB_CHECK_GC_PERCENT=100
//
// Execution:
//   - NORNICDB_CHECK_WORKERS=8
//   - NORNICDB_CHECK_CHUNK_SIZE=10000
//   - NORNICDB_CHECK_PREFETCH_ENABLED=true
//   - NORNICDB_CHECK_PREFETCH_WINDOW=64
//   - NORNICDB_CHECK_LARGE_INDEXES=5
//
// Logging:
//   - NORNICDB_CHECK_LOG_LEVEL="INFO"
//   - NORNICDB_CHECK_LOG_FORMAT="json"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidMemorySize is returned by ParseMemorySize for malformed sizes.
var ErrInvalidMemorySize = errors.New("config: invalid memory size")

// Config holds all nornicdb-check configuration.
//
// Configuration is organized into logical sections:
//   - Store: which store to open and how
//   - Memory: budgets for the per-range and group caches, Go runtime tuning
//   - Execution: worker pool sizing
//   - Prefetch: page read-ahead
//   - Indexes: index classification
//   - Logging: Logging configuration
type Config struct {
	Store     StoreConfig
	Memory    MemoryConfig
	Execution ExecutionConfig
	Prefetch  PrefetchConfig
	Indexes   IndexConfig
	Logging   LoggingConfig
}

// StoreConfig selects the store to check.
type StoreConfig struct {
	// DataDir is the Badger directory of the store
	DataDir string
	// RecordsPerPage must match the value the store was written with
	RecordsPerPage int64
	// LowMemory opens Badger with small tables and caches
	LowMemory bool
	// BlockCacheSize overrides Badger's block cache (0 = Badger default)
	BlockCacheSize int64
	// EncryptionPassword derives the key of an encrypted store (empty = not encrypted)
	// Env: NORNICDB_ENCRYPTION_PASSWORD
	EncryptionPassword string
}

// MemoryConfig holds the memory budgets of a check.
type MemoryConfig struct {
	// MaxMemory bounds the per-range node caches, in bytes
	MaxMemory int64
	// GroupCacheMemory bounds the relationship group cache (0 = MaxMemory)
	GroupCacheMemory int64
	// HighLabelID and HighTypeID size the dense count tables; larger ids still work
	HighLabelID int64
	HighTypeID  int64

	// RuntimeLimit is the soft memory limit (GOMEMLIMIT) in bytes
	// 0 = unlimited (Go manages automatically)
	RuntimeLimit int64
	// GCPercent controls GC aggressiveness (GOGC)
	GCPercent int
}

// ExecutionConfig sizes the worker pool.
type ExecutionConfig struct {
	// Workers is the number of worker goroutines (0 = number of CPUs)
	Workers int
	// ChunkSize is the number of record ids per task
	ChunkSize int64
}

// PrefetchConfig controls page read-ahead during scans.
type PrefetchConfig struct {
	Enabled bool
	// Window is how many pages the prefetcher may run ahead of the scan
	Window int64
}

// IndexConfig controls index classification.
type IndexConfig struct {
	// LargeCapacity is the number of indexes per entity type treated as large
	LargeCapacity int
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
}

// Validate checks the configuration for values a check cannot run with.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Store.RecordsPerPage <= 0 {
		return fmt.Errorf("invalid records per page: %d", c.Store.RecordsPerPage)
	}
	if c.Memory.MaxMemory <= 0 {
		return fmt.Errorf("invalid max memory: %d", c.Memory.MaxMemory)
	}
	if c.Memory.GroupCacheMemory < 0 {
		return fmt.Errorf("invalid group cache memory: %d", c.Memory.GroupCacheMemory)
	}
	if c.Execution.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Execution.Workers)
	}
	if c.Execution.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", c.Execution.ChunkSize)
	}
	if c.Prefetch.Enabled && c.Prefetch.Window <= 0 {
		return fmt.Errorf("invalid prefetch window: %d", c.Prefetch.Window)
	}
	if c.Indexes.LargeCapacity < 0 {
		return fmt.Errorf("invalid large index capacity: %d", c.Indexes.LargeCapacity)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a safe string representation of the Config.
// The encryption password is never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, Encrypted: %v, MaxMemory: %s, Workers: %d, Prefetch: %v}",
		c.Store.DataDir,
		c.Store.EncryptionPassword != "",
		FormatMemorySize(c.Memory.MaxMemory),
		c.Execution.Workers,
		c.Prefetch.Enabled,
	)
}

// YAMLConfig represents the YAML configuration file structure.
// All fields mirror the environment variable configuration options.
type YAMLConfig struct {
	Store struct {
		DataDir            string `yaml:"data_dir"`
		RecordsPerPage     int64  `yaml:"records_per_page"`
		LowMemory          bool   `yaml:"low_memory"`
		BlockCacheSize     string `yaml:"block_cache_size"`
		EncryptionPassword string `yaml:"encryption_password"`
	} `yaml:"store"`

	Memory struct {
		MaxMemory        string `yaml:"max_memory"`
		GroupCacheMemory string `yaml:"group_cache_memory"`
		HighLabelID      int64  `yaml:"high_label_id"`
		HighTypeID       int64  `yaml:"high_type_id"`
		RuntimeLimit     string `yaml:"runtime_limit"`
		GCPercent        int    `yaml:"gc_percent"`
	} `yaml:"memory"`

	Execution struct {
		Workers   int   `yaml:"workers"`
		ChunkSize int64 `yaml:"chunk_size"`
	} `yaml:"execution"`

	Prefetch struct {
		Enabled *bool `yaml:"enabled"`
		Window  int64 `yaml:"window"`
	} `yaml:"prefetch"`

	Indexes struct {
		LargeCapacity *int `yaml:"large_capacity"`
	} `yaml:"indexes"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadDefaults returns a Config with built-in defaults only.
func LoadDefaults() *Config {
	config := &Config{}

	config.Store.DataDir = "./data"
	config.Store.RecordsPerPage = 128

	config.Memory.MaxMemory = 1024 * 1024 * 1024
	config.Memory.HighLabelID = 256
	config.Memory.HighTypeID = 256
	config.Memory.GCPercent = 100

	config.Execution.Workers = runtime.NumCPU()
	config.Execution.ChunkSize = 10_000

	config.Prefetch.Enabled = true
	config.Prefetch.Window = 64

	config.Indexes.LargeCapacity = 5

	config.Logging.Level = "INFO"
	config.Logging.Format = "text"
	return config
}

// LoadFromEnv returns the defaults overridden by environment variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

func applyEnvVars(config *Config) {
	if v := getEnv("NORNICDB_CHECK_DATA_DIR", ""); v != "" {
		config.Store.DataDir = v
	}
	if v := getEnvInt("NORNICDB_CHECK_RECORDS_PER_PAGE", 0); v > 0 {
		config.Store.RecordsPerPage = int64(v)
	}
	config.Store.LowMemory = getEnvBool("NORNICDB_CHECK_LOW_MEMORY", config.Store.LowMemory)
	if v := getEnv("NORNICDB_ENCRYPTION_PASSWORD", ""); v != "" {
		config.Store.EncryptionPassword = v
	}

	if v := parseMemorySize(getEnv("NORNICDB_CHECK_MAX_MEMORY", "")); v > 0 {
		config.Memory.MaxMemory = v
	}
	if v := parseMemorySize(getEnv("NORNICDB_CHECK_GROUP_CACHE_MEMORY", "")); v > 0 {
		config.Memory.GroupCacheMemory = v
	}
	if v := parseMemorySize(getEnv("NORNICDB_CHECK_MEMORY_LIMIT", "")); v > 0 {
		config.Memory.RuntimeLimit = v
	}
	config.Memory.GCPercent = getEnvInt("NORNICDB_CHECK_GC_PERCENT", config.Memory.GCPercent)

	if v := getEnvInt("NORNICDB_CHECK_WORKERS", 0); v > 0 {
		config.Execution.Workers = v
	}
	if v := getEnvInt("NORNICDB_CHECK_CHUNK_SIZE", 0); v > 0 {
		config.Execution.ChunkSize = int64(v)
	}

	config.Prefetch.Enabled = getEnvBool("NORNICDB_CHECK_PREFETCH_ENABLED", config.Prefetch.Enabled)
	if v := getEnvInt("NORNICDB_CHECK_PREFETCH_WINDOW", 0); v > 0 {
		config.Prefetch.Window = int64(v)
	}

	config.Indexes.LargeCapacity = getEnvInt("NORNICDB_CHECK_LARGE_INDEXES", config.Indexes.LargeCapacity)

	if v := getEnv("NORNICDB_CHECK_LOG_LEVEL", ""); v != "" {
		config.Logging.Level = strings.ToUpper(v)
	}
	if v := getEnv("NORNICDB_CHECK_LOG_FORMAT", ""); v != "" {
		config.Logging.Format = strings.ToLower(v)
	}
}

// ApplyEnvVars applies environment variable overrides to an existing config.
// This is the exported version for use in main.go.
func ApplyEnvVars(config *Config) {
	applyEnvVars(config)
}

// LoadFromFile loads configuration with proper precedence:
//  1. Built-in defaults (lowest priority)
//  2. YAML config file
//  3. Environment variables (highest priority before CLI args)
//
// Command-line arguments are applied by the caller (main.go) after this.
// An empty path or a missing file yields defaults plus environment.
//
// Example YAML:
//
//	store:
//	  data_dir: "/var/lib/nornicdb"
//	memory:
//	  max_memory: "4GB"
//	execution:
//	  workers: 16
//	prefetch:
//	  window: 128
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := applyYAML(config, data); err != nil {
				return nil, err
			}
		}
	}

	applyEnvVars(config)
	return config, nil
}

func applyYAML(config *Config, data []byte) error {
	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Store Settings ===
	if yamlCfg.Store.DataDir != "" {
		config.Store.DataDir = yamlCfg.Store.DataDir
	}
	if yamlCfg.Store.RecordsPerPage > 0 {
		config.Store.RecordsPerPage = yamlCfg.Store.RecordsPerPage
	}
	if yamlCfg.Store.LowMemory {
		config.Store.LowMemory = true
	}
	if yamlCfg.Store.EncryptionPassword != "" {
		config.Store.EncryptionPassword = yamlCfg.Store.EncryptionPassword
	}

	// === Memory Settings ===
	sizes := []struct {
		field string
		value string
		dst   *int64
	}{
		{"store.block_cache_size", yamlCfg.Store.BlockCacheSize, &config.Store.BlockCacheSize},
		{"memory.max_memory", yamlCfg.Memory.MaxMemory, &config.Memory.MaxMemory},
		{"memory.group_cache_memory", yamlCfg.Memory.GroupCacheMemory, &config.Memory.GroupCacheMemory},
		{"memory.runtime_limit", yamlCfg.Memory.RuntimeLimit, &config.Memory.RuntimeLimit},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		v, err := ParseMemorySize(s.value)
		if err != nil {
			return fmt.Errorf("%s: %w", s.field, err)
		}
		*s.dst = v
	}
	if yamlCfg.Memory.HighLabelID > 0 {
		config.Memory.HighLabelID = yamlCfg.Memory.HighLabelID
	}
	if yamlCfg.Memory.HighTypeID > 0 {
		config.Memory.HighTypeID = yamlCfg.Memory.HighTypeID
	}
	if yamlCfg.Memory.GCPercent != 0 {
		config.Memory.GCPercent = yamlCfg.Memory.GCPercent
	}

	// === Execution Settings ===
	if yamlCfg.Execution.Workers > 0 {
		config.Execution.Workers = yamlCfg.Execution.Workers
	}
	if yamlCfg.Execution.ChunkSize > 0 {
		config.Execution.ChunkSize = yamlCfg.Execution.ChunkSize
	}
	if yamlCfg.Prefetch.Enabled != nil {
		config.Prefetch.Enabled = *yamlCfg.Prefetch.Enabled
	}
	if yamlCfg.Prefetch.Window > 0 {
		config.Prefetch.Window = yamlCfg.Prefetch.Window
	}
	if yamlCfg.Indexes.LargeCapacity != nil {
		config.Indexes.LargeCapacity = *yamlCfg.Indexes.LargeCapacity
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = strings.ToUpper(yamlCfg.Logging.Level)
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = strings.ToLower(yamlCfg.Logging.Format)
	}
	return nil
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.nornicdb/check.yaml
//  2. Current working directory (check.yaml)
//  3. ~/.config/nornicdb/check.yaml (Linux/Unix XDG standard)
func FindConfigFile() string {
	var candidates []string
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicdb", "check.yaml"))
	}
	candidates = append(candidates, "check.yaml")
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicdb", "check.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

// ParseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "512K", "0", "unlimited" (0).
func ParseMemorySize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "0" || s == "UNLIMITED" {
		return 0, nil
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemorySize, orig)
	}
	return val * multiplier, nil
}

// parseMemorySize is ParseMemorySize for environment values, where a
// malformed size falls back to 0.
func parseMemorySize(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := ParseMemorySize(s)
	if err != nil {
		return 0
	}
	return v
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent > 0 && c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}
