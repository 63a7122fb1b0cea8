// Package config provides configuration loading and structs for the Kensaku engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Index engine selection values for StorageConfig.Engine.
const (
	EngineBleve  = "bleve"
	EngineMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Sync    SyncConfig    `yaml:"sync"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the document database and the search index.
// One logical index per installation; provider is a filterable field, not a
// separate index, so cross-account search is a single query.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
	// Engine selects the index implementation: "bleve" (persistent) or
	// "memory" (in-process, for tests and small installs).
	Engine string `yaml:"engine"`
}

// SearchConfig holds query planning and ranking settings.
type SearchConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
	TopKCandidates   int     `yaml:"top_k_candidates"`
	TitleBoost       float64 `yaml:"title_boost"`
	ContentBoost     float64 `yaml:"content_boost"`
	TagsBoost        float64 `yaml:"tags_boost"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	RecencyHalfLife  int     `yaml:"recency_half_life_days"`
	FuzzyDistance    int     `yaml:"fuzzy_distance"`
	DefaultTimeoutMs int     `yaml:"default_timeout_ms"`
	MaxTimeoutMs     int     `yaml:"max_timeout_ms"`
	FragmentSize     int     `yaml:"fragment_size"`
	MaxFragments     int     `yaml:"max_fragments"`
}

// SyncConfig holds sync scheduling and retry settings.
type SyncConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`
	BackoffBaseSeconds     int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds      int `yaml:"backoff_cap_seconds"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	BatchLimit             int `yaml:"batch_limit"`
}

// WatchConfig holds local file source settings.
type WatchConfig struct {
	ProviderID  string   `yaml:"provider_id"`
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory changes.
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

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
