// Package config provides configuration loading and structs for the Kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
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
	Search    SearchConfig    `yaml:"search"`
	Index     IndexConfig     `yaml:"index"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record database and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	IndexPath        string `yaml:"index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "ollama", "openai", "onnx" or "mock".
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Endpoint   string        `yaml:"endpoint"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	BatchSize  int           `yaml:"batch_size"`
	CacheSize  int           `yaml:"cache_size"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
}

// Fingerprint identifies the vector space produced by this provider configuration.
// Indexes built under different fingerprints are not comparable.
func (e EmbeddingConfig) Fingerprint() string {
	return e.Provider + ":" + e.Model
}

// SearchConfig holds semantic search settings.
type SearchConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	// Overfetch is the number of extra candidates requested from the index to
	// compensate for hits dropped during hydration.
	Overfetch int `yaml:"overfetch"`
}

// IndexConfig holds vector index maintenance settings.
type IndexConfig struct {
	DeferredSave            bool  `yaml:"deferred_save"`
	RebuildOnProviderChange *bool `yaml:"rebuild_on_provider_change"`
	RebuildOnCorrupt        *bool `yaml:"rebuild_on_corrupt"`
}

// RebuildOnProviderChangeOrDefault defaults to true when unset.
func (i *IndexConfig) RebuildOnProviderChangeOrDefault() bool {
	if i.RebuildOnProviderChange != nil {
		return *i.RebuildOnProviderChange
	}
	return true
}

// RebuildOnCorruptOrDefault defaults to true when unset.
func (i *IndexConfig) RebuildOnCorruptOrDefault() bool {
	if i.RebuildOnCorrupt != nil {
		return *i.RebuildOnCorrupt
	}
	return true
}

// WatchConfig holds config file watch settings.
type WatchConfig struct {
	// Config reloads the config file on change; a provider change triggers a rebuild.
	Config bool `yaml:"config"`
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

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.ResolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePaths makes storage and model paths absolute; see expandPath.
func (c *Config) ResolvePaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.IndexPath = expandPath(c.Storage.IndexPath, configDir)
	c.Storage.KeywordIndexPath = expandPath(c.Storage.KeywordIndexPath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
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

// ApplyEnv fills secrets from the environment when they are not in the file.
func ApplyEnv(cfg *Config) {
	if cfg.Embedding.APIKey != "" {
		return
	}
	if key := os.Getenv("KIOKU_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
		return
	}
	if cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate reports configuration errors that make the service unusable.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama", "openai", "onnx", "mock":
	default:
		return fmt.Errorf("unknown embedding provider: %q (supported: ollama, openai, onnx, mock)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.DefaultThreshold < -1 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search default_threshold must be within [-1, 1], got %v", c.Search.DefaultThreshold)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
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
