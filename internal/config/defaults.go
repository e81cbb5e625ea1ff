package config

import "time"

// Default provider settings per embedding provider.
var providerDefaults = map[string]struct {
	model      string
	endpoint   string
	dimensions int
}{
	"ollama": {model: "nomic-embed-text", endpoint: "http://localhost:11434", dimensions: 768},
	"openai": {model: "text-embedding-3-small", dimensions: 1536},
	"onnx":   {model: "all-MiniLM-L6-v2", dimensions: 384},
	"mock":   {model: "hash", dimensions: 384},
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kioku/notes.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = ".kioku/vectors.idx"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = ".kioku/keyword.bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if d, ok := providerDefaults[cfg.Embedding.Provider]; ok {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = d.model
		}
		if cfg.Embedding.Endpoint == "" {
			cfg.Embedding.Endpoint = d.endpoint
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = d.dimensions
		}
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.DefaultThreshold == 0 {
		cfg.Search.DefaultThreshold = 0.6
	}
	if cfg.Search.Overfetch == 0 {
		cfg.Search.Overfetch = 5
	}
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
