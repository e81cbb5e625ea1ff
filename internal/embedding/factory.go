package embedding

import (
	"fmt"

	"github.com/hyperjump/kioku/internal/config"
)

// ONNXConfig configures the local ONNX provider.
type ONNXConfig struct {
	ModelPath  string
	Model      string
	Dimensions int
	MaxTokens  int
}

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache
// when cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "ollama":
		e = NewOllamaEmbedder(OllamaConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case "openai":
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "onnx":
		e, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case "mock":
		m := NewMockEmbedder(cfg.Dimensions)
		if cfg.Model != "" {
			m.model = cfg.Model
		}
		e = m
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize), nil
	}
	return e, nil
}
