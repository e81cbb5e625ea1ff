package watcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
)

// Switcher swaps the active embedding provider, rebuilding the index with it.
type Switcher interface {
	SwitchEmbedder(ctx context.Context, e embedding.Embedder) (*models.RebuildReport, error)
}

// ProviderReloader re-reads the config file and switches the embedding
// provider when its settings changed. Other sections are ignored until restart.
type ProviderReloader struct {
	switcher Switcher
	build    func(config.EmbeddingConfig) (embedding.Embedder, error)
	logger   *zap.Logger

	mu      sync.Mutex
	current config.EmbeddingConfig
}

// NewProviderReloader creates a reloader for the provider built from current.
// build defaults to embedding.New.
func NewProviderReloader(s Switcher, current config.EmbeddingConfig, build func(config.EmbeddingConfig) (embedding.Embedder, error), logger *zap.Logger) *ProviderReloader {
	if build == nil {
		build = embedding.New
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderReloader{switcher: s, build: build, logger: logger, current: current}
}

// Reload loads path and switches provider when the embedding section differs.
// A config that fails to load or a provider that fails to switch leaves the
// running provider and index untouched.
func (r *ProviderReloader) Reload(ctx context.Context, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		r.logger.Warn("Ignoring config change", zap.String("path", path), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Embedding == r.current {
		r.logger.Debug("Config changed without embedding changes", zap.String("path", path))
		return
	}

	e, err := r.build(cfg.Embedding)
	if err != nil {
		r.logger.Error("Failed to create embedding provider", zap.String("provider", cfg.Embedding.Fingerprint()), zap.Error(err))
		return
	}
	report, err := r.switcher.SwitchEmbedder(ctx, e)
	if err != nil {
		_ = e.Close()
		r.logger.Error("Provider switch failed; keeping previous provider",
			zap.String("provider", cfg.Embedding.Fingerprint()), zap.Error(err))
		return
	}
	r.current = cfg.Embedding
	r.logger.Info("Embedding provider reloaded",
		zap.String("provider", report.Fingerprint),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", len(report.Failed)))
}

// Current returns the embedding settings in effect.
func (r *ProviderReloader) Current() config.EmbeddingConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
