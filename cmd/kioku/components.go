package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present. When no file exists at all the
// defaults are used, with data under ~/.kioku.
// Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if path != defaultConfigPath || !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}
	cfg = config.Default()
	config.ApplyEnv(cfg)
	cwd, _ := os.Getwd()
	cfg.ResolvePaths(cwd)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	VectorIndex  *vector.Index
	KeywordIndex *keyword.BleveIndex
	Search       *search.Service
	Indexer      *indexer.Indexer
	logger       *zap.Logger
}

// Close flushes the vector index and releases every resource.
func (c *Components) Close() {
	if c.Search != nil {
		if err := c.Search.Flush(); err != nil {
			c.logger.Warn("vector index flush failed", zap.Error(err))
		}
		_ = c.Search.Embedder().Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// reconcilePolicy maps the index config onto the startup rebuild policy.
func reconcilePolicy(cfg *config.Config) search.ReconcilePolicy {
	return search.ReconcilePolicy{
		OnProviderChange: cfg.Index.RebuildOnProviderChangeOrDefault(),
		OnCorrupt:        cfg.Index.RebuildOnCorruptOrDefault(),
	}
}

// initializeComponents opens storage and indices and builds the services.
// With reconcile set, the loaded index is checked against the active provider
// and rebuilt when the config allows it.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, reconcile bool) (*Components, error) {
	c := &Components{logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	vecOpts := []vector.Option{vector.WithLogger(logger)}
	if cfg.Index.DeferredSave {
		vecOpts = append(vecOpts, vector.WithDeferredSave())
	}
	vecIdx, err := vector.Open(cfg.Embedding.Dimensions, vector.NewFileStore(cfg.Storage.IndexPath), vecOpts...)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vecIdx

	c.Search = search.NewService(vecIdx, embedder, store,
		search.WithLogger(logger),
		search.WithEmbedTimeout(cfg.Embedding.Timeout),
		search.WithOverfetch(cfg.Search.Overfetch),
		search.WithBatchSize(cfg.Embedding.BatchSize),
	)

	kwIdx, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kwIdx

	c.Indexer = indexer.NewIndexer(store, c.Search, kwIdx, indexer.WithLogger(logger))

	logger.Info("vector index initialized",
		zap.String("path", cfg.Storage.IndexPath),
		zap.String("load", vecIdx.LoadResult().String()),
		zap.Int("entries", vecIdx.Size()),
		zap.String("provider", embedder.Name()))

	if reconcile {
		report, err := c.Search.Reconcile(ctx, reconcilePolicy(cfg))
		if err != nil {
			// The stale or empty index still serves; a manual rebuild can fix it later.
			logger.Warn("startup rebuild failed", zap.Error(err))
		} else if report != nil {
			if err := c.reindexKeywords(ctx); err != nil {
				logger.Warn("keyword index refresh failed", zap.Error(err))
			}
		}
	}
	ok = true
	return c, nil
}

// reindexKeywords repopulates the keyword index after a startup vector rebuild.
func (c *Components) reindexKeywords(ctx context.Context) error {
	recs, err := c.Storage.ListAllRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := c.KeywordIndex.Index(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
