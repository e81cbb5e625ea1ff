// Package search answers natural-language queries over records and keeps the
// vector index in step with the record store.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/observability"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

const (
	defaultEmbedTimeout = 30 * time.Second
	defaultOverfetch    = 5
	defaultBatchSize    = 32
)

// RecordStore is the subset of the record store the service reads from.
// GetRecord returns an error matching storage.ErrNotFound for absent ids.
type RecordStore interface {
	GetRecord(ctx context.Context, id int64) (*models.Record, error)
	ListAllRecords(ctx context.Context) ([]*models.Record, error)
}

// Service composes an embedder, a vector index and a record store.
//
// Mutations (IndexRecord, RemoveRecord) share writeMu for reading and Rebuild
// holds it exclusively, so a rebuild never swaps away a concurrent mutation.
// Searches do not take writeMu and keep using the previous index until the
// rebuild swaps it.
type Service struct {
	index *vector.Index
	store RecordStore

	embedMu  sync.RWMutex
	embedder embedding.Embedder

	writeMu    sync.RWMutex
	rebuilding atomic.Bool

	logger       *zap.Logger
	embedTimeout time.Duration
	overfetch    int
	batchSize    int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEmbedTimeout bounds each provider call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithOverfetch sets how many extra index candidates Search requests to make
// up for hits whose record no longer exists.
func WithOverfetch(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.overfetch = n
		}
	}
}

// WithBatchSize sets how many records Rebuild embeds per provider call.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a search service.
func NewService(index *vector.Index, embedder embedding.Embedder, store RecordStore, opts ...Option) *Service {
	s := &Service{
		index:        index,
		store:        store,
		embedder:     embedder,
		logger:       zap.NewNop(),
		embedTimeout: defaultEmbedTimeout,
		overfetch:    defaultOverfetch,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	observability.IndexEntries.Set(float64(index.Size()))
	return s
}

// Embedder returns the active embedding provider.
func (s *Service) Embedder() embedding.Embedder {
	s.embedMu.RLock()
	defer s.embedMu.RUnlock()
	return s.embedder
}

// embed calls the provider with a timeout and checks the vector dimension.
func (s *Service) embed(ctx context.Context, e embedding.Embedder, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	v, err := e.Embed(ctx, text)
	observability.EmbeddingRequestsTotal.WithLabelValues(e.Name(), observability.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingUnavailable, e.Name(), err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty vector", ErrEmbeddingUnavailable, e.Name())
	}
	if len(v) != s.index.Dim() {
		return nil, fmt.Errorf("provider %s: %w", e.Name(), &vector.DimensionError{Got: len(v), Want: s.index.Dim()})
	}
	return v, nil
}

// IndexRecord embeds text and upserts it under id. On any provider failure the
// index is left untouched and the error matches ErrEmbeddingUnavailable.
func (s *Service) IndexRecord(ctx context.Context, id int64, text string) (err error) {
	defer func() {
		observability.IndexOperationsTotal.WithLabelValues("index", observability.Status(err)).Inc()
	}()
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	// Embed before waiting on writeMu so a rebuild does not hold up provider calls.
	e := s.Embedder()
	v, err := s.embed(ctx, e, text)
	if err != nil {
		return err
	}

	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	if s.Embedder() != e {
		// The provider was switched while embedding; the vector belongs to the old space.
		if v, err = s.embed(ctx, s.Embedder(), text); err != nil {
			return err
		}
	}
	s.index.Claim(s.Embedder().Name())
	if err := s.index.Insert(id, v); err != nil {
		return err
	}
	observability.IndexEntries.Set(float64(s.index.Size()))
	return nil
}

// RemoveRecord removes id from the index. Absent ids are not an error.
func (s *Service) RemoveRecord(ctx context.Context, id int64) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	err := s.index.Remove(id)
	observability.IndexOperationsTotal.WithLabelValues("remove", observability.Status(err)).Inc()
	observability.IndexEntries.Set(float64(s.index.Size()))
	return err
}

// Search embeds text and returns up to topK records scoring at least threshold,
// best first. Hits whose record is gone from the store are dropped and counted
// in Dropped, so fewer than topK results may come back even when more records match.
// Any other store error fails the search.
func (s *Service) Search(ctx context.Context, text string, topK int, threshold float64) (resp *models.SearchResponse, err error) {
	start := time.Now()
	defer func() {
		observability.IndexOperationsTotal.WithLabelValues("search", observability.Status(err)).Inc()
		observability.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	resp = &models.SearchResponse{Results: []*models.SearchResult{}, Query: text}
	if topK <= 0 {
		return resp, nil
	}

	v, err := s.embed(ctx, s.Embedder(), text)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Query(v, topK, threshold, vector.WithLimit(topK+s.overfetch))
	if err != nil {
		return nil, err
	}

	for _, hit := range hits {
		if len(resp.Results) == topK {
			break
		}
		rec, err := s.store.GetRecord(ctx, hit.ID)
		if errors.Is(err, storage.ErrNotFound) {
			resp.Dropped++
			s.logger.Debug("Dropping stale index entry", zap.Int64("id", hit.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load record %d: %w", hit.ID, err)
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			Record: rec,
			Score:  hit.Score,
			Rank:   len(resp.Results) + 1,
		})
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Stats describes the index and the active provider.
func (s *Service) Stats() models.IndexStats {
	st := s.index.Stats()
	return models.IndexStats{
		Count:       st.Count,
		Dim:         st.Dim,
		Persisted:   st.Persisted,
		Fingerprint: st.Fingerprint,
		Provider:    s.Embedder().Name(),
		Rebuilding:  s.rebuilding.Load(),
		Path:        st.Path,
	}
}

// Flush writes pending index changes to disk.
func (s *Service) Flush() error {
	return s.index.Flush()
}
