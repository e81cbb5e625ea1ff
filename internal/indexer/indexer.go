// Package indexer keeps records in the store, the vector index and the keyword
// index in step as they are created, edited, completed and deleted.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
)

// ErrEmptyContent is returned when a record has no text after preprocessing.
var ErrEmptyContent = errors.New("content must not be empty")

// Indexer stores records and keeps the vector and keyword indices in step.
type Indexer struct {
	storage      storage.Storage
	search       *search.Service
	keywordIndex keyword.KeywordIndex
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (record indexed, record deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// NewIndexer creates an indexer. keywordIndex may be nil to disable text search.
func NewIndexer(store storage.Storage, svc *search.Service, keywordIndex keyword.KeywordIndex, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:      store,
		search:       svc,
		keywordIndex: keywordIndex,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// prepare turns input into record fields: tag extraction, type detection and
// whitespace normalization. RawContent keeps the input as written, tags included.
func prepare(input *models.RecordInput) (raw, enhanced string, kind models.ItemType, err error) {
	raw = strings.TrimSpace(input.Content)
	cleaned, tagged := ExtractTag(raw)
	cleaned = Preprocess(cleaned)
	if cleaned == "" {
		return "", "", "", ErrEmptyContent
	}

	switch {
	case input.Type != "":
		if kind, err = models.ParseItemType(input.Type); err != nil {
			return "", "", "", err
		}
	case tagged != "":
		kind = tagged
	default:
		kind = Classify(cleaned)
	}

	enhanced = Preprocess(input.EnhancedContent)
	if enhanced == "" {
		enhanced = cleaned
	}
	return raw, enhanced, kind, nil
}

// AddRecord stores a new record and indexes it. When embedding fails the record
// is still stored and returned together with an error matching
// search.ErrEmbeddingUnavailable; a later rebuild indexes it.
func (idx *Indexer) AddRecord(ctx context.Context, input *models.RecordInput) (*models.Record, error) {
	raw, enhanced, kind, err := prepare(input)
	if err != nil {
		return nil, err
	}
	rec := &models.Record{RawContent: raw, EnhancedContent: enhanced, Type: kind}
	if err := idx.storage.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	idx.indexKeywords(ctx, rec)
	if err := idx.search.IndexRecord(ctx, rec.ID, rec.SearchText()); err != nil {
		return rec, fmt.Errorf("record %d stored but not indexed: %w", rec.ID, err)
	}
	idx.logger.Debug("Record indexed", zap.Int64("id", rec.ID), zap.String("type", string(rec.Type)))
	return rec, nil
}

// UpdateRecord replaces the content of a record and re-embeds it.
// Completion state is kept. When re-embedding fails the old vector is removed,
// so search does not rank the record by text it no longer contains; the record
// is returned with the error and a rebuild indexes it again.
func (idx *Indexer) UpdateRecord(ctx context.Context, id int64, input *models.RecordInput) (*models.Record, error) {
	rec, err := idx.storage.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, enhanced, kind, err := prepare(input)
	if err != nil {
		return nil, err
	}
	rec.RawContent, rec.EnhancedContent, rec.Type = raw, enhanced, kind
	if err := idx.storage.UpdateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	idx.indexKeywords(ctx, rec)
	if err := idx.search.IndexRecord(ctx, rec.ID, rec.SearchText()); err != nil {
		if rmErr := idx.search.RemoveRecord(ctx, rec.ID); rmErr != nil {
			idx.logger.Warn("Failed to remove stale vector", zap.Int64("id", rec.ID), zap.Error(rmErr))
		}
		return rec, fmt.Errorf("record %d updated but not re-indexed: %w", rec.ID, err)
	}
	return rec, nil
}

// SetCompleted marks a record completed or reopens it. Content is unchanged, so
// the embedding is not recomputed.
func (idx *Indexer) SetCompleted(ctx context.Context, id int64, completed bool) (*models.Record, error) {
	if err := idx.storage.SetCompleted(ctx, id, completed); err != nil {
		return nil, err
	}
	rec, err := idx.storage.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	idx.indexKeywords(ctx, rec)
	return rec, nil
}

// DeleteRecord deletes a record from the store and both indices. The index
// removals run even when the store deletion fails so no orphaned vector is left.
func (idx *Indexer) DeleteRecord(ctx context.Context, id int64) error {
	storeErr := idx.storage.DeleteRecord(ctx, id)
	if err := idx.search.RemoveRecord(ctx, id); err != nil {
		idx.logger.Warn("Failed to remove vector", zap.Int64("id", id), zap.Error(err))
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(ctx, id); err != nil {
			idx.logger.Warn("Failed to remove keyword entry", zap.Int64("id", id), zap.Error(err))
		}
	}
	if storeErr != nil {
		return storeErr
	}
	idx.logger.Debug("Record deleted", zap.Int64("id", id))
	return nil
}

// BulkResult reports the outcome of BulkAdd.
type BulkResult struct {
	Created []*models.Record       `json:"created"`
	Failed  []models.RecordFailure `json:"failed,omitempty"`
	Skipped int                    `json:"skipped"`
}

// BulkAdd adds each input in order. Blank inputs are skipped. A record that is
// stored but could not be embedded counts as created and is listed as failed.
func (idx *Indexer) BulkAdd(ctx context.Context, inputs []*models.RecordInput) (*BulkResult, error) {
	res := &BulkResult{}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if in == nil || strings.TrimSpace(in.Content) == "" {
			res.Skipped++
			continue
		}
		rec, err := idx.AddRecord(ctx, in)
		if rec != nil {
			res.Created = append(res.Created, rec)
		}
		if err != nil {
			var id int64
			if rec != nil {
				id = rec.ID
			}
			res.Failed = append(res.Failed, models.RecordFailure{ID: id, Error: err.Error()})
		}
	}
	return res, nil
}

// TextSearch runs a keyword search and hydrates hits from the store. Hits whose
// record is gone are skipped.
func (idx *Indexer) TextSearch(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]*models.SearchResult, error) {
	if idx.keywordIndex == nil {
		return nil, fmt.Errorf("keyword index is disabled")
	}
	hits, err := idx.keywordIndex.Search(ctx, query, limit, opts)
	if err != nil {
		return nil, err
	}
	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := idx.storage.GetRecord(ctx, h.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load record %d: %w", h.ID, err)
		}
		results = append(results, &models.SearchResult{Record: rec, Score: h.Score, Rank: len(results) + 1})
	}
	return results, nil
}

// RebuildAll rebuilds the vector index and re-populates the keyword index.
func (idx *Indexer) RebuildAll(ctx context.Context) (*models.RebuildReport, error) {
	report, err := idx.search.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	if idx.keywordIndex == nil {
		return report, nil
	}
	records, err := idx.storage.ListAllRecords(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list records: %w", err)
	}
	for _, rec := range records {
		idx.indexKeywords(ctx, rec)
	}
	return report, nil
}

// indexKeywords updates the keyword index. Failures are logged: text search is
// secondary and a rebuild repairs it.
func (idx *Indexer) indexKeywords(ctx context.Context, rec *models.Record) {
	if idx.keywordIndex == nil {
		return
	}
	if err := idx.keywordIndex.Index(ctx, rec); err != nil {
		idx.logger.Warn("Failed to update keyword index", zap.Int64("id", rec.ID), zap.Error(err))
	}
}
