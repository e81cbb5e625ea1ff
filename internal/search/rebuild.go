package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/observability"
	"github.com/hyperjump/kioku/internal/vector"
)

// Rebuild re-embeds every record in the store and replaces the index contents
// with the result. Records that fail to embed are listed in the report and the
// rebuild still succeeds. A dimension mismatch, a canceled context or a
// provider that fails on every record aborts the rebuild and leaves the
// previous index in place.
func (s *Service) Rebuild(ctx context.Context) (*models.RebuildReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.rebuildLocked(ctx, s.Embedder())
}

// SwitchEmbedder rebuilds the index with e and makes e the active provider.
// On failure the previous provider and index stay active. On success the
// previous provider is closed.
func (s *Service) SwitchEmbedder(ctx context.Context, e embedding.Embedder) (*models.RebuildReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report, err := s.rebuildLocked(ctx, e)
	if err != nil {
		return nil, err
	}

	s.embedMu.Lock()
	old := s.embedder
	s.embedder = e
	s.embedMu.Unlock()

	if old != nil && old != e {
		if err := old.Close(); err != nil {
			s.logger.Warn("Failed to close previous embedder", zap.String("provider", old.Name()), zap.Error(err))
		}
	}
	s.logger.Info("Embedding provider switched", zap.String("provider", e.Name()))
	return report, nil
}

// ReconcilePolicy selects which startup conditions trigger a rebuild.
type ReconcilePolicy struct {
	// OnProviderChange rebuilds when the stored fingerprint differs from the active provider.
	OnProviderChange bool
	// OnCorrupt rebuilds when the index file was missing or unreadable.
	OnCorrupt bool
}

// Reconcile checks the loaded index against the active provider and rebuilds
// it when policy allows. It returns a nil report when no rebuild was needed.
func (s *Service) Reconcile(ctx context.Context, policy ReconcilePolicy) (*models.RebuildReport, error) {
	reason := ""
	fp, name := s.index.Fingerprint(), s.Embedder().Name()
	switch s.index.LoadResult() {
	case vector.LoadCorrupt, vector.LoadMissing:
		if policy.OnCorrupt {
			reason = "index " + s.index.LoadResult().String()
		}
	default:
		if fp != name && policy.OnProviderChange {
			reason = fmt.Sprintf("provider changed from %q to %q", fp, name)
		}
	}
	if reason == "" {
		if fp != name && s.index.LoadResult() == vector.LoadOK {
			s.logger.Warn("Index was built by a different provider; search quality is undefined until rebuild",
				zap.String("index", fp), zap.String("provider", name))
		}
		return nil, nil
	}

	s.logger.Info("Rebuilding vector index", zap.String("reason", reason))
	return s.Rebuild(ctx)
}

func (s *Service) rebuildLocked(ctx context.Context, e embedding.Embedder) (report *models.RebuildReport, err error) {
	s.rebuilding.Store(true)
	defer s.rebuilding.Store(false)

	report = &models.RebuildReport{
		ID:          uuid.New().String(),
		Fingerprint: e.Name(),
		StartedAt:   time.Now(),
	}
	defer func() {
		status := observability.StatusOK
		switch {
		case err != nil:
			status = observability.StatusError
		case report.Partial():
			status = "partial"
		}
		observability.RebuildsTotal.WithLabelValues(status).Inc()
		observability.IndexOperationsTotal.WithLabelValues("rebuild", observability.Status(err)).Inc()
	}()

	if d := e.Dimensions(); d > 0 && d != s.index.Dim() {
		return nil, fmt.Errorf("provider %s: %w", e.Name(), &vector.DimensionError{Got: d, Want: s.index.Dim()})
	}

	records, err := s.store.ListAllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	report.Total = len(records)

	entries := make([]vector.Entry, 0, len(records))
	for start := 0; start < len(records); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rebuild %s aborted: %w", report.ID, err)
		}
		batch := records[start:min(start+s.batchSize, len(records))]
		got, failed, err := s.embedRecords(ctx, e, batch)
		if err != nil {
			return nil, fmt.Errorf("rebuild %s aborted: %w", report.ID, err)
		}
		entries = append(entries, got...)
		report.Failed = append(report.Failed, failed...)
	}
	report.Indexed = len(entries)

	if report.Total > 0 && report.Indexed == 0 {
		return nil, fmt.Errorf("rebuild %s: no record could be embedded: %w", report.ID, ErrEmbeddingUnavailable)
	}

	if err := s.index.Replace(entries, e.Name()); err != nil {
		return nil, err
	}
	if err := s.index.Flush(); err != nil {
		s.logger.Warn("Rebuilt index not persisted", zap.Error(err))
	}
	observability.IndexEntries.Set(float64(s.index.Size()))

	report.Duration = time.Since(report.StartedAt)
	s.logger.Info("Vector index rebuilt",
		zap.String("id", report.ID),
		zap.String("provider", report.Fingerprint),
		zap.Int("total", report.Total),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// embedRecords embeds one batch. When the batch call fails, records are
// retried one by one so a single bad record does not fail its neighbours.
// Only dimension mismatches and context cancellation are returned as errors.
func (s *Service) embedRecords(ctx context.Context, e embedding.Embedder, batch []*models.Record) ([]vector.Entry, []models.RecordFailure, error) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.SearchText()
	}

	bctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	vecs, err := e.EmbedBatch(bctx, texts)
	cancel()
	observability.EmbeddingRequestsTotal.WithLabelValues(e.Name(), observability.Status(err)).Inc()

	if err == nil && len(vecs) == len(batch) {
		entries := make([]vector.Entry, 0, len(batch))
		var failed []models.RecordFailure
		for i, v := range vecs {
			switch {
			case len(v) == 0:
				failed = append(failed, models.RecordFailure{ID: batch[i].ID, Error: "empty embedding"})
			case len(v) != s.index.Dim():
				return nil, nil, fmt.Errorf("provider %s: %w", e.Name(), &vector.DimensionError{Got: len(v), Want: s.index.Dim()})
			default:
				entries = append(entries, vector.Entry{ID: batch[i].ID, Vector: v})
			}
		}
		return entries, failed, nil
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	s.logger.Debug("Batch embedding failed; retrying per record", zap.Int("size", len(batch)), zap.Error(err))

	entries := make([]vector.Entry, 0, len(batch))
	var failed []models.RecordFailure
	for i, r := range batch {
		v, err := s.embed(ctx, e, texts[i])
		switch {
		case errors.Is(err, vector.ErrDimensionMismatch):
			return nil, nil, err
		case err != nil:
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			failed = append(failed, models.RecordFailure{ID: r.ID, Error: err.Error()})
		default:
			entries = append(entries, vector.Entry{ID: r.ID, Vector: v})
		}
	}
	return entries, failed, nil
}
