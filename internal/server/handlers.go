package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(s.config.Search.DefaultLimit, s.config.Search.MaxLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	resp, err := s.search.Search(r.Context(), query.Query, query.Limit, query.ThresholdOr(s.config.Search.DefaultThreshold))
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := s.config.Search.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.config.Search.MaxLimit)
	}
	opts := &keyword.SearchOptions{FuzzyEnabled: q.Get("fuzzy") == "true"}
	if t := q.Get("type"); t != "" {
		kind, err := models.ParseItemType(t)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Type = kind
	}
	results, err := s.indexer.TextSearch(r.Context(), query, limit, opts)
	if err != nil {
		s.logger.Error("text search failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results, "total": len(results), "query": query})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.indexer.AddRecord(r.Context(), &input)
	if err != nil && rec == nil {
		s.logger.Error("create record failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	if err != nil {
		// Stored but not embedded; a rebuild picks it up.
		s.logger.Warn("record stored without embedding", zap.Int64("id", rec.ID), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, map[string]any{"record": rec, "indexed": false, "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"record": rec, "indexed": true})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.ListFilter
	if t := q.Get("type"); t != "" {
		kind, err := models.ParseItemType(t)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Type = kind
	}
	filter.PendingOnly = q.Get("pending") == "true"
	filter.CompletedOnly = q.Get("completed") == "true"
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				s.respondError(w, http.StatusBadRequest, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}
	recs, err := s.storage.ListRecords(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"records": recs, "total": len(recs)})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.storage.GetRecord(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.indexer.UpdateRecord(r.Context(), id, &input)
	if err != nil && rec == nil {
		s.respondServiceError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("record updated without embedding", zap.Int64("id", id), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, map[string]any{"record": rec, "indexed": false, "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"record": rec, "indexed": true})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete record request", zap.Int64("id", id))
	if err := s.indexer.DeleteRecord(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetCompleted(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.recordID(w, r)
		if !ok {
			return
		}
		rec, err := s.indexer.SetCompleted(r.Context(), id, completed)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.indexer.RebuildAll(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats: count records failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.IndexPath,
		s.config.Storage.KeywordIndexPath,
	)
	if err == nil {
		records.DiskUsageBytes = diskBytes
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"index":   s.search.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.search.Stats()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"provider":   st.Provider,
		"rebuilding": st.Rebuilding,
	})
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrEmptyText), errors.Is(err, indexer.ErrEmptyContent),
		errors.Is(err, models.ErrUnknownItemType):
		return http.StatusBadRequest
	}
	switch search.Kind(err) {
	case search.KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case search.KindDimensionMismatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if search.Retryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	s.respondJSON(w, status, map[string]any{
		"error":     err.Error(),
		"kind":      search.Kind(err).String(),
		"retryable": search.Retryable(err),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
