package search

import (
	"errors"

	"github.com/hyperjump/kioku/internal/vector"
)

var (
	// ErrEmbeddingUnavailable means the embedding provider failed, timed out or
	// returned nothing usable. The index is never modified when this is returned,
	// and the caller may retry.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmptyText is returned for blank queries and blank record text.
	ErrEmptyText = errors.New("text must not be empty")
)

// ErrorKind is the closed set of failure classes callers can act on.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindDimensionMismatch
	KindEmbeddingUnavailable
	KindIndexCorrupt
	KindPersistenceWriteFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindEmbeddingUnavailable:
		return "embedding_unavailable"
	case KindIndexCorrupt:
		return "index_corrupt"
	case KindPersistenceWriteFailed:
		return "persistence_write_failed"
	default:
		return "other"
	}
}

// Kind classifies err. A nil error is KindOther.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, vector.ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrEmbeddingUnavailable):
		return KindEmbeddingUnavailable
	case errors.Is(err, vector.ErrIndexCorrupt):
		return KindIndexCorrupt
	case errors.Is(err, vector.ErrPersistenceWriteFailed):
		return KindPersistenceWriteFailed
	default:
		return KindOther
	}
}

// Retryable reports whether retrying the same call may succeed. Dimension
// mismatches are configuration errors and never retryable.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindEmbeddingUnavailable, KindPersistenceWriteFailed:
		return true
	default:
		return false
	}
}
