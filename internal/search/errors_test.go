package search

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/kioku/internal/vector"
)

func TestKindAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"nil", nil, KindOther, false},
		{"dimension", fmt.Errorf("wrap: %w", &vector.DimensionError{Got: 3, Want: 2}), KindDimensionMismatch, false},
		{"unavailable", fmt.Errorf("%w: timeout", ErrEmbeddingUnavailable), KindEmbeddingUnavailable, true},
		{"corrupt", fmt.Errorf("load: %w", vector.ErrIndexCorrupt), KindIndexCorrupt, false},
		{"write", fmt.Errorf("%w: disk full", vector.ErrPersistenceWriteFailed), KindPersistenceWriteFailed, true},
		{"other", errors.New("boom"), KindOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.kind {
				t.Errorf("Kind = %v, want %v", got, tt.kind)
			}
			if got := Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	if KindEmbeddingUnavailable.String() != "embedding_unavailable" {
		t.Errorf("got %q", KindEmbeddingUnavailable.String())
	}
	if ErrorKind(99).String() != "other" {
		t.Errorf("unknown kind should print as other")
	}
}
