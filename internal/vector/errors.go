package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when an embedding length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrIndexCorrupt is returned by Load when the persisted index cannot be decoded.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrPersistenceWriteFailed is returned by Save when the snapshot could not be written.
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
)

// DimensionError reports the offending and expected lengths. It matches ErrDimensionMismatch.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// Is reports whether target is ErrDimensionMismatch.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
