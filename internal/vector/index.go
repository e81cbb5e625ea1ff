// Package vector provides an exact nearest-neighbor index over unit-normalized embeddings.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Entry is a stored embedding keyed by a caller-assigned record id.
type Entry struct {
	ID     int64
	Vector []float32
}

// Hit is a single query result. Score is the cosine similarity in [-1, 1].
type Hit struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

// Stats describes the index for diagnostics.
type Stats struct {
	Count       int    `json:"count"`
	Dim         int    `json:"dim"`
	Persisted   bool   `json:"persisted"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Path        string `json:"path,omitempty"`
}

// LoadResult describes what Load found on disk.
type LoadResult int

const (
	// LoadNone means no load was attempted (no store configured).
	LoadNone LoadResult = iota
	// LoadMissing means the backing file did not exist; the index is empty.
	LoadMissing
	// LoadCorrupt means the backing file could not be used; the index is empty.
	LoadCorrupt
	// LoadOK means the snapshot was restored.
	LoadOK
)

func (r LoadResult) String() string {
	switch r {
	case LoadMissing:
		return "missing"
	case LoadCorrupt:
		return "corrupt"
	case LoadOK:
		return "ok"
	default:
		return "none"
	}
}

// Index is an in-memory vector index using brute-force inner product search.
// Insert, Remove, Replace and Save are serialized by a writer lock; Query and Stats
// share a read lock and never observe a partially applied mutation.
type Index struct {
	dim         int
	vectors     map[int64][]float32
	fingerprint string
	store       IndexStore
	deferSave   bool
	dirty       bool
	persisted   bool
	loadResult  LoadResult
	logger      *zap.Logger
	mu          sync.RWMutex
}

// Option configures an Index.
type Option func(*Index)

// WithStore sets the persistence backend. Without a store the index is memory-only.
func WithStore(s IndexStore) Option {
	return func(idx *Index) { idx.store = s }
}

// WithLogger sets a logger for load and persistence warnings.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Index) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithFingerprint records which embedding provider produced the vectors.
func WithFingerprint(fp string) Option {
	return func(idx *Index) { idx.fingerprint = fp }
}

// WithDeferredSave disables the synchronous write after each mutation. Mutations are
// persisted only by Flush, Save or Close; a crash in between leaves the file stale and
// the index must then be rebuilt from the record store.
func WithDeferredSave() Option {
	return func(idx *Index) { idx.deferSave = true }
}

// New creates an empty index with the given dimension.
func New(dim int, opts ...Option) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	idx := &Index{
		dim:     dim,
		vectors: make(map[int64][]float32),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Open creates an index and loads it from store. Unreadable files never fail Open:
// the index starts empty and a warning is logged.
func Open(dim int, store IndexStore, opts ...Option) (*Index, error) {
	idx, err := New(dim, append(opts, WithStore(store))...)
	if err != nil {
		return nil, err
	}
	_, _ = idx.Load()
	return idx, nil
}

// Dim returns the configured dimension.
func (idx *Index) Dim() int {
	return idx.dim
}

// Fingerprint returns the provider fingerprint of the stored vectors.
func (idx *Index) Fingerprint() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.fingerprint
}

// Claim attributes an empty, unattributed index to the provider fp. It reports
// whether the index fingerprint equals fp afterwards.
func (idx *Index) Claim(fp string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.fingerprint == "" && len(idx.vectors) == 0 {
		idx.fingerprint = fp
	}
	return idx.fingerprint == fp
}

// LoadResult returns the outcome of the last Load.
func (idx *Index) LoadResult() LoadResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loadResult
}

// Insert normalizes v and stores it under id, replacing any previous vector.
func (idx *Index) Insert(id int64, v []float32) error {
	if len(v) != idx.dim {
		return &DimensionError{Got: len(v), Want: idx.dim}
	}
	vec := Normalize(v)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = vec
	idx.markDirtyLocked()
	return nil
}

// Remove deletes the vector for id. Unknown ids are ignored.
func (idx *Index) Remove(id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.vectors[id]; !ok {
		return nil
	}
	delete(idx.vectors, id)
	idx.markDirtyLocked()
	return nil
}

// Replace swaps the whole content of the index for entries. Every entry is validated
// before any state changes; vectors are normalized on the way in.
func (idx *Index) Replace(entries []Entry, fingerprint string) error {
	next := make(map[int64][]float32, len(entries))
	for _, e := range entries {
		if len(e.Vector) != idx.dim {
			return fmt.Errorf("entry %d: %w", e.ID, &DimensionError{Got: len(e.Vector), Want: idx.dim})
		}
		next[e.ID] = Normalize(e.Vector)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = next
	idx.fingerprint = fingerprint
	idx.markDirtyLocked()
	return nil
}

// markDirtyLocked records a mutation and writes through unless saving is deferred.
// A failed write is logged; the in-memory state stays authoritative.
func (idx *Index) markDirtyLocked() {
	idx.dirty = true
	idx.persisted = false
	if idx.deferSave || idx.store == nil {
		return
	}
	if err := idx.saveLocked(); err != nil {
		idx.logger.Warn("vector index save failed; in-memory state kept",
			zap.String("path", idx.store.Path()), zap.Error(err))
	}
}

// QueryOption configures a Query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	limit int
}

// WithLimit bounds the number of raw candidates returned, independent of topK.
// Callers that discard hits afterwards (e.g. stale ids) use it to overfetch.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// Query returns up to topK hits (or the WithLimit bound) with score >= threshold,
// ordered by descending score and then ascending id. topK <= 0 returns no hits
// whatever the limit.
func (idx *Index) Query(v []float32, topK int, threshold float64, opts ...QueryOption) ([]Hit, error) {
	if len(v) != idx.dim {
		return nil, &DimensionError{Got: len(v), Want: idx.dim}
	}
	if topK <= 0 {
		return nil, nil
	}
	o := queryOptions{limit: topK}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limit <= 0 {
		return nil, nil
	}
	q := Normalize(v)

	idx.mu.RLock()
	hits := make([]Hit, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		score := InnerProduct(q, vec)
		if score >= threshold {
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > o.limit {
		hits = hits[:o.limit]
	}
	return hits, nil
}

// Contains reports whether id has a stored vector.
func (idx *Index) Contains(id int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.vectors[id]
	return ok
}

// IDs returns the stored ids in ascending order.
func (idx *Index) IDs() []int64 {
	idx.mu.RLock()
	ids := make([]int64, 0, len(idx.vectors))
	for id := range idx.vectors {
		ids = append(ids, id)
	}
	idx.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Size returns the number of vectors in the index.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Stats returns count, dimension and persistence state.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := Stats{
		Count:       len(idx.vectors),
		Dim:         idx.dim,
		Persisted:   idx.persisted,
		Fingerprint: idx.fingerprint,
	}
	if idx.store != nil {
		s.Path = idx.store.Path()
	}
	return s
}

// Save writes the current state to the store.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.saveLocked()
}

// Flush saves only when there are unsaved mutations.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	return idx.saveLocked()
}

func (idx *Index) saveLocked() error {
	if idx.store == nil {
		return nil
	}
	snap := &Snapshot{
		Dim:         idx.dim,
		Fingerprint: idx.fingerprint,
		Entries:     make([]Entry, 0, len(idx.vectors)),
	}
	for id, vec := range idx.vectors {
		snap.Entries = append(snap.Entries, Entry{ID: id, Vector: vec})
	}
	if err := idx.store.Save(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWriteFailed, err)
	}
	idx.dirty = false
	idx.persisted = true
	return nil
}

// Load replaces the in-memory state with the stored snapshot. A missing file leaves the
// index empty; a corrupt file or a dimension mismatch leaves it empty and logs a warning.
// The returned error is informational (wraps ErrIndexCorrupt) and never requires aborting.
func (idx *Index) Load() (LoadResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.store == nil {
		idx.loadResult = LoadNone
		return LoadNone, nil
	}
	idx.vectors = make(map[int64][]float32)
	idx.dirty = false
	idx.persisted = false

	snap, err := idx.store.Load()
	switch {
	case err != nil && IsMissing(err):
		idx.loadResult = LoadMissing
		return LoadMissing, nil
	case err != nil:
		if !errors.Is(err, ErrIndexCorrupt) {
			err = fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
		}
		idx.loadResult = LoadCorrupt
		idx.logger.Warn("vector index unreadable; starting empty (rebuild to recover)",
			zap.String("path", idx.store.Path()), zap.Error(err))
		return LoadCorrupt, err
	case snap.Dim != idx.dim:
		err = fmt.Errorf("%w: file has %d dimensions, index expects %d", ErrIndexCorrupt, snap.Dim, idx.dim)
		idx.loadResult = LoadCorrupt
		idx.logger.Warn("vector index dimension changed; starting empty (rebuild to recover)",
			zap.String("path", idx.store.Path()), zap.Error(err))
		return LoadCorrupt, err
	}

	for _, e := range snap.Entries {
		idx.vectors[e.ID] = e.Vector
	}
	idx.fingerprint = snap.Fingerprint
	idx.persisted = true
	idx.loadResult = LoadOK
	idx.logger.Debug("vector index loaded",
		zap.String("path", idx.store.Path()), zap.Int("count", len(idx.vectors)))
	return LoadOK, nil
}

// Close flushes unsaved mutations.
func (idx *Index) Close() error {
	return idx.Flush()
}
