package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// fakeEmbedder returns fixed vectors for known texts and hash vectors otherwise.
type fakeEmbedder struct {
	name  string
	dim   int
	vecs  map[string][]float32
	delay time.Duration

	mu        sync.Mutex
	failTexts map[string]bool
	failAll   bool
	failBatch bool
	closed    bool
}

func newFakeEmbedder(name string, dim int) *fakeEmbedder {
	return &fakeEmbedder{name: name, dim: dim, vecs: map[string][]float32{}, failTexts: map[string]bool{}}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	fail := f.failAll || f.failTexts[text]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("provider unreachable")
	}
	if v, ok := f.vecs[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return embedding.NewMockEmbedder(f.dim).Embed(ctx, text)
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	failBatch := f.failBatch
	f.mu.Unlock()
	if failBatch {
		return nil, errors.New("batch endpoint down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }
func (f *fakeEmbedder) Name() string    { return f.name }
func (f *fakeEmbedder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeStore is an in-memory RecordStore.
type fakeStore struct {
	mu      sync.Mutex
	records map[int64]*models.Record
	getErr  error
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[int64]*models.Record{}}
}

func (s *fakeStore) put(id int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &models.Record{ID: id, RawContent: text, Type: models.ItemNote}
}

func (s *fakeStore) GetRecord(ctx context.Context, id int64) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", storage.ErrNotFound, id)
	}
	return r, nil
}

func (s *fakeStore) ListAllRecords(ctx context.Context) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*models.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ids() []int64 {
	recs, _ := s.ListAllRecords(context.Background())
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
