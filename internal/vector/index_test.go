package vector

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
	}{
		{"axis", []float32{3, 0, 0}},
		{"mixed", []float32{1, -2, 3, -4}},
		{"tiny", []float32{1e-20, 2e-20}},
		{"large", []float32{1e10, 1e10, 1e10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if n := L2Norm(got); math.Abs(n-1) > 1e-6 {
				t.Errorf("norm = %v, want 1", n)
			}
		})
	}

	t.Run("zero vector unchanged", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		got := Normalize(zero)
		for i, v := range got {
			if v != 0 {
				t.Errorf("got[%d] = %v, want 0", i, v)
			}
		}
	})

	t.Run("input not modified", func(t *testing.T) {
		in := []float32{2, 0}
		_ = Normalize(in)
		if in[0] != 2 {
			t.Errorf("input modified: %v", in)
		}
	})
}

func TestNew_InvalidDimension(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := New(-3); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestIndex_InsertQuerySelf(t *testing.T) {
	idx, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	v := []float32{0.3, -1.2, 4.5}
	if err := idx.Insert(42, v); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query(v, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != 42 {
		t.Fatalf("hits = %+v, want id 42", hits)
	}
	if math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("score = %v, want 1", hits[0].Score)
	}
}

func TestIndex_QueryOrdering(t *testing.T) {
	idx, _ := New(2)
	_ = idx.Insert(1, []float32{1, 0})
	_ = idx.Insert(2, []float32{0, 1})
	_ = idx.Insert(3, []float32{0.7071, 0.7071})

	hits, err := idx.Query([]float32{1, 0}, 3, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []int64{1, 3, 2}
	wantScores := []float64{1.0, 0.7071, 0.0}
	if len(hits) != len(wantIDs) {
		t.Fatalf("got %d hits, want %d", len(hits), len(wantIDs))
	}
	for i := range hits {
		if hits[i].ID != wantIDs[i] {
			t.Errorf("hits[%d].ID = %d, want %d", i, hits[i].ID, wantIDs[i])
		}
		if math.Abs(hits[i].Score-wantScores[i]) > 1e-4 {
			t.Errorf("hits[%d].Score = %v, want %v", i, hits[i].Score, wantScores[i])
		}
	}
}

func TestIndex_TieBreakByAscendingID(t *testing.T) {
	idx, _ := New(2)
	for _, id := range []int64{9, 4, 7, 1} {
		if err := idx.Insert(id, []float32{1, 1}); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := idx.Query([]float32{1, 1}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 4, 7, 9}
	for i, h := range hits {
		if h.ID != want[i] {
			t.Errorf("hits[%d].ID = %d, want %d", i, h.ID, want[i])
		}
	}
}

func TestIndex_TopKAndThreshold(t *testing.T) {
	idx, _ := New(2)
	vecs := map[int64][]float32{
		1: {1, 0}, 2: {0.9, 0.1}, 3: {0.5, 0.5}, 4: {0, 1}, 5: {-1, 0},
	}
	for id, v := range vecs {
		_ = idx.Insert(id, v)
	}
	q := []float32{1, 0}
	for k := 0; k <= 6; k++ {
		hits, err := idx.Query(q, k, -1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) > k {
			t.Errorf("topK=%d returned %d hits", k, len(hits))
		}
	}
	for _, threshold := range []float64{-1, -0.5, 0, 0.5, 0.8, 0.99, 1} {
		hits, _ := idx.Query(q, 10, threshold)
		for _, h := range hits {
			if h.Score < threshold {
				t.Errorf("threshold=%v returned score %v", threshold, h.Score)
			}
		}
	}
}

func TestIndex_QueryWithLimit(t *testing.T) {
	idx, _ := New(2)
	for id := int64(1); id <= 10; id++ {
		_ = idx.Insert(id, []float32{1, float32(id) / 10})
	}
	hits, _ := idx.Query([]float32{1, 0}, 3, -1, WithLimit(6))
	if len(hits) != 6 {
		t.Errorf("got %d hits with limit 6, want 6", len(hits))
	}
	hits, _ = idx.Query([]float32{1, 0}, 3, -1)
	if len(hits) != 3 {
		t.Errorf("got %d hits without limit, want 3", len(hits))
	}
}

func TestIndex_Upsert(t *testing.T) {
	idx, _ := New(2)
	_ = idx.Insert(1, []float32{1, 0})
	_ = idx.Insert(1, []float32{0, 5})
	if idx.Size() != 1 {
		t.Fatalf("Size = %d, want 1", idx.Size())
	}
	hits, _ := idx.Query([]float32{0, 1}, 1, 0)
	if len(hits) != 1 || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("re-insert did not replace vector: %+v", hits)
	}
}

func TestIndex_Remove(t *testing.T) {
	idx, _ := New(2)
	_ = idx.Insert(1, []float32{1, 0})
	_ = idx.Insert(2, []float32{0, 1})
	if err := idx.Remove(1); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(1); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}
	if err := idx.Remove(999); err != nil {
		t.Errorf("removing unknown id should be a no-op, got %v", err)
	}
	for _, q := range [][]float32{{1, 0}, {0, 1}, {-1, -1}, {0, 0}} {
		hits, _ := idx.Query(q, 10, -1)
		for _, h := range hits {
			if h.ID == 1 {
				t.Errorf("removed id returned for query %v", q)
			}
		}
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx, _ := New(3)
	err := idx.Insert(1, []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Insert err = %v, want ErrDimensionMismatch", err)
	}
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) || dimErr.Got != 2 || dimErr.Want != 3 {
		t.Errorf("expected DimensionError{2,3}, got %v", err)
	}
	if _, err := idx.Query([]float32{1}, 1, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Query err = %v, want ErrDimensionMismatch", err)
	}
	if idx.Size() != 0 {
		t.Error("failed insert must not change the index")
	}
}

func TestIndex_ZeroVector(t *testing.T) {
	idx, _ := New(2)
	if err := idx.Insert(1, []float32{0, 0}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query([]float32{1, 0}, 1, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Score != 0 {
		t.Errorf("zero vector should score 0, got %+v", hits)
	}
}

func TestIndex_Replace(t *testing.T) {
	idx, _ := New(2)
	_ = idx.Insert(1, []float32{1, 0})
	err := idx.Replace([]Entry{{ID: 5, Vector: []float32{0, 2}}, {ID: 6, Vector: []float32{1}}}, "p:m")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Replace with bad entry: err = %v", err)
	}
	if !idx.Contains(1) || idx.Size() != 1 {
		t.Error("failed Replace must leave the index untouched")
	}
	if err := idx.Replace([]Entry{{ID: 5, Vector: []float32{0, 2}}, {ID: 6, Vector: []float32{3, 0}}}, "p:m"); err != nil {
		t.Fatal(err)
	}
	if got := idx.IDs(); len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("IDs = %v, want [5 6]", got)
	}
	if idx.Fingerprint() != "p:m" {
		t.Errorf("Fingerprint = %q", idx.Fingerprint())
	}
}

func TestIndex_PersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.bin")
	idx, err := Open(2, NewFileStore(path), WithFingerprint("mock:test"))
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.LoadResult(); got != LoadMissing {
		t.Errorf("LoadResult = %v, want missing", got)
	}
	_ = idx.Insert(1, []float32{1, 0})
	_ = idx.Insert(2, []float32{0, 3})
	_ = idx.Remove(1)
	if !idx.Stats().Persisted {
		t.Error("synchronous save should leave the index persisted")
	}

	reopened, err := Open(2, NewFileStore(path))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.LoadResult() != LoadOK {
		t.Fatalf("LoadResult = %v, want ok", reopened.LoadResult())
	}
	st := reopened.Stats()
	if st.Count != 1 || st.Dim != 2 || !st.Persisted || st.Fingerprint != "mock:test" {
		t.Errorf("Stats = %+v", st)
	}
	hits, _ := reopened.Query([]float32{0, 1}, 1, 0)
	if len(hits) != 1 || hits[0].ID != 2 || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("hits after reload = %+v", hits)
	}
}

func TestIndex_LoadMissingFile(t *testing.T) {
	idx, err := Open(4, NewFileStore(filepath.Join(t.TempDir(), "nope.bin")))
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	if st := idx.Stats(); st.Count != 0 {
		t.Errorf("Count = %d, want 0", st.Count)
	}
}

func TestIndex_LoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"garbage":   []byte("this is not an index"),
		"empty":     {},
		"truncated": nil,
	}
	good := filepath.Join(dir, "good.bin")
	src, _ := New(2, WithStore(NewFileStore(good)))
	_ = src.Insert(1, []float32{1, 0})
	_ = src.Insert(2, []float32{0, 1})
	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	cases["truncated"] = data[:len(data)-7]
	flipped := append([]byte(nil), data...)
	flipped[len(flipped)/2] ^= 0xFF
	cases["bitflip"] = flipped

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".bin")
			if err := os.WriteFile(path, content, 0644); err != nil {
				t.Fatal(err)
			}
			idx, err := Open(2, NewFileStore(path))
			if err != nil {
				t.Fatalf("Open must not fail on corrupt file: %v", err)
			}
			if idx.Size() != 0 {
				t.Errorf("Size = %d, want 0", idx.Size())
			}
			if idx.LoadResult() != LoadCorrupt {
				t.Errorf("LoadResult = %v, want corrupt", idx.LoadResult())
			}
			_, loadErr := idx.Load()
			if !errors.Is(loadErr, ErrIndexCorrupt) {
				t.Errorf("Load err = %v, want ErrIndexCorrupt", loadErr)
			}
		})
	}
}

func TestIndex_LoadDimensionChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	src, _ := New(2, WithStore(NewFileStore(path)))
	_ = src.Insert(1, []float32{1, 0})

	idx, err := Open(3, NewFileStore(path))
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 0 || idx.LoadResult() != LoadCorrupt {
		t.Errorf("dimension change should load empty as corrupt; size=%d result=%v", idx.Size(), idx.LoadResult())
	}
}

func TestIndex_DeferredSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	store := NewFileStore(path)
	idx, _ := New(2, WithStore(store), WithDeferredSave())
	_ = idx.Insert(1, []float32{1, 0})
	if store.Exists() {
		t.Error("deferred index should not write on insert")
	}
	if idx.Stats().Persisted {
		t.Error("Persisted should be false before flush")
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if !store.Exists() || !idx.Stats().Persisted {
		t.Error("Close should flush the index")
	}
}

type failingStore struct{ FileStore }

func (failingStore) Save(*Snapshot) error { return errors.New("disk full") }

func TestIndex_SaveFailureKeepsMemoryState(t *testing.T) {
	idx, _ := New(2, WithStore(&failingStore{}))
	if err := idx.Insert(1, []float32{1, 0}); err != nil {
		t.Fatalf("Insert should succeed despite persistence failure: %v", err)
	}
	if !idx.Contains(1) {
		t.Error("in-memory state must remain authoritative")
	}
	if idx.Stats().Persisted {
		t.Error("Persisted should be false after failed save")
	}
	if err := idx.Save(); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Errorf("Save err = %v, want ErrPersistenceWriteFailed", err)
	}
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	idx, _ := New(4)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := int64(w*1000 + i)
				_ = idx.Insert(id, []float32{float32(w), float32(i), 1, 0})
				if _, err := idx.Query([]float32{1, 1, 1, 1}, 5, -1); err != nil {
					t.Error(err)
					return
				}
				if i%3 == 0 {
					_ = idx.Remove(id)
				}
				_ = idx.Stats()
			}
		}(w)
	}
	wg.Wait()
	for _, id := range idx.IDs() {
		if id%1000%3 == 0 {
			t.Errorf("id %d should have been removed", id)
		}
	}
}

func TestIndex_QueryNonPositiveTopK(t *testing.T) {
	idx, _ := New(2)
	_ = idx.Insert(1, []float32{1, 0})
	for _, k := range []int{0, -1} {
		hits, err := idx.Query([]float32{1, 0}, k, -1, WithLimit(3))
		if err != nil || len(hits) != 0 {
			t.Errorf("topK=%d with limit 3: hits %v err %v, want none", k, hits, err)
		}
	}
}

func TestIndex_Claim(t *testing.T) {
	idx, _ := New(2)
	if !idx.Claim("p:a") || idx.Fingerprint() != "p:a" {
		t.Fatalf("empty index should take the fingerprint, got %q", idx.Fingerprint())
	}
	if idx.Claim("p:b") || idx.Fingerprint() != "p:a" {
		t.Errorf("claimed index must keep its fingerprint, got %q", idx.Fingerprint())
	}

	idx, _ = New(2)
	_ = idx.Insert(1, []float32{1, 0})
	if idx.Claim("p:a") || idx.Fingerprint() != "" {
		t.Errorf("non-empty index without fingerprint must not be claimed, got %q", idx.Fingerprint())
	}
}
