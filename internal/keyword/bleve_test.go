package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "keyword.bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	recs := []*models.Record{
		{ID: 1, RawContent: "Call the dentist about the Bayes appointment", Type: models.ItemTask},
		{ID: 2, RawContent: "Omnisyan paper on vector search", Type: models.ItemResource},
		{ID: 3, RawContent: "Groceries: milk, eggs", Type: models.ItemNote},
	}
	for _, r := range recs {
		if err := idx.Index(ctx, r); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	results, err := idx.Search(ctx, "Omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != 2 {
		t.Fatalf("results = %+v, want record 2", results)
	}

	// No stemming: "bayes" matches "Bayes".
	results, err = idx.Search(ctx, "bayes", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 1 {
		t.Errorf("results = %+v, want record 1", results)
	}

	if n, _ := idx.DocCount(); n != 3 {
		t.Errorf("DocCount = %d, want 3", n)
	}
}

func TestBleveIndex_TypeFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, &models.Record{ID: 1, RawContent: "review budget", Type: models.ItemTask})
	_ = idx.Index(ctx, &models.Record{ID: 2, RawContent: "budget spreadsheet notes", Type: models.ItemNote})

	results, err := idx.Search(ctx, "budget", 10, &SearchOptions{Type: models.ItemTask})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 1 {
		t.Errorf("results = %+v, want only the task", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, &models.Record{ID: 5, RawContent: "kubernetes cluster upgrade", Type: models.ItemNote})

	exact, _ := idx.Search(ctx, "kubernets", 10, nil)
	if len(exact) != 0 {
		t.Errorf("exact search should not match a typo, got %+v", exact)
	}
	fuzzy, err := idx.Search(ctx, "kubernets", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 || fuzzy[0].ID != 5 {
		t.Errorf("fuzzy results = %+v, want record 5", fuzzy)
	}
}

func TestBleveIndex_DeleteAndReindex(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	rec := &models.Record{ID: 9, RawContent: "first draft", Type: models.ItemNote}
	_ = idx.Index(ctx, rec)

	rec.EnhancedContent = "final version"
	if err := idx.Index(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if res, _ := idx.Search(ctx, "draft", 10, nil); len(res) != 0 {
		t.Errorf("re-index should replace old content, got %+v", res)
	}
	if res, _ := idx.Search(ctx, "final", 10, nil); len(res) != 1 {
		t.Errorf("expected enhanced content to be indexed, got %+v", res)
	}

	if err := idx.Delete(ctx, 9); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, 9); err != nil {
		t.Errorf("deleting an absent id should not fail: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount = %d, want 0", n)
	}
}

func TestBleveIndex_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.Index(context.Background(), &models.Record{ID: 1, RawContent: "persist me"})
	_ = idx.Close()

	idx, err = NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount after reopen = %d, want 1", n)
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx, err := NewBleveIndex(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.Search(context.Background(), "   ", 10, nil); err == nil {
		t.Error("expected error for blank query")
	}
}
