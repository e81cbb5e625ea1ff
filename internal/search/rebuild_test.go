package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/kioku/internal/vector"
)

func newRebuildFixture(t *testing.T, n int, opts ...Option) *fixture {
	t.Helper()
	idx, err := vector.New(8)
	if err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	for i := 1; i <= n; i++ {
		store.put(int64(i), fmt.Sprintf("record number %d", i))
	}
	emb := newFakeEmbedder("fake:hash", 8)
	return &fixture{svc: NewService(idx, emb, store, opts...), idx: idx, store: store, emb: emb}
}

func TestRebuild_IDSetMatchesStore(t *testing.T) {
	f := newRebuildFixture(t, 50, WithBatchSize(7))
	// A leftover vector with no record must disappear.
	_ = f.idx.Insert(999, make([]float32, 8))

	report, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 50 || report.Indexed != 50 || report.Partial() {
		t.Errorf("report = %+v", report)
	}
	if report.ID == "" || report.Fingerprint != "fake:hash" {
		t.Errorf("report identity = %q / %q", report.ID, report.Fingerprint)
	}
	if !equalIDs(f.idx.IDs(), f.store.ids()) {
		t.Errorf("index ids differ from store ids")
	}
	if f.idx.Fingerprint() != "fake:hash" {
		t.Errorf("fingerprint = %q", f.idx.Fingerprint())
	}
}

func TestRebuild_PartialFailure(t *testing.T) {
	f := newRebuildFixture(t, 10, WithBatchSize(4))
	f.emb.failTexts["record number 3"] = true
	f.emb.failTexts["record number 8"] = true

	report, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Partial() || len(report.Failed) != 2 || report.Indexed != 8 {
		t.Fatalf("report = %+v", report)
	}
	if report.Failed[0].ID != 3 || report.Failed[1].ID != 8 || report.Failed[0].Error == "" {
		t.Errorf("failures = %+v", report.Failed)
	}
	if f.idx.Contains(3) || f.idx.Contains(8) || !f.idx.Contains(4) {
		t.Error("index should hold exactly the records that embedded")
	}
}

func TestRebuild_BatchFailureFallsBackPerRecord(t *testing.T) {
	f := newRebuildFixture(t, 5)
	f.emb.failBatch = true
	report, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 5 {
		t.Errorf("Indexed = %d, want 5 via per-record fallback", report.Indexed)
	}
}

func TestRebuild_DimensionMismatchKeepsOldIndex(t *testing.T) {
	f := newRebuildFixture(t, 3)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.SwitchEmbedder(context.Background(), newFakeEmbedder("fake:wide", 16))
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if f.idx.Size() != 3 || f.idx.Fingerprint() != "fake:hash" {
		t.Errorf("old index not preserved: size %d fingerprint %q", f.idx.Size(), f.idx.Fingerprint())
	}
	if f.svc.Stats().Provider != "fake:hash" {
		t.Error("failed switch must keep the previous provider")
	}
}

func TestRebuild_ProviderDownKeepsOldIndex(t *testing.T) {
	f := newRebuildFixture(t, 4)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.emb.failAll = true
	if _, err := f.svc.Rebuild(context.Background()); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if f.idx.Size() != 4 {
		t.Errorf("Size = %d, old index should be kept", f.idx.Size())
	}
}

func TestRebuild_CanceledContext(t *testing.T) {
	f := newRebuildFixture(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if f.idx.Size() != 0 {
		t.Error("canceled rebuild must not touch the index")
	}
}

func TestRebuild_ListError(t *testing.T) {
	f := newRebuildFixture(t, 2)
	f.store.listErr = errors.New("no such table")
	if _, err := f.svc.Rebuild(context.Background()); err == nil {
		t.Error("expected error when the store cannot be listed")
	}
}

func TestRebuild_EmptyStore(t *testing.T) {
	f := newRebuildFixture(t, 0)
	_ = f.idx.Insert(1, make([]float32, 8))
	report, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 0 || f.idx.Size() != 0 {
		t.Errorf("report = %+v size = %d", report, f.idx.Size())
	}
}

func TestSwitchEmbedder(t *testing.T) {
	f := newRebuildFixture(t, 6)
	next := newFakeEmbedder("fake:other", 8)
	report, err := f.svc.SwitchEmbedder(context.Background(), next)
	if err != nil {
		t.Fatal(err)
	}
	if report.Fingerprint != "fake:other" || f.idx.Fingerprint() != "fake:other" {
		t.Errorf("fingerprint not switched: %q / %q", report.Fingerprint, f.idx.Fingerprint())
	}
	if f.svc.Stats().Provider != "fake:other" {
		t.Errorf("provider = %q", f.svc.Stats().Provider)
	}
	if !f.emb.closed {
		t.Error("previous embedder should be closed")
	}
	if !equalIDs(f.idx.IDs(), f.store.ids()) {
		t.Error("switch should rebuild every record")
	}
}

func TestReconcile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")
	store := newFakeStore()
	store.put(1, "alpha")
	store.put(2, "beta")
	policy := ReconcilePolicy{OnProviderChange: true, OnCorrupt: true}
	ctx := context.Background()

	// Missing file: rebuild from the store.
	idx, _ := vector.Open(8, vector.NewFileStore(path))
	svc := NewService(idx, newFakeEmbedder("fake:a", 8), store)
	report, err := svc.Reconcile(ctx, policy)
	if err != nil || report == nil {
		t.Fatalf("missing index: report %v err %v", report, err)
	}
	if idx.Size() != 2 {
		t.Errorf("Size = %d, want 2", idx.Size())
	}

	// Same provider: nothing to do.
	idx, _ = vector.Open(8, vector.NewFileStore(path))
	svc = NewService(idx, newFakeEmbedder("fake:a", 8), store)
	if report, err := svc.Reconcile(ctx, policy); err != nil || report != nil {
		t.Errorf("matching provider: report %v err %v", report, err)
	}

	// Provider changed: rebuild, unless disabled.
	idx, _ = vector.Open(8, vector.NewFileStore(path))
	svc = NewService(idx, newFakeEmbedder("fake:b", 8), store)
	if report, err := svc.Reconcile(ctx, ReconcilePolicy{}); err != nil || report != nil {
		t.Errorf("disabled policy: report %v err %v", report, err)
	}
	report, err = svc.Reconcile(ctx, policy)
	if err != nil || report == nil {
		t.Fatalf("provider change: report %v err %v", report, err)
	}
	if idx.Fingerprint() != "fake:b" {
		t.Errorf("fingerprint = %q", idx.Fingerprint())
	}
}

func TestIndexRecord_AttributesFreshIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")
	store := newFakeStore()
	store.put(1, "alpha")
	ctx := context.Background()

	idx, _ := vector.Open(8, vector.NewFileStore(path))
	svc := NewService(idx, newFakeEmbedder("fake:a", 8), store)
	if err := svc.IndexRecord(ctx, 1, "alpha"); err != nil {
		t.Fatal(err)
	}
	if idx.Fingerprint() != "fake:a" {
		t.Fatalf("fingerprint = %q, want fake:a", idx.Fingerprint())
	}

	// Restarting with the same provider must not rebuild.
	idx, _ = vector.Open(8, vector.NewFileStore(path))
	svc = NewService(idx, newFakeEmbedder("fake:a", 8), store)
	report, err := svc.Reconcile(ctx, ReconcilePolicy{OnProviderChange: true})
	if err != nil || report != nil {
		t.Errorf("same provider after restart: report %v err %v", report, err)
	}
}

func TestReconcile_ProviderWarningOnlyForLoadedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")
	store := newFakeStore()
	store.put(1, "alpha")
	ctx := context.Background()

	core, logs := observer.New(zapcore.WarnLevel)
	idx, _ := vector.Open(8, vector.NewFileStore(path))
	svc := NewService(idx, newFakeEmbedder("fake:a", 8), store, WithLogger(zap.New(core)))
	if report, err := svc.Reconcile(ctx, ReconcilePolicy{OnProviderChange: true}); err != nil || report != nil {
		t.Fatalf("missing index without OnCorrupt: report %v err %v", report, err)
	}
	if n := logs.FilterMessageSnippet("different provider").Len(); n != 0 {
		t.Errorf("missing index logged %d provider warnings, want 0", n)
	}

	// A loaded index from another provider still warns when rebuild is disabled.
	if err := vector.NewFileStore(path).Save(&vector.Snapshot{Dim: 8, Fingerprint: "fake:old"}); err != nil {
		t.Fatal(err)
	}
	idx, _ = vector.Open(8, vector.NewFileStore(path))
	svc = NewService(idx, newFakeEmbedder("fake:a", 8), store, WithLogger(zap.New(core)))
	if _, err := svc.Reconcile(ctx, ReconcilePolicy{}); err != nil {
		t.Fatal(err)
	}
	if n := logs.FilterMessageSnippet("different provider").Len(); n != 1 {
		t.Errorf("provider warnings = %d, want 1", n)
	}
}
