package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	write := func(path, content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	db := filepath.Join(dir, "notes.db")
	write(db, "hello")
	bleveDir := filepath.Join(dir, "keyword.bleve")
	if err := os.MkdirAll(filepath.Join(bleveDir, "store"), 0755); err != nil {
		t.Fatal(err)
	}
	write(filepath.Join(bleveDir, "index_meta.json"), "ab")
	write(filepath.Join(bleveDir, "store", "root.bolt"), "c")

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{db}, 5},
		{"directory is recursive", []string{bleveDir}, 3},
		{"file and directory", []string{db, bleveDir}, 8},
		{"missing path skipped", []string{db, filepath.Join(dir, "absent.idx"), bleveDir}, 8},
		{"empty path skipped", []string{"", db}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}

	write(db+"-wal", "wal!")
	if got, _ := DiskUsageBytes(db); got != 9 {
		t.Errorf("with WAL sidecar: got %d bytes, want 9", got)
	}
}
