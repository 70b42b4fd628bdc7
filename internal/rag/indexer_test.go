package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestIndexer(t *testing.T) (*Indexer, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewDiskStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	projects := NewProjectRegistry(filepath.Join(dir, "projects"))
	embedder := NewMockEmbedder(8)
	return NewIndexer(store, embedder, projects), dir
}

func TestIndexAddAndSearch(t *testing.T) {
	idx, dir := newTestIndexer(t)
	ctx := context.Background()

	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	file1 := filepath.Join(root, "file1.txt")
	file2 := filepath.Join(root, "file2.md")
	if err := os.WriteFile(file1, []byte("alpha beta gamma"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file2, []byte("delta epsilon zeta"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := idx.AddFiles(ctx, "proj_add", []string{file1, file2})
	if err != nil {
		t.Fatalf("AddFiles: %v", err)
	}
	if report.IndexedFiles != 2 {
		t.Fatalf("expected 2 indexed files, got %d", report.IndexedFiles)
	}
	if report.ChunksAdded < 2 {
		t.Fatalf("expected at least 2 chunks added, got %d", report.ChunksAdded)
	}
	if len(report.SkippedFiles) != 0 {
		t.Fatalf("expected no skipped files, got %v", report.SkippedFiles)
	}

	hits, err := idx.Search(ctx, "alpha", []string{"proj_add"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
}

func TestSyncRemovesDeletedFile(t *testing.T) {
	idx, dir := newTestIndexer(t)
	ctx := context.Background()

	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(root, "keep.txt")
	remove := filepath.Join(root, "remove.txt")
	if err := os.WriteFile(keep, []byte("keep this file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(remove, []byte("remove this file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := idx.AddFiles(ctx, "proj_sync", []string{keep, remove}); err != nil {
		t.Fatalf("AddFiles: %v", err)
	}

	if err := os.Remove(remove); err != nil {
		t.Fatal(err)
	}

	report, err := idx.SyncProject(ctx, "proj_sync", root)
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if report.DeletedFiles != 1 {
		t.Fatalf("expected 1 deleted file, got %d", report.DeletedFiles)
	}

	files, err := idx.store.ListFiles(ctx, "proj_sync")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	deletedCount := 0
	for _, f := range files {
		if f.IsDeleted {
			deletedCount++
		}
	}
	if deletedCount != 1 {
		t.Fatalf("expected exactly 1 tombstoned file, got %d", deletedCount)
	}
}
