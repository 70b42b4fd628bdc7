package rag

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProjectRegistryCreateRejectsDuplicateRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "repo")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	reg := NewProjectRegistry(filepath.Join(dir, "registry"))
	p, err := reg.Create("repo", root)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ProjectName != "repo" {
		t.Fatalf("expected project name 'repo', got %q", p.ProjectName)
	}

	if _, err := reg.Create("repo-again", root); err == nil {
		t.Fatal("expected duplicate root creation to fail")
	}
}

func TestProjectRegistryUpsertRootThenRemove(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "repo")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	reg := NewProjectRegistry(filepath.Join(dir, "registry"))
	if err := reg.UpsertRoot("proj_fixed", root); err != nil {
		t.Fatalf("UpsertRoot: %v", err)
	}

	got, ok := reg.Root("proj_fixed")
	if !ok {
		t.Fatal("expected proj_fixed to have a root")
	}
	if filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected root %q, got %q", root, got)
	}

	removed, err := reg.Remove("proj_fixed")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected Remove to report true")
	}
	if _, ok := reg.Root("proj_fixed"); ok {
		t.Fatal("expected proj_fixed to be gone after removal")
	}
}
