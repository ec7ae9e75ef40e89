package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "pyrite.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewVMOpensCache(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"demo\"\n")
	if err := os.Mkdir(filepath.Join(dir, ".pyrite"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	v, m, err := newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	if m == nil {
		t.Fatal("manifest not found")
	}
	if v.CodeCache == nil {
		t.Error("expected a code cache at the default path")
	}
}

func TestNewVMRunsCachelessWhenCacheUnusable(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"demo\"\n\n[runtime]\ncache-path = \"cache.db\"\n")
	// A directory where the database file should live makes the open fail.
	if err := os.Mkdir(filepath.Join(dir, "cache.db"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	v, _, err := newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	if v.CodeCache != nil {
		t.Error("expected no code cache when the database cannot be opened")
	}
}
