package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo-app"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "main"

[image]
output = "demo.pyri"

[runtime]
hot-threshold = 500
recursion-limit = 2000
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "demo-app" {
		t.Errorf("project name = %q, want demo-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "main" {
		t.Errorf("source entry = %q, want main", m.Source.Entry)
	}
	if m.Image.Output != "demo.pyri" {
		t.Errorf("image output = %q, want demo.pyri", m.Image.Output)
	}
	if m.Runtime.HotThreshold != 500 {
		t.Errorf("hot threshold = %d, want 500", m.Runtime.HotThreshold)
	}
	if m.Runtime.RecursionLimit != 2000 {
		t.Errorf("recursion limit = %d, want 2000", m.Runtime.RecursionLimit)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Runtime.HotThreshold != 1000 {
		t.Errorf("default hot threshold = %d, want 1000", m.Runtime.HotThreshold)
	}
	if m.Runtime.RecursionLimit != 1000 {
		t.Errorf("default recursion limit = %d, want 1000", m.Runtime.RecursionLimit)
	}
}

func TestLoadManifestRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
version = "1.0.0"
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for empty project name")
	}
}

func TestLoadManifestRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "not-a-version"
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for malformed version")
	}
}

func TestLoadManifestRejectsNegativeLimit(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"

[runtime]
recursion-limit = -5
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for negative recursion limit")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pyrite.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}

func TestCachePathDefault(t *testing.T) {
	m := &Manifest{Dir: "/app"}
	if got := m.CachePath(); got != "/app/.pyrite/cache.db" {
		t.Errorf("CachePath() = %q, want /app/.pyrite/cache.db", got)
	}

	m.Runtime.CachePath = "build/cache.db"
	if got := m.CachePath(); got != "/app/build/cache.db" {
		t.Errorf("CachePath() = %q, want /app/build/cache.db", got)
	}
}
