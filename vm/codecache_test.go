package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *CodeCache {
	t.Helper()
	c, err := OpenCodeCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCodeCachePutGet(t *testing.T) {
	c := openTestCache(t)
	hash := []byte{1, 2, 3}

	if _, ok, err := c.Get("mod", hash); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	if err := c.Put("mod", hash, "/src/mod.pyri", []byte("image-v1")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get("mod", hash)
	if err != nil || !ok || string(got) != "image-v1" {
		t.Errorf("get = %q, %v, %v", got, ok, err)
	}

	// Same key upserts.
	if err := c.Put("mod", hash, "/src/mod.pyri", []byte("image-v2")); err != nil {
		t.Fatal(err)
	}
	got, _, _ = c.Get("mod", hash)
	if string(got) != "image-v2" {
		t.Errorf("after upsert: %q", got)
	}
}

func TestCodeCacheKeysOnHash(t *testing.T) {
	c := openTestCache(t)
	if err := c.Put("mod", []byte{1}, "", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("mod", []byte{2}, "", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get("mod", []byte{3}); ok {
		t.Error("hit on unknown hash")
	}
	got, ok, _ := c.Get("mod", []byte{2})
	if !ok || string(got) != "b" {
		t.Errorf("get = %q, %v", got, ok)
	}
}

func TestCodeCacheGetModule(t *testing.T) {
	c := openTestCache(t)
	if _, _, ok, err := c.GetModule("mod"); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	if err := c.Put("mod", []byte{1}, "/old/mod.pyri", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("mod", []byte{2}, "/new/mod.pyri", []byte("new")); err != nil {
		t.Fatal(err)
	}

	got, path, ok, err := c.GetModule("mod")
	if err != nil || !ok {
		t.Fatalf("GetModule: ok=%v err=%v", ok, err)
	}
	if string(got) != "new" || path != "/new/mod.pyri" {
		t.Errorf("GetModule = %q from %q, want the latest entry", got, path)
	}
}

func TestCodeCacheEvict(t *testing.T) {
	c := openTestCache(t)
	if err := c.Put("mod", []byte{1}, "", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("mod", []byte{2}, "", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("other", []byte{1}, "", []byte("c")); err != nil {
		t.Fatal(err)
	}

	if err := c.Evict("mod"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get("mod", []byte{1}); ok {
		t.Error("evicted entry still present")
	}
	if _, ok, _ := c.Get("other", []byte{1}); !ok {
		t.Error("eviction crossed module boundary")
	}
}

func TestImportUsesCodeCache(t *testing.T) {
	dir := t.TempDir()
	imagePath := writeModuleImage(t, dir, "answers")

	v := New()
	v.SysPath = []string{dir}
	cache := openTestCache(t)
	v.CodeCache = cache

	if _, err := v.ImportModule("answers"); err != nil {
		t.Fatal(err)
	}

	// The import populated the cache under the module's content hash.
	var rows int
	if err := cache.db.QueryRow(
		"SELECT COUNT(*) FROM module_images WHERE module = ?", "answers",
	).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("cache rows = %d, want 1", rows)
	}

	// A warm cache answers imports by itself: delete the on-disk image
	// and import into a fresh VM sharing the cache.
	if err := os.Remove(imagePath); err != nil {
		t.Fatal(err)
	}
	warm := New()
	warm.SysPath = []string{dir}
	warm.CodeCache = cache

	mod, err := warm.ImportModule("answers")
	if err != nil {
		t.Fatalf("import from warm cache: %v", err)
	}
	answer, ok := mod.Object().Module.Dict.GetStr("answer")
	if !ok || !answer.IsInt() || answer.Int() != 42 {
		t.Errorf("answer = %s, want 42", Repr(answer))
	}
	file, _ := mod.Object().Module.Dict.GetStr("__file__")
	if file.StrVal() != imagePath {
		t.Errorf("__file__ = %s, want the original image path", Repr(file))
	}
}

func TestEvictForcesDiskReload(t *testing.T) {
	dir := t.TempDir()
	writeModuleImage(t, dir, "answers")

	cache := openTestCache(t)

	cold := New()
	cold.SysPath = []string{dir}
	cold.CodeCache = cache
	if _, err := cold.ImportModule("answers"); err != nil {
		t.Fatal(err)
	}

	if err := cache.Evict("answers"); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := cache.GetModule("answers"); ok {
		t.Fatal("evicted module still cached")
	}

	// The next import falls back to the search path and re-warms.
	fresh := New()
	fresh.SysPath = []string{dir}
	fresh.CodeCache = cache
	if _, err := fresh.ImportModule("answers"); err != nil {
		t.Fatalf("import after evict: %v", err)
	}
	if _, _, ok, _ := cache.GetModule("answers"); !ok {
		t.Error("disk reload did not re-warm the cache")
	}
}
