package vm

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Compiled-module cache
// ---------------------------------------------------------------------------

const cacheSchema = `
CREATE TABLE IF NOT EXISTS module_images (
	module TEXT NOT NULL,
	hash   BLOB NOT NULL,
	path   TEXT NOT NULL DEFAULT '',
	image  BLOB NOT NULL,
	PRIMARY KEY (module, hash)
);
`

// CodeCache is a SQLite-backed store of compiled module images, keyed by
// module name and content hash. The importer consults it by module name
// so a warm import skips the path search and disk read entirely; Evict
// invalidates a module when its image changes out from under the cache.
type CodeCache struct {
	db *sql.DB
}

// OpenCodeCache opens (creating if needed) a cache database at path.
func OpenCodeCache(path string) (*CodeCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening code cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring code cache: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing code cache schema: %w", err)
	}
	return &CodeCache{db: db}, nil
}

// Get returns the cached image for a module at a given content hash.
func (c *CodeCache) Get(module string, hash []byte) ([]byte, bool, error) {
	var image []byte
	err := c.db.QueryRow(
		"SELECT image FROM module_images WHERE module = ? AND hash = ?",
		module, hash,
	).Scan(&image)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading code cache: %w", err)
	}
	return image, true, nil
}

// GetModule returns the most recently stored image for a module, along
// with the path it was loaded from.
func (c *CodeCache) GetModule(module string) ([]byte, string, bool, error) {
	var image []byte
	var path string
	err := c.db.QueryRow(
		"SELECT image, path FROM module_images WHERE module = ? ORDER BY rowid DESC LIMIT 1",
		module,
	).Scan(&image, &path)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("reading code cache: %w", err)
	}
	return image, path, true, nil
}

// Put stores (or refreshes) the image for a module at a content hash.
func (c *CodeCache) Put(module string, hash []byte, path string, image []byte) error {
	_, err := c.db.Exec(
		`INSERT INTO module_images (module, hash, path, image) VALUES (?, ?, ?, ?)
		 ON CONFLICT(module, hash) DO UPDATE SET image = excluded.image, path = excluded.path`,
		module, hash, path, image,
	)
	if err != nil {
		return fmt.Errorf("writing code cache: %w", err)
	}
	return nil
}

// Evict removes all cached images for a module.
func (c *CodeCache) Evict(module string) error {
	_, err := c.db.Exec("DELETE FROM module_images WHERE module = ?", module)
	if err != nil {
		return fmt.Errorf("evicting from code cache: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (c *CodeCache) Close() error {
	return c.db.Close()
}
