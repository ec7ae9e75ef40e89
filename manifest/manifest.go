// Package manifest handles pyrite.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a pyrite.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project" json:"project"`
	Source  Source      `toml:"source" json:"source"`
	Image   ImageConfig `toml:"image" json:"image"`
	Runtime Runtime     `toml:"runtime" json:"runtime"`

	// Dir is the directory containing the pyrite.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" json:"name"`
	Version string `toml:"version" json:"version"`
}

// Source configures module search paths and the entry module.
type Source struct {
	Dirs  []string `toml:"dirs" json:"dirs"`
	Entry string   `toml:"entry" json:"entry"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output string `toml:"output" json:"output"`
}

// Runtime configures interpreter limits.
type Runtime struct {
	HotThreshold   int    `toml:"hot-threshold" json:"hotThreshold"`
	RecursionLimit int    `toml:"recursion-limit" json:"recursionLimit"`
	CachePath      string `toml:"cache-path" json:"cachePath"`
}

// ManifestName is the file the loader searches for.
const ManifestName = "pyrite.toml"

// Load parses a pyrite.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Runtime.HotThreshold == 0 {
		m.Runtime.HotThreshold = 1000
	}
	if m.Runtime.RecursionLimit == 0 {
		m.Runtime.RecursionLimit = 1000
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a pyrite.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// OutputPath returns the absolute path of the image output, or "" when
// no output is configured.
func (m *Manifest) OutputPath() string {
	if m.Image.Output == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Image.Output)
}

// CachePath returns the absolute path of the compiled-module cache.
func (m *Manifest) CachePath() string {
	if m.Runtime.CachePath == "" {
		return filepath.Join(m.Dir, ".pyrite", "cache.db")
	}
	return filepath.Join(m.Dir, m.Runtime.CachePath)
}
