// Package configloader loads analysis YAML configuration files.
package configloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/moodsense/moodsense/analysis/pattern"
)

// PatternsFile is the on-disk shape of a pattern table file.
type PatternsFile struct {
	Patterns []pattern.Spec `yaml:"patterns"`
}

// CacheFile carries cache tuning: TTL overrides in seconds per bucket and
// the event-to-bucket invalidation map.
type CacheFile struct {
	TTLOverrides map[string]int      `yaml:"ttl_overrides"`
	Events       map[string][]string `yaml:"events"`
}

// Loader is a configuration loader for analysis YAML files.
type Loader struct {
	baseDir string
	cache   sync.Map
}

// NewLoader creates a new configuration loader rooted at baseDir.
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load loads a single YAML file and unmarshals it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.readFileWithFallback(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}

	return nil
}

// LoadPatterns loads one pattern table file.
func (l *Loader) LoadPatterns(subPath string) ([]pattern.Spec, error) {
	if cached, ok := l.cache.Load(subPath); ok {
		return cached.([]pattern.Spec), nil
	}

	var file PatternsFile
	if err := l.Load(subPath, &file); err != nil {
		return nil, err
	}

	l.cache.Store(subPath, file.Patterns)
	return file.Patterns, nil
}

// LoadPatternDir loads and merges every pattern YAML file in subDir,
// in file-name order so the result is deterministic.
func (l *Loader) LoadPatternDir(subDir string) ([]pattern.Spec, error) {
	dirPath := filepath.Join(l.baseDir, subDir)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dirPath, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var specs []pattern.Spec
	for _, name := range names {
		loaded, err := l.LoadPatterns(filepath.Join(subDir, name))
		if err != nil {
			return nil, err
		}
		specs = append(specs, loaded...)
	}
	return specs, nil
}

// LoadCache loads the cache tuning file. A missing file is not an error;
// the caller falls back to built-in defaults.
func (l *Loader) LoadCache(subPath string) (*CacheFile, error) {
	var file CacheFile
	if err := l.Load(subPath, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &CacheFile{}, nil
		}
		return nil, err
	}
	return &file, nil
}

// readFileWithFallback tries to read the file relative to baseDir, then
// falls back to the executable directory for production builds.
func (l *Loader) readFileWithFallback(path string) ([]byte, error) {
	absPath := filepath.Join(l.baseDir, path)
	data, err := os.ReadFile(absPath)
	if err == nil {
		return data, nil
	}

	execPath, execErr := os.Executable()
	if execErr != nil {
		return nil, err
	}

	execDir := filepath.Dir(execPath)
	return os.ReadFile(filepath.Join(execDir, l.baseDir, path))
}

// ClearCache clears the configuration cache.
func (l *Loader) ClearCache() {
	l.cache.Range(func(key, _ any) bool {
		l.cache.Delete(key)
		return true
	})
}
