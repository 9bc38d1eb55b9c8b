package configloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "patterns.yaml", `
patterns:
  - id: compulsion-symmetry
    category: compulsion
    keywords: [simetri, düzeltmek]
    weight: 0.7
    priority: 4
  - id: relaxation-walk
    category: relaxation
    keywords: [yürüyüş]
    regex: 'yürüyüşe? çık'
    weight: 0.6
`)

	loader := NewLoader(dir)
	specs, err := loader.LoadPatterns("patterns.yaml")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "compulsion-symmetry", specs[0].ID)
	assert.Equal(t, "compulsion", specs[0].Category)
	assert.Equal(t, []string{"simetri", "düzeltmek"}, specs[0].Keywords)
	assert.InDelta(t, 0.7, specs[0].Weight, 1e-9)
	assert.Equal(t, 4, specs[0].Priority)
	assert.Equal(t, "yürüyüşe? çık", specs[1].Regex)

	// Second load serves from cache.
	again, err := loader.LoadPatterns("patterns.yaml")
	require.NoError(t, err)
	assert.Equal(t, specs, again)
}

func TestLoadPatternDirMergesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "patterns"), 0o755))
	writeFile(t, filepath.Join(dir, "patterns"), "20-mood.yaml", `
patterns:
  - id: mood-custom
    category: mood
    keywords: [neşeli]
    weight: 0.8
`)
	writeFile(t, filepath.Join(dir, "patterns"), "10-compulsion.yaml", `
patterns:
  - id: compulsion-custom
    category: compulsion
    keywords: [ritüel]
    weight: 0.8
`)
	writeFile(t, filepath.Join(dir, "patterns"), "ignored.txt", "not yaml")

	loader := NewLoader(dir)
	specs, err := loader.LoadPatternDir("patterns")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "compulsion-custom", specs[0].ID)
	assert.Equal(t, "mood-custom", specs[1].ID)
}

func TestLoadCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cache.yaml", `
ttl_overrides:
  voice: 120
  patterns: 1800
events:
  entry_added: [patterns]
`)

	loader := NewLoader(dir)
	cfg, err := loader.LoadCache("cache.yaml")
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.TTLOverrides["voice"])
	assert.Equal(t, 1800, cfg.TTLOverrides["patterns"])
	assert.Equal(t, []string{"patterns"}, cfg.Events["entry_added"])
}

func TestLoadCacheMissingFileIsEmpty(t *testing.T) {
	loader := NewLoader(t.TempDir())
	cfg, err := loader.LoadCache("cache.yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.TTLOverrides)
	assert.Empty(t, cfg.Events)
}

func TestClearCacheReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "patterns.yaml", `
patterns:
  - id: mood-v1
    category: mood
    keywords: [iyi]
    weight: 0.8
`)

	loader := NewLoader(dir)
	specs, err := loader.LoadPatterns("patterns.yaml")
	require.NoError(t, err)
	require.Len(t, specs, 1)

	// A rewritten file is invisible until the cache is cleared.
	writeFile(t, dir, "patterns.yaml", `
patterns:
  - id: mood-v2
    category: mood
    keywords: [güzel]
    weight: 0.8
`)
	specs, err = loader.LoadPatterns("patterns.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mood-v1", specs[0].ID)

	loader.ClearCache()
	specs, err = loader.LoadPatterns("patterns.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mood-v2", specs[0].ID)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "patterns: [unclosed")

	loader := NewLoader(dir)
	_, err := loader.LoadPatterns("bad.yaml")
	assert.Error(t, err)
}
