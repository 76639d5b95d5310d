package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/config"
)

func writeConfig(t *testing.T, dir string, name string, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	options, err := config.Load(dir, "", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, options.Root)
	assert.Equal(t, "development", options.Mode)
	assert.False(t, options.TreeShaking)
	assert.Equal(t, 25, options.PartialBundling.TargetConcurrentRequests)
	assert.Equal(t, int64(20*1024), options.PartialBundling.TargetMinSize)
	assert.Equal(t, []string{"node_modules"}, options.PartialBundling.ImmutableModules)
	assert.InDelta(t, 0.8, options.PartialBundling.ImmutableModulesWeight, 1e-9)
	assert.Equal(t, filepath.Join(dir, "node_modules/.farm/cache"), options.PersistentCache.Dir)
	assert.Equal(t, "/__hmr", options.Server.HmrPath)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "farm.config.yaml", `
input:
  main: ./src/main.ts
mode: production
resolve:
  alias:
    "@": ./src
  conditions: [worker]
external: ["^react$"]
partial_bundling:
  target_concurrent_requests: 2
  module_buckets:
    - name: vendor
      test: ["node_modules"]
      weight: 1
      reuse_existing_resource_pot: true
persistent_cache:
  enabled: true
`)

	options, err := config.Load(dir, "", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "./src/main.ts"}, options.Input)
	assert.Equal(t, config.ModeProduction, options.ModeKind())
	assert.True(t, options.TreeShaking, "production turns tree shaking on")
	assert.Equal(t, "./src", options.Resolve.Alias["@"])
	assert.Equal(t, []string{"^react$"}, options.External)
	assert.Equal(t, 2, options.PartialBundling.TargetConcurrentRequests)
	require.Len(t, options.PartialBundling.ModuleBuckets, 1)
	assert.Equal(t, "vendor", options.PartialBundling.ModuleBuckets[0].Name)
	assert.True(t, options.PartialBundling.ModuleBuckets[0].ReuseExistingResourcePot)
	assert.True(t, options.PersistentCache.Enabled)

	assert.Equal(t, []string{"default", "production", "browser", "import", "worker"}, options.Conditions(false))
	assert.Equal(t, []string{"default", "production", "browser", "require", "worker"}, options.Conditions(true))
}

func TestLoadEnvironmentAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "farm.config.json", `{"input": {"index": "./index.js"}, "tree_shaking": false}`)
	t.Setenv("FARM_MODE", "production")

	options, err := config.Load(dir, "", map[string]any{"target": "node", "workers": 3})
	require.NoError(t, err)
	assert.Equal(t, "production", options.Mode)
	assert.False(t, options.TreeShaking, "an explicit value wins over the mode")
	assert.Equal(t, config.PlatformNode, options.Platform())
	assert.Equal(t, 3, options.Workers)
}

func TestLoadRejectsInvalidOptions(t *testing.T) {
	cases := map[string]string{
		"mode":     "mode: staging",
		"external": "external: ['(']",
		"weight":   "partial_bundling:\n  immutable_modules_weight: 2",
		"store":    "persistent_cache:\n  store: ftp",
		"ambig":    "ambiguous_exports: maybe",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "farm.config.yml", contents)
			_, err := config.Load(dir, "", nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := config.Load(t.TempDir(), "/does/not/exist.yaml", nil)
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := config.Default()
	b := config.Default()
	assert.Equal(t, a.Digest(), b.Digest())

	b.Mode = "production"
	assert.NotEqual(t, a.Digest(), b.Digest())

	// Options that only affect the output stage do not invalidate modules
	c := config.Default()
	c.Minify = true
	c.PartialBundling.TargetConcurrentRequests = 3
	assert.Equal(t, a.Digest(), c.Digest())
}
