package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/update"
)

var project = map[string]string{
	"/app/index.html":    `<html><head><script type="module" src="./src/main.js"></script></head><body></body></html>`,
	"/app/src/main.js":   "import { greet } from './greet';\nimport './style.css';\ngreet();\n",
	"/app/src/greet.js":  "export function greet() { console.log('hi'); }\nexport const unused = 1;\n",
	"/app/src/style.css": ".a { color: red; }\n",
}

func newCompiler(t *testing.T, fsys fs.FS, edit func(*config.Options), o Options) *Compiler {
	t.Helper()
	options := config.Default()
	options.Root = "/app"
	options.Workers = 2
	if edit != nil {
		edit(&options)
	}
	o.FS = fsys
	c, err := New(&options, o)
	require.NoError(t, err)
	return c
}

func TestCompileAndEmit(t *testing.T) {
	fsys := fs.MockFS(project, "/app")
	c := newCompiler(t, fsys, nil, Options{Metrics: metrics.New()})

	stats, err := c.Compile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Modules)
	assert.Equal(t, 4, stats.Built)
	assert.Contains(t, stats.Durations, "build")
	assert.Contains(t, stats.Durations, "render")

	html, ok := c.Resource("index.html")
	require.True(t, ok)
	assert.NotContains(t, string(html.Bytes), "./src/main.js")
	for _, pot := range c.Pots() {
		_, ok := c.Resource(resourceNameOf(c, pot.Id))
		assert.True(t, ok, "pot %q has no resource", pot.Id)
	}

	written, err := c.Emit()
	require.NoError(t, err)
	assert.Contains(t, written, "/app/dist/index.html")
	contents, err := fsys.ReadFile("/app/dist/index.html")
	require.NoError(t, err)
	assert.Equal(t, string(html.Bytes), contents)
}

// Entries of the resource map by the pot they were rendered from
func resourceNameOf(c *Compiler, pot string) string {
	for name, r := range c.Resources() {
		if r.Origin.Pot == pot {
			return name
		}
	}
	return ""
}

func TestTreeShakingOnlyWhenEnabled(t *testing.T) {
	c := newCompiler(t, fs.MockFS(project, "/app"), func(options *config.Options) {
		options.TreeShaking = true
	}, Options{})
	_, err := c.Compile(context.Background())
	require.NoError(t, err)
	for _, r := range c.Resources() {
		assert.NotContains(t, string(r.Bytes), "unused")
	}

	c = newCompiler(t, fs.MockFS(project, "/app"), nil, Options{})
	_, err = c.Compile(context.Background())
	require.NoError(t, err)
	found := false
	for _, r := range c.Resources() {
		found = found || strings.Contains(string(r.Bytes), "unused")
	}
	assert.True(t, found)
}

func TestRebuildFromCacheIsIdentical(t *testing.T) {
	store := cache.NewMemoryStore()
	enable := func(options *config.Options) {
		options.PersistentCache.Enabled = true
		options.TreeShaking = true
	}

	first := newCompiler(t, fs.MockFS(project, "/app"), enable, Options{Store: store})
	stats, err := first.Compile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Cached)
	assert.Equal(t, 4, store.Len())

	second := newCompiler(t, fs.MockFS(project, "/app"), enable, Options{Store: store})
	stats, err = second.Compile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Cached)
	assert.Equal(t, 0, stats.Built)

	a, b := first.Resources(), second.Resources()
	require.Equal(t, a.Names(), b.Names())
	for _, name := range a.Names() {
		assert.Equal(t, string(a[name].Bytes), string(b[name].Bytes), name)
	}

	hits, name := second.CacheStats()
	assert.Equal(t, "memory", name)
	assert.Equal(t, int64(4), hits.Hits)

	require.NoError(t, second.ClearCache(context.Background()))
	assert.Equal(t, 0, store.Len())
}

func TestUpdateBeforeCompile(t *testing.T) {
	c := newCompiler(t, fs.MockFS(project, "/app"), nil, Options{})
	_, err := c.Update(context.Background(), []update.Event{{Path: "/app/src/greet.js", Kind: update.Updated}})
	assert.True(t, errors.Is(err, ErrNotCompiled))
}

func TestUpdateReplacesResources(t *testing.T) {
	fsys := fs.MockFS(project, "/app")
	c := newCompiler(t, fsys, nil, Options{})
	_, err := c.Compile(context.Background())
	require.NoError(t, err)

	require.NoError(t, fsys.WriteFile("/app/src/greet.js", []byte("export function greet() { console.log('bye'); }\n")))
	result, err := c.Update(context.Background(), []update.Event{{Path: "/app/src/greet.js", Kind: update.Updated}})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/greet.js"}, result.Payload.Updated)
	assert.NotEmpty(t, result.Payload.MutableResources)

	found := false
	for _, r := range c.Resources() {
		assert.NotContains(t, string(r.Bytes), "'hi'")
		found = found || strings.Contains(string(r.Bytes), "'bye'")
	}
	assert.True(t, found)
	for _, pot := range c.Pots() {
		assert.NotEmpty(t, resourceNameOf(c, pot.Id), "pot %q has no resource", pot.Id)
	}
}

func TestMinify(t *testing.T) {
	plain := newCompiler(t, fs.MockFS(project, "/app"), nil, Options{})
	_, err := plain.Compile(context.Background())
	require.NoError(t, err)

	minified := newCompiler(t, fs.MockFS(project, "/app"), func(options *config.Options) {
		options.Minify = true
	}, Options{})
	_, err = minified.Compile(context.Background())
	require.NoError(t, err)

	a, b := plain.Resources(), minified.Resources()
	require.Equal(t, a.Names(), b.Names())
	for _, name := range a.Names() {
		if strings.HasSuffix(name, ".js") {
			assert.Less(t, len(b[name].Bytes), len(a[name].Bytes), name)
		}
	}
}
