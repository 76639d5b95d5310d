package bundler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/plugins"
	"github.com/farm-fe/farm-sub000/internal/resolver"
)

type testBuild struct {
	builder *Builder
	log     logger.Log
	metrics *metrics.Metrics
}

func newTestBuild(t *testing.T, files map[string]string, store cache.Store, edits ...func(*config.Options)) testBuild {
	t.Helper()
	options := config.Default()
	options.Root = "/app"
	options.Workers = 2
	for _, edit := range edits {
		edit(&options)
	}
	log := logger.NewDeferLog()
	fsys := fs.MockFS(files, "/app")
	r, err := resolver.NewResolver(fsys, &options, log)
	require.NoError(t, err)
	container, err := plugin.NewContainer(plugin.NewContext(&options, fsys, log), plugins.Builtins(r))
	require.NoError(t, err)

	m := metrics.New()
	builderOptions := Options{Log: log, Metrics: m}
	if store != nil {
		builderOptions.Cache = cache.NewManager(store, log, nil)
	}
	return testBuild{builder: NewBuilder(container, builderOptions), log: log, metrics: m}
}

func (tb testBuild) build(t *testing.T, g *graph.ModuleGraph, roots ...Root) *BuildResult {
	t.Helper()
	result, err := tb.builder.Build(context.Background(), g, BuildRequest{Roots: roots})
	require.NoError(t, err)
	return result
}

func TestBuildGraph(t *testing.T) {
	tb := newTestBuild(t, map[string]string{
		"/app/src/index.js": `
import { a } from './a';
export * from './b';
const c = require('./c');
import('./lazy');
import './nope';
import './nope';
import 'react';
`,
		"/app/src/a.js":    "export const a = 1;",
		"/app/src/b.ts":    "export const b: number = 2;",
		"/app/src/c.js":    "module.exports = { c: 3 };",
		"/app/src/lazy.js": "import { a } from './a'; export default a;",
	}, nil, func(options *config.Options) {
		options.External = []string{"^react$"}
	})

	g := graph.NewModuleGraph()
	result := tb.build(t, g, Root{Name: "index", Source: "./src/index.js"})

	assert.Equal(t, []graph.ModuleId{"src/a.js", "src/b.ts", "src/c.js", "src/index.js", "src/lazy.js"}, result.Built)
	assert.Equal(t, []graph.Entry{{Name: "index", Id: "src/index.js"}}, g.Entries())
	assert.True(t, g.Module("src/index.js").IsEntry)
	assert.False(t, g.Module("src/a.js").IsEntry)
	assert.True(t, g.Module("react").External)

	var kinds []graph.ResolveKind
	for _, dep := range g.Dependencies("src/index.js") {
		for _, item := range dep.Items {
			kinds = append(kinds, item.Kind)
		}
	}
	assert.Equal(t, []graph.ResolveKind{
		graph.ResolveImport, graph.ResolveExportFrom, graph.ResolveRequire, graph.ResolveDynamicImport, graph.ResolveImport,
	}, kinds)

	assert.Equal(t, "export const b = 2;\n", g.Module("src/b.ts").Content)
	assert.Equal(t, int64(len("export const a = 1;")), g.Module("src/a.js").Size)

	// Both import sites are recorded but only reported once
	assert.Len(t, g.Unresolved(), 2)
	var notFound []logger.Msg
	for _, msg := range tb.log.Done() {
		if msg.ID == logger.MsgID_Resolve_ModuleNotFound {
			notFound = append(notFound, msg)
		}
	}
	require.Len(t, notFound, 1)
	assert.Contains(t, notFound[0].Text, "./nope")

	// Dependencies execute before their importers
	assert.Less(t, g.Module("src/a.js").ExecutionOrder, g.Module("src/index.js").ExecutionOrder)
	assert.Less(t, g.Module("src/index.js").ExecutionOrder, g.Module("src/lazy.js").ExecutionOrder)
}

func TestBuildUsesPersistentCache(t *testing.T) {
	files := map[string]string{
		"/app/index.js": "import { u } from './util'; import './other';",
		"/app/util.js":  "export const u = 1;",
		"/app/other.js": "console.log('other');",
	}
	store := cache.NewMemoryStore()

	first := newTestBuild(t, files, store)
	result := first.build(t, graph.NewModuleGraph(), Root{Name: "index", Source: "./index.js"})
	assert.Equal(t, []graph.ModuleId{"index.js", "other.js", "util.js"}, result.Built)
	assert.Empty(t, result.Cached)
	assert.Equal(t, 3, store.Len())

	second := newTestBuild(t, files, store)
	g := graph.NewModuleGraph()
	result = second.build(t, g, Root{Name: "index", Source: "./index.js"})
	assert.Empty(t, result.Built)
	assert.Equal(t, []graph.ModuleId{"index.js", "other.js", "util.js"}, result.Cached)
	assert.True(t, g.HasEdge("index.js", "util.js"))
	assert.True(t, g.Module("index.js").IsEntry)
	assert.Equal(t, "/app/index.js", g.Module("index.js").ResolvedPath)

	// A dependency that now resolves elsewhere makes the importer a miss
	changed := map[string]string{"/app/util.ts": "export const u = 2;"}
	for k, v := range files {
		changed[k] = v
	}
	third := newTestBuild(t, changed, store)
	g = graph.NewModuleGraph()
	result = third.build(t, g, Root{Name: "index", Source: "./index.js"})
	assert.Equal(t, []graph.ModuleId{"index.js", "util.ts"}, result.Built)
	assert.Equal(t, []graph.ModuleId{"other.js"}, result.Cached)
	assert.True(t, g.HasEdge("index.js", "util.ts"))
	assert.False(t, g.HasModule("util.js"))
}

func TestBuildErrorsAreCombined(t *testing.T) {
	tb := newTestBuild(t, map[string]string{
		"/app/index.js": "import './bad1'; import './bad2'; import './good';",
		"/app/bad1.js":  "const = ;",
		"/app/bad2.js":  "import {",
		"/app/good.js":  "export {};",
	}, nil)

	_, err := tb.builder.Build(context.Background(), graph.NewModuleGraph(), BuildRequest{Roots: []Root{{Name: "index", Source: "./index.js"}}})
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, err.Error(), "bad1.js")
	assert.Contains(t, err.Error(), "bad2.js")
}

func TestBuildMissingEntry(t *testing.T) {
	tb := newTestBuild(t, map[string]string{"/app/index.js": ""}, nil)
	_, err := tb.builder.Build(context.Background(), graph.NewModuleGraph(), BuildRequest{Roots: []Root{{Name: "main", Source: "./main.js"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrModuleNotFound)
}

func TestBuildReusesModules(t *testing.T) {
	tb := newTestBuild(t, map[string]string{
		"/app/index.js": "import './a'; import './b';",
		"/app/a.js":     "import './deep';",
		"/app/b.js":     "",
		"/app/deep.js":  "",
	}, nil)

	live := graph.NewModule("a.js")
	live.Content = "live"
	g := graph.NewModuleGraph()
	result, err := tb.builder.Build(context.Background(), g, BuildRequest{
		Roots: []Root{{Resolved: &plugin.ResolveResult{Id: "index.js", Path: "/app/index.js", SideEffects: true}}},
		Reuse: func(id graph.ModuleId) *graph.Module {
			if id == "a.js" {
				return live
			}
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.ModuleId{"b.js", "index.js"}, result.Built)
	assert.Equal(t, []graph.ModuleId{"a.js"}, result.Reused)
	assert.Equal(t, "live", g.Module("a.js").Content)
	assert.NotSame(t, live, g.Module("a.js"))
	assert.False(t, g.HasModule("deep.js"))
	assert.Empty(t, g.Entries())
}
