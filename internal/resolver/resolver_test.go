package resolver

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
)

func newResolver(t *testing.T, files map[string]string, edit func(*config.Options)) (*Resolver, logger.Log) {
	t.Helper()
	options := config.Default()
	options.Root = "/app"
	if edit != nil {
		edit(&options)
	}
	log := logger.NewDeferLog()
	r, err := NewResolver(fs.MockFS(files, "/app"), &options, log)
	require.NoError(t, err)
	return r, log
}

func resolveId(t *testing.T, r *Resolver, specifier string, dir string, kind graph.ResolveKind) graph.ModuleId {
	t.Helper()
	result, err := r.Resolve(specifier, dir, kind)
	require.NoError(t, err, specifier)
	return result.Id
}

func TestRelativeAndIndex(t *testing.T) {
	r, _ := newResolver(t, map[string]string{
		"/app/src/index.ts":        "",
		"/app/src/util.js":         "",
		"/app/src/components/a.tsx": "",
		"/app/src/lib/index.js":    "",
		"/app/src/style.css":       "",
	}, nil)

	assert.Equal(t, graph.ModuleId("src/util.js"), resolveId(t, r, "./util", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/components/a.tsx"), resolveId(t, r, "./components/a", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/lib/index.js"), resolveId(t, r, "./lib", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/util.js"), resolveId(t, r, "../util.js", "/app/src/lib", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/style.css?inline"), resolveId(t, r, "./style.css?inline", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/index.ts"), resolveId(t, r, "/app/src/index", "/", graph.ResolveEntry))

	_, err := r.Resolve("./missing", "/app/src", graph.ResolveImport)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleNotFound))
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "./missing", notFound.Specifier)
}

func TestAlias(t *testing.T) {
	r, _ := newResolver(t, map[string]string{
		"/app/src/components/button.js": "",
		"/app/src/vue.js":               "",
		"/app/node_modules/vue/package.json": `{"main": "index.js"}`,
		"/app/node_modules/vue/index.js":     "",
		"/app/node_modules/vue/sub.js":       "",
	}, func(o *config.Options) {
		o.Resolve.Alias = map[string]string{
			"@":       "./src",
			"@/comp":  "./src/components",
			"vue$":    "./src/vue.js",
		}
	})

	assert.Equal(t, graph.ModuleId("src/components/button.js"), resolveId(t, r, "@/comp/button", "/app", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/vue.js"), resolveId(t, r, "@/vue", "/app", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/vue.js"), resolveId(t, r, "vue", "/app", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("node_modules/vue/sub.js"), resolveId(t, r, "vue/sub", "/app", graph.ResolveImport))
}

func TestPackageExports(t *testing.T) {
	r, _ := newResolver(t, map[string]string{
		"/app/node_modules/pkg/package.json": `{
			"name": "pkg",
			"main": "./main.js",
			"exports": {
				".": {
					"require": "./dist/index.cjs",
					"import": { "development": "./dist/index.dev.mjs", "default": "./dist/index.mjs" }
				},
				"./feature/*": "./dist/feature/*.js",
				"./internal/*": null
			},
			"sideEffects": ["*.css"]
		}`,
		"/app/node_modules/pkg/main.js":              "",
		"/app/node_modules/pkg/dist/index.cjs":       "",
		"/app/node_modules/pkg/dist/index.dev.mjs":   "",
		"/app/node_modules/pkg/dist/index.mjs":       "",
		"/app/node_modules/pkg/dist/feature/a.js":    "",
		"/app/node_modules/pkg/dist/internal/x.js":   "",
		"/app/src/index.js":                          "",
	}, nil)

	assert.Equal(t, graph.ModuleId("node_modules/pkg/dist/index.dev.mjs"), resolveId(t, r, "pkg", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("node_modules/pkg/dist/index.cjs"), resolveId(t, r, "pkg", "/app/src", graph.ResolveRequire))
	assert.Equal(t, graph.ModuleId("node_modules/pkg/dist/feature/a.js"), resolveId(t, r, "pkg/feature/a", "/app/src", graph.ResolveImport))

	_, err := r.Resolve("pkg/internal/x", "/app/src", graph.ResolveImport)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	result, err := r.Resolve("pkg", "/app/src", graph.ResolveImport)
	require.NoError(t, err)
	assert.True(t, result.Immutable)
	assert.False(t, result.SideEffects)

	// Every directory walked on the way to node_modules is memoized
	_, ok := r.memo.Get(memoKey{specifier: "pkg", dir: "/app", kind: graph.ResolveImport})
	assert.True(t, ok)

	prod, _ := newResolver(t, map[string]string{
		"/app/node_modules/pkg/package.json":        `{"exports": {"import": {"development": "./dev.js", "default": "./prod.js"}}}`,
		"/app/node_modules/pkg/dev.js":              "",
		"/app/node_modules/pkg/prod.js":             "",
	}, func(o *config.Options) { o.Mode = "production" })
	assert.Equal(t, graph.ModuleId("node_modules/pkg/prod.js"), resolveId(t, prod, "pkg", "/app", graph.ResolveImport))
}

func TestMainFieldsAndBrowser(t *testing.T) {
	files := map[string]string{
		"/app/package.json": `{"browser": {"fs": false, "./src/node.js": "./src/browser.js"}}`,
		"/app/src/node.js":    "",
		"/app/src/browser.js": "",
		"/app/node_modules/legacy/package.json": `{"module": "esm/index.js", "main": "cjs/index.js", "browser": "browser.js"}`,
		"/app/node_modules/legacy/browser.js":   "",
		"/app/node_modules/legacy/esm/index.js": "",
		"/app/node_modules/legacy/cjs/index.js": "",
		"/app/node_modules/@scope/lib/package.json": `{"main": "lib"}`,
		"/app/node_modules/@scope/lib/lib/index.js":  "",
	}

	browser, _ := newResolver(t, files, nil)
	assert.Equal(t, graph.ModuleId("node_modules/legacy/browser.js"), resolveId(t, browser, "legacy", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("node_modules/@scope/lib/lib/index.js"), resolveId(t, browser, "@scope/lib", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/browser.js"), resolveId(t, browser, "./node", "/app/src", graph.ResolveImport))

	disabled, err := browser.Resolve("fs", "/app/src", graph.ResolveImport)
	require.NoError(t, err)
	assert.True(t, disabled.External)

	node, _ := newResolver(t, files, func(o *config.Options) { o.Target = "node" })
	assert.Equal(t, graph.ModuleId("node_modules/legacy/esm/index.js"), resolveId(t, node, "legacy", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("src/node.js"), resolveId(t, node, "./node", "/app/src", graph.ResolveImport))
}

func TestSubpathImports(t *testing.T) {
	r, _ := newResolver(t, map[string]string{
		"/app/package.json":      `{"imports": {"#utils/*": "./src/utils/*.js", "#dep": {"node": "dep-node", "default": "dep"}}}`,
		"/app/src/utils/format.js": "",
		"/app/node_modules/dep/index.js": "",
	}, nil)

	assert.Equal(t, graph.ModuleId("src/utils/format.js"), resolveId(t, r, "#utils/format", "/app/src", graph.ResolveImport))
	assert.Equal(t, graph.ModuleId("node_modules/dep/index.js"), resolveId(t, r, "#dep", "/app/src", graph.ResolveImport))
}

func TestExternals(t *testing.T) {
	r, _ := newResolver(t, map[string]string{"/app/index.js": ""}, func(o *config.Options) {
		o.External = []string{"^react$"}
	})

	for _, specifier := range []string{"react", "node:fs", "path", "https://cdn.example.com/x.js"} {
		result, err := r.Resolve(specifier, "/app", graph.ResolveImport)
		require.NoError(t, err, specifier)
		assert.True(t, result.External, specifier)
		assert.Equal(t, graph.ModuleId(specifier), result.Id)
	}
}

func TestSymlinks(t *testing.T) {
	files := map[string]string{
		"/app/packages/shared/index.js":       "",
		"/app/node_modules/shared/index.js":   "symlink:/app/packages/shared/index.js",
	}

	follow, _ := newResolver(t, files, nil)
	assert.Equal(t, graph.ModuleId("packages/shared/index.js"), resolveId(t, follow, "shared", "/app", graph.ResolveImport))

	keep, _ := newResolver(t, files, func(o *config.Options) { o.Resolve.Symlinks = false })
	assert.Equal(t, graph.ModuleId("node_modules/shared/index.js"), resolveId(t, keep, "shared", "/app", graph.ResolveImport))
}

func TestInvalidPackageJSON(t *testing.T) {
	r, log := newResolver(t, map[string]string{
		"/app/node_modules/bad/package.json": `{"main": `,
		"/app/node_modules/bad/index.js":     "",
	}, nil)

	assert.Equal(t, graph.ModuleId("node_modules/bad/index.js"), resolveId(t, r, "bad", "/app", graph.ResolveImport))
	msgs := log.Done()
	require.Len(t, msgs, 1)
	assert.Equal(t, logger.MsgID_Resolve_InvalidPackageJSON, msgs[0].ID)
}

func TestParsePackageName(t *testing.T) {
	for _, tc := range []struct{ path, name, subpath string }{
		{"react", "react", "."},
		{"react/jsx-runtime", "react", "./jsx-runtime"},
		{"@scope/pkg", "@scope/pkg", "."},
		{"@scope/pkg/a/b", "@scope/pkg", "./a/b"},
	} {
		name, subpath, ok := parsePackageName(tc.path)
		assert.True(t, ok)
		assert.Equal(t, tc.name, name, tc.path)
		assert.Equal(t, tc.subpath, subpath, tc.path)
	}
	_, _, ok := parsePackageName("@scope")
	assert.False(t, ok)
}

func TestSideEffectsGlobs(t *testing.T) {
	data := &sideEffectsData{patterns: []*regexp.Regexp{globToRegexp("*.css"), globToRegexp("./src/polyfill.js")}}
	assert.True(t, data.has("style.css"))
	assert.True(t, data.has("dist/deep/style.css"))
	assert.True(t, data.has("src/polyfill.js"))
	assert.False(t, data.has("src/index.js"))
	assert.True(t, (*sideEffectsData)(nil).has("anything.js"))
}
