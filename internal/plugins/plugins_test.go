package plugins_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/plugins"
	"github.com/farm-fe/farm-sub000/internal/resolver"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

func newContainer(t *testing.T, files map[string]string, edit func(*config.Options)) *plugin.Container {
	t.Helper()
	options := config.Default()
	options.Root = "/app"
	if edit != nil {
		edit(&options)
	}
	log := logger.NewDeferLog()
	fsys := fs.MockFS(files, "/app")
	r, err := resolver.NewResolver(fsys, &options, log)
	require.NoError(t, err)
	container, err := plugin.NewContainer(plugin.NewContext(&options, fsys, log), plugins.Builtins(r))
	require.NoError(t, err)
	return container
}

func TestModuleTypeForPath(t *testing.T) {
	for path, expected := range map[string]graph.ModuleType{
		"src/a.ts":        graph.ModuleTypeScript,
		"src/a.json":      graph.ModuleTypeScript,
		"src/a.css":       graph.ModuleTypeCss,
		"index.html":      graph.ModuleTypeHtml,
		"assets/LOGO.PNG": graph.ModuleTypeAsset,
	} {
		moduleType, ok := plugins.ModuleTypeForPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, expected, moduleType, path)
	}
	_, ok := plugins.ModuleTypeForPath("src/a.wasm")
	assert.False(t, ok)
}

func TestResolveNotFound(t *testing.T) {
	container := newContainer(t, map[string]string{"/app/src/index.js": ""}, nil)

	result, err := container.Resolve(context.Background(), plugin.ResolveArgs{Source: "./index", ImporterDir: "/app/src", Kind: graph.ResolveImport})
	require.NoError(t, err)
	assert.Equal(t, graph.ModuleId("src/index.js"), result.Id)

	_, err = container.Resolve(context.Background(), plugin.ResolveArgs{Source: "./nope", ImporterDir: "/app/src", Kind: graph.ResolveImport})
	assert.True(t, errors.Is(err, resolver.ErrModuleNotFound))
}

func TestLoadJsonAndAssets(t *testing.T) {
	container := newContainer(t, map[string]string{
		"/app/data.json": `{"a": 1}`,
		"/app/logo.png":  "PNG",
		"/app/data.wasm": "",
	}, func(o *config.Options) { o.Output.PublicPath = "/static/" })

	result, err := container.Load(context.Background(), plugin.LoadArgs{Id: "data.json", Path: "/app/data.json"})
	require.NoError(t, err)
	assert.Equal(t, "export default {\"a\": 1};\n", result.Content)
	assert.Equal(t, graph.ModuleTypeScript, result.ModuleType)

	result, err = container.Load(context.Background(), plugin.LoadArgs{Id: "logo.png", Path: "/app/logo.png"})
	require.NoError(t, err)
	assert.Equal(t, graph.ModuleTypeAsset, result.ModuleType)
	name := plugins.AssetFileName("logo.png", "PNG")
	assert.Regexp(t, `^logo_[0-9a-f]{8}\.png$`, name)
	assert.Equal(t, "export default \"/static/"+name+"\";\n", result.Content)

	emitted := container.Context().TakeEmittedFiles()
	require.Len(t, emitted, 1)
	assert.Equal(t, name, emitted[0].Name)
	assert.Equal(t, resource.ResourceAsset, emitted[0].Type)

	invalidate, err := container.HandlePersistentCachedModule(context.Background(), &graph.Module{Id: "logo.png", ModuleType: graph.ModuleTypeAsset})
	require.NoError(t, err)
	assert.True(t, invalidate)

	_, err = container.Load(context.Background(), plugin.LoadArgs{Id: "data.wasm", Path: "/app/data.wasm"})
	assert.ErrorContains(t, err, "no loader")
}

func TestTransformTypeScript(t *testing.T) {
	container := newContainer(t, nil, nil)

	result, err := container.Transform(context.Background(), plugin.TransformArgs{
		Id:         "src/a.ts",
		Content:    "export const x: number = 1;\n",
		ModuleType: graph.ModuleTypeScript,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "export const x = 1;")

	result, err = container.Transform(context.Background(), plugin.TransformArgs{
		Id:         "src/a.js",
		Content:    "const y = 1;",
		ModuleType: graph.ModuleTypeScript,
	})
	require.NoError(t, err)
	assert.Equal(t, "const y = 1;", result.Content)

	_, err = container.Transform(context.Background(), plugin.TransformArgs{
		Id:         "src/bad.ts",
		Content:    "const = ;",
		ModuleType: graph.ModuleTypeScript,
	})
	assert.ErrorContains(t, err, "src/bad.ts")
}

func TestParseAndAnalyzeDeps(t *testing.T) {
	container := newContainer(t, nil, nil)
	ctx := context.Background()

	source := "import a from './a';\nexport * from './b';\nconst c = require('./c');\nimport('./d');\n"
	meta, err := container.Parse(ctx, plugin.ParseArgs{Id: "x.js", Content: source, ModuleType: graph.ModuleTypeScript})
	require.NoError(t, err)
	module := &graph.Module{Id: "x.js", Meta: *meta}

	args := &plugin.AnalyzeDepsArgs{Module: module}
	require.NoError(t, container.AnalyzeDeps(ctx, args))
	assert.Equal(t, []plugin.Dep{
		{Source: "./a", Kind: graph.ResolveImport},
		{Source: "./b", Kind: graph.ResolveExportFrom},
		{Source: "./c", Kind: graph.ResolveRequire},
		{Source: "./d", Kind: graph.ResolveDynamicImport},
	}, args.Deps)

	meta, err = container.Parse(ctx, plugin.ParseArgs{Id: "x.css", Content: `@import "./reset.css"; a { background: url("./bg.png") }`, ModuleType: graph.ModuleTypeCss})
	require.NoError(t, err)
	args = &plugin.AnalyzeDepsArgs{Module: &graph.Module{Id: "x.css", Meta: *meta}}
	require.NoError(t, container.AnalyzeDeps(ctx, args))
	assert.Equal(t, []plugin.Dep{
		{Source: "./reset.css", Kind: graph.ResolveCssAtImport},
		{Source: "./bg.png", Kind: graph.ResolveCssUrl},
	}, args.Deps)

	meta, err = container.Parse(ctx, plugin.ParseArgs{Id: "index.html", Content: `<html><head><link rel="stylesheet" href="./a.css"></head><body><script type="module" src="./main.ts"></script></body></html>`, ModuleType: graph.ModuleTypeHtml})
	require.NoError(t, err)
	args = &plugin.AnalyzeDepsArgs{Module: &graph.Module{Id: "index.html", Meta: *meta}}
	require.NoError(t, container.AnalyzeDeps(ctx, args))
	assert.Equal(t, []plugin.Dep{
		{Source: "./a.css", Kind: graph.ResolveHtmlLink},
		{Source: "./main.ts", Kind: graph.ResolveHtmlScript},
	}, args.Deps)
}

func TestMinify(t *testing.T) {
	container := newContainer(t, nil, func(o *config.Options) { o.Minify = true })

	resources := resource.Map{}
	resources.Add(&resource.Resource{Name: "a.js", Type: resource.ResourceJs, Bytes: []byte("const value = 1 + 2;\nconsole.log(value);\n")})
	resources.Add(&resource.Resource{Name: "a.css", Type: resource.ResourceCss, Bytes: []byte("a {\n  color: red;\n}\n")})
	resources.Add(&resource.Resource{Name: "logo.png", Type: resource.ResourceAsset, Bytes: []byte("PNG")})
	require.NoError(t, container.FinalizeResources(context.Background(), resources))

	assert.NotContains(t, string(resources["a.js"].Bytes), "\n  ")
	assert.Contains(t, string(resources["a.js"].Bytes), "console.log(")
	assert.Equal(t, "a{color:red}", strings.TrimSpace(string(resources["a.css"].Bytes)))
	assert.Equal(t, "PNG", string(resources["logo.png"].Bytes))
}
