package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

func newContext() *plugin.Context {
	options := config.Default()
	return plugin.NewContext(&options, fs.MockFS(nil, "/"), logger.NewDeferLog())
}

func TestResolveFirstResultWins(t *testing.T) {
	var calls []string
	container, err := plugin.NewContainer(newContext(), []plugin.Plugin{
		{Name: "virtual", Setup: func(build plugin.Build) {
			build.OnResolve(plugin.Options{Filter: `^virtual:`}, func(_ context.Context, args plugin.ResolveArgs) (*plugin.ResolveResult, error) {
				calls = append(calls, "virtual")
				return &plugin.ResolveResult{Id: graph.ModuleId(args.Source)}, nil
			})
		}},
		{Name: "fallback", Setup: func(build plugin.Build) {
			build.OnResolve(plugin.Options{}, func(_ context.Context, args plugin.ResolveArgs) (*plugin.ResolveResult, error) {
				calls = append(calls, "fallback")
				return &plugin.ResolveResult{Id: "fallback"}, nil
			})
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"virtual", "fallback"}, container.PluginNames())

	result, err := container.Resolve(context.Background(), plugin.ResolveArgs{Source: "virtual:a"})
	require.NoError(t, err)
	assert.Equal(t, graph.ModuleId("virtual:a"), result.Id)

	result, err = container.Resolve(context.Background(), plugin.ResolveArgs{Source: "./b"})
	require.NoError(t, err)
	assert.Equal(t, graph.ModuleId("fallback"), result.Id)
	assert.Equal(t, []string{"virtual", "fallback"}, calls)
}

func TestTransformChains(t *testing.T) {
	container, err := plugin.NewContainer(newContext(), []plugin.Plugin{
		{Name: "a", Setup: func(build plugin.Build) {
			build.OnTransform(plugin.Options{Filter: `\.js$`}, func(_ context.Context, args plugin.TransformArgs) (*plugin.TransformResult, error) {
				return &plugin.TransformResult{Content: args.Content + "a"}, nil
			})
		}},
		{Name: "skip", Setup: func(build plugin.Build) {
			build.OnTransform(plugin.Options{}, func(context.Context, plugin.TransformArgs) (*plugin.TransformResult, error) {
				return nil, nil
			})
		}},
		{Name: "b", Setup: func(build plugin.Build) {
			build.OnTransform(plugin.Options{}, func(_ context.Context, args plugin.TransformArgs) (*plugin.TransformResult, error) {
				return &plugin.TransformResult{Content: args.Content + "b"}, nil
			})
		}},
	})
	require.NoError(t, err)

	result, err := container.Transform(context.Background(), plugin.TransformArgs{Id: "x.js", Content: "_"})
	require.NoError(t, err)
	assert.Equal(t, "_ab", result.Content)

	result, err = container.Transform(context.Background(), plugin.TransformArgs{Id: "x.css", Content: "_"})
	require.NoError(t, err)
	assert.Equal(t, "_b", result.Content)
}

func TestErrorsNamePlugin(t *testing.T) {
	sentinel := errors.New("boom")
	container, err := plugin.NewContainer(newContext(), []plugin.Plugin{
		{Name: "broken", Setup: func(build plugin.Build) {
			build.OnLoad(plugin.Options{}, func(context.Context, plugin.LoadArgs) (*plugin.LoadResult, error) {
				return nil, sentinel
			})
		}},
	})
	require.NoError(t, err)

	_, err = container.Load(context.Background(), plugin.LoadArgs{Id: "a.js"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "[broken]")
}

func TestInvalidFilter(t *testing.T) {
	_, err := plugin.NewContainer(newContext(), []plugin.Plugin{
		{Name: "bad", Setup: func(build plugin.Build) {
			build.OnLoad(plugin.Options{Filter: `(`}, func(context.Context, plugin.LoadArgs) (*plugin.LoadResult, error) {
				return nil, nil
			})
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "bad"`)
}

func TestCachedModuleInvalidation(t *testing.T) {
	container, err := plugin.NewContainer(newContext(), []plugin.Plugin{
		{Name: "env", Setup: func(build plugin.Build) {
			build.OnHandlePersistentCachedModule(plugin.Options{Filter: `env\.js$`}, func(context.Context, *graph.Module) (bool, error) {
				return true, nil
			})
		}},
	})
	require.NoError(t, err)

	invalidate, err := container.HandlePersistentCachedModule(context.Background(), graph.NewModule("src/env.js"))
	require.NoError(t, err)
	assert.True(t, invalidate)

	invalidate, err = container.HandlePersistentCachedModule(context.Background(), graph.NewModule("src/app.js"))
	require.NoError(t, err)
	assert.False(t, invalidate)
}

func TestContext(t *testing.T) {
	ctx := newContext()
	assert.False(t, ctx.IsUpdate())
	ctx.SetUpdate(true)
	assert.True(t, ctx.IsUpdate())

	ctx.EmitFile(&resource.Resource{Name: "logo.png", Type: resource.ResourceAsset})
	emitted := ctx.TakeEmittedFiles()
	require.Len(t, emitted, 1)
	assert.Equal(t, "logo.png", emitted[0].Name)
	assert.Empty(t, ctx.TakeEmittedFiles())
}
