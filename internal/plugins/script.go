package plugins

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/js_parser"
	"github.com/farm-fe/farm-sub000/internal/plugin"
)

func loaderForPath(p string) (api.Loader, bool) {
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS, true
	case ".tsx":
		return api.LoaderTSX, true
	case ".jsx":
		return api.LoaderJSX, true
	}
	return api.LoaderNone, false
}

// Script lowers TypeScript and JSX with esbuild, then analyzes every script
// module into statements
func Script() plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:script",
		Setup: func(build plugin.Build) {
			build.OnTransform(plugin.Options{Filter: `\.(m|c)?tsx?$|\.jsx$`}, func(_ context.Context, args plugin.TransformArgs) (*plugin.TransformResult, error) {
				loader, ok := loaderForPath(args.Id.Path())
				if !ok || args.ModuleType != graph.ModuleTypeScript {
					return nil, nil
				}
				result := api.Transform(args.Content, api.TransformOptions{
					Loader:     loader,
					Target:     api.ESNext,
					Sourcefile: string(args.Id),
					JSX:        api.JSXTransform,
				})
				if len(result.Errors) > 0 {
					return nil, esbuildError(result.Errors)
				}
				return &plugin.TransformResult{Content: string(result.Code)}, nil
			})

			build.OnParse(plugin.Options{}, func(ctx context.Context, args plugin.ParseArgs) (*graph.Meta, error) {
				if !args.ModuleType.IsScriptLike() {
					return nil, nil
				}
				meta, err := js_parser.Parse(ctx, args.Content)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", args.Id, err)
				}
				result := graph.ScriptMeta(meta)
				return &result, nil
			})

			build.OnAnalyzeDeps(plugin.Options{}, func(_ context.Context, args *plugin.AnalyzeDepsArgs) error {
				if args.Module.Meta.Kind != graph.MetaScript {
					return nil
				}
				args.Deps = append(args.Deps, ScriptDeps(args.Module.Meta.AsScript())...)
				return nil
			})
		},
	}
}

// ScriptDeps lists the dependencies of a script in source order
func ScriptDeps(meta *js_ast.ScriptMeta) (deps []plugin.Dep) {
	for i := range meta.Statements {
		stmt := &meta.Statements[i]
		if stmt.Import != nil {
			deps = append(deps, plugin.Dep{Source: stmt.Import.Source, Kind: graph.ResolveImport})
		}
		if stmt.Export != nil && stmt.Export.Source != "" {
			deps = append(deps, plugin.Dep{Source: stmt.Export.Source, Kind: graph.ResolveExportFrom})
		}
		for _, call := range stmt.Calls {
			kind := graph.ResolveRequire
			if call.Kind == js_ast.CallDynamicImport {
				kind = graph.ResolveDynamicImport
			}
			deps = append(deps, plugin.Dep{Source: call.Source, Kind: kind})
		}
	}
	return
}

func esbuildError(msgs []api.Message) error {
	msg := msgs[0]
	if loc := msg.Location; loc != nil {
		return fmt.Errorf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text)
	}
	return fmt.Errorf("%s", msg.Text)
}
