package plugins

import (
	"context"
	"fmt"

	"github.com/farm-fe/farm-sub000/internal/css_parser"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/plugin"
)

func Css() plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:css",
		Setup: func(build plugin.Build) {
			build.OnParse(plugin.Options{}, func(ctx context.Context, args plugin.ParseArgs) (*graph.Meta, error) {
				if args.ModuleType != graph.ModuleTypeCss {
					return nil, nil
				}
				meta, err := css_parser.Parse(ctx, args.Content)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", args.Id, err)
				}
				result := graph.CssMetaOf(meta)
				return &result, nil
			})

			build.OnAnalyzeDeps(plugin.Options{}, func(_ context.Context, args *plugin.AnalyzeDepsArgs) error {
				if args.Module.Meta.Kind != graph.MetaCss {
					return nil
				}
				for _, dep := range args.Module.Meta.AsCss().Deps {
					args.Deps = append(args.Deps, plugin.Dep{Source: dep.Source, Kind: dep.Kind})
				}
				return nil
			})
		},
	}
}
