package plugins

import (
	"context"
	"fmt"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/html_parser"
	"github.com/farm-fe/farm-sub000/internal/plugin"
)

func Html() plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:html",
		Setup: func(build plugin.Build) {
			build.OnParse(plugin.Options{}, func(_ context.Context, args plugin.ParseArgs) (*graph.Meta, error) {
				if args.ModuleType != graph.ModuleTypeHtml {
					return nil, nil
				}
				meta, err := html_parser.Parse(args.Content)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", args.Id, err)
				}
				result := graph.HtmlMetaOf(meta)
				return &result, nil
			})

			build.OnAnalyzeDeps(plugin.Options{}, func(_ context.Context, args *plugin.AnalyzeDepsArgs) error {
				if args.Module.Meta.Kind != graph.MetaHtml {
					return nil
				}
				for _, dep := range args.Module.Meta.AsHtml().Deps {
					args.Deps = append(args.Deps, plugin.Dep{Source: dep.Source, Kind: dep.Kind})
				}
				return nil
			})
		},
	}
}
