package plugins

import (
	"context"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// Minify runs esbuild's minifier over every script and stylesheet once the
// resources are final. It does nothing unless the "minify" option is set.
func Minify() plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:minify",
		Setup: func(build plugin.Build) {
			options := build.Context().Options

			build.OnFinalizeResources(func(_ context.Context, resources resource.Map) error {
				if !options.Minify {
					return nil
				}
				for _, name := range resources.Names() {
					r := resources[name]
					var loader api.Loader
					switch r.Type {
					case resource.ResourceJs:
						loader = api.LoaderJS
					case resource.ResourceCss:
						loader = api.LoaderCSS
					default:
						continue
					}
					result := api.Transform(string(r.Bytes), api.TransformOptions{
						Loader:            loader,
						Sourcefile:        name,
						MinifyWhitespace:  true,
						MinifySyntax:      true,
						MinifyIdentifiers: true,
						LegalComments:     api.LegalCommentsNone,
					})
					if len(result.Errors) > 0 {
						return fmt.Errorf("could not minify %q: %w", name, esbuildError(result.Errors))
					}
					r.Bytes = result.Code
				}
				return nil
			})
		},
	}
}
