package plugins

import (
	"context"

	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resolver"
)

// Resolve exposes the node-style resolver as a resolve hook. Failures wrap
// resolver.ErrModuleNotFound so the builder can tell them apart from
// plugin errors.
func Resolve(r *resolver.Resolver) plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:resolve",
		Setup: func(build plugin.Build) {
			build.OnResolve(plugin.Options{}, func(_ context.Context, args plugin.ResolveArgs) (*plugin.ResolveResult, error) {
				result, err := r.Resolve(args.Source, args.ImporterDir, args.Kind)
				if err != nil {
					return nil, err
				}
				return &plugin.ResolveResult{
					Id:          result.Id,
					Path:        result.Path,
					External:    result.External,
					SideEffects: result.SideEffects,
					Immutable:   result.Immutable,
				}, nil
			})
		},
	}
}
