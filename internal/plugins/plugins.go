package plugins

// The built-in plugins implement every hook the compiler needs to bundle
// scripts, stylesheets, html and static assets. User plugins registered
// before them take priority because the container stops at the first hook
// that returns a result.

import (
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resolver"
)

func Builtins(r *resolver.Resolver) []plugin.Plugin {
	return []plugin.Plugin{
		Resolve(r),
		Load(),
		Script(),
		Css(),
		Html(),
		Minify(),
	}
}
