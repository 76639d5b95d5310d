package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

var scriptExtensions = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".jsx": true,
	".ts": true, ".mts": true, ".cts": true, ".tsx": true,
}

var assetExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".avif": true, ".svg": true, ".ico": true, ".bmp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp4": true, ".webm": true, ".mp3": true, ".wav": true, ".txt": true,
}

// ModuleTypeForPath picks the module type from the file extension. The
// second result is false for extensions no built-in plugin can load.
func ModuleTypeForPath(p string) (graph.ModuleType, bool) {
	ext := strings.ToLower(path.Ext(p))
	switch {
	case scriptExtensions[ext], ext == ".json":
		return graph.ModuleTypeScript, true
	case ext == ".css":
		return graph.ModuleTypeCss, true
	case ext == ".html", ext == ".htm":
		return graph.ModuleTypeHtml, true
	case assetExtensions[ext]:
		return graph.ModuleTypeAsset, true
	}
	return graph.ModuleTypeCustom, false
}

// AssetFileName is the content-hashed name an asset is emitted under
func AssetFileName(id graph.ModuleId, contents string) string {
	base := path.Base(id.Path())
	ext := path.Ext(base)
	return fmt.Sprintf("%s_%s%s", strings.TrimSuffix(base, ext), helpers.ShortHash(contents), ext)
}

// Load reads modules from the compiler's file system. Json becomes a script
// with a default export. Assets become a script exporting their public URL,
// and the file itself is emitted as a resource.
func Load() plugin.Plugin {
	return plugin.Plugin{
		Name: "farm:load",
		Setup: func(build plugin.Build) {
			ctx := build.Context()

			build.OnLoad(plugin.Options{}, func(_ context.Context, args plugin.LoadArgs) (*plugin.LoadResult, error) {
				moduleType, ok := ModuleTypeForPath(args.Id.Path())
				if !ok {
					return nil, fmt.Errorf("no loader is configured for %q", path.Ext(args.Id.Path()))
				}
				contents, err := ctx.FS.ReadFile(args.Path)
				if err != nil {
					return nil, fmt.Errorf("could not read %q: %w", args.Path, err)
				}

				switch {
				case strings.HasSuffix(args.Id.Path(), ".json"):
					if !json.Valid([]byte(contents)) {
						return nil, fmt.Errorf("%s: invalid json", args.Id)
					}
					contents = "export default " + strings.TrimSpace(contents) + ";\n"

				case moduleType == graph.ModuleTypeAsset:
					name := AssetFileName(args.Id, contents)
					ctx.EmitFile(&resource.Resource{
						Name:    name,
						Bytes:   []byte(contents),
						Type:    resource.ResourceAsset,
						Origin:  resource.Origin{Module: args.Id},
						Emitted: true,
					})
					contents = "export default " + helpers.QuoteForJS(ctx.Options.Output.PublicPath+name) + ";\n"
				}
				return &plugin.LoadResult{Content: contents, ModuleType: moduleType}, nil
			})

			// A cached asset would skip the load hook and never be emitted
			build.OnHandlePersistentCachedModule(plugin.Options{}, func(_ context.Context, module *graph.Module) (bool, error) {
				return module.ModuleType == graph.ModuleTypeAsset, nil
			})
		},
	}
}
