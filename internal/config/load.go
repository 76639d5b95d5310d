package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configName = "farm.config"

// Load reads farm.config.{yaml,yml,json,toml} from root, or the file at path
// when it is not empty. A missing config file is not an error. Overrides are
// applied last and use the same dotted keys as the file.
func Load(root string, path string, overrides map[string]any) (*Options, error) {
	v := viper.New()

	defaults := Default()
	setDefaults(v, &defaults)
	v.SetDefault("root", root)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(root)
	}

	// Enable environment variable support, e.g. FARM_MODE=production
	v.SetEnvPrefix("FARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	// Tree shaking follows the mode unless it was set explicitly
	if !v.IsSet("tree_shaking") {
		v.Set("tree_shaking", v.GetString("mode") == "production")
	}

	var options Options
	if err := v.Unmarshal(&options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Maps are not defaulted through viper because it merges them key by key
	if len(options.Input) == 0 {
		options.Input = defaults.Input
	}
	if options.Resolve.Alias == nil {
		options.Resolve.Alias = map[string]string{}
	}

	if !filepath.IsAbs(options.Root) {
		abs, err := filepath.Abs(options.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %q: %w", options.Root, err)
		}
		options.Root = abs
	}
	if options.PersistentCache.Dir != "" && !filepath.IsAbs(options.PersistentCache.Dir) {
		options.PersistentCache.Dir = filepath.Join(options.Root, options.PersistentCache.Dir)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &options, nil
}

func setDefaults(v *viper.Viper, d *Options) {
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.entry_filename", d.Output.EntryFilename)
	v.SetDefault("output.public_path", d.Output.PublicPath)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("target", d.Target)
	v.SetDefault("resolve.extensions", d.Resolve.Extensions)
	v.SetDefault("resolve.main_fields", d.Resolve.MainFields)
	v.SetDefault("resolve.conditions", []string{})
	v.SetDefault("resolve.symlinks", d.Resolve.Symlinks)
	v.SetDefault("external", []string{})
	v.SetDefault("minify", false)
	v.SetDefault("workers", d.Workers)

	pb := d.PartialBundling
	v.SetDefault("partial_bundling.target_concurrent_requests", pb.TargetConcurrentRequests)
	v.SetDefault("partial_bundling.target_min_size", pb.TargetMinSize)
	v.SetDefault("partial_bundling.immutable_modules", pb.ImmutableModules)
	v.SetDefault("partial_bundling.immutable_modules_weight", pb.ImmutableModulesWeight)
	v.SetDefault("partial_bundling.enforce_target_min_size", pb.EnforceTargetMinSize)
	v.SetDefault("partial_bundling.enforce_target_concurrent_requests", pb.EnforceTargetConcurrentRequests)

	pc := d.PersistentCache
	v.SetDefault("persistent_cache.enabled", pc.Enabled)
	v.SetDefault("persistent_cache.store", pc.Store)
	v.SetDefault("persistent_cache.dir", pc.Dir)
	v.SetDefault("persistent_cache.redis.addr", "")
	v.SetDefault("persistent_cache.redis.prefix", pc.Redis.Prefix)
	v.SetDefault("persistent_cache.s3.endpoint", "")
	v.SetDefault("persistent_cache.s3.bucket", "")
	v.SetDefault("persistent_cache.s3.access_key", "")
	v.SetDefault("persistent_cache.s3.secret_key", "")
	v.SetDefault("persistent_cache.s3.use_ssl", false)
	v.SetDefault("persistent_cache.s3.prefix", pc.S3.Prefix)

	v.SetDefault("ambiguous_exports", d.AmbiguousExports)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.hmr_path", d.Server.HmrPath)
}
