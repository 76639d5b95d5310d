package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/helpers"
)

// Version is mixed into every persistent cache key so blobs written by a
// different build of the compiler are never read back.
const Version = "farm-go/0.1.0"

type Mode uint8

const (
	ModeDevelopment Mode = iota
	ModeProduction
)

type Platform uint8

const (
	PlatformBrowser Platform = iota
	PlatformNode
)

type AmbiguousExports uint8

const (
	// Keep every candidate and let the first module that defines the name win
	// at load time
	AmbiguousExportsRuntime AmbiguousExports = iota

	// Fail the build
	AmbiguousExportsError
)

type Options struct {
	Root             string                 `mapstructure:"root"`
	Input            map[string]string      `mapstructure:"input"`
	Output           OutputOptions          `mapstructure:"output"`
	Mode             string                 `mapstructure:"mode"`
	Target           string                 `mapstructure:"target"`
	Resolve          ResolveOptions         `mapstructure:"resolve"`
	External         []string               `mapstructure:"external"`
	TreeShaking      bool                   `mapstructure:"tree_shaking"`
	Minify           bool                   `mapstructure:"minify"`
	Workers          int                    `mapstructure:"workers"`
	PartialBundling  PartialBundlingOptions `mapstructure:"partial_bundling"`
	PersistentCache  CacheOptions           `mapstructure:"persistent_cache"`
	AmbiguousExports string                 `mapstructure:"ambiguous_exports"`
	Server           ServerOptions          `mapstructure:"server"`
}

type OutputOptions struct {
	Path          string `mapstructure:"path"`
	EntryFilename string `mapstructure:"entry_filename"`
	PublicPath    string `mapstructure:"public_path"`
}

type ResolveOptions struct {
	Alias      map[string]string `mapstructure:"alias"`
	Extensions []string          `mapstructure:"extensions"`
	MainFields []string          `mapstructure:"main_fields"`
	Conditions []string          `mapstructure:"conditions"`
	Symlinks   bool              `mapstructure:"symlinks"`
}

type PartialBundlingOptions struct {
	TargetConcurrentRequests        int                   `mapstructure:"target_concurrent_requests"`
	TargetMinSize                   int64                 `mapstructure:"target_min_size"`
	ImmutableModules                []string              `mapstructure:"immutable_modules"`
	ImmutableModulesWeight          float64               `mapstructure:"immutable_modules_weight"`
	ModuleBuckets                   []ModuleBucketOptions `mapstructure:"module_buckets"`
	EnforceTargetMinSize            bool                  `mapstructure:"enforce_target_min_size"`
	EnforceTargetConcurrentRequests bool                  `mapstructure:"enforce_target_concurrent_requests"`
}

type ModuleBucketOptions struct {
	Name string   `mapstructure:"name"`
	Test []string `mapstructure:"test"`

	// Zero means no limit
	MinSize               int64 `mapstructure:"min_size"`
	MaxConcurrentRequests int   `mapstructure:"max_concurrent_requests"`

	Weight                   float64 `mapstructure:"weight"`
	ReuseExistingResourcePot bool    `mapstructure:"reuse_existing_resource_pot"`
}

type CacheOptions struct {
	Enabled bool         `mapstructure:"enabled"`
	Store   string       `mapstructure:"store"`
	Dir     string       `mapstructure:"dir"`
	Redis   RedisOptions `mapstructure:"redis"`
	S3      S3Options    `mapstructure:"s3"`
}

type RedisOptions struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

type S3Options struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type ServerOptions struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	HmrPath string `mapstructure:"hmr_path"`
}

var DefaultExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".mjs", ".cjs", ".json", ".css", ".html"}

var DefaultMainFields = []string{"browser", "module", "main"}

// Default returns the options used when no configuration file exists
func Default() Options {
	return Options{
		Root:  "",
		Input: map[string]string{"index": "./index.html"},
		Output: OutputOptions{
			Path:          "dist",
			EntryFilename: "[entryName].js",
			PublicPath:    "/",
		},
		Mode:   "development",
		Target: "browser",
		Resolve: ResolveOptions{
			Alias:      map[string]string{},
			Extensions: append([]string{}, DefaultExtensions...),
			MainFields: append([]string{}, DefaultMainFields...),
			Symlinks:   true,
		},
		Workers: runtime.NumCPU(),
		PartialBundling: PartialBundlingOptions{
			TargetConcurrentRequests:        25,
			TargetMinSize:                   20 * 1024,
			ImmutableModules:                []string{"node_modules"},
			ImmutableModulesWeight:          0.8,
			EnforceTargetMinSize:            true,
			EnforceTargetConcurrentRequests: true,
		},
		PersistentCache: CacheOptions{
			Store: "disk",
			Dir:   "node_modules/.farm/cache",
			Redis: RedisOptions{Prefix: "farm:"},
			S3:    S3Options{Prefix: "farm/"},
		},
		AmbiguousExports: "runtime",
		Server: ServerOptions{
			Host:    "localhost",
			Port:    9000,
			HmrPath: "/__hmr",
		},
	}
}

func (o *Options) ModeKind() Mode {
	if o.Mode == "production" {
		return ModeProduction
	}
	return ModeDevelopment
}

func (o *Options) Platform() Platform {
	if o.Target == "node" {
		return PlatformNode
	}
	return PlatformBrowser
}

func (o *Options) AmbiguousExportsPolicy() AmbiguousExports {
	if o.AmbiguousExports == "error" {
		return AmbiguousExportsError
	}
	return AmbiguousExportsRuntime
}

// Validate checks every enumerated option and compiles every regular
// expression once so later phases can use regexp.MustCompile safely.
func (o *Options) Validate() error {
	if len(o.Input) == 0 {
		return fmt.Errorf("input must name at least one entry")
	}
	for name, path := range o.Input {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("input %q has an empty path", name)
		}
	}

	switch o.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("mode must be \"development\" or \"production\", got: %q", o.Mode)
	}

	switch o.Target {
	case "browser", "node":
	default:
		return fmt.Errorf("target must be \"browser\" or \"node\", got: %q", o.Target)
	}

	switch o.AmbiguousExports {
	case "runtime", "error":
	default:
		return fmt.Errorf("ambiguous_exports must be \"runtime\" or \"error\", got: %q", o.AmbiguousExports)
	}

	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got: %d", o.Workers)
	}

	for _, ext := range o.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("resolve.extensions entries must start with '.', got: %s", ext)
		}
	}

	if err := compileAll("external", o.External); err != nil {
		return err
	}

	pb := &o.PartialBundling
	if pb.TargetConcurrentRequests < 0 {
		return fmt.Errorf("partial_bundling.target_concurrent_requests must not be negative")
	}
	if pb.ImmutableModulesWeight < 0 || pb.ImmutableModulesWeight > 1 {
		return fmt.Errorf("partial_bundling.immutable_modules_weight must be in [0, 1], got: %v", pb.ImmutableModulesWeight)
	}
	if err := compileAll("partial_bundling.immutable_modules", pb.ImmutableModules); err != nil {
		return err
	}
	for i, bucket := range pb.ModuleBuckets {
		if bucket.Name == "" {
			return fmt.Errorf("partial_bundling.module_buckets[%d] has no name", i)
		}
		if err := compileAll(fmt.Sprintf("partial_bundling.module_buckets[%d].test", i), bucket.Test); err != nil {
			return err
		}
	}

	switch o.PersistentCache.Store {
	case "disk", "memory":
	case "redis":
		if o.PersistentCache.Enabled && o.PersistentCache.Redis.Addr == "" {
			return fmt.Errorf("persistent_cache.redis.addr is required for the redis store")
		}
	case "s3":
		if o.PersistentCache.Enabled && (o.PersistentCache.S3.Endpoint == "" || o.PersistentCache.S3.Bucket == "") {
			return fmt.Errorf("persistent_cache.s3.endpoint and persistent_cache.s3.bucket are required for the s3 store")
		}
	default:
		return fmt.Errorf("persistent_cache.store must be one of disk, memory, redis, s3, got: %q", o.PersistentCache.Store)
	}

	if o.Server.HmrPath != "" && !strings.HasPrefix(o.Server.HmrPath, "/") {
		return fmt.Errorf("server.hmr_path must start with '/', got: %s", o.Server.HmrPath)
	}
	return nil
}

func compileAll(key string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s: invalid regular expression %q: %w", key, pattern, err)
		}
	}
	return nil
}

// Conditions returns the package.json "exports" condition set for an import
// of the given kind, in priority order.
func (o *Options) Conditions(isRequire bool) []string {
	conditions := []string{"default"}
	if o.ModeKind() == ModeProduction {
		conditions = append(conditions, "production")
	} else {
		conditions = append(conditions, "development")
	}
	if o.Platform() == PlatformNode {
		conditions = append(conditions, "node")
	} else {
		conditions = append(conditions, "browser")
	}
	if isRequire {
		conditions = append(conditions, "require")
	} else {
		conditions = append(conditions, "import")
	}
	return append(conditions, o.Resolve.Conditions...)
}

// Digest fingerprints every option that can change the output of load,
// transform or parse. It is part of the persistent cache key.
func (o *Options) Digest() string {
	// encoding/json sorts map keys, which keeps the digest stable
	data, err := json.Marshal(struct {
		Root     string
		Mode     string
		Target   string
		Resolve  ResolveOptions
		External []string
	}{o.Root, o.Mode, o.Target, o.Resolve, o.External})
	if err != nil {
		panic("Internal error: " + err.Error())
	}
	return helpers.HashHex(helpers.HashStrings(Version, string(data)))
}
