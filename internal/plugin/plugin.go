package plugin

// Plugins register callbacks for the build hooks. This follows the shape of
// esbuild's plugin API: a plugin is a name plus a setup function, and each
// callback can be scoped with a regular expression filter.

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

type Plugin struct {
	Name  string
	Setup func(Build)
}

type ResolveArgs struct {
	Source      string
	Importer    graph.ModuleId
	ImporterDir string
	Kind        graph.ResolveKind
}

type ResolveResult struct {
	Id          graph.ModuleId
	Path        string
	External    bool
	SideEffects bool
	Immutable   bool
}

type LoadArgs struct {
	Id   graph.ModuleId
	Path string
}

type LoadResult struct {
	Content    string
	ModuleType graph.ModuleType
}

type TransformArgs struct {
	Id         graph.ModuleId
	Path       string
	Content    string
	ModuleType graph.ModuleType
}

type TransformResult struct {
	Content   string
	SourceMap string
}

type ParseArgs struct {
	Id         graph.ModuleId
	Path       string
	Content    string
	ModuleType graph.ModuleType
}

type Dep struct {
	Source string
	Kind   graph.ResolveKind
}

type AnalyzeDepsArgs struct {
	Module *graph.Module

	// Callbacks append to or edit this list in place
	Deps []Dep
}

type ModuleGraphUpdatedArgs struct {
	Added   []graph.ModuleId
	Updated []graph.ModuleId
	Removed []graph.ModuleId
}

type OnResolveCallback func(ctx context.Context, args ResolveArgs) (*ResolveResult, error)
type OnLoadCallback func(ctx context.Context, args LoadArgs) (*LoadResult, error)
type OnTransformCallback func(ctx context.Context, args TransformArgs) (*TransformResult, error)
type OnParseCallback func(ctx context.Context, args ParseArgs) (*graph.Meta, error)
type OnAnalyzeDepsCallback func(ctx context.Context, args *AnalyzeDepsArgs) error
type OnModuleGraphUpdatedCallback func(ctx context.Context, args ModuleGraphUpdatedArgs) error
type OnFinalizeResourcesCallback func(ctx context.Context, resources resource.Map) error

// Returning true invalidates the cached module so it is built again
type OnHandlePersistentCachedModuleCallback func(ctx context.Context, module *graph.Module) (bool, error)

// Filters match the specifier for resolve callbacks and the module id for
// everything else. An empty filter matches everything.
type Options struct {
	Filter string
}

type Build interface {
	Context() *Context

	OnResolve(options Options, callback OnResolveCallback)
	OnLoad(options Options, callback OnLoadCallback)
	OnTransform(options Options, callback OnTransformCallback)
	OnParse(options Options, callback OnParseCallback)
	OnAnalyzeDeps(options Options, callback OnAnalyzeDepsCallback)
	OnModuleGraphUpdated(callback OnModuleGraphUpdatedCallback)
	OnFinalizeResources(callback OnFinalizeResourcesCallback)
	OnHandlePersistentCachedModule(options Options, callback OnHandlePersistentCachedModuleCallback)
}

// Context is shared by every plugin of one compiler
type Context struct {
	Options *config.Options
	FS      fs.FS
	Log     logger.Log

	update atomic.Bool

	emitMutex sync.Mutex
	emitted   []*resource.Resource
}

func NewContext(options *config.Options, fsys fs.FS, log logger.Log) *Context {
	return &Context{Options: options, FS: fsys, Log: log}
}

// SetUpdate marks whether an incremental update is running
func (c *Context) SetUpdate(update bool) {
	c.update.Store(update)
}

func (c *Context) IsUpdate() bool {
	return c.update.Load()
}

// EmitFile adds a resource that is not rendered from a resource pot, such
// as an asset copied to the output directory
func (c *Context) EmitFile(r *resource.Resource) {
	c.emitMutex.Lock()
	defer c.emitMutex.Unlock()
	c.emitted = append(c.emitted, r)
}

func (c *Context) TakeEmittedFiles() []*resource.Resource {
	c.emitMutex.Lock()
	defer c.emitMutex.Unlock()
	emitted := c.emitted
	c.emitted = nil
	return emitted
}

type hook[T any] struct {
	plugin   string
	filter   *regexp.Regexp
	callback T
}

func (h hook[T]) matches(text string) bool {
	return h.filter == nil || h.filter.MatchString(text)
}

type pluginBuild struct {
	container *Container
	name      string
	err       error
}

func (b *pluginBuild) Context() *Context {
	return b.container.ctx
}

func (b *pluginBuild) compile(options Options) *regexp.Regexp {
	if options.Filter == "" {
		return nil
	}
	re, err := regexp.Compile(options.Filter)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("plugin %q: invalid filter %q: %w", b.name, options.Filter, err)
	}
	return re
}

func (b *pluginBuild) OnResolve(options Options, callback OnResolveCallback) {
	filter := b.compile(options)
	b.container.resolve = append(b.container.resolve, hook[OnResolveCallback]{b.name, filter, callback})
}

func (b *pluginBuild) OnLoad(options Options, callback OnLoadCallback) {
	filter := b.compile(options)
	b.container.load = append(b.container.load, hook[OnLoadCallback]{b.name, filter, callback})
}

func (b *pluginBuild) OnTransform(options Options, callback OnTransformCallback) {
	filter := b.compile(options)
	b.container.transform = append(b.container.transform, hook[OnTransformCallback]{b.name, filter, callback})
}

func (b *pluginBuild) OnParse(options Options, callback OnParseCallback) {
	filter := b.compile(options)
	b.container.parse = append(b.container.parse, hook[OnParseCallback]{b.name, filter, callback})
}

func (b *pluginBuild) OnAnalyzeDeps(options Options, callback OnAnalyzeDepsCallback) {
	filter := b.compile(options)
	b.container.analyzeDeps = append(b.container.analyzeDeps, hook[OnAnalyzeDepsCallback]{b.name, filter, callback})
}

func (b *pluginBuild) OnModuleGraphUpdated(callback OnModuleGraphUpdatedCallback) {
	b.container.graphUpdated = append(b.container.graphUpdated, hook[OnModuleGraphUpdatedCallback]{b.name, nil, callback})
}

func (b *pluginBuild) OnFinalizeResources(callback OnFinalizeResourcesCallback) {
	b.container.finalize = append(b.container.finalize, hook[OnFinalizeResourcesCallback]{b.name, nil, callback})
}

func (b *pluginBuild) OnHandlePersistentCachedModule(options Options, callback OnHandlePersistentCachedModuleCallback) {
	filter := b.compile(options)
	b.container.cached = append(b.container.cached, hook[OnHandlePersistentCachedModuleCallback]{b.name, filter, callback})
}
