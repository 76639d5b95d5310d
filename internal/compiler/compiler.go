package compiler

// A compiler owns one project's build state across its lifetime: the module
// graph, the module groups, the resource pots and the rendered resources. A
// full compilation replaces all of it. Updates patch it in place. Both hold
// the update lock, so an update that arrives during a compilation waits for
// it to finish.

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farm-fe/farm-sub000/internal/bundler"
	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/linker"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/partial_bundling"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/plugins"
	"github.com/farm-fe/farm-sub000/internal/resolver"
	"github.com/farm-fe/farm-sub000/internal/resource"
	"github.com/farm-fe/farm-sub000/internal/update"
)

var ErrNotCompiled = errors.New("nothing has been compiled yet")

type Options struct {
	// Nil means the real file system
	FS fs.FS

	Log     logger.Log
	Zap     *zap.Logger
	Metrics *metrics.Metrics

	// Run before the built-in plugins, so their hooks take priority
	Plugins []plugin.Plugin

	// Overrides the store selected by the "persistent_cache" options
	Store cache.Store

	HtmlInlineScript string
}

type Compiler struct {
	options   *config.Options
	fs        fs.FS
	log       logger.Log
	zap       *zap.Logger
	metrics   *metrics.Metrics
	resolver  *resolver.Resolver
	container *plugin.Container
	cache     *cache.Manager
	builder   *bundler.Builder
	linkerOpt linker.Options

	// Held for the whole of a compilation or an update
	updateMutex sync.Mutex

	mutex     sync.RWMutex
	graph     *graph.ModuleGraph
	groups    *graph.ModuleGroupGraph
	pots      []*resource.ResourcePot
	resources resource.Map
	updater   *update.Updater
}

func New(options *config.Options, o Options) (*Compiler, error) {
	fsys := o.FS
	if fsys == nil {
		fsys = fs.RealFS()
	}
	z := o.Zap
	if z == nil {
		z = zap.NewNop()
	}
	log := o.Log
	if log.AddMsg == nil {
		log = logger.NewDeferLog()
	}

	r, err := resolver.NewResolver(fsys, options, log)
	if err != nil {
		return nil, err
	}
	all := append(append([]plugin.Plugin{}, o.Plugins...), plugins.Builtins(r)...)
	container, err := plugin.NewContainer(plugin.NewContext(options, fsys, log), all)
	if err != nil {
		return nil, err
	}

	store := o.Store
	if store == nil {
		if store, err = cache.OpenStore(options); err != nil {
			return nil, err
		}
	}
	var manager *cache.Manager
	if store != nil {
		manager = cache.NewManager(store, log, z.Named("cache"))
	}

	linkerOpt := linker.OptionsFromConfig(options)
	linkerOpt.HtmlInlineScript = o.HtmlInlineScript

	return &Compiler{
		options:   options,
		fs:        fsys,
		log:       log,
		zap:       z,
		metrics:   o.Metrics,
		resolver:  r,
		container: container,
		cache:     manager,
		builder: bundler.NewBuilder(container, bundler.Options{
			Log:     log,
			Zap:     z.Named("bundler"),
			Metrics: o.Metrics,
			Cache:   manager,
		}),
		linkerOpt: linkerOpt,
		resources: resource.Map{},
	}, nil
}

func (c *Compiler) Options() *config.Options {
	return c.options
}

func (c *Compiler) Log() logger.Log {
	return c.log
}

type Stats struct {
	Modules   int
	Built     int
	Cached    int
	Pots      int
	Removed   []graph.ModuleId
	Durations map[string]time.Duration
}

// Compile builds the whole project from its entries and replaces the
// previous state. Resolution failures and other diagnostics go to the log.
func (c *Compiler) Compile(ctx context.Context) (*Stats, error) {
	c.updateMutex.Lock()
	defer c.updateMutex.Unlock()

	timer := &helpers.Timer{}
	stats, err := c.compile(ctx, timer)
	durations := timer.Durations()
	c.metrics.ObservePhases(durations)
	timer.Log(c.zap)
	if err != nil {
		return nil, err
	}
	stats.Durations = durations
	return stats, nil
}

func (c *Compiler) compile(ctx context.Context, timer *helpers.Timer) (*Stats, error) {
	names := make([]string, 0, len(c.options.Input))
	for name := range c.options.Input {
		names = append(names, name)
	}
	sort.Strings(names)
	roots := make([]bundler.Root, 0, len(names))
	for _, name := range names {
		roots = append(roots, bundler.Root{Name: name, Source: c.options.Input[name]})
	}

	timer.Begin("build")
	g := graph.NewModuleGraph()
	built, err := c.builder.Build(ctx, g, bundler.BuildRequest{Roots: roots})
	timer.End("build")
	if err != nil {
		return nil, err
	}

	timer.Begin("bundle")
	g.Lock()
	exports, err := linker.ResolveExports(g, c.log, c.options.AmbiguousExportsPolicy())
	if err != nil {
		g.Unlock()
		timer.End("bundle")
		return nil, err
	}
	var usage *linker.Usage
	var removed []graph.ModuleId
	if c.options.TreeShaking {
		usage, removed = linker.TreeShake(exports)
	}
	gg := graph.BuildModuleGroupGraph(g)
	var modules []*graph.Module
	for _, m := range g.Modules() {
		if !m.External && !m.Placeholder {
			modules = append(modules, m)
		}
	}
	pots, err := partial_bundling.GenerateResourcePots(modules, c.options.PartialBundling, c.log)
	if err != nil {
		g.Unlock()
		timer.End("bundle")
		return nil, err
	}
	partial_bundling.AttachResourcePots(g, gg, pots)
	g.Unlock()
	timer.End("bundle")

	timer.Begin("render")
	l := linker.New(c.linkerOpt, c.log)
	g.RLock()
	rendered, err := l.Render(ctx, linker.Input{Graph: g, Groups: gg, Pots: pots, Exports: exports, Usage: usage}, nil)
	g.RUnlock()
	timer.End("render")
	if err != nil {
		return nil, err
	}

	timer.Begin("finalize")
	resources := resource.Map{}
	for _, r := range rendered {
		resources.Add(r)
	}
	for _, r := range c.container.Context().TakeEmittedFiles() {
		resources.Add(r)
	}
	err = c.container.FinalizeResources(ctx, resources)
	timer.End("finalize")
	if err != nil {
		return nil, fmt.Errorf("finalize_resources: %w", err)
	}

	c.mutex.Lock()
	c.graph = g
	c.groups = gg
	c.pots = pots
	c.resources = resources
	c.updater = update.New(c.container, c.builder, l, update.Options{
		Log:        c.log,
		Zap:        c.zap,
		Metrics:    c.metrics,
		Invalidate: c.invalidate,
	})
	c.mutex.Unlock()
	c.metrics.SetResourcePots(len(pots))

	c.zap.Debug("compiled",
		zap.Int("modules", g.Len()),
		zap.Int("pots", len(pots)),
		zap.Int("resources", len(resources)),
		zap.Int("shaken", len(removed)))

	return &Stats{
		Modules: g.Len(),
		Built:   len(built.Built),
		Cached:  len(built.Cached),
		Pots:    len(pots),
		Removed: removed,
	}, nil
}

func (c *Compiler) invalidate(path string) {
	c.fs.Invalidate(path)
	c.resolver.Invalidate(path)
}

// Update applies file changes to the last compilation. Resources of the
// update replace the ones they were rendered from.
func (c *Compiler) Update(ctx context.Context, events []update.Event) (*update.Result, error) {
	c.updateMutex.Lock()
	defer c.updateMutex.Unlock()

	c.mutex.RLock()
	if c.graph == nil {
		c.mutex.RUnlock()
		return nil, ErrNotCompiled
	}
	state := &update.State{Graph: c.graph, Groups: c.groups, Pots: c.pots}
	updater := c.updater
	c.mutex.RUnlock()

	result, err := updater.Update(ctx, state, events)
	if err != nil {
		return nil, err
	}

	changed := resource.Map{}
	for _, r := range result.Resources {
		changed.Add(r)
	}
	if len(changed) > 0 {
		if err := c.container.FinalizeResources(ctx, changed); err != nil {
			return nil, fmt.Errorf("finalize_resources: %w", err)
		}
	}

	removedPots := make(map[string]bool, len(result.RemovedPots))
	for _, id := range result.RemovedPots {
		removedPots[id] = true
	}
	c.mutex.Lock()
	for name, r := range c.resources {
		if removedPots[r.Origin.Pot] {
			delete(c.resources, name)
		}
	}
	for name, r := range changed {
		c.resources[name] = r
	}
	c.pots = state.Pots
	c.mutex.Unlock()
	c.metrics.SetResourcePots(len(state.Pots))
	return result, nil
}

// Resource looks up a resource of the current state by file name
func (c *Compiler) Resource(name string) (*resource.Resource, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	r, ok := c.resources[name]
	return r, ok
}

// Resources returns a copy of the resource map
func (c *Compiler) Resources() resource.Map {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make(resource.Map, len(c.resources))
	for name, r := range c.resources {
		out[name] = r
	}
	return out
}

func (c *Compiler) Pots() []*resource.ResourcePot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]*resource.ResourcePot{}, c.pots...)
}

// Graph is only safe to read under the graph's own read lock
func (c *Compiler) Graph() *graph.ModuleGraph {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.graph
}

// OutputDir is the absolute directory resources are emitted to
func (c *Compiler) OutputDir() string {
	dir := c.options.Output.Path
	if !c.fs.IsAbs(dir) {
		dir = c.fs.Join(c.options.Root, dir)
	}
	return dir
}

// Emit writes every emitted resource to the output directory and returns
// the written paths in sorted order
func (c *Compiler) Emit() ([]string, error) {
	resources := c.Resources()
	dir := c.OutputDir()
	var written []string
	for _, name := range resources.Names() {
		r := resources[name]
		if !r.Emitted {
			continue
		}
		path := c.fs.Join(dir, filepath.FromSlash(name))
		if err := c.fs.WriteFile(path, r.Bytes); err != nil {
			return written, fmt.Errorf("could not write %q: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func (c *Compiler) CacheStats() (cache.Stats, string) {
	if c.cache == nil {
		return cache.Stats{}, "none"
	}
	return c.cache.Stats(), c.cache.StoreName()
}

func (c *Compiler) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}
