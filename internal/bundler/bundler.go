package bundler

// The builder is the scan phase of a compilation. It starts one goroutine per
// discovered dependency edge and keeps going until every reachable module is
// in the module graph. The work is split in two halves:
//
//   - Resolution and graph insertion happen in the task for the edge. A task
//     takes the graph's write lock just long enough to either add an edge to
//     a module that already exists or insert a placeholder for a new one. The
//     placeholder guarantees each module id is built at most once.
//
//   - Loading, transforming and parsing happen in the task that won the
//     placeholder. That part is CPU-heavy and is bounded by a semaphore so
//     that at most "workers" modules are processed at the same time.
//
// Dependencies are resolved by the importer before their tasks are started.
// That way both a fresh build and a cache hit hand their children a resolved
// result, and the child never resolves again.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resolver"
)

// The error channel only needs to absorb bursts. The coordinator drains it
// while tasks are still running.
const errorChannelSize = 64

type Options struct {
	Log     logger.Log
	Zap     *zap.Logger
	Metrics *metrics.Metrics

	// May be nil, which disables the persistent cache
	Cache *cache.Manager
}

type Builder struct {
	container *plugin.Container
	cache     *cache.Manager
	log       logger.Log
	zap       *zap.Logger
	metrics   *metrics.Metrics
	sem       *semaphore.Weighted
	digest    string
	root      string
}

func NewBuilder(container *plugin.Container, options Options) *Builder {
	ctx := container.Context()
	z := options.Zap
	if z == nil {
		z = zap.NewNop()
	}
	workers := ctx.Options.Workers
	if workers < 1 {
		workers = 1
	}
	return &Builder{
		container: container,
		cache:     options.Cache,
		log:       options.Log,
		zap:       z,
		metrics:   options.Metrics,
		sem:       semaphore.NewWeighted(int64(workers)),
		digest:    ctx.Options.Digest(),
		root:      ctx.Options.Root,
	}
}

// A root is where a build starts. Compilation entries have a name and an
// unresolved source. Incremental updates start from modules that were
// already resolved, so they pass the resolution instead.
type Root struct {
	Name     string
	Source   string
	Resolved *plugin.ResolveResult
}

type BuildRequest struct {
	Roots []Root

	// Reuse is consulted for every module id that is not in the target graph
	// yet. Returning a module adds a copy of it without building it or
	// walking its dependencies. Incremental updates use this to stop at
	// modules that did not change.
	Reuse func(id graph.ModuleId) *graph.Module
}

type BuildResult struct {
	Built  []graph.ModuleId
	Cached []graph.ModuleId
	Reused []graph.ModuleId
}

// Build adds everything reachable from the roots to the graph. Resolution
// failures are reported to the log and do not fail the build. Every other
// failure is returned, combined into one error.
func (b *Builder) Build(ctx context.Context, g *graph.ModuleGraph, request BuildRequest) (*BuildResult, error) {
	s := &scan{
		builder:  b,
		graph:    g,
		reuse:    request.Reuse,
		errors:   make(chan error, errorChannelSize),
		reported: make(map[reportKey]bool),
		result:   &BuildResult{},
	}

	var collected []error
	drained := make(chan struct{})
	go func() {
		for err := range s.errors {
			collected = append(collected, err)
		}
		close(drained)
	}()

	for i, root := range request.Roots {
		resolved := root.Resolved
		if resolved == nil {
			result, err := b.resolve(ctx, root.Source, nil, graph.ResolveEntry)
			if err != nil {
				s.errors <- fmt.Errorf("could not resolve entry %q: %w", root.Source, err)
				continue
			}
			resolved = result
		}

		// Entries keep the order of the roots, not the order tasks finish in
		if root.Name != "" {
			g.Lock()
			g.AddEntry(root.Name, resolved.Id)
			g.Unlock()
		}
		s.wg.Add(1)
		go s.visit(ctx, task{
			resolved: resolved,
			item:     graph.EdgeItem{Source: root.Source, Kind: graph.ResolveEntry, Order: i},
		})
	}

	s.wg.Wait()
	close(s.errors)
	<-drained

	if err := multierr.Combine(collected...); err != nil {
		return nil, err
	}

	g.Lock()
	for _, entry := range g.Entries() {
		if m := g.Module(entry.Id); m != nil {
			m.IsEntry = true
		}
	}
	g.UpdateExecutionOrder()
	for _, cycle := range g.CircleRecord {
		b.zap.Debug("circular dependency", zap.Strings("modules", moduleIdStrings(cycle)))
	}
	g.Unlock()

	graph.SortModuleIds(s.result.Built)
	graph.SortModuleIds(s.result.Cached)
	graph.SortModuleIds(s.result.Reused)
	return s.result, nil
}

func moduleIdStrings(ids []graph.ModuleId) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return strs
}

func (b *Builder) importerDir(importer *graph.Module) string {
	if importer == nil || importer.ResolvedPath == "" {
		return b.root
	}
	return b.container.Context().FS.Dir(importer.ResolvedPath)
}

// A nil result with a nil error is impossible. When no plugin resolves the
// specifier that is reported as a missing module.
func (b *Builder) resolve(ctx context.Context, source string, importer *graph.Module, kind graph.ResolveKind) (*plugin.ResolveResult, error) {
	args := plugin.ResolveArgs{Source: source, ImporterDir: b.importerDir(importer), Kind: kind}
	if importer != nil {
		args.Importer = importer.Id
	}
	result, err := b.container.Resolve(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &resolver.NotFoundError{Specifier: source, Importer: string(args.Importer)}
	}
	return result, nil
}

type reportKey struct {
	importer graph.ModuleId
	source   string
}

type task struct {
	resolved *plugin.ResolveResult
	importer graph.ModuleId
	item     graph.EdgeItem
}

type scan struct {
	builder *Builder
	graph   *graph.ModuleGraph
	reuse   func(id graph.ModuleId) *graph.Module
	wg      sync.WaitGroup
	errors  chan error

	mutex    sync.Mutex
	reported map[reportKey]bool
	result   *BuildResult
}

func (s *scan) record(list *[]graph.ModuleId, id graph.ModuleId) {
	s.mutex.Lock()
	*list = append(*list, id)
	s.mutex.Unlock()
}

func (s *scan) addEdge(t task, id graph.ModuleId) {
	if t.importer == "" {
		return
	}
	if err := s.graph.AddEdgeItem(t.importer, id, t.item); err != nil {
		panic("Internal error: " + err.Error())
	}
}

type claim uint8

const (
	claimExisting claim = iota
	claimReused
	claimBuild
)

// Under the write lock: add the edge, and insert a placeholder if nobody has
// claimed the module yet
func (s *scan) claim(t task) claim {
	id := t.resolved.Id
	g := s.graph
	g.Lock()
	defer g.Unlock()

	if g.HasModule(id) {
		s.addEdge(t, id)
		return claimExisting
	}
	if s.reuse != nil {
		if live := s.reuse(id); live != nil {
			g.AddModule(live.Clone())
			s.addEdge(t, id)
			return claimReused
		}
	}
	g.AddModule(graph.NewPlaceholder(id))
	s.addEdge(t, id)
	return claimBuild
}

func (s *scan) visit(ctx context.Context, t task) {
	defer s.wg.Done()
	b := s.builder

	switch s.claim(t) {
	case claimExisting:
		return
	case claimReused:
		s.record(&s.result.Reused, t.resolved.Id)
		b.metrics.ModuleBuilt(metrics.OutcomeReused)
		return
	}

	if t.resolved.External {
		m := graph.NewExternalModule(t.resolved.Id)
		s.graph.Lock()
		s.graph.AddModule(m)
		s.graph.Unlock()
		return
	}

	module, deps, cached, err := s.build(ctx, t.resolved)
	if err != nil {
		s.errors <- err
		return
	}

	s.graph.Lock()
	s.graph.AddModule(module)
	s.graph.ClearUnresolvedFrom(module.Id)
	s.graph.Unlock()

	if cached {
		s.record(&s.result.Cached, module.Id)
		b.metrics.ModuleBuilt(metrics.OutcomeCached)
	} else {
		s.record(&s.result.Built, module.Id)
		b.metrics.ModuleBuilt(metrics.OutcomeBuilt)
	}

	for _, dep := range deps {
		if dep.resolved == nil {
			s.unresolved(module.Id, dep.item)
			continue
		}
		s.wg.Add(1)
		go s.visit(ctx, task{resolved: dep.resolved, importer: module.Id, item: dep.item})
	}
}

// Each (importer, specifier) pair is only reported once per build
func (s *scan) unresolved(importer graph.ModuleId, item graph.EdgeItem) {
	s.graph.Lock()
	s.graph.AddUnresolved(graph.UnresolvedEdge{From: importer, Source: item.Source, Kind: item.Kind})
	s.graph.Unlock()

	key := reportKey{importer: importer, source: item.Source}
	s.mutex.Lock()
	seen := s.reported[key]
	s.reported[key] = true
	s.mutex.Unlock()
	if seen {
		return
	}
	s.builder.metrics.ResolveFailed()
	s.builder.log.AddID(logger.MsgID_Resolve_ModuleNotFound, logger.Warning, &logger.MsgLocation{File: string(importer)},
		fmt.Sprintf("Could not resolve %q", item.Source))
}

type resolvedDep struct {
	item     graph.EdgeItem
	resolved *plugin.ResolveResult
}

// build produces the module for a resolved id, either from the persistent
// cache or by running load, transform, parse and analyze_deps. Dependencies
// are resolved before returning.
func (s *scan) build(ctx context.Context, resolved *plugin.ResolveResult) (*graph.Module, []resolvedDep, bool, error) {
	b := s.builder
	container := b.container

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, false, err
	}
	loaded, err := container.Load(ctx, plugin.LoadArgs{Id: resolved.Id, Path: resolved.Path})
	if err == nil && loaded == nil {
		err = fmt.Errorf("no plugin could load %q", resolved.Id)
	}
	if err != nil {
		b.sem.Release(1)
		return nil, nil, false, fmt.Errorf("load %q: %w", resolved.Id, err)
	}

	var key string
	if b.cache != nil {
		key = cache.Key(resolved.Id, loaded.Content, b.digest)
		if cached, ok := b.cache.Get(ctx, key); ok {
			b.sem.Release(1)
			module, deps, ok, err := s.rehydrate(ctx, resolved, cached)
			if err != nil || ok {
				return module, deps, ok, err
			}
			b.zap.Debug("cached module is stale", zap.Stringer("module", resolved.Id))
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return nil, nil, false, err
			}
		}
	}

	module, err := b.process(ctx, resolved, loaded)
	b.sem.Release(1)
	if err != nil {
		return nil, nil, false, err
	}
	module.ContentHash = key

	args := &plugin.AnalyzeDepsArgs{Module: module}
	if err := container.AnalyzeDeps(ctx, args); err != nil {
		return nil, nil, false, fmt.Errorf("analyze_deps %q: %w", module.Id, err)
	}

	deps := make([]resolvedDep, 0, len(args.Deps))
	cachedDeps := make([]cache.CachedDependency, 0, len(args.Deps))
	for i, dep := range args.Deps {
		item := graph.EdgeItem{Source: dep.Source, Kind: dep.Kind, Order: i}
		result, err := b.resolve(ctx, dep.Source, module, dep.Kind)
		if err != nil && !errors.Is(err, resolver.ErrModuleNotFound) {
			return nil, nil, false, fmt.Errorf("resolve %q from %q: %w", dep.Source, module.Id, err)
		}
		cachedDep := cache.CachedDependency{Source: dep.Source, Kind: dep.Kind, Order: i}
		if result != nil {
			cachedDep.TargetId = result.Id
		}
		deps = append(deps, resolvedDep{item: item, resolved: result})
		cachedDeps = append(cachedDeps, cachedDep)
	}

	if b.cache != nil {
		entry := &cache.CachedModule{Module: module.Clone(), Dependencies: cachedDeps}
		if err := b.cache.Put(ctx, key, entry); err != nil {
			return nil, nil, false, err
		}
	}
	return module, deps, false, nil
}

// The caller holds a semaphore slot
func (b *Builder) process(ctx context.Context, resolved *plugin.ResolveResult, loaded *plugin.LoadResult) (*graph.Module, error) {
	container := b.container
	transformed, err := container.Transform(ctx, plugin.TransformArgs{
		Id:         resolved.Id,
		Path:       resolved.Path,
		Content:    loaded.Content,
		ModuleType: loaded.ModuleType,
	})
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", resolved.Id, err)
	}

	meta, err := container.Parse(ctx, plugin.ParseArgs{
		Id:         resolved.Id,
		Path:       resolved.Path,
		Content:    transformed.Content,
		ModuleType: loaded.ModuleType,
	})
	if err == nil && meta == nil {
		err = fmt.Errorf("no plugin could parse %s modules", loaded.ModuleType)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", resolved.Id, err)
	}

	module := graph.NewModule(resolved.Id)
	module.ModuleType = loaded.ModuleType
	module.ResolvedPath = resolved.Path
	module.Immutable = resolved.Immutable
	module.SideEffects = resolved.SideEffects
	module.Content = transformed.Content
	module.Size = int64(len(transformed.Content))
	module.Meta = *meta
	return module, nil
}

// rehydrate turns a cache hit into a module. It resolves every recorded
// dependency again and reports a miss if any of them now points somewhere
// else, or if a plugin invalidates the entry.
func (s *scan) rehydrate(ctx context.Context, resolved *plugin.ResolveResult, cached *cache.CachedModule) (*graph.Module, []resolvedDep, bool, error) {
	b := s.builder
	module := cached.Module.Clone()

	invalidate, err := b.container.HandlePersistentCachedModule(ctx, module)
	if err != nil {
		return nil, nil, false, fmt.Errorf("handle_persistent_cached_module %q: %w", module.Id, err)
	}
	if invalidate {
		return nil, nil, false, nil
	}

	module.ResolvedPath = resolved.Path
	module.Immutable = resolved.Immutable
	module.SideEffects = resolved.SideEffects
	module.IsEntry = false
	module.IsDynamicEntry = false

	deps := make([]resolvedDep, 0, len(cached.Dependencies))
	for _, dep := range cached.Dependencies {
		result, err := b.resolve(ctx, dep.Source, module, dep.Kind)
		if err != nil && !errors.Is(err, resolver.ErrModuleNotFound) {
			return nil, nil, false, fmt.Errorf("resolve %q from %q: %w", dep.Source, module.Id, err)
		}
		var target graph.ModuleId
		if result != nil {
			target = result.Id
		}
		if target != dep.TargetId {
			return nil, nil, false, nil
		}
		deps = append(deps, resolvedDep{
			item:     graph.EdgeItem{Source: dep.Source, Kind: dep.Kind, Order: dep.Order},
			resolved: result,
		})
	}
	return module, deps, true, nil
}
