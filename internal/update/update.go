package update

// An update patches the live compilation instead of starting over. The
// changed files are built into a scratch graph that stops at every module
// the live graph already has. The difference between the two is applied to
// the live graph, module groups that saw edge changes are derived again,
// partial bundling runs over the modules of those groups only, and only the
// pots whose contents or imports changed are rendered again.

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/farm-fe/farm-sub000/internal/bundler"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/linker"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/partial_bundling"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

var ErrUnsupportedUpdateKind = errors.New("unsupported update kind")

type EventKind uint8

const (
	Added EventKind = iota
	Updated
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return "removed"
	}
}

type Event struct {
	// Absolute path of the file
	Path string
	Kind EventKind
}

// State is the part of a compilation an update patches. Pots is replaced
// with the new list.
type State struct {
	Graph  *graph.ModuleGraph
	Groups *graph.ModuleGroupGraph
	Pots   []*resource.ResourcePot
}

type Options struct {
	Log     logger.Log
	Zap     *zap.Logger
	Metrics *metrics.Metrics

	// Called with every changed path before anything is rebuilt, so that
	// nothing serves the old contents
	Invalidate func(path string)
}

type Updater struct {
	container *plugin.Container
	builder   *bundler.Builder
	linker    *linker.Linker
	log       logger.Log
	zap       *zap.Logger
	metrics   *metrics.Metrics
	invalid   func(path string)
	version   int

	// Changes an earlier update applied to the live graph but failed to
	// render. They are rendered and reported with the next update.
	stale staleChanges
}

type staleChanges struct {
	modules map[graph.ModuleId]bool
	removed []graph.ModuleId
	pots    []string
}

func (s *staleChanges) add(ids ...graph.ModuleId) {
	if s.modules == nil {
		s.modules = make(map[graph.ModuleId]bool)
	}
	for _, id := range ids {
		s.modules[id] = true
	}
}

// Stale modules that the current diff does not report already
func (s *staleChanges) updated(g *graph.ModuleGraph, diff *Diff) []graph.ModuleId {
	reported := make(map[graph.ModuleId]bool)
	for _, id := range append(append([]graph.ModuleId{}, diff.UpdatedModules...), diff.AddedModules...) {
		reported[id] = true
	}
	var out []graph.ModuleId
	for id := range s.modules {
		if !reported[id] && g.HasModule(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// The linker must be the one that rendered the live pots, since it knows
// their exports as of that render
func New(container *plugin.Container, builder *bundler.Builder, l *linker.Linker, options Options) *Updater {
	z := options.Zap
	if z == nil {
		z = zap.NewNop()
	}
	return &Updater{
		container: container,
		builder:   builder,
		linker:    l,
		log:       options.Log,
		zap:       z.Named("update"),
		metrics:   options.Metrics,
		invalid:   options.Invalidate,
	}
}

type Result struct {
	Payload *Payload

	// Rendered pots and entry facades, plus anything plugins emitted
	Resources []*resource.Resource

	// Ids of pots that no longer exist
	RemovedPots []string

	Diff   *Diff
	Groups *GroupPatch
}

// Update applies file changes to the live state. Only changes to existing
// files are supported. Changes to files that are not part of the graph are
// ignored.
func (u *Updater) Update(ctx context.Context, state *State, events []Event) (*Result, error) {
	for _, event := range events {
		if event.Kind != Updated {
			u.metrics.Update(metrics.UpdateFailed)
			return nil, fmt.Errorf("%w: %s %q", ErrUnsupportedUpdateKind, event.Kind, event.Path)
		}
	}

	pluginCtx := u.container.Context()
	pluginCtx.SetUpdate(true)
	defer pluginCtx.SetUpdate(false)

	timer := &helpers.Timer{}
	result, err := u.update(ctx, state, events, timer)
	u.metrics.ObservePhases(timer.Durations())
	switch {
	case err != nil:
		u.metrics.Update(metrics.UpdateFailed)
	case result.Payload.IsReload():
		u.metrics.Update(metrics.UpdateReload)
	case !result.Payload.Empty():
		u.metrics.Update(metrics.UpdatePatched)
	}
	return result, err
}

func (u *Updater) update(ctx context.Context, state *State, events []Event, timer *helpers.Timer) (*Result, error) {
	live := state.Graph
	options := u.container.Context().Options

	timer.Begin("update-build")
	roots := u.roots(live, events)
	if len(roots) == 0 {
		timer.End("update-build")
		return &Result{Payload: newPayload(), Diff: &Diff{Deps: map[graph.ModuleId]*DepsDiff{}}, Groups: &GroupPatch{}}, nil
	}
	rebuilt := make(map[graph.ModuleId]bool, len(roots))
	for _, root := range roots {
		rebuilt[root.Resolved.Id] = true
	}

	scratch := graph.NewModuleGraph()
	built, err := u.builder.Build(ctx, scratch, bundler.BuildRequest{
		Roots: roots,
		Reuse: func(id graph.ModuleId) *graph.Module {
			if rebuilt[id] {
				return nil
			}
			live.RLock()
			defer live.RUnlock()
			if m := live.Module(id); m != nil && !m.Placeholder {
				return m
			}
			return nil
		},
	})
	timer.End("update-build")
	if err != nil {
		return nil, err
	}

	timer.Begin("update-patch")
	live.Lock()
	state.Groups.Lock()
	diff := DiffModuleGraph(append(built.Built, built.Cached...), live, scratch)
	if diff.Empty() {
		state.Groups.Unlock()
		live.Unlock()
		timer.End("update-patch")
		u.container.Context().TakeEmittedFiles()
		u.zap.Debug("nothing changed", zap.Int("roots", len(roots)))
		return &Result{Payload: newPayload(), Diff: diff, Groups: &GroupPatch{}}, nil
	}
	removed := PatchModuleGraph(diff, live, scratch)
	groups := PatchModuleGroupGraph(diff, removed, live, state.Groups)

	// The live graph is patched from here on, so a failure leaves the
	// changed modules for the next update to render
	changed := make(map[graph.ModuleId]bool)
	for _, id := range diff.UpdatedModules {
		changed[id] = true
	}
	for _, id := range diff.AddedModules {
		changed[id] = true
	}
	for id := range u.stale.modules {
		changed[id] = true
	}
	fail := func(err error, pots []*resource.ResourcePot, previous map[string]bool, removedPots []string) (*Result, error) {
		for id := range changed {
			u.stale.add(id)
		}
		for _, pot := range pots {
			if !previous[pot.Id] {
				u.stale.add(pot.Modules...)
			}
		}
		u.stale.removed = append(u.stale.removed, removed...)
		u.stale.pots = append(u.stale.pots, removedPots...)
		return nil, err
	}

	rebundle := make(map[graph.ModuleId]bool)
	for _, id := range groups.Modules {
		rebundle[id] = true
	}
	for _, id := range diff.AddedModules {
		rebundle[id] = true
	}
	previous := make(map[string]bool, len(state.Pots))
	for _, pot := range state.Pots {
		previous[pot.Id] = true
	}
	kept, modules := dissolvePots(state.Pots, rebundle, live)
	fresh, err := partial_bundling.GenerateResourcePots(modules, options.PartialBundling, u.log)
	if err != nil {
		state.Groups.Unlock()
		live.Unlock()
		timer.End("update-patch")
		return fail(err, nil, previous, nil)
	}
	pots := resource.SortPots(append(kept, fresh...))
	partial_bundling.AttachResourcePots(live, state.Groups, pots)
	current := make(map[string]bool, len(pots))
	for _, pot := range pots {
		current[pot.Id] = true
	}
	var removedPots []string
	for _, pot := range state.Pots {
		if !current[pot.Id] {
			removedPots = append(removedPots, pot.Id)
		}
	}
	state.Pots = pots

	// Updates never shake, so there is no usage to compute
	exports, err := linker.ResolveExports(live, u.log, options.AmbiguousExportsPolicy())
	state.Groups.Unlock()
	live.Unlock()
	timer.End("update-patch")
	if err != nil {
		return fail(err, pots, previous, removedPots)
	}

	timer.Begin("update-render")
	live.RLock()
	state.Groups.RLock()
	resources, err := u.linker.Render(ctx, linker.Input{Graph: live, Groups: state.Groups, Pots: pots, Exports: exports}, func(pot *resource.ResourcePot) bool {
		if !previous[pot.Id] {
			return true
		}
		for _, id := range pot.Modules {
			if changed[id] {
				return true
			}
		}
		return false
	})
	var payload *Payload
	if err == nil {
		stale := u.stale.updated(live, diff)
		removed = append(append([]graph.ModuleId{}, u.stale.removed...), removed...)
		var gone []string
		for _, id := range u.stale.pots {
			if !current[id] {
				gone = append(gone, id)
			}
		}
		removedPots = append(gone, removedPots...)
		payload = u.payload(live, state.Groups, diff, stale, removed, groups, pots, resources)
	}
	state.Groups.RUnlock()
	live.RUnlock()
	timer.End("update-render")
	if err != nil {
		return fail(err, pots, previous, removedPots)
	}
	u.stale = staleChanges{}

	resources = append(resources, u.container.Context().TakeEmittedFiles()...)
	if err := u.container.ModuleGraphUpdated(ctx, plugin.ModuleGraphUpdatedArgs{
		Added:   diff.AddedModules,
		Updated: diff.UpdatedModules,
		Removed: removed,
	}); err != nil {
		return nil, fmt.Errorf("module_graph_updated: %w", err)
	}

	u.zap.Debug("update applied",
		zap.Strings("updated", payload.Updated),
		zap.Strings("added", payload.Added),
		zap.Strings("removed", payload.Removed),
		zap.Int("rendered", len(resources)),
		zap.Int("groups", len(groups.Affected)))

	return &Result{
		Payload:     payload,
		Resources:   resources,
		RemovedPots: removedPots,
		Diff:        diff,
		Groups:      groups,
	}, nil
}

// Every module loaded from a changed path is rebuilt, including ones that
// differ only by query
func (u *Updater) roots(live *graph.ModuleGraph, events []Event) []bundler.Root {
	paths := make(map[string]bool, len(events))
	for _, event := range events {
		if !paths[event.Path] {
			paths[event.Path] = true
			if u.invalid != nil {
				u.invalid(event.Path)
			}
		}
	}

	live.RLock()
	defer live.RUnlock()
	var roots []bundler.Root
	for _, m := range live.Modules() {
		if m.External || m.Placeholder || !paths[m.ResolvedPath] {
			continue
		}
		roots = append(roots, bundler.Root{
			Source: string(m.Id),
			Resolved: &plugin.ResolveResult{
				Id:          m.Id,
				Path:        m.ResolvedPath,
				SideEffects: m.SideEffects,
				Immutable:   m.Immutable,
			},
		})
	}
	return roots
}

func (u *Updater) payload(
	g *graph.ModuleGraph,
	gg *graph.ModuleGroupGraph,
	diff *Diff,
	stale []graph.ModuleId,
	removed []graph.ModuleId,
	groups *GroupPatch,
	pots []*resource.ResourcePot,
	resources []*resource.Resource,
) *Payload {
	p := newPayload()
	p.Added = append(p.Added, idStrings(diff.AddedModules)...)
	p.Removed = append(p.Removed, idStrings(removed)...)
	updated := append(append([]graph.ModuleId{}, diff.UpdatedModules...), stale...)
	p.Updated = append(p.Updated, idStrings(updated)...)

	for _, id := range append(append([]graph.ModuleId{}, updated...), diff.AddedModules...) {
		if m := g.Module(id); m != nil && !m.External && m.ModuleType != graph.ModuleTypeScript {
			p.ImmutableResources = Reload
			return p
		}
	}

	immutable := make(map[string]bool)
	for _, pot := range pots {
		if pot.Immutable {
			immutable[pot.Id] = true
		}
	}
	var immutableResources, mutableResources []*resource.Resource
	for _, r := range resources {
		switch {
		case r.Origin.Pot == "":
		case immutable[r.Origin.Pot]:
			immutableResources = append(immutableResources, r)
		default:
			mutableResources = append(mutableResources, r)
		}
	}
	u.version++
	publicPath := u.container.Context().Options.Output.PublicPath
	p.ImmutableResources = loadSnippet(publicPath, u.version, immutableResources)
	p.MutableResources = loadSnippet(publicPath, u.version, mutableResources)

	for _, id := range updated {
		p.Boundaries[string(id)] = boundaries(g, id)
	}

	potsById := make(map[string]*resource.ResourcePot, len(pots))
	for _, pot := range pots {
		potsById[pot.Id] = pot
	}
	for _, id := range groups.Affected {
		group := gg.Group(id)
		if m := g.Module(group.EntryModule); m == nil || !m.IsDynamicEntry {
			continue
		}
		entries := [][2]string{}
		for _, potId := range group.ResourcePots {
			if pot := potsById[potId]; pot != nil {
				entries = append(entries, [2]string{pot.FileName(), resource.ResourceTypeOf(pot.Type).String()})
			}
		}
		p.DynamicResourcesMap[string(id)] = entries
	}
	return p
}
