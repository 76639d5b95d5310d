package update

import (
	"sort"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// PatchModuleGraph applies a diff to the live graph and removes every module
// that is no longer imported by anything. Entries are never removed. It
// returns the removed module ids in sorted order. The caller holds the live
// graph's write lock and the scratch graph's read lock.
func PatchModuleGraph(diff *Diff, live *graph.ModuleGraph, scratch *graph.ModuleGraph) []graph.ModuleId {
	for _, id := range diff.AddedModules {
		live.AddModule(scratch.Module(id))
	}
	for _, id := range diff.UpdatedModules {
		old, m := live.Module(id), scratch.Module(id)
		m.IsEntry = old.IsEntry
		m.IsDynamicEntry = old.IsDynamicEntry
		m.ModuleGroups = old.ModuleGroups
		m.ResourcePots = old.ResourcePots
		live.AddModule(m)
	}
	for _, id := range append(append([]graph.ModuleId{}, diff.AddedModules...), diff.UpdatedModules...) {
		live.ClearUnresolvedFrom(id)
		for _, edge := range scratch.Unresolved() {
			if edge.From == id {
				live.AddUnresolved(edge)
			}
		}
	}

	var candidates []graph.ModuleId
	for _, from := range sortedDiffSources(diff) {
		deps := diff.Deps[from]
		for _, to := range deps.Removed {
			live.RemoveEdge(from, to)
			candidates = append(candidates, to)
		}
		for _, dep := range deps.Changed {
			live.RemoveEdge(from, dep.Id)
			addItems(live, from, dep)
		}
		for _, dep := range deps.Added {
			addItems(live, from, dep)
		}
	}

	var removed []graph.ModuleId
	for len(candidates) > 0 {
		id := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
		m := live.Module(id)
		if m == nil || m.IsEntry || len(live.Dependents(id)) > 0 {
			continue
		}
		for _, dep := range live.Dependencies(id) {
			candidates = append(candidates, dep.Id)
		}
		live.RemoveModule(id)
		live.ClearUnresolvedFrom(id)
		removed = append(removed, id)
	}

	live.UpdateExecutionOrder()
	return graph.SortModuleIds(removed)
}

func addItems(g *graph.ModuleGraph, from graph.ModuleId, dep graph.Dependency) {
	for _, item := range dep.Items {
		if err := g.AddEdgeItem(from, dep.Id, item); err != nil {
			panic("Internal error: " + err.Error())
		}
	}
}

func sortedDiffSources(diff *Diff) []graph.ModuleId {
	ids := make([]graph.ModuleId, 0, len(diff.Deps))
	for id := range diff.Deps {
		ids = append(ids, id)
	}
	return graph.SortModuleIds(ids)
}

type GroupPatch struct {
	// Groups that were derived again, including new dynamic groups
	Affected []graph.ModuleGroupId

	// Dynamic groups nothing imports anymore
	Removed []graph.ModuleGroupId

	// Live modules whose group membership may have changed
	Modules []graph.ModuleId
}

// PatchModuleGroupGraph derives again every group that contains a module
// whose edges changed or a module that was removed. Groups of modules that
// only changed content are left alone. The caller holds both write locks.
func PatchModuleGroupGraph(diff *Diff, removed []graph.ModuleId, live *graph.ModuleGraph, gg *graph.ModuleGroupGraph) *GroupPatch {
	touched := append(sortedDiffSources(diff), removed...)
	affected := make(map[graph.ModuleGroupId]bool)
	for _, group := range gg.Groups() {
		for _, id := range touched {
			if group.HasModule(id) {
				affected[group.Id] = true
				break
			}
		}
	}

	patch := &GroupPatch{}
	members := make(map[graph.ModuleId]bool)
	var entries []graph.ModuleId
	for _, group := range gg.Groups() {
		if !affected[group.Id] {
			continue
		}
		for _, id := range group.Modules() {
			members[id] = true
			if m := live.Module(id); m != nil {
				m.ModuleGroups.Remove(group.Id)
			}
		}
		gg.RemoveEdges(group.Id)
		if live.HasModule(group.EntryModule) {
			entries = append(entries, group.EntryModule)
		} else {
			gg.RemoveGroup(group.Id)
			patch.Removed = append(patch.Removed, group.Id)
		}
	}

	// New modules are reached from existing ones, so an added dynamic import
	// target shows up here as a new group
	patch.Affected = graph.BuildModuleGroups(live, gg, entries)

	compilationEntries := make(map[graph.ModuleGroupId]bool)
	for _, entry := range live.Entries() {
		compilationEntries[graph.ModuleGroupId(entry.Id)] = true
	}
	for {
		var orphans []*graph.ModuleGroup
		for _, group := range gg.Groups() {
			if !compilationEntries[group.Id] && len(gg.Parents(group.Id)) == 0 {
				orphans = append(orphans, group)
			}
		}
		if len(orphans) == 0 {
			break
		}
		for _, group := range orphans {
			for _, id := range group.Modules() {
				members[id] = true
				if m := live.Module(id); m != nil {
					m.ModuleGroups.Remove(group.Id)
				}
			}
			if m := live.Module(group.EntryModule); m != nil {
				m.IsDynamicEntry = false
			}
			gg.RemoveGroup(group.Id)
			patch.Removed = append(patch.Removed, group.Id)
		}
	}

	kept := patch.Affected[:0]
	for _, id := range patch.Affected {
		if gg.HasGroup(id) {
			kept = append(kept, id)
			for _, m := range gg.Group(id).Modules() {
				members[m] = true
			}
		}
	}
	patch.Affected = sortGroupIds(kept)
	sortGroupIds(patch.Removed)

	for id := range members {
		if live.HasModule(id) {
			patch.Modules = append(patch.Modules, id)
		}
	}
	graph.SortModuleIds(patch.Modules)
	return patch
}

func sortGroupIds(ids []graph.ModuleGroupId) []graph.ModuleGroupId {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Pots that hold none of the given modules are kept as they are. The rest
// are dissolved, and their modules go back into partial bundling together
// with the given ones. Removed modules are simply left out.
func dissolvePots(pots []*resource.ResourcePot, modules map[graph.ModuleId]bool, live *graph.ModuleGraph) (kept []*resource.ResourcePot, rebundle []*graph.Module) {
	seen := make(map[graph.ModuleId]bool)
	add := func(id graph.ModuleId) {
		if seen[id] {
			return
		}
		seen[id] = true
		if m := live.Module(id); m != nil && !m.External && !m.Placeholder {
			rebundle = append(rebundle, m)
		}
	}
	for _, pot := range pots {
		dissolve := false
		for _, id := range pot.Modules {
			if modules[id] || !live.HasModule(id) {
				dissolve = true
				break
			}
		}
		if !dissolve {
			kept = append(kept, pot)
			continue
		}
		for _, id := range pot.Modules {
			add(id)
		}
	}
	for _, id := range graph.SortModuleIds(keys(modules)) {
		add(id)
	}
	return kept, rebundle
}

func keys(set map[graph.ModuleId]bool) []graph.ModuleId {
	ids := make([]graph.ModuleId, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
