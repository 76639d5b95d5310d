package update

import (
	"github.com/farm-fe/farm-sub000/internal/graph"
)

// DepsDiff is how the outgoing edges of one rebuilt module changed
type DepsDiff struct {
	Added   []graph.Dependency
	Removed []graph.ModuleId

	// Same target, different import sites
	Changed []graph.Dependency
}

func (d *DepsDiff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff is the difference between the live graph and a scratch graph built
// from the changed files
type Diff struct {
	// Only modules whose edges changed have an entry
	Deps map[graph.ModuleId]*DepsDiff

	// In the scratch graph but not the live one
	AddedModules []graph.ModuleId

	// Rebuilt modules whose content or edges differ from the live ones
	UpdatedModules []graph.ModuleId
}

func (d *Diff) Empty() bool {
	return len(d.Deps) == 0 && len(d.AddedModules) == 0 && len(d.UpdatedModules) == 0
}

// DiffModuleGraph compares every module the scratch build produced against
// the live graph. Modules the scratch build reused from the live graph have
// no edges in it and are not compared. The caller holds both read locks.
func DiffModuleGraph(built []graph.ModuleId, live *graph.ModuleGraph, scratch *graph.ModuleGraph) *Diff {
	diff := &Diff{Deps: make(map[graph.ModuleId]*DepsDiff)}

	for _, m := range scratch.Modules() {
		if !m.Placeholder && !live.HasModule(m.Id) {
			diff.AddedModules = append(diff.AddedModules, m.Id)
		}
	}

	for _, id := range graph.SortModuleIds(append([]graph.ModuleId{}, built...)) {
		deps := diffDeps(live.Dependencies(id), scratch.Dependencies(id))
		if !deps.empty() {
			diff.Deps[id] = deps
		}
		old := live.Module(id)
		if old == nil {
			continue
		}
		if !deps.empty() || old.Content != scratch.Module(id).Content {
			diff.UpdatedModules = append(diff.UpdatedModules, id)
		}
	}
	return diff
}

func diffDeps(before []graph.Dependency, after []graph.Dependency) *DepsDiff {
	d := &DepsDiff{}
	old := make(map[graph.ModuleId][]graph.EdgeItem, len(before))
	for _, dep := range before {
		old[dep.Id] = dep.Items
	}
	for _, dep := range after {
		items, ok := old[dep.Id]
		delete(old, dep.Id)
		switch {
		case !ok:
			d.Added = append(d.Added, dep)
		case !sameItems(items, dep.Items):
			d.Changed = append(d.Changed, dep)
		}
	}
	for _, dep := range before {
		if _, ok := old[dep.Id]; ok {
			d.Removed = append(d.Removed, dep.Id)
		}
	}
	graph.SortModuleIds(d.Removed)
	return d
}

// Both lists are sorted by order
func sameItems(a []graph.EdgeItem, b []graph.EdgeItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
