package graph

import (
	"sort"
	"sync"
)

// A module group is everything reachable from one group entry through
// static edges only. There is one group per compilation entry and one per
// dynamic import target. The group id is the entry's module id.
type ModuleGroup struct {
	Id          ModuleGroupId
	EntryModule ModuleId
	modules     map[ModuleId]struct{}

	// Resource pots this group needs to load, filled by partial bundling
	ResourcePots []string
}

func NewModuleGroup(entry ModuleId) *ModuleGroup {
	return &ModuleGroup{
		Id:          ModuleGroupId(entry),
		EntryModule: entry,
		modules:     make(map[ModuleId]struct{}),
	}
}

func (g *ModuleGroup) AddModule(id ModuleId) {
	g.modules[id] = struct{}{}
}

func (g *ModuleGroup) RemoveModule(id ModuleId) {
	delete(g.modules, id)
}

func (g *ModuleGroup) HasModule(id ModuleId) bool {
	_, ok := g.modules[id]
	return ok
}

func (g *ModuleGroup) Len() int {
	return len(g.modules)
}

func (g *ModuleGroup) Modules() []ModuleId {
	ids := make([]ModuleId, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	return SortModuleIds(ids)
}

type ModuleGroupGraph struct {
	sync.RWMutex

	groups map[ModuleGroupId]*ModuleGroup

	// parent -> dynamically imported children
	edges   map[ModuleGroupId]map[ModuleGroupId]struct{}
	reverse map[ModuleGroupId]map[ModuleGroupId]struct{}
}

func NewModuleGroupGraph() *ModuleGroupGraph {
	return &ModuleGroupGraph{
		groups:  make(map[ModuleGroupId]*ModuleGroup),
		edges:   make(map[ModuleGroupId]map[ModuleGroupId]struct{}),
		reverse: make(map[ModuleGroupId]map[ModuleGroupId]struct{}),
	}
}

func (gg *ModuleGroupGraph) AddGroup(group *ModuleGroup) {
	gg.groups[group.Id] = group
}

func (gg *ModuleGroupGraph) Group(id ModuleGroupId) *ModuleGroup {
	return gg.groups[id]
}

func (gg *ModuleGroupGraph) HasGroup(id ModuleGroupId) bool {
	_, ok := gg.groups[id]
	return ok
}

func (gg *ModuleGroupGraph) Len() int {
	return len(gg.groups)
}

func (gg *ModuleGroupGraph) RemoveGroup(id ModuleGroupId) *ModuleGroup {
	group := gg.groups[id]
	for child := range gg.edges[id] {
		delete(gg.reverse[child], id)
	}
	for parent := range gg.reverse[id] {
		delete(gg.edges[parent], id)
	}
	delete(gg.edges, id)
	delete(gg.reverse, id)
	delete(gg.groups, id)
	return group
}

func (gg *ModuleGroupGraph) AddEdge(parent ModuleGroupId, child ModuleGroupId) {
	if gg.edges[parent] == nil {
		gg.edges[parent] = make(map[ModuleGroupId]struct{})
	}
	gg.edges[parent][child] = struct{}{}
	if gg.reverse[child] == nil {
		gg.reverse[child] = make(map[ModuleGroupId]struct{})
	}
	gg.reverse[child][parent] = struct{}{}
}

func (gg *ModuleGroupGraph) RemoveEdges(parent ModuleGroupId) {
	for child := range gg.edges[parent] {
		delete(gg.reverse[child], parent)
	}
	delete(gg.edges, parent)
}

func (gg *ModuleGroupGraph) HasEdge(parent ModuleGroupId, child ModuleGroupId) bool {
	_, ok := gg.edges[parent][child]
	return ok
}

func (gg *ModuleGroupGraph) Children(id ModuleGroupId) []ModuleGroupId {
	return sortedGroupIds(gg.edges[id])
}

func (gg *ModuleGroupGraph) Parents(id ModuleGroupId) []ModuleGroupId {
	return sortedGroupIds(gg.reverse[id])
}

func (gg *ModuleGroupGraph) Groups() []*ModuleGroup {
	groups := make([]*ModuleGroup, 0, len(gg.groups))
	for _, group := range gg.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Id < groups[j].Id })
	return groups
}

func sortedGroupIds(set map[ModuleGroupId]struct{}) []ModuleGroupId {
	ids := make([]ModuleGroupId, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BuildModuleGroupGraph derives every module group from the graph's
// entries and overwrites Module.ModuleGroups. The caller holds the module
// graph's write lock.
func BuildModuleGroupGraph(g *ModuleGraph) *ModuleGroupGraph {
	for _, m := range g.modules {
		m.ModuleGroups = ModuleGroupSet{}
	}
	gg := NewModuleGroupGraph()
	entries := make([]ModuleId, 0, len(g.entries))
	for _, entry := range g.entries {
		entries = append(entries, entry.Id)
	}
	BuildModuleGroups(g, gg, entries)
	return gg
}

// BuildModuleGroups adds the groups rooted at the given entries plus every
// group they dynamically import that does not exist yet. It returns the ids
// of the groups that were built.
func BuildModuleGroups(g *ModuleGraph, gg *ModuleGroupGraph, entries []ModuleId) []ModuleGroupId {
	var built []ModuleGroupId
	queue := append([]ModuleId{}, entries...)
	scheduled := make(map[ModuleId]bool)
	for _, entry := range entries {
		scheduled[entry] = true
	}

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]
		if !g.HasModule(entry) {
			continue
		}

		group, dynamicTargets := buildModuleGroup(g, entry)
		gg.AddGroup(group)
		built = append(built, group.Id)

		for _, target := range dynamicTargets {
			child := ModuleGroupId(target)
			if !gg.HasGroup(child) && !scheduled[target] {
				scheduled[target] = true
				queue = append(queue, target)
			}
		}
		for _, target := range dynamicTargets {
			gg.AddEdge(group.Id, ModuleGroupId(target))
			if m := g.modules[target]; m != nil {
				m.IsDynamicEntry = true
			}
		}
	}
	return built
}

// Breadth-first search from one group entry that stops at dynamic edges
func buildModuleGroup(g *ModuleGraph, entry ModuleId) (*ModuleGroup, []ModuleId) {
	group := NewModuleGroup(entry)
	visited := map[ModuleId]bool{entry: true}
	queue := []ModuleId{entry}
	var dynamicTargets []ModuleId
	seenDynamic := make(map[ModuleId]bool)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		group.AddModule(id)
		if m := g.modules[id]; m != nil {
			if m.ModuleGroups == nil {
				m.ModuleGroups = ModuleGroupSet{}
			}
			m.ModuleGroups.Add(group.Id)
		}

		for _, dep := range g.Dependencies(id) {
			if dep.IsDynamicOnly() {
				if !seenDynamic[dep.Id] {
					seenDynamic[dep.Id] = true
					dynamicTargets = append(dynamicTargets, dep.Id)
				}
				continue
			}
			if !visited[dep.Id] {
				visited[dep.Id] = true
				queue = append(queue, dep.Id)
			}
		}
	}
	return group, dynamicTargets
}
