package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ResolveKind uint8

const (
	ResolveEntry ResolveKind = iota
	ResolveImport
	ResolveExportFrom
	ResolveDynamicImport
	ResolveRequire
	ResolveCssAtImport
	ResolveCssUrl
	ResolveHtmlScript
	ResolveHtmlLink
	ResolveHmrUpdate
)

func (kind ResolveKind) String() string {
	switch kind {
	case ResolveEntry:
		return "entry"
	case ResolveImport:
		return "import"
	case ResolveExportFrom:
		return "export-from"
	case ResolveDynamicImport:
		return "dynamic-import"
	case ResolveRequire:
		return "require"
	case ResolveCssAtImport:
		return "css-at-import"
	case ResolveCssUrl:
		return "css-url"
	case ResolveHtmlScript:
		return "html-script"
	case ResolveHtmlLink:
		return "html-link"
	case ResolveHmrUpdate:
		return "hmr-update"
	default:
		return "unknown"
	}
}

func (kind ResolveKind) IsDynamic() bool {
	return kind == ResolveDynamicImport
}

// IsRequire selects the "require" package.json condition
func (kind ResolveKind) IsRequire() bool {
	return kind == ResolveRequire
}

type EdgeItem struct {
	Source string      `msgpack:"source"`
	Kind   ResolveKind `msgpack:"kind"`
	Order  int         `msgpack:"order"`
}

type Entry struct {
	Name string
	Id   ModuleId
}

type UnresolvedEdge struct {
	From   ModuleId
	Source string
	Kind   ResolveKind
}

type Dependency struct {
	Id    ModuleId
	Items []EdgeItem
}

func (d Dependency) IsDynamicOnly() bool {
	for _, item := range d.Items {
		if !item.Kind.IsDynamic() {
			return false
		}
	}
	return true
}

func (d Dependency) HasKind(kind ResolveKind) bool {
	for _, item := range d.Items {
		if item.Kind == kind {
			return true
		}
	}
	return false
}

func (d Dependency) minOrder() int {
	order := int(^uint(0) >> 1)
	for _, item := range d.Items {
		if item.Order < order {
			order = item.Order
		}
	}
	return order
}

// ModuleGraph is not safe for concurrent use by itself. Callers take the
// embedded lock: the write lock to mutate, the read lock to traverse.
type ModuleGraph struct {
	sync.RWMutex

	modules map[ModuleId]*Module

	// from -> to -> items
	edges map[ModuleId]map[ModuleId][]EdgeItem

	// to -> from
	reverse map[ModuleId]map[ModuleId]struct{}

	entries []Entry

	unresolved []UnresolvedEdge

	// Every distinct cycle found by the last call to UpdateExecutionOrder
	CircleRecord [][]ModuleId
}

func NewModuleGraph() *ModuleGraph {
	return &ModuleGraph{
		modules: make(map[ModuleId]*Module),
		edges:   make(map[ModuleId]map[ModuleId][]EdgeItem),
		reverse: make(map[ModuleId]map[ModuleId]struct{}),
	}
}

func (g *ModuleGraph) Len() int {
	return len(g.modules)
}

func (g *ModuleGraph) HasModule(id ModuleId) bool {
	_, ok := g.modules[id]
	return ok
}

func (g *ModuleGraph) Module(id ModuleId) *Module {
	return g.modules[id]
}

// AddModule inserts or replaces a module. Edges are kept when a placeholder
// is replaced by the built module.
func (g *ModuleGraph) AddModule(m *Module) {
	g.modules[m.Id] = m
}

// RemoveModule drops the module and every edge into or out of it
func (g *ModuleGraph) RemoveModule(id ModuleId) *Module {
	m, ok := g.modules[id]
	if !ok {
		return nil
	}
	for to := range g.edges[id] {
		delete(g.reverse[to], id)
	}
	for from := range g.reverse[id] {
		delete(g.edges[from], id)
	}
	delete(g.edges, id)
	delete(g.reverse, id)
	delete(g.modules, id)

	for i, entry := range g.entries {
		if entry.Id == id {
			g.entries = append(g.entries[:i:i], g.entries[i+1:]...)
			break
		}
	}
	return m
}

// Modules returns every module sorted by id
func (g *ModuleGraph) Modules() []*Module {
	modules := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Id < modules[j].Id })
	return modules
}

func (g *ModuleGraph) ModuleIds() []ModuleId {
	ids := make([]ModuleId, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	return SortModuleIds(ids)
}

// AddEdgeItem records one import site. Both endpoints must already exist,
// possibly as placeholders.
func (g *ModuleGraph) AddEdgeItem(from ModuleId, to ModuleId, item EdgeItem) error {
	if !g.HasModule(from) {
		return fmt.Errorf("cannot add edge from missing module %q", from)
	}
	if !g.HasModule(to) {
		return fmt.Errorf("cannot add edge to missing module %q", to)
	}
	targets := g.edges[from]
	if targets == nil {
		targets = make(map[ModuleId][]EdgeItem)
		g.edges[from] = targets
	}
	for _, existing := range targets[to] {
		if existing == item {
			return nil
		}
	}
	targets[to] = append(targets[to], item)
	sort.SliceStable(targets[to], func(i, j int) bool { return targets[to][i].Order < targets[to][j].Order })

	sources := g.reverse[to]
	if sources == nil {
		sources = make(map[ModuleId]struct{})
		g.reverse[to] = sources
	}
	sources[from] = struct{}{}
	return nil
}

func (g *ModuleGraph) RemoveEdge(from ModuleId, to ModuleId) {
	if targets := g.edges[from]; targets != nil {
		delete(targets, to)
	}
	if sources := g.reverse[to]; sources != nil {
		delete(sources, from)
	}
}

func (g *ModuleGraph) HasEdge(from ModuleId, to ModuleId) bool {
	_, ok := g.edges[from][to]
	return ok
}

func (g *ModuleGraph) EdgeItems(from ModuleId, to ModuleId) []EdgeItem {
	return g.edges[from][to]
}

// Dependencies are sorted by the first import site in the importer
func (g *ModuleGraph) Dependencies(id ModuleId) []Dependency {
	targets := g.edges[id]
	deps := make([]Dependency, 0, len(targets))
	for to, items := range targets {
		deps = append(deps, Dependency{Id: to, Items: items})
	}
	sort.Slice(deps, func(i, j int) bool {
		a, b := deps[i].minOrder(), deps[j].minOrder()
		if a != b {
			return a < b
		}
		return deps[i].Id < deps[j].Id
	})
	return deps
}

// DependencyBySource finds the module an import specifier was resolved to
func (g *ModuleGraph) DependencyBySource(id ModuleId, source string) (ModuleId, bool) {
	for to, items := range g.edges[id] {
		for _, item := range items {
			if item.Source == source {
				return to, true
			}
		}
	}
	return "", false
}

func (g *ModuleGraph) Dependents(id ModuleId) []ModuleId {
	sources := g.reverse[id]
	ids := make([]ModuleId, 0, len(sources))
	for from := range sources {
		ids = append(ids, from)
	}
	return SortModuleIds(ids)
}

func (g *ModuleGraph) AddEntry(name string, id ModuleId) {
	for _, entry := range g.entries {
		if entry.Id == id && entry.Name == name {
			return
		}
	}
	g.entries = append(g.entries, Entry{Name: name, Id: id})
}

// Entries are in insertion order
func (g *ModuleGraph) Entries() []Entry {
	return append([]Entry{}, g.entries...)
}

func (g *ModuleGraph) IsEntry(id ModuleId) bool {
	for _, entry := range g.entries {
		if entry.Id == id {
			return true
		}
	}
	return false
}

func (g *ModuleGraph) AddUnresolved(edge UnresolvedEdge) {
	g.unresolved = append(g.unresolved, edge)
}

func (g *ModuleGraph) Unresolved() []UnresolvedEdge {
	return append([]UnresolvedEdge{}, g.unresolved...)
}

func (g *ModuleGraph) ClearUnresolvedFrom(id ModuleId) {
	kept := g.unresolved[:0]
	for _, edge := range g.unresolved {
		if edge.From != id {
			kept = append(kept, edge)
		}
	}
	g.unresolved = kept
}

// UpdateExecutionOrder assigns every module its position in a depth-first
// postorder walk from the entries, so dependencies come before their
// importers. Static dependencies are walked before dynamic import targets,
// which become roots of their own. Back edges are recorded as cycles.
func (g *ModuleGraph) UpdateExecutionOrder() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[ModuleId]int, len(g.modules))
	order := 0
	var stack []ModuleId
	var dynamicRoots []ModuleId
	cycles := make(map[string][]ModuleId)

	var visit func(id ModuleId)
	visit = func(id ModuleId) {
		state[id] = onStack
		stack = append(stack, id)
		for _, dep := range g.Dependencies(id) {
			if dep.IsDynamicOnly() {
				dynamicRoots = append(dynamicRoots, dep.Id)
				continue
			}
			switch state[dep.Id] {
			case unvisited:
				visit(dep.Id)
			case onStack:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep.Id {
						cycle := append([]ModuleId{}, stack[i:]...)
						cycles[cycleKey(cycle)] = cycle
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		if m := g.modules[id]; m != nil {
			m.ExecutionOrder = order
		}
		order++
	}

	for _, entry := range g.entries {
		if state[entry.Id] == unvisited {
			visit(entry.Id)
		}
	}
	for len(dynamicRoots) > 0 {
		root := dynamicRoots[0]
		dynamicRoots = dynamicRoots[1:]
		if state[root] == unvisited {
			visit(root)
		}
	}

	// Anything left is unreachable, which happens mid-update
	for _, id := range g.ModuleIds() {
		if state[id] == unvisited {
			visit(id)
		}
	}

	keys := make([]string, 0, len(cycles))
	for key := range cycles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	g.CircleRecord = g.CircleRecord[:0]
	for _, key := range keys {
		g.CircleRecord = append(g.CircleRecord, cycles[key])
	}
}

// Rotates the cycle so it starts at its smallest id, which makes the key
// independent of where the walk entered it
func cycleKey(cycle []ModuleId) string {
	start := 0
	for i, id := range cycle {
		if id < cycle[start] {
			start = i
		}
	}
	parts := make([]string, len(cycle))
	for i := range cycle {
		parts[i] = string(cycle[(start+i)%len(cycle)])
	}
	return strings.Join(parts, " -> ")
}

// SortByExecutionOrder sorts ids so dependencies come first, breaking ties
// on the id
func (g *ModuleGraph) SortByExecutionOrder(ids []ModuleId) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.modules[ids[i]], g.modules[ids[j]]
		if a != nil && b != nil && a.ExecutionOrder != b.ExecutionOrder {
			return a.ExecutionOrder < b.ExecutionOrder
		}
		return ids[i] < ids[j]
	})
}
