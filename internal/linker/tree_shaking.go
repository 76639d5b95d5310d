package linker

// Tree shaking works on statements. Each module's statements form a small
// graph through the bindings they define and use, and imports connect those
// graphs across modules. Marking starts from the exports of every entry, the
// targets of dynamic imports, and every statement of a side-effectful module
// whose effects escape it. Whatever is never reached is dropped at render
// time, and modules left with nothing live are removed from the graph.

import (
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
)

// Usage records the live statements of every module. A nil *Usage keeps
// everything, as do modules it knows nothing about.
type Usage struct {
	live map[graph.ModuleId][]bool
}

func (u *Usage) IsLive(id graph.ModuleId, stmt int) bool {
	if u == nil {
		return true
	}
	live, ok := u.live[id]
	if !ok || stmt >= len(live) {
		return true
	}
	return live[stmt]
}

// LiveCount counts a module's live statements
func (u *Usage) LiveCount(id graph.ModuleId) int {
	count := 0
	for _, live := range u.live[id] {
		if live {
			count++
		}
	}
	return count
}

type shakeModule struct {
	m    *graph.Module
	meta *js_ast.ScriptMeta
	live []bool

	definedBy map[js_ast.Ident][]int
	writtenBy map[js_ast.Ident][]int

	// Set once every export is used
	allExports bool

	// Kept even without live statements, since something needs its
	// namespace or factory
	kept bool
}

type treeShaker struct {
	e       *Exports
	g       *graph.ModuleGraph
	modules map[graph.ModuleId]*shakeModule
}

// TreeShake marks live statements and removes dead modules from the graph.
// It returns the usage for rendering and the removed module ids in sorted
// order. The caller holds the graph's write lock.
func TreeShake(e *Exports) (*Usage, []graph.ModuleId) {
	ts := &treeShaker{e: e, g: e.g, modules: make(map[graph.ModuleId]*shakeModule)}
	modules := ts.g.Modules()

	for _, m := range modules {
		if !m.IsScript() {
			continue
		}
		meta := m.Meta.AsScript()
		sm := &shakeModule{
			m:         m,
			meta:      meta,
			live:      make([]bool, len(meta.Statements)),
			definedBy: make(map[js_ast.Ident][]int),
			writtenBy: make(map[js_ast.Ident][]int),
		}
		for i, stmt := range meta.Statements {
			for _, ident := range stmt.DefinedIdents {
				sm.definedBy[ident] = append(sm.definedBy[ident], i)
			}
			for _, ident := range stmt.WrittenIdents {
				sm.writtenBy[ident] = append(sm.writtenBy[ident], i)
			}
		}
		ts.modules[m.Id] = sm
	}

	for _, m := range modules {
		sm := ts.modules[m.Id]
		if sm == nil {
			continue
		}
		// A namespace object reads every export through a getter, so a module
		// that has one keeps all of them
		if m.IsEntry || m.IsDynamicEntry || sm.meta.ModuleSystem.IsCommonJsLike() || ts.e.NeedsNamespace(m.Id) {
			ts.markAll(m.Id)
		}

		// Ambiguous names are rendered as eager stubs that read every
		// candidate, so none of them can be dropped
		if len(sm.meta.AmbiguousExportIdentMap) > 0 {
			sm.kept = true
			for _, name := range sortedKeys(sm.meta.AmbiguousExportIdentMap) {
				for _, candidate := range sm.meta.AmbiguousExportIdentMap[name] {
					ts.markBinding(candidate)
				}
			}
		}
		if m.SideEffects || m.IsEntry {
			for i, stmt := range sm.meta.Statements {
				if stmt.SideEffects.IsPreserved() {
					ts.markStmt(sm, i)
				}
			}
		}
	}

	usage := &Usage{live: make(map[graph.ModuleId][]bool, len(ts.modules))}
	var removed []graph.ModuleId
	for _, m := range modules {
		sm := ts.modules[m.Id]
		if sm == nil {
			continue
		}
		usage.live[m.Id] = sm.live
		if m.IsEntry || sm.kept || hasLive(sm.live) {
			continue
		}
		ts.g.RemoveModule(m.Id)
		removed = append(removed, m.Id)
	}

	// Externals only imported by removed modules go too
	if len(removed) > 0 {
		for _, m := range ts.g.Modules() {
			if m.External && len(ts.g.Dependents(m.Id)) == 0 {
				ts.g.RemoveModule(m.Id)
				removed = append(removed, m.Id)
			}
		}
		graph.SortModuleIds(removed)
	}
	return usage, removed
}

func hasLive(live []bool) bool {
	for _, l := range live {
		if l {
			return true
		}
	}
	return false
}

func (ts *treeShaker) markStmt(sm *shakeModule, index int) {
	if sm.live[index] {
		return
	}
	sm.live[index] = true
	stmt := &sm.meta.Statements[index]

	for _, ident := range stmt.UsedIdents {
		if ident.Ctxt != js_ast.CtxtUnresolved {
			ts.markIdent(sm, ident)
		}
	}

	// Only reached through "markAll" or a side effect, so every binding the
	// import brings in counts as used
	if stmt.Import != nil {
		for _, spec := range stmt.Import.Specifiers {
			ts.markBinding(ts.e.Lookup(sm.m.Id, stmt.Import.Source, spec.ImportedName()))
		}
	}

	for _, call := range stmt.Calls {
		if target, ok := ts.g.DependencyBySource(sm.m.Id, call.Source); ok {
			ts.markAll(target)
		}
	}
}

func (ts *treeShaker) markIdent(sm *shakeModule, ident js_ast.Ident) {
	if source, name, ok := ts.e.ImportBinding(sm.m.Id, ident); ok {
		// The import statement itself stays dead, rendering never keeps it
		ts.markBinding(ts.e.Lookup(sm.m.Id, source, name))
		return
	}
	for _, i := range sm.definedBy[ident] {
		ts.markStmt(sm, i)
	}
	for _, i := range sm.writtenBy[ident] {
		ts.markStmt(sm, i)
	}
}

func (ts *treeShaker) markBinding(binding js_ast.ModuleExportIdent) {
	id := graph.ModuleId(binding.ModuleId)
	switch binding.Type {
	case js_ast.ExportIdentDeclaration:
		if binding.IsCommonJsProperty() {
			ts.markAll(id)
			return
		}
		if sm := ts.modules[id]; sm != nil {
			ts.markIdent(sm, binding.Ident)
		}

	case js_ast.ExportIdentVirtualNamespace:
		ts.markAll(id)

	case js_ast.ExportIdentAmbiguousExportAll:
		for _, candidate := range ts.e.Ambiguous(id, ambiguousName(binding.Ident)) {
			ts.markBinding(candidate)
		}
	}
}

func (ts *treeShaker) markAll(id graph.ModuleId) {
	sm := ts.modules[id]
	if sm == nil {
		return
	}
	sm.kept = true
	if sm.allExports {
		return
	}
	sm.allExports = true

	if sm.meta.ModuleSystem.IsCommonJsLike() {
		for i := range sm.meta.Statements {
			ts.markStmt(sm, i)
		}
		return
	}
	for _, name := range ts.e.ExportNames(id) {
		ts.markBinding(ts.e.Resolve(id, name))
	}
	for _, star := range sm.meta.ReexportIdentMap {
		if star.Type == js_ast.ExportIdentUnresolvedExportAll {
			ts.markAll(graph.ModuleId(star.ModuleId))
		}
	}
}
