package linker

// Every module's exports are resolved down to the binding that actually
// holds the value. Re-exports are followed through as many modules as it
// takes, "export *" is flattened, and names that two different star exports
// provide are recorded as ambiguous. The maps are stored on each module's
// script metadata and are rebuilt from scratch on every link.

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/logger"
)

var ErrAmbiguousExport = errors.New("ambiguous export")

type exportState uint8

const (
	exportsUnvisited exportState = iota
	exportsVisiting
	exportsDone
)

type importBinding struct {
	source string
	name   string
}

// Exports answers what an imported name refers to. The module graph must not
// change while it is in use.
type Exports struct {
	g   *graph.ModuleGraph
	log logger.Log

	state   map[graph.ModuleId]exportState
	imports map[graph.ModuleId]map[js_ast.Ident]importBinding

	// "<module>: <name>" for every ambiguous name, in discovery order
	ambiguous []string
}

// ResolveExports rebuilds the export maps of every script module in the
// graph. The caller holds the graph's write lock.
func ResolveExports(g *graph.ModuleGraph, log logger.Log, policy config.AmbiguousExports) (*Exports, error) {
	e := &Exports{
		g:       g,
		log:     log,
		state:   make(map[graph.ModuleId]exportState),
		imports: make(map[graph.ModuleId]map[js_ast.Ident]importBinding),
	}

	modules := g.Modules()
	for _, m := range modules {
		if m.IsScript() {
			meta := m.Meta.AsScript()
			meta.ExportIdentMap = nil
			meta.ReexportIdentMap = nil
			meta.AmbiguousExportIdentMap = nil
			e.importsOf(m.Id)
		}
	}
	for _, m := range modules {
		if m.IsScript() {
			e.exportsOf(m)
		}
	}
	for _, m := range modules {
		if m.IsScript() {
			e.markNamespaces(m)
		}
	}
	for _, m := range modules {
		if m.IsScript() {
			e.warnUnresolvedImports(m)
		}
	}

	if policy == config.AmbiguousExportsError && len(e.ambiguous) > 0 {
		return e, fmt.Errorf("%w: %s", ErrAmbiguousExport, strings.Join(e.ambiguous, ", "))
	}
	return e, nil
}

func (e *Exports) Graph() *graph.ModuleGraph {
	return e.g
}

// Lookup resolves a name imported by "importer" from "source"
func (e *Exports) Lookup(importer graph.ModuleId, source string, name string) js_ast.ModuleExportIdent {
	target, ok := e.g.DependencyBySource(importer, source)
	if !ok {
		return js_ast.ModuleExportIdent{Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentUnresolved}
	}
	return e.Resolve(target, name)
}

// Resolve looks a name up in a module's exports. The namespace name "*"
// always resolves.
func (e *Exports) Resolve(target graph.ModuleId, name string) js_ast.ModuleExportIdent {
	m := e.g.Module(target)
	switch {
	case m == nil:
		return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentUnresolved}

	case m.External:
		if name == js_ast.ExportNamespace {
			return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.NamespaceIdent(), Type: js_ast.ExportIdentExternal}
		}
		return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentExternal}

	case !m.IsScript():
		return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentUnresolved}
	}

	meta := m.Meta.AsScript()
	if meta.ModuleSystem.IsCommonJsLike() {
		if name == js_ast.ExportNamespace {
			return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.CommonJsIdent(), Type: js_ast.ExportIdentVirtualNamespace}
		}
		return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.CommonJsIdent(), Type: js_ast.ExportIdentDeclaration, Property: name}
	}

	if name == js_ast.ExportNamespace {
		return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.NamespaceIdent(), Type: js_ast.ExportIdentVirtualNamespace}
	}
	exports := e.exportsOf(m)
	if found, ok := exports[name]; ok {
		return found
	}

	// Names nobody declares statically may still come from a star export of
	// a module whose exports are only known at run time
	if name != "default" {
		for _, key := range sortedKeys(meta.ReexportIdentMap) {
			star := meta.ReexportIdentMap[key]
			switch star.Type {
			case js_ast.ExportIdentExternalExportAll:
				return js_ast.ModuleExportIdent{ModuleId: star.ModuleId, Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentExternal}
			case js_ast.ExportIdentUnresolvedExportAll:
				return js_ast.ModuleExportIdent{ModuleId: star.ModuleId, Ident: js_ast.CommonJsIdent(), Type: js_ast.ExportIdentDeclaration, Property: name}
			}
		}
	}
	return js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.Ident{Name: name}, Type: js_ast.ExportIdentUnresolved}
}

// ExportNames lists every statically known export of a module in sorted
// order, without the namespace
func (e *Exports) ExportNames(id graph.ModuleId) []string {
	m := e.g.Module(id)
	if m == nil || !m.IsScript() {
		return nil
	}
	var names []string
	for name := range m.Meta.AsScript().ExportIdentMap {
		if name != js_ast.ExportNamespace {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NeedsNamespace is true when something imports the module as a whole
func (e *Exports) NeedsNamespace(id graph.ModuleId) bool {
	m := e.g.Module(id)
	if m == nil || !m.IsScript() {
		return false
	}
	_, ok := m.Meta.AsScript().ExportIdentMap[js_ast.ExportNamespace]
	return ok
}

// Ambiguous returns the candidates of an ambiguous export
func (e *Exports) Ambiguous(id graph.ModuleId, name string) []js_ast.ModuleExportIdent {
	m := e.g.Module(id)
	if m == nil || !m.IsScript() {
		return nil
	}
	return m.Meta.AsScript().AmbiguousExportIdentMap[name]
}

// ImportBinding reports whether a top-level binding of a module was
// introduced by an import statement, and what it imports
func (e *Exports) ImportBinding(id graph.ModuleId, ident js_ast.Ident) (source string, name string, ok bool) {
	binding, ok := e.imports[id][ident]
	return binding.source, binding.name, ok
}

func (e *Exports) importsOf(id graph.ModuleId) map[js_ast.Ident]importBinding {
	if imports, ok := e.imports[id]; ok {
		return imports
	}
	imports := make(map[js_ast.Ident]importBinding)
	if m := e.g.Module(id); m != nil && m.IsScript() {
		for _, stmt := range m.Meta.AsScript().Statements {
			if stmt.Import == nil {
				continue
			}
			for _, spec := range stmt.Import.Specifiers {
				imports[spec.Local] = importBinding{source: stmt.Import.Source, name: spec.ImportedName()}
			}
		}
	}
	e.imports[id] = imports
	return imports
}

// A local binding that is itself imported is followed to what it imports
func (e *Exports) resolveLocal(m *graph.Module, ident js_ast.Ident) js_ast.ModuleExportIdent {
	if binding, ok := e.importsOf(m.Id)[ident]; ok {
		return e.Lookup(m.Id, binding.source, binding.name)
	}
	return js_ast.ModuleExportIdent{ModuleId: string(m.Id), Ident: ident, Type: js_ast.ExportIdentDeclaration}
}

func sameBinding(a js_ast.ModuleExportIdent, b js_ast.ModuleExportIdent) bool {
	return a.ModuleId == b.ModuleId && a.Ident == b.Ident && a.Property == b.Property && a.Type == b.Type
}

func ambiguousIdent(name string) js_ast.Ident {
	return js_ast.Synthetic("ambiguous_" + name)
}

func ambiguousName(ident js_ast.Ident) string {
	return strings.TrimPrefix(ident.Name, "ambiguous_")
}

// Modules in a cycle see the partial map of whichever module is still being
// visited, so a name that only comes around the cycle stays unresolved
func (e *Exports) exportsOf(m *graph.Module) map[string]js_ast.ModuleExportIdent {
	meta := m.Meta.AsScript()
	switch e.state[m.Id] {
	case exportsVisiting, exportsDone:
		return meta.ExportIdentMap
	}
	e.state[m.Id] = exportsVisiting
	meta.ExportIdentMap = make(map[string]js_ast.ModuleExportIdent)
	meta.ReexportIdentMap = make(map[string]js_ast.ModuleExportIdent)
	meta.AmbiguousExportIdentMap = make(map[string][]js_ast.ModuleExportIdent)
	if meta.ModuleSystem.IsCommonJsLike() {
		e.state[m.Id] = exportsDone
		return meta.ExportIdentMap
	}

	// Local exports first so that cycles through re-exports can see them
	for _, stmt := range meta.Statements {
		if stmt.Export == nil || stmt.Export.Source != "" {
			continue
		}
		for _, spec := range stmt.Export.Specifiers {
			meta.ExportIdentMap[spec.ExportedName()] = e.resolveLocal(m, spec.Local)
		}
	}

	var stars []graph.ModuleId
	for _, stmt := range meta.Statements {
		if stmt.Export == nil || stmt.Export.Source == "" {
			continue
		}
		for _, spec := range stmt.Export.Specifiers {
			switch spec.Kind {
			case js_ast.ExportNamed:
				meta.ExportIdentMap[spec.ExportedName()] = e.Lookup(m.Id, stmt.Export.Source, spec.Local.Name)
			case js_ast.ExportNamespaceSpecifier:
				meta.ExportIdentMap[spec.ExportedName()] = e.Lookup(m.Id, stmt.Export.Source, js_ast.ExportNamespace)
			case js_ast.ExportAll:
				if target, ok := e.g.DependencyBySource(m.Id, stmt.Export.Source); ok {
					stars = append(stars, target)
				}
			}
		}
	}

	e.resolveStars(m, stars)
	e.state[m.Id] = exportsDone
	return meta.ExportIdentMap
}

func (e *Exports) resolveStars(m *graph.Module, stars []graph.ModuleId) {
	meta := m.Meta.AsScript()
	candidates := make(map[string][]js_ast.ModuleExportIdent)
	var order []string

	add := func(name string, candidate js_ast.ModuleExportIdent) {
		list, seen := candidates[name]
		if !seen {
			order = append(order, name)
		}
		for _, existing := range list {
			if sameBinding(existing, candidate) {
				return
			}
		}
		candidates[name] = append(list, candidate)
	}

	for _, target := range stars {
		tm := e.g.Module(target)
		switch {
		case tm == nil || (!tm.External && !tm.IsScript()):
			continue

		case tm.External:
			meta.ReexportIdentMap[string(target)] = js_ast.ModuleExportIdent{ModuleId: string(target), Type: js_ast.ExportIdentExternalExportAll}
			continue

		case tm.Meta.AsScript().ModuleSystem.IsCommonJsLike():
			meta.ReexportIdentMap[string(target)] = js_ast.ModuleExportIdent{ModuleId: string(target), Ident: js_ast.CommonJsIdent(), Type: js_ast.ExportIdentUnresolvedExportAll}
			e.log.AddID(logger.MsgID_Link_ExportStarFromCommonJS, logger.Warning, &logger.MsgLocation{File: string(m.Id)},
				fmt.Sprintf("The names re-exported from %q by \"export *\" are only known at run time", target))
			continue
		}

		targetMeta := tm.Meta.AsScript()
		exports := e.exportsOf(tm)
		for _, name := range sortedKeys(exports) {
			if name == "default" || name == js_ast.ExportNamespace {
				continue
			}
			if _, ok := meta.ExportIdentMap[name]; ok {
				// Explicit exports shadow star exports
				continue
			}
			found := exports[name]
			if found.Type == js_ast.ExportIdentAmbiguousExportAll {
				for _, candidate := range targetMeta.AmbiguousExportIdentMap[name] {
					add(name, candidate)
				}
				continue
			}
			add(name, found)
		}
		for key, star := range targetMeta.ReexportIdentMap {
			if _, ok := meta.ReexportIdentMap[key]; !ok {
				meta.ReexportIdentMap[key] = star
			}
		}
	}

	for _, name := range order {
		list := candidates[name]
		if len(list) == 1 {
			meta.ExportIdentMap[name] = list[0]
			continue
		}
		meta.ExportIdentMap[name] = js_ast.ModuleExportIdent{ModuleId: string(m.Id), Ident: ambiguousIdent(name), Type: js_ast.ExportIdentAmbiguousExportAll}
		meta.AmbiguousExportIdentMap[name] = list
		e.ambiguous = append(e.ambiguous, fmt.Sprintf("%s: %s", m.Id, name))

		var from []string
		for _, candidate := range list {
			from = append(from, fmt.Sprintf("%q", candidate.ModuleId))
		}
		notes := []string{fmt.Sprintf("%q is exported by %s", name, strings.Join(from, " and "))}
		e.log.AddIDWithNotes(logger.MsgID_Link_AmbiguousExport, logger.Warning, &logger.MsgLocation{File: string(m.Id)},
			fmt.Sprintf("The export %q is ambiguous and the first module that defines it at run time wins", name), notes)
	}
}

// A module needs a namespace object when something imports all of it
func (e *Exports) markNamespaces(m *graph.Module) {
	mark := func(source string) {
		target, ok := e.g.DependencyBySource(m.Id, source)
		if !ok {
			return
		}
		tm := e.g.Module(target)
		if tm == nil || !tm.IsScript() || tm.Meta.AsScript().ModuleSystem.IsCommonJsLike() {
			return
		}
		tm.Meta.AsScript().ExportIdentMap[js_ast.ExportNamespace] = e.Resolve(target, js_ast.ExportNamespace)
	}

	// A wrapped module copies star exports onto its exports object at run
	// time, which needs the target's namespace
	wrapped := m.Meta.AsScript().ModuleSystem.IsCommonJsLike()

	for _, stmt := range m.Meta.AsScript().Statements {
		if stmt.Import != nil {
			for _, spec := range stmt.Import.Specifiers {
				if spec.Kind == js_ast.ImportNamespace {
					mark(stmt.Import.Source)
				}
			}
		}
		if stmt.Export != nil && stmt.Export.Source != "" {
			for _, spec := range stmt.Export.Specifiers {
				if spec.Kind == js_ast.ExportNamespaceSpecifier || (wrapped && spec.Kind == js_ast.ExportAll) {
					mark(stmt.Export.Source)
				}
			}
		}
		for _, call := range stmt.Calls {
			mark(call.Source)
		}
	}
}

func (e *Exports) warnUnresolvedImports(m *graph.Module) {
	warn := func(source string, name string) {
		target, ok := e.g.DependencyBySource(m.Id, source)
		if !ok {
			// Already reported as a missing module
			return
		}
		if e.Resolve(target, name).Type == js_ast.ExportIdentUnresolved {
			e.log.AddID(logger.MsgID_Link_UnresolvedExport, logger.Warning, &logger.MsgLocation{File: string(m.Id)},
				fmt.Sprintf("No matching export in %q for import %q", target, name))
		}
	}

	for _, stmt := range m.Meta.AsScript().Statements {
		if stmt.Import != nil {
			for _, spec := range stmt.Import.Specifiers {
				warn(stmt.Import.Source, spec.ImportedName())
			}
		}
		if stmt.Export != nil && stmt.Export.Source != "" {
			for _, spec := range stmt.Export.Specifiers {
				if spec.Kind == js_ast.ExportNamed {
					warn(stmt.Export.Source, spec.Local.Name)
				}
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
