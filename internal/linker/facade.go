package linker

import (
	"strconv"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

type facadeImports struct {
	order []string
	pots  map[string]*resource.ResourcePot
	specs map[string][]string
}

func (f *facadeImports) add(pot *resource.ResourcePot, spec string) {
	if f.pots[pot.Id] == nil {
		f.pots[pot.Id] = pot
		f.order = append(f.order, pot.Id)
	}
	if spec != "" {
		f.specs[pot.Id] = append(f.specs[pot.Id], spec)
	}
}

// renderFacade renders the file an entry is published under. It runs the
// entry's pot and re-exports the entry's names from wherever they ended up.
// Entries that are not scripts have no facade.
func (c *linkContext) renderFacade(entry graph.Entry) (*resource.Resource, []neededBinding) {
	m := c.in.Graph.Module(entry.Id)
	home := c.potOf[entry.Id]
	if m == nil || !m.IsScript() || home == nil || home.Type != resource.PotJs {
		return nil, nil
	}
	exports := c.in.Exports
	meta := m.Meta.AsScript()

	var needs []neededBinding
	need := func(b binding) (*resource.ResourcePot, string) {
		pot := c.potOf[b.module]
		if pot == nil {
			pot = home
		}
		needs = append(needs, neededBinding{pot: pot.Id, b: b})
		return pot, b.exportKey()
	}

	reexports := &facadeImports{pots: make(map[string]*resource.ResourcePot), specs: make(map[string][]string)}
	imports := &facadeImports{pots: make(map[string]*resource.ResourcePot), specs: make(map[string][]string)}
	reexports.add(home, "")

	var lines []string
	var values []string
	nextValue := 0
	factory := func(id graph.ModuleId) string {
		pot, key := need(binding{id, js_ast.CommonJsIdent()})
		local := "__f_" + key
		imports.add(pot, key+" as "+local)
		return local
	}
	value := func(name string, expr string) {
		local := "__v" + strconv.Itoa(nextValue)
		nextValue++
		values = append(values, "var "+local+" = "+expr+";", "export { "+local+" as "+exportName(name)+" };")
	}

	if meta.ModuleSystem.IsCommonJsLike() {
		value("default", factory(m.Id)+"()")
	} else {
		for _, name := range exports.ExportNames(m.Id) {
			r := exports.Resolve(m.Id, name)
			switch {
			case r.Type == js_ast.ExportIdentUnresolved:
				value(name, "void 0")

			case r.Type == js_ast.ExportIdentExternal:
				source := helpers.QuoteForJS(r.ModuleId)
				if r.Ident == js_ast.NamespaceIdent() {
					lines = append(lines, "export * as "+exportName(name)+" from "+source+";")
				} else {
					lines = append(lines, "export { "+exportName(r.Ident.Name)+" as "+exportName(name)+" } from "+source+";")
				}

			case r.IsCommonJsProperty():
				f := factory(graph.ModuleId(r.ModuleId))
				if r.Property == "default" {
					value(name, f+"().__esModule ? "+f+"().default : "+f+"()")
				} else {
					value(name, f+"()"+memberAccess(r.Property))
				}

			case r.Type == js_ast.ExportIdentVirtualNamespace && r.Ident == js_ast.CommonJsIdent():
				f := factory(graph.ModuleId(r.ModuleId))
				value(name, f+"()")

			default:
				pot, key := need(binding{graph.ModuleId(r.ModuleId), r.Ident})
				reexports.add(pot, key+" as "+exportName(name))
			}
		}
		for _, key := range sortedKeys(meta.ReexportIdentMap) {
			if star := meta.ReexportIdentMap[key]; star.Type == js_ast.ExportIdentExternalExportAll {
				lines = append(lines, "export * from "+helpers.QuoteForJS(star.ModuleId)+";")
			}
		}
	}

	j := helpers.Joiner{}
	for _, id := range reexports.order {
		source := helpers.QuoteForJS("./" + reexports.pots[id].FileName())
		if id == home.Id {
			j.AddLine("import " + source + ";")
		}
		if specs := reexports.specs[id]; len(specs) > 0 {
			j.AddLine("export { " + strings.Join(specs, ", ") + " } from " + source + ";")
		}
	}
	for _, id := range imports.order {
		source := helpers.QuoteForJS("./" + imports.pots[id].FileName())
		j.AddLine("import { " + strings.Join(dedupe(imports.specs[id]), ", ") + " } from " + source + ";")
	}
	for _, line := range lines {
		j.AddLine(line)
	}
	for _, line := range values {
		j.AddLine(line)
	}

	return &resource.Resource{
		Name:    c.entryFileName(entry.Name),
		Bytes:   j.Done(),
		Type:    resource.ResourceJs,
		Origin:  resource.Origin{Module: entry.Id},
		Emitted: true,
	}, needs
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
