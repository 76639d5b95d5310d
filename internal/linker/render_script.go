package linker

import (
	"path"
	"strconv"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/js_printer"
	"github.com/farm-fe/farm-sub000/internal/renamer"
	"github.com/farm-fe/farm-sub000/internal/resource"
	"github.com/farm-fe/farm-sub000/internal/runtime"
)

type binding struct {
	module graph.ModuleId
	ident  js_ast.Ident
}

// The name a binding is exported under when another pot or a facade reads
// it. It only depends on the binding so it survives re-renders.
func (b binding) exportKey() string {
	return helpers.ToIdentifier(b.ident.Name) + "_" + helpers.ShortHash(string(b.module), strconv.Itoa(int(b.ident.Ctxt)))
}

type neededBinding struct {
	pot string
	b   binding
}

type crossImport struct {
	pot *resource.ResourcePot

	// export key -> local binding
	names map[string]renamer.Index
}

type externalImport struct {
	source       string
	hasNamespace bool
	namespace    renamer.Index
	named        map[string]renamer.Index
}

type identKey struct {
	module graph.ModuleId
	ident  js_ast.Ident
}

type modulePlan struct {
	m     *graph.Module
	meta  *js_ast.ScriptMeta
	edits js_printer.Edits
	code  string
}

type scriptPlan struct {
	c   *linkContext
	pot *resource.ResourcePot
	bv  *renamer.BundleVariables

	helpers runtime.Set
	needs   []neededBinding
	needed  map[neededBinding]bool

	crossOrder    []string
	cross         map[string]*crossImport
	externalOrder []string
	externals     map[string]*externalImport

	// Imports that render as an expression instead of a name, such as a
	// property of a commonjs module
	exprs map[identKey]string

	// Bindings of other pots that an import statement names. They are only
	// imported once a live reference reads them.
	pending map[renamer.Index]binding

	modules []*modulePlan
}

func moduleBase(id graph.ModuleId) string {
	base := path.Base(id.Path())
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return helpers.ToIdentifier(base)
}

// The name a binding would like to render as
func preferredName(b binding) string {
	switch b.ident {
	case js_ast.DefaultIdent():
		return moduleBase(b.module) + "_default"
	case js_ast.NamespaceIdent():
		return moduleBase(b.module) + "_ns"
	case js_ast.CommonJsIdent():
		return moduleBase(b.module) + "_cjs"
	}
	if b.ident.Ctxt == js_ast.CtxtSynthetic {
		return moduleBase(b.module) + "_" + ambiguousName(b.ident)
	}
	return b.ident.Name
}

func isWrapped(meta *js_ast.ScriptMeta) bool {
	return meta.ModuleSystem.IsCommonJsLike()
}

func (c *linkContext) planScriptPot(pot *resource.ResourcePot) *scriptPlan {
	p := &scriptPlan{
		c:         c,
		pot:       pot,
		bv:        renamer.NewBundleVariables(),
		needed:    make(map[neededBinding]bool),
		cross:     make(map[string]*crossImport),
		externals: make(map[string]*externalImport),
		exprs:     make(map[identKey]string),
		pending:   make(map[renamer.Index]binding),
	}
	for _, id := range pot.Modules {
		if m := c.in.Graph.Module(id); m != nil && m.IsScript() {
			p.modules = append(p.modules, &modulePlan{m: m, meta: m.Meta.AsScript()})
		}
	}

	p.reserveNames()
	p.registerBindings()
	p.linkImports()
	for _, mp := range p.modules {
		p.renderModule(mp)
	}
	return p
}

func (p *scriptPlan) reserveNames() {
	for _, name := range runtime.Names() {
		p.bv.RegisterPlaceholder(name)
	}

	// Wrapped modules see these as parameters
	p.bv.Reserve("module")
	p.bv.Reserve("exports")

	for _, mp := range p.modules {
		for _, name := range mp.meta.UnresolvedIdents {
			p.bv.Reserve(name)
		}
		for _, name := range mp.meta.AllDeeplyDeclaredIdents {
			p.bv.ReserveDeep(mp.m.Id, name)
		}
	}
}

func (p *scriptPlan) registerBindings() {
	exports := p.c.in.Exports
	for _, mp := range p.modules {
		id := mp.m.Id
		for _, ident := range mp.meta.TopLevelIdents {
			if _, _, ok := exports.ImportBinding(id, ident); ok {
				continue
			}
			p.bv.Register(id, ident, preferredName(binding{id, ident}))
		}
		if isWrapped(mp.meta) {
			p.register(binding{id, js_ast.CommonJsIdent()})
		} else if exports.NeedsNamespace(id) {
			p.register(binding{id, js_ast.NamespaceIdent()})
		}
		for _, name := range sortedKeys(mp.meta.AmbiguousExportIdentMap) {
			p.register(binding{id, ambiguousIdent(name)})
		}
	}
}

func (p *scriptPlan) register(b binding) renamer.Index {
	return p.bv.Register(b.module, b.ident, preferredName(b))
}

func (p *scriptPlan) linkImports() {
	exports := p.c.in.Exports
	for _, mp := range p.modules {
		id := mp.m.Id
		for _, ident := range mp.meta.TopLevelIdents {
			source, name, ok := exports.ImportBinding(id, ident)
			if !ok {
				continue
			}
			resolved := exports.Lookup(id, source, name)
			switch {
			case resolved.Type == js_ast.ExportIdentUnresolved,
				resolved.IsCommonJsProperty(),
				resolved.Type == js_ast.ExportIdentVirtualNamespace && resolved.Ident == js_ast.CommonJsIdent():
				p.exprs[identKey{id, ident}] = "(" + p.valueOf(resolved, ident.Name) + ")"

			case resolved.Type == js_ast.ExportIdentExternal:
				p.bv.Link(id, ident, p.externalBinding(resolved, ident.Name))

			default:
				b := binding{graph.ModuleId(resolved.ModuleId), resolved.Ident}
				if p.isForeign(b) {
					i := p.bv.Register(b.module, b.ident, ident.Name)
					if !p.isImported(b) {
						p.pending[i] = b
					}
					p.bv.Link(id, ident, i)
				} else {
					p.bv.Link(id, ident, p.register(b))
				}
			}
		}
	}
}

func (p *scriptPlan) need(pot *resource.ResourcePot, b binding) {
	n := neededBinding{pot: pot.Id, b: b}
	if !p.needed[n] {
		p.needed[n] = true
		p.needs = append(p.needs, n)
	}
}

func (p *scriptPlan) crossImport(pot *resource.ResourcePot) *crossImport {
	ci := p.cross[pot.Id]
	if ci == nil {
		ci = &crossImport{pot: pot, names: make(map[string]renamer.Index)}
		p.cross[pot.Id] = ci
		p.crossOrder = append(p.crossOrder, pot.Id)
	}
	return ci
}

func (p *scriptPlan) isForeign(b binding) bool {
	target := p.c.potOf[b.module]
	return target != nil && target.Id != p.pot.Id && target.Type == resource.PotJs
}

func (p *scriptPlan) isImported(b binding) bool {
	ci := p.cross[p.c.potOf[b.module].Id]
	if ci == nil {
		return false
	}
	_, ok := ci.names[b.exportKey()]
	return ok
}

// The local index of a binding. Bindings owned by another pot are imported
// from it.
func (p *scriptPlan) bindingIndex(b binding, preferred string) renamer.Index {
	if !p.isForeign(b) {
		return p.register(b)
	}
	if preferred == "" {
		preferred = preferredName(b)
	}
	i := p.bv.Register(b.module, b.ident, preferred)
	p.importForeign(i, b)
	return i
}

func (p *scriptPlan) importForeign(i renamer.Index, b binding) {
	delete(p.pending, i)
	target := p.c.potOf[b.module]
	p.crossImport(target).names[b.exportKey()] = i
	p.need(target, b)
}

func (p *scriptPlan) external(id string) *externalImport {
	ext := p.externals[id]
	if ext == nil {
		ext = &externalImport{source: id, named: make(map[string]renamer.Index)}
		p.externals[id] = ext
		p.externalOrder = append(p.externalOrder, id)
	}
	return ext
}

func (p *scriptPlan) externalBinding(e js_ast.ModuleExportIdent, preferred string) renamer.Index {
	ext := p.external(e.ModuleId)
	owner := graph.ModuleId(e.ModuleId)
	if e.Ident == js_ast.NamespaceIdent() {
		if !ext.hasNamespace {
			if preferred == "" {
				preferred = helpers.ToIdentifier(e.ModuleId)
			}
			ext.namespace = p.bv.Register(owner, e.Ident, preferred)
			ext.hasNamespace = true
		}
		return ext.namespace
	}
	if i, ok := ext.named[e.Ident.Name]; ok {
		return i
	}
	if preferred == "" || preferred == "default" {
		preferred = helpers.ToIdentifier(e.ModuleId)
		if e.Ident.Name != "default" {
			preferred = e.Ident.Name
		}
	}
	i := p.bv.Register(owner, e.Ident, preferred)
	ext.named[e.Ident.Name] = i
	return i
}

func memberAccess(name string) string {
	if helpers.IsIdentifier(name) || helpers.IsReservedWord(name) {
		return "." + name
	}
	return "[" + helpers.QuoteForJS(name) + "]"
}

// The expression that reads a resolved export from inside this pot
func (p *scriptPlan) valueOf(e js_ast.ModuleExportIdent, preferred string) string {
	id := graph.ModuleId(e.ModuleId)
	switch e.Type {
	case js_ast.ExportIdentUnresolved:
		return "void 0"

	case js_ast.ExportIdentExternal:
		return p.bv.Name(p.externalBinding(e, preferred))

	case js_ast.ExportIdentVirtualNamespace:
		if e.Ident == js_ast.CommonJsIdent() {
			p.helpers.Use(runtime.InteropRequireWildcard)
			factory := p.bv.Name(p.bindingIndex(binding{id, js_ast.CommonJsIdent()}, ""))
			return runtime.InteropRequireWildcard.Name() + "(" + factory + "())"
		}
	}

	if e.IsCommonJsProperty() {
		factory := p.bv.Name(p.bindingIndex(binding{id, js_ast.CommonJsIdent()}, ""))
		if e.Property == "default" {
			p.helpers.Use(runtime.InteropRequireDefault)
			return runtime.InteropRequireDefault.Name() + "(" + factory + "()).default"
		}
		return factory + "()" + memberAccess(e.Property)
	}
	return p.bv.Name(p.bindingIndex(binding{id, e.Ident}, preferred))
}

// How a reference to a top-level binding of a module renders
func (p *scriptPlan) refText(owner graph.ModuleId, ident js_ast.Ident) string {
	if expr, ok := p.exprs[identKey{owner, ident}]; ok {
		return expr
	}
	i, ok := p.bv.Lookup(owner, ident)
	if !ok {
		return ident.Name
	}
	if b, ok := p.pending[i]; ok {
		p.importForeign(i, b)
	}
	return p.bv.Name(i)
}

func (p *scriptPlan) renderModule(mp *modulePlan) {
	m, meta := mp.m, mp.meta
	wrapped := isWrapped(meta)

	// Static dependencies in other pots are imported for their side effects
	// even when no binding is read from them
	for _, dep := range p.c.in.Graph.Dependencies(m.Id) {
		if dep.IsDynamicOnly() {
			continue
		}
		if target := p.c.potOf[dep.Id]; target != nil && target.Id != p.pot.Id && target.Type == resource.PotJs {
			p.crossImport(target)
		}
	}

	for i := range meta.Statements {
		stmt := &meta.Statements[i]
		if stmt.Import != nil {
			p.rewriteImport(mp, stmt)
			continue
		}
		if !wrapped && !p.c.in.Usage.IsLive(m.Id, i) {
			mp.edits.Remove(stmt.Start, removalEnd(m.Content, stmt.End))
			continue
		}
		if stmt.Export != nil {
			p.rewriteExport(mp, stmt)
		}
		for _, call := range stmt.Calls {
			p.rewriteCall(mp, call)
		}
		for _, ref := range stmt.Refs {
			text := p.refText(m.Id, ref.Ident)
			if text == ref.Ident.Name {
				continue
			}
			if ref.Shorthand {
				text = ref.Ident.Name + ": " + text
			}
			mp.edits.Replace(ref.Start, ref.End, text)
		}
	}

	body := mp.edits.Apply(m.Content, 0, int32(len(m.Content)))
	sb := strings.Builder{}
	sb.WriteString("// " + string(m.Id) + "\n")

	if wrapped {
		p.helpers.Use(runtime.CommonJs)
		factory := p.bv.RenderedName(m.Id, js_ast.CommonJsIdent())
		sb.WriteString("var " + factory + " = " + runtime.CommonJs.Name() + "({\n")
		sb.WriteString("  " + helpers.QuoteForJS(string(m.Id)) + ": function (module, exports) {\n")
		if meta.ModuleSystem == js_ast.ModuleSystemHybrid {
			for _, line := range p.hybridExports(mp) {
				sb.WriteString(line + "\n")
			}
		}
		sb.WriteString(body)
		if body != "" && !strings.HasSuffix(body, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("  }\n});\n")
		if m.IsEntry {
			sb.WriteString(factory + "();\n")
		}
	} else {
		if p.c.in.Exports.NeedsNamespace(m.Id) {
			sb.WriteString(p.namespaceObject(mp))
		}
		sb.WriteString(body)
		if body != "" && !strings.HasSuffix(body, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(p.ambiguousStubs(mp))
	}
	mp.code = sb.String()
}

func (p *scriptPlan) rewriteImport(mp *modulePlan, stmt *js_ast.Statement) {
	replacement := ""
	g := p.c.in.Graph
	if target, ok := g.DependencyBySource(mp.m.Id, stmt.Import.Source); ok {
		if tm := g.Module(target); tm != nil {
			switch {
			case tm.External:
				if stmt.Import.IsSideEffectImport {
					p.external(string(target))
				}
			case tm.IsScript() && isWrapped(tm.Meta.AsScript()):
				// Importing a commonjs module runs it in place
				factory := p.bv.Name(p.bindingIndex(binding{target, js_ast.CommonJsIdent()}, ""))
				replacement = factory + "();"
			}
		}
	}
	end := stmt.End
	if replacement == "" {
		end = removalEnd(mp.m.Content, end)
	}
	mp.edits.Replace(stmt.Start, end, replacement)
}

// A removed statement takes the blank space after it with it, up to and
// including the end of its line
func removalEnd(content string, end int32) int32 {
	i := int(end)
	for i < len(content) && (content[i] == ' ' || content[i] == '\t') {
		i++
	}
	if strings.HasPrefix(content[i:], "\r\n") {
		i += 2
	} else if i < len(content) && content[i] == '\n' {
		i++
	}
	return int32(i)
}

func (p *scriptPlan) rewriteExport(mp *modulePlan, stmt *js_ast.Statement) {
	info := stmt.Export
	switch {
	case info.Source != "":
		mp.edits.Remove(stmt.Start, removalEnd(mp.m.Content, stmt.End))

	case info.HasDefaultExpr():
		name := p.bv.RenderedName(mp.m.Id, js_ast.DefaultIdent())
		mp.edits.Replace(stmt.Start, info.DefaultExprStart, "var "+name+" = ")
		if !strings.HasSuffix(strings.TrimSpace(mp.m.Content[stmt.Start:stmt.End]), ";") {
			mp.edits.Insert(stmt.End, ";")
		}

	case info.DeclStart > stmt.Start:
		mp.edits.Remove(stmt.Start, info.DeclStart)

	default:
		mp.edits.Remove(stmt.Start, removalEnd(mp.m.Content, stmt.End))
	}
}

func (p *scriptPlan) rewriteCall(mp *modulePlan, call js_ast.CallRef) {
	g := p.c.in.Graph
	target, ok := g.DependencyBySource(mp.m.Id, call.Source)
	if !ok {
		return
	}
	tm := g.Module(target)
	if tm == nil || !tm.IsScript() {
		return
	}

	var expr string
	switch call.Kind {
	case js_ast.CallRequire:
		if isWrapped(tm.Meta.AsScript()) {
			expr = p.bv.Name(p.bindingIndex(binding{target, js_ast.CommonJsIdent()}, "")) + "()"
		} else {
			expr = p.valueOf(p.c.in.Exports.Resolve(target, js_ast.ExportNamespace), "")
		}
	case js_ast.CallDynamicImport:
		expr = p.dynamicImport(tm)
	}
	mp.edits.Replace(call.Start, call.End, expr)
}

// A dynamic import loads every pot of the target's group and then reads the
// target's namespace from the pot that holds it
func (p *scriptPlan) dynamicImport(tm *graph.Module) string {
	home := p.c.potOf[tm.Id]
	if home == nil {
		return "Promise.resolve(void 0)"
	}
	b := binding{tm.Id, js_ast.NamespaceIdent()}
	wrapped := isWrapped(tm.Meta.AsScript())
	if wrapped {
		b.ident = js_ast.CommonJsIdent()
	}
	p.need(home, b)

	loads := []string{"import(" + helpers.QuoteForJS("./"+home.FileName()) + ")"}
	for _, pot := range p.c.groupPots(graph.ModuleGroupId(tm.Id)) {
		if pot.Id == home.Id {
			continue
		}
		switch pot.Type {
		case resource.PotJs:
			loads = append(loads, "import("+helpers.QuoteForJS("./"+pot.FileName())+")")
		case resource.PotCss:
			if p.c.options.Platform == config.PlatformBrowser {
				p.helpers.Use(runtime.LoadCss)
				loads = append(loads, runtime.LoadCss.Name()+"("+helpers.QuoteForJS(p.c.url(pot.FileName()))+")")
			}
		}
	}

	value := "m"
	if len(loads) > 1 {
		value = "m[0]"
	}
	value += "." + b.exportKey()
	if wrapped {
		p.helpers.Use(runtime.InteropRequireWildcard)
		value = runtime.InteropRequireWildcard.Name() + "(" + value + "())"
	}
	if len(loads) == 1 {
		return loads[0] + ".then((m) => " + value + ")"
	}
	return "Promise.all([" + strings.Join(loads, ", ") + "]).then((m) => " + value + ")"
}

// Hybrid modules publish their ES exports on the commonjs exports object
func (p *scriptPlan) hybridExports(mp *modulePlan) []string {
	exports := p.c.in.Exports
	id := mp.m.Id
	lines := []string{`Object.defineProperty(exports, "__esModule", { value: true });`}
	define := func(name string, value string) {
		lines = append(lines, "Object.defineProperty(exports, "+helpers.QuoteForJS(name)+
			", { enumerable: true, get: function () { return "+value+"; } });")
	}

	for _, stmt := range mp.meta.Statements {
		info := stmt.Export
		if info == nil {
			continue
		}
		for _, spec := range info.Specifiers {
			switch {
			case info.Source == "":
				define(spec.ExportedName(), p.refText(id, spec.Local))
			case spec.Kind == js_ast.ExportNamed:
				define(spec.ExportedName(), p.valueOf(exports.Lookup(id, info.Source, spec.Local.Name), ""))
			case spec.Kind == js_ast.ExportNamespaceSpecifier:
				define(spec.ExportedName(), p.valueOf(exports.Lookup(id, info.Source, js_ast.ExportNamespace), ""))
			case spec.Kind == js_ast.ExportAll:
				p.helpers.Use(runtime.ExportStar)
				from := p.valueOf(exports.Lookup(id, info.Source, js_ast.ExportNamespace), "")
				lines = append(lines, runtime.ExportStar.Name()+"("+from+", exports);")
			}
		}
	}
	return lines
}

// The namespace object reads every export through a getter so it stays
// live and can be created before the module body runs
func (p *scriptPlan) namespaceObject(mp *modulePlan) string {
	exports := p.c.in.Exports
	id := mp.m.Id
	sb := strings.Builder{}
	sb.WriteString("{\n")
	for _, name := range exports.ExportNames(id) {
		value := p.valueOf(exports.Resolve(id, name), "")
		sb.WriteString("  get " + helpers.PropertyKey(name) + "() { return " + value + "; },\n")
	}
	sb.WriteString("  __esModule: true\n}")
	object := sb.String()

	var stars []string
	for _, key := range sortedKeys(mp.meta.ReexportIdentMap) {
		star := mp.meta.ReexportIdentMap[key]
		switch star.Type {
		case js_ast.ExportIdentExternalExportAll:
			stars = append(stars, p.valueOf(js_ast.ModuleExportIdent{ModuleId: star.ModuleId, Ident: js_ast.NamespaceIdent(), Type: js_ast.ExportIdentExternal}, ""))
		case js_ast.ExportIdentUnresolvedExportAll:
			stars = append(stars, p.bv.Name(p.bindingIndex(binding{graph.ModuleId(star.ModuleId), js_ast.CommonJsIdent()}, ""))+"()")
		}
	}

	name := p.bv.RenderedName(id, js_ast.NamespaceIdent())
	if len(stars) == 0 {
		return "var " + name + " = " + object + ";\n"
	}
	p.helpers.Use(runtime.MergeNamespaces)
	return "var " + name + " = " + runtime.MergeNamespaces.Name() + "(" + object + ", [" + strings.Join(stars, ", ") + "]);\n"
}

// Each ambiguous name gets a stub holding whichever candidate defines it
// first
func (p *scriptPlan) ambiguousStubs(mp *modulePlan) string {
	sb := strings.Builder{}
	for _, name := range sortedKeys(mp.meta.AmbiguousExportIdentMap) {
		var candidates []string
		for _, candidate := range mp.meta.AmbiguousExportIdentMap[name] {
			candidates = append(candidates, "{ "+helpers.PropertyKey(name)+": "+p.valueOf(candidate, "")+" }")
		}
		p.helpers.Use(runtime.MergeNamespaces)
		stub := p.bv.RenderedName(mp.m.Id, ambiguousIdent(name))
		sb.WriteString("var " + stub + " = " + runtime.MergeNamespaces.Name() + "({}, [" + strings.Join(candidates, ", ") + "])" + memberAccess(name) + ";\n")
	}
	return sb.String()
}

func exportName(name string) string {
	if helpers.IsIdentifier(name) || helpers.IsReservedWord(name) {
		return name
	}
	return helpers.QuoteForJS(name)
}

// finish assembles the pot once the keys other pots read from it are known
func (p *scriptPlan) finish(exported map[string]binding) []byte {
	j := helpers.Joiner{}

	for _, id := range p.externalOrder {
		ext := p.externals[id]
		source := helpers.QuoteForJS(ext.source)
		if ext.hasNamespace {
			j.AddLine("import * as " + p.bv.Name(ext.namespace) + " from " + source + ";")
		}
		if len(ext.named) > 0 {
			var specs []string
			for _, name := range sortedKeys(ext.named) {
				specs = append(specs, exportName(name)+" as "+p.bv.Name(ext.named[name]))
			}
			j.AddLine("import { " + strings.Join(specs, ", ") + " } from " + source + ";")
		}
		if !ext.hasNamespace && len(ext.named) == 0 {
			j.AddLine("import " + source + ";")
		}
	}

	for _, potId := range p.crossOrder {
		ci := p.cross[potId]
		source := helpers.QuoteForJS("./" + ci.pot.FileName())
		if len(ci.names) == 0 {
			j.AddLine("import " + source + ";")
			continue
		}
		var specs []string
		for _, key := range sortedKeys(ci.names) {
			specs = append(specs, key+" as "+p.bv.Name(ci.names[key]))
		}
		j.AddLine("import { " + strings.Join(specs, ", ") + " } from " + source + ";")
	}

	if !p.helpers.Empty() {
		j.AddString(p.helpers.Code())
	}

	for _, mp := range p.modules {
		j.AddString(mp.code)
	}

	if len(exported) > 0 {
		var specs []string
		for _, key := range sortedKeys(exported) {
			b := exported[key]
			if name := p.bv.RenderedName(b.module, b.ident); name != "" {
				specs = append(specs, name+" as "+key)
			}
		}
		if len(specs) > 0 {
			j.AddLine("export { " + strings.Join(specs, ", ") + " };")
		}
	}
	return j.Done()
}
