package js_parser

// This analyzes plain JavaScript into the statement model used by the
// linker. TypeScript and JSX are lowered by esbuild before they get here, so
// only the JavaScript grammar is needed.

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/farm-fe/farm-sub000/internal/js_ast"
)

type SyntaxError struct {
	Offset int
	Text   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Text)
}

type parser struct {
	source []byte
	meta   *js_ast.ScriptMeta

	moduleScope *scope
	scope       *scope

	// Number of function bodies between the current node and the module
	// scope. Only code at depth zero runs when the module is evaluated.
	fnDepth int

	stmt *stmtState

	deeplyDeclared map[string]bool
	unresolved     map[string]bool

	hasModuleSyntax   bool
	usesModuleExports bool
	usesRequire       bool
}

type stmtState struct {
	refs    []js_ast.IdentRef
	used    []js_ast.Ident
	written []js_ast.Ident
	calls   []js_ast.CallRef
	effects js_ast.StatementSideEffects
}

// Parse analyzes the source of one script module. The returned metadata
// refers to byte offsets in source.
func Parse(ctx context.Context, source string) (*js_ast.ScriptMeta, error) {
	contents := []byte(source)

	tsParser := sitter.NewParser()
	tsParser.SetLanguage(javascript.GetLanguage())

	tree, err := tsParser.ParseCtx(ctx, nil, contents)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, firstSyntaxError(root, contents)
	}

	p := &parser{
		source:         contents,
		meta:           &js_ast.ScriptMeta{},
		deeplyDeclared: make(map[string]bool),
		unresolved:     make(map[string]bool),
	}
	p.moduleScope = newScope(nil, scopeModule)
	p.scope = p.moduleScope
	p.declareVarNames(root, p.moduleScope)
	p.declareLexical(root, p.moduleScope)

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "comment", "hash_bang_line":
			continue
		}
		p.parseStatement(node)
	}

	p.finish()
	return p.meta, nil
}

func firstSyntaxError(root *sitter.Node, contents []byte) error {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.IsMissing() {
			return &SyntaxError{Offset: int(node.StartByte()), Text: fmt.Sprintf("expected %q", node.Type())}
		}
		if node.Type() == "ERROR" {
			text := node.Content(contents)
			if len(text) > 20 {
				text = text[:20] + "..."
			}
			return &SyntaxError{Offset: int(node.StartByte()), Text: fmt.Sprintf("unexpected %q", text)}
		}
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			child := node.Child(i)
			if child != nil && (child.HasError() || child.IsMissing()) {
				stack = append(stack, child)
			}
		}
	}
	return &SyntaxError{Text: "invalid syntax"}
}

func (p *parser) text(node *sitter.Node) string {
	return node.Content(p.source)
}

func (p *parser) parseStatement(node *sitter.Node) {
	p.stmt = &stmtState{}
	stmt := js_ast.Statement{
		Id:    len(p.meta.Statements),
		Start: int32(node.StartByte()),
		End:   int32(node.EndByte()),
	}

	switch node.Type() {
	case "import_statement":
		p.hasModuleSyntax = true
		stmt.Import = p.parseImport(node)
		for _, spec := range stmt.Import.Specifiers {
			stmt.DefinedIdents = append(stmt.DefinedIdents, spec.Local)
		}

	case "export_statement":
		p.hasModuleSyntax = true
		stmt.Export = p.parseExport(node, &stmt)

	default:
		p.visit(node)
		stmt.DefinedIdents = p.definedBy(node)
	}

	stmt.DefinedIdents = js_ast.SortIdents(stmt.DefinedIdents)
	stmt.Refs = p.stmt.refs
	stmt.Calls = p.stmt.calls
	stmt.SideEffects = p.stmt.effects
	stmt.WrittenIdents = js_ast.SortIdents(p.stmt.written)

	var used []js_ast.Ident
	for _, ident := range js_ast.SortIdents(p.stmt.used) {
		if !js_ast.ContainsIdent(stmt.DefinedIdents, ident) {
			used = append(used, ident)
		}
	}
	stmt.UsedIdents = used

	p.meta.Statements = append(p.meta.Statements, stmt)
	p.stmt = nil
}

// Top-level bindings introduced by a non-import, non-export statement
func (p *parser) definedBy(node *sitter.Node) []js_ast.Ident {
	s := newScope(nil, scopeModule)
	helper := parser{source: p.source, deeplyDeclared: make(map[string]bool)}
	helper.declareLexicalNode(node, s)
	helper.declareVarNames(node, s)

	idents := make([]js_ast.Ident, 0, len(s.names))
	for name := range s.names {
		idents = append(idents, js_ast.TopLevel(name))
	}
	return idents
}

func (p *parser) importSpecifiers(node *sitter.Node) (specs []js_ast.ImportSpecifier) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			child := clause.NamedChild(j)
			switch child.Type() {
			case "identifier":
				specs = append(specs, js_ast.ImportSpecifier{Kind: js_ast.ImportDefault, Local: js_ast.TopLevel(p.text(child))})

			case "namespace_import":
				for k := 0; k < int(child.NamedChildCount()); k++ {
					if id := child.NamedChild(k); id.Type() == "identifier" {
						specs = append(specs, js_ast.ImportSpecifier{Kind: js_ast.ImportNamespace, Local: js_ast.TopLevel(p.text(id))})
					}
				}

			case "named_imports":
				for k := 0; k < int(child.NamedChildCount()); k++ {
					spec := child.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := p.moduleExportName(spec.ChildByFieldName("name"))
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = p.text(alias)
					}
					item := js_ast.ImportSpecifier{Kind: js_ast.ImportNamed, Local: js_ast.TopLevel(local)}
					if local != name {
						item.Imported = name
					}
					specs = append(specs, item)
				}
			}
		}
	}
	return
}

func (p *parser) parseImport(node *sitter.Node) *js_ast.ImportInfo {
	info := &js_ast.ImportInfo{
		Source:     p.stringValue(node.ChildByFieldName("source")),
		Specifiers: p.importSpecifiers(node),
	}
	info.IsSideEffectImport = len(info.Specifiers) == 0
	return info
}

func (p *parser) parseExport(node *sitter.Node, stmt *js_ast.Statement) *js_ast.ExportInfo {
	info := &js_ast.ExportInfo{}
	isDefault := false
	hasStar := false
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "default":
			isDefault = true
		case "*":
			hasStar = true
		}
	}

	if source := node.ChildByFieldName("source"); source != nil {
		info.Source = p.stringValue(source)
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		info.DeclStart = int32(decl.StartByte())
		p.visit(decl)
		defined := p.definedBy(decl)
		stmt.DefinedIdents = append(stmt.DefinedIdents, defined...)

		if isDefault {
			// "export default function foo() {}" binds "foo" and exports it as default
			local := js_ast.DefaultIdent()
			if len(defined) == 1 {
				local = defined[0]
			} else {
				stmt.DefinedIdents = append(stmt.DefinedIdents, local)
			}
			info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{Kind: js_ast.ExportDefault, Local: local})
		} else {
			for _, ident := range js_ast.SortIdents(defined) {
				info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{Kind: js_ast.ExportNamed, Local: ident})
			}
		}
		return info
	}

	if value := node.ChildByFieldName("value"); value != nil {
		if name := namedDefaultDecl(value); name != nil {
			// The grammar reads "export default function foo() {}" as an
			// expression but "foo" is still a module-level binding
			local := js_ast.TopLevel(p.text(name))
			info.DeclStart = int32(value.StartByte())
			p.visitBinding(name)
			if value.Type() == "class" {
				p.visitClass(value, true)
			} else {
				p.visitFunction(value, false)
			}
			stmt.DefinedIdents = append(stmt.DefinedIdents, local)
			info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{Kind: js_ast.ExportDefault, Local: local})
			return info
		}
		info.DefaultExprStart = int32(value.StartByte())
		info.DefaultExprEnd = int32(value.EndByte())
		info.DeclStart = info.DefaultExprStart
		p.visit(value)
		stmt.DefinedIdents = append(stmt.DefinedIdents, js_ast.DefaultIdent())
		info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{Kind: js_ast.ExportDefault, Local: js_ast.DefaultIdent()})
		return info
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "namespace_export":
			// "export * as ns from"
			for k := 0; k < int(child.NamedChildCount()); k++ {
				if id := child.NamedChild(k); id.Type() == "identifier" || id.Type() == "string" {
					info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{
						Kind:     js_ast.ExportNamespaceSpecifier,
						Exported: p.moduleExportName(id),
					})
				}
			}
			hasStar = false

		case "export_clause":
			for k := 0; k < int(child.NamedChildCount()); k++ {
				spec := child.NamedChild(k)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := p.moduleExportName(spec.ChildByFieldName("name"))
				exported := ""
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					exported = p.moduleExportName(alias)
				}
				if exported == name {
					exported = ""
				}
				local := js_ast.Ident{Name: name}
				if info.Source == "" {
					local = p.resolveName(name)
					p.stmt.used = append(p.stmt.used, local)
				}
				info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{
					Kind:     js_ast.ExportNamed,
					Local:    local,
					Exported: exported,
				})
			}
		}
	}

	if hasStar {
		info.Specifiers = append(info.Specifiers, js_ast.ExportSpecifier{Kind: js_ast.ExportAll})
	}
	return info
}

// Names in import and export clauses may be string literals
func (p *parser) moduleExportName(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	if node.Type() == "string" {
		return p.stringValue(node)
	}
	return p.text(node)
}

func (p *parser) stringValue(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	sb := strings.Builder{}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "string_fragment":
			sb.WriteString(p.text(child))
		case "escape_sequence":
			value, _, _, err := strconv.UnquoteChar(p.text(child), '"')
			if err != nil {
				sb.WriteString(p.text(child))
			} else {
				sb.WriteRune(value)
			}
		}
	}
	return sb.String()
}

func (p *parser) resolveName(name string) js_ast.Ident {
	switch p.scope.lookup(name) {
	case p.moduleScope:
		return js_ast.TopLevel(name)
	case nil:
		return js_ast.Ident{Name: name, Ctxt: js_ast.CtxtUnresolved}
	}
	return js_ast.Ident{}
}

func (p *parser) effect(effects js_ast.StatementSideEffects) {
	if p.fnDepth == 0 {
		p.stmt.effects = p.stmt.effects.Merge(effects)
	}
}

type identUse uint8

const (
	identRead identUse = iota
	identWrite
	identBind
)

func (p *parser) visitIdentifier(node *sitter.Node, shorthand bool, use identUse) {
	name := p.text(node)
	ident := p.resolveName(name)
	switch ident.Ctxt {
	case js_ast.CtxtTopLevel:
		p.stmt.refs = append(p.stmt.refs, js_ast.IdentRef{
			Start:     int32(node.StartByte()),
			End:       int32(node.EndByte()),
			Ident:     ident,
			Shorthand: shorthand,
		})
		switch use {
		case identRead:
			p.stmt.used = append(p.stmt.used, ident)
			p.effect(js_ast.SideEffectsReadTopLevel)
		case identWrite:
			p.stmt.used = append(p.stmt.used, ident)
			p.effect(js_ast.SideEffectsWriteTopLevel)
			if p.fnDepth == 0 {
				p.stmt.written = append(p.stmt.written, ident)
			}
		}

	case js_ast.CtxtUnresolved:
		if ident.Name == "" {
			// Declared in a nested scope
			return
		}
		p.unresolved[name] = true
		switch name {
		case "module", "exports":
			p.usesModuleExports = true
		}
		if use == identWrite {
			p.effect(js_ast.SideEffectsWriteGlobal)
		} else {
			p.effect(js_ast.SideEffectsReadTopLevel)
		}
	}
}

// Marks the root of an assignment target. "a.b.c = 1" writes to "a".
func (p *parser) visitWriteTarget(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "identifier":
		p.visitIdentifier(node, false, identWrite)

	case "member_expression", "subscript_expression":
		object := node.ChildByFieldName("object")
		root := object
		for root != nil && (root.Type() == "member_expression" || root.Type() == "subscript_expression") {
			root = root.ChildByFieldName("object")
		}
		if root != nil && root.Type() == "identifier" {
			ident := p.resolveName(p.text(root))
			switch ident.Ctxt {
			case js_ast.CtxtTopLevel:
				p.effect(js_ast.SideEffectsWriteTopLevel)
				if p.fnDepth == 0 {
					p.stmt.written = append(p.stmt.written, ident)
				}
			case js_ast.CtxtUnresolved:
				if ident.Name != "" {
					p.effect(js_ast.SideEffectsWriteGlobal)
				}
			}
		} else {
			p.effect(js_ast.SideEffectsUnclassifiedSelfExecuted)
		}
		p.visit(node)

	case "parenthesized_expression":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			p.visitWriteTarget(node.NamedChild(i))
		}

	case "object_pattern", "array_pattern", "pair_pattern", "rest_pattern",
		"assignment_pattern", "object_assignment_pattern":
		p.visitPatternWrite(node)

	default:
		p.visit(node)
	}
}

func (p *parser) visitPatternWrite(node *sitter.Node) {
	switch node.Type() {
	case "identifier":
		p.visitIdentifier(node, false, identWrite)
	case "shorthand_property_identifier_pattern":
		p.visitIdentifier(node, true, identWrite)
	case "pair_pattern":
		if key := node.ChildByFieldName("key"); key != nil && key.Type() == "computed_property_name" {
			p.visit(key)
		}
		p.visitWriteTarget(node.ChildByFieldName("value"))
	case "assignment_pattern", "object_assignment_pattern":
		p.visitPatternWrite(node.ChildByFieldName("left"))
		p.visit(node.ChildByFieldName("right"))
	case "object_pattern", "array_pattern", "rest_pattern":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			p.visitWriteTarget(node.NamedChild(i))
		}
	default:
		p.visitWriteTarget(node)
	}
}

func (p *parser) visit(node *sitter.Node) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "identifier":
		p.visitIdentifier(node, false, identRead)
		return

	case "shorthand_property_identifier", "shorthand_property_identifier_pattern":
		p.visitIdentifier(node, true, identRead)
		return

	case "property_identifier", "private_property_identifier", "statement_identifier",
		"comment", "string", "number", "regex", "this", "super", "true", "false", "null":
		return

	case "function_declaration", "generator_function_declaration":
		// The name belongs to the enclosing scope
		p.visitBinding(node.ChildByFieldName("name"))
		p.visitFunction(node, false)
		return

	case "function", "function_expression", "generator_function", "arrow_function", "method_definition":
		p.visitFunction(node, true)
		return

	case "class_declaration":
		p.visitClass(node, true)
		return

	case "class":
		p.visitClass(node, false)
		return

	case "statement_block":
		p.visitBlock(node)
		return

	case "for_statement", "for_in_statement":
		saved := p.scope
		p.scope = newScope(p.scope, scopeBlock)
		if init := node.ChildByFieldName("initializer"); init != nil {
			p.declareLexicalNode(init, p.scope)
		}
		if kind := node.ChildByFieldName("kind"); kind != nil && p.text(kind) != "var" {
			p.declarePattern(node.ChildByFieldName("left"), p.scope)
		}
		p.visitChildren(node)
		p.scope = saved
		return

	case "switch_body":
		saved := p.scope
		p.scope = newScope(p.scope, scopeBlock)
		p.declareLexical(node, p.scope)
		p.visitChildren(node)
		p.scope = saved
		return

	case "catch_clause":
		saved := p.scope
		p.scope = newScope(p.scope, scopeBlock)
		p.declarePattern(node.ChildByFieldName("parameter"), p.scope)
		p.visitChildren(node)
		p.scope = saved
		return

	case "assignment_expression", "augmented_assignment_expression":
		p.visitWriteTarget(node.ChildByFieldName("left"))
		p.visit(node.ChildByFieldName("right"))
		return

	case "update_expression":
		p.visitWriteTarget(node.ChildByFieldName("argument"))
		return

	case "unary_expression":
		if op := node.ChildByFieldName("operator"); op != nil && p.text(op) == "delete" {
			p.visitWriteTarget(node.ChildByFieldName("argument"))
			return
		}

	case "variable_declarator":
		// Bindings resolve to the scope they were hoisted into
		p.visitBinding(node.ChildByFieldName("name"))
		p.visit(node.ChildByFieldName("value"))
		return

	case "call_expression":
		p.visitCall(node)
		return

	case "new_expression", "await_expression", "yield_expression":
		p.effect(js_ast.SideEffectsUnclassifiedSelfExecuted)

	case "throw_statement", "debugger_statement":
		p.effect(js_ast.SideEffectsUnclassifiedSelfExecuted)
	}

	p.visitChildren(node)
}

func (p *parser) visitChildren(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		p.visit(node.NamedChild(i))
	}
}

func (p *parser) visitBinding(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "identifier":
		p.visitIdentifier(node, false, identBind)
	case "shorthand_property_identifier_pattern":
		p.visitIdentifier(node, true, identBind)
	case "pair_pattern":
		if key := node.ChildByFieldName("key"); key != nil && key.Type() == "computed_property_name" {
			p.visit(key)
		}
		p.visitBinding(node.ChildByFieldName("value"))
	case "assignment_pattern", "object_assignment_pattern":
		p.visitBinding(node.ChildByFieldName("left"))
		p.visit(node.ChildByFieldName("right"))
	case "object_pattern", "array_pattern", "rest_pattern":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			p.visitBinding(node.NamedChild(i))
		}
	default:
		p.visit(node)
	}
}

func (p *parser) visitBlock(node *sitter.Node) {
	saved := p.scope
	p.scope = newScope(p.scope, scopeBlock)
	p.declareLexical(node, p.scope)
	p.visitChildren(node)
	p.scope = saved
}

func (p *parser) visitFunction(node *sitter.Node, isExpression bool) {
	saved := p.scope
	fnScope := newScope(p.scope, scopeFunction)
	if isExpression {
		if name := node.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			p.declare(fnScope, p.text(name))
		}
	}
	if node.Type() != "arrow_function" {
		fnScope.names["arguments"] = true
	}

	params := node.ChildByFieldName("parameters")
	if params == nil {
		params = node.ChildByFieldName("parameter")
	}
	p.declarePattern(params, fnScope)

	body := node.ChildByFieldName("body")
	if body != nil && body.Type() == "statement_block" {
		p.declareVarNames(body, fnScope)
		p.declareLexical(body, fnScope)
	}

	// Computed method names are evaluated in the enclosing scope
	if node.Type() == "method_definition" {
		if name := node.ChildByFieldName("name"); name != nil && name.Type() == "computed_property_name" {
			p.visit(name)
		}
	}

	p.scope = fnScope
	p.fnDepth++
	p.visitBinding(params)
	if body != nil {
		if body.Type() == "statement_block" {
			p.visitChildren(body)
		} else {
			p.visit(body)
		}
	}
	p.fnDepth--
	p.scope = saved
}

func (p *parser) visitClass(node *sitter.Node, isDeclaration bool) {
	saved := p.scope
	name := node.ChildByFieldName("name")
	if isDeclaration {
		if node.Type() == "class_declaration" {
			p.visitBinding(name)
		}
	} else if name != nil {
		p.scope = newScope(p.scope, scopeBlock)
		p.declare(p.scope, p.text(name))
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_heritage":
			p.visit(child)

		case "class_body":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				member := child.NamedChild(j)
				switch member.Type() {
				case "field_definition":
					isStatic := false
					for k := 0; k < int(member.ChildCount()); k++ {
						if member.Child(k).Type() == "static" {
							isStatic = true
						}
					}
					if property := member.ChildByFieldName("property"); property != nil && property.Type() == "computed_property_name" {
						p.visit(property)
					}
					if !isStatic {
						p.fnDepth++
					}
					p.visit(member.ChildByFieldName("value"))
					if !isStatic {
						p.fnDepth--
					}

				case "class_static_block":
					p.visitChildren(member)

				default:
					p.visit(member)
				}
			}
		}
	}
	p.scope = saved
}

func (p *parser) visitCall(node *sitter.Node) {
	p.effect(js_ast.SideEffectsUnclassifiedSelfExecuted)
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")

	if fn != nil {
		switch {
		case fn.Type() == "import":
			if source, ok := p.singleStringArg(args); ok {
				p.stmt.calls = append(p.stmt.calls, js_ast.CallRef{
					Start:  int32(node.StartByte()),
					End:    int32(node.EndByte()),
					Source: source,
					Kind:   js_ast.CallDynamicImport,
				})
			}

		case fn.Type() == "identifier" && p.text(fn) == "require" && p.scope.lookup("require") == nil:
			p.usesRequire = true
			if source, ok := p.singleStringArg(args); ok {
				p.stmt.calls = append(p.stmt.calls, js_ast.CallRef{
					Start:  int32(node.StartByte()),
					End:    int32(node.EndByte()),
					Source: source,
					Kind:   js_ast.CallRequire,
				})
			}

		case strings.Join(strings.Fields(p.text(fn)), "") == "import.meta.hot.accept":
			// "accept('./dep', cb)" accepts a dependency, not this module
			if args == nil || args.NamedChildCount() == 0 || args.NamedChild(0).Type() != "string" {
				p.meta.HmrSelfAccepted = true
			}
		}
	}

	p.visit(fn)
	p.visit(args)
}

func (p *parser) singleStringArg(args *sitter.Node) (string, bool) {
	if args == nil || args.NamedChildCount() != 1 {
		return "", false
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return "", false
	}
	return p.stringValue(arg), true
}

func (p *parser) finish() {
	meta := p.meta

	for name := range p.moduleScope.names {
		meta.TopLevelIdents = append(meta.TopLevelIdents, js_ast.TopLevel(name))
	}
	for i := range meta.Statements {
		for _, ident := range meta.Statements[i].DefinedIdents {
			if ident.Ctxt == js_ast.CtxtSynthetic {
				meta.TopLevelIdents = append(meta.TopLevelIdents, ident)
			}
		}
	}
	meta.TopLevelIdents = js_ast.SortIdents(meta.TopLevelIdents)
	meta.UnresolvedIdents = sortedKeys(p.unresolved)
	meta.AllDeeplyDeclaredIdents = sortedKeys(p.deeplyDeclared)

	isCommonJs := p.usesModuleExports || (p.usesRequire && !p.hasModuleSyntax)
	switch {
	case p.hasModuleSyntax && isCommonJs:
		meta.ModuleSystem = js_ast.ModuleSystemHybrid
	case p.hasModuleSyntax:
		meta.ModuleSystem = js_ast.ModuleSystemEsModule
	case isCommonJs:
		meta.ModuleSystem = js_ast.ModuleSystemCommonJs
	default:
		meta.ModuleSystem = js_ast.ModuleSystemUnknown
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
