package js_parser

import (
	sitter "github.com/smacker/go-tree-sitter"
)

type scopeKind uint8

const (
	scopeModule scopeKind = iota
	scopeFunction
	scopeBlock
)

type scope struct {
	parent *scope
	names  map[string]bool
	kind   scopeKind
}

func newScope(parent *scope, kind scopeKind) *scope {
	return &scope{parent: parent, names: make(map[string]bool), kind: kind}
}

// Returns the scope that declares the name, or nil for globals
func (s *scope) lookup(name string) *scope {
	for s != nil {
		if s.names[name] {
			return s
		}
		s = s.parent
	}
	return nil
}

func (p *parser) declare(s *scope, name string) {
	if name == "" {
		return
	}
	s.names[name] = true
	if s.kind != scopeModule {
		p.deeplyDeclared[name] = true
	}
}

// Binds every identifier in a binding pattern
func (p *parser) declarePattern(node *sitter.Node, s *scope) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		p.declare(s, p.text(node))

	case "assignment_pattern", "object_assignment_pattern":
		p.declarePattern(node.ChildByFieldName("left"), s)

	case "pair_pattern":
		p.declarePattern(node.ChildByFieldName("value"), s)

	case "object_pattern", "array_pattern", "rest_pattern", "formal_parameters":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			p.declarePattern(node.NamedChild(i), s)
		}
	}
}

func isFunctionLike(kind string) bool {
	switch kind {
	case "function_declaration", "generator_function_declaration",
		"function", "function_expression", "generator_function",
		"arrow_function", "method_definition":
		return true
	}
	return false
}

// Hoists "var" declarations found anywhere below node into s. Functions stop
// the search because they have their own var scope.
func (p *parser) declareVarNames(node *sitter.Node, s *scope) {
	if node == nil {
		return
	}
	kind := node.Type()
	if isFunctionLike(kind) || kind == "class_declaration" || kind == "class" {
		return
	}
	switch kind {
	case "variable_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if decl := node.NamedChild(i); decl.Type() == "variable_declarator" {
				p.declarePattern(decl.ChildByFieldName("name"), s)
			}
		}

	case "for_in_statement":
		if kindNode := node.ChildByFieldName("kind"); kindNode != nil && p.text(kindNode) == "var" {
			p.declarePattern(node.ChildByFieldName("left"), s)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		p.declareVarNames(node.NamedChild(i), s)
	}
}

// Declares the block-scoped bindings of a single statement
func (p *parser) declareLexicalNode(node *sitter.Node, s *scope) {
	switch node.Type() {
	case "lexical_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if decl := node.NamedChild(i); decl.Type() == "variable_declarator" {
				p.declarePattern(decl.ChildByFieldName("name"), s)
			}
		}

	case "function_declaration", "generator_function_declaration", "class_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			p.declare(s, p.text(name))
		}

	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			p.declareLexicalNode(decl, s)
		} else if name := namedDefaultDecl(node.ChildByFieldName("value")); name != nil {
			p.declare(s, p.text(name))
		}

	case "import_statement":
		for _, spec := range p.importSpecifiers(node) {
			p.declare(s, spec.Local.Name)
		}
	}
}

func (p *parser) declareLexical(block *sitter.Node, s *scope) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() == "switch_case" || child.Type() == "switch_default" {
			p.declareLexical(child, s)
			continue
		}
		p.declareLexicalNode(child, s)
	}
}

// Returns the name of "export default function foo() {}" or
// "export default class Foo {}" when the grammar produced an expression
func namedDefaultDecl(value *sitter.Node) *sitter.Node {
	if value == nil {
		return nil
	}
	switch value.Type() {
	case "function", "function_expression", "generator_function", "class":
		if name := value.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			return name
		}
	}
	return nil
}
