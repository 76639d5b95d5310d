package js_parser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/js_parser"
)

func parse(t *testing.T, source string) *js_ast.ScriptMeta {
	t.Helper()
	meta, err := js_parser.Parse(context.Background(), source)
	require.NoError(t, err)
	return meta
}

func refsTo(meta *js_ast.ScriptMeta, name string) (refs []js_ast.IdentRef) {
	for _, stmt := range meta.Statements {
		for _, ref := range stmt.Refs {
			if ref.Ident == js_ast.TopLevel(name) {
				refs = append(refs, ref)
			}
		}
	}
	return
}

func TestImports(t *testing.T) {
	meta := parse(t, `
import def, { a as b, c } from './dep';
import * as ns from "./ns";
import './side';
`)
	require.Len(t, meta.Statements, 3)

	first := meta.Statements[0].Import
	require.NotNil(t, first)
	assert.Equal(t, "./dep", first.Source)
	assert.Equal(t, []js_ast.ImportSpecifier{
		{Kind: js_ast.ImportDefault, Local: js_ast.TopLevel("def")},
		{Kind: js_ast.ImportNamed, Local: js_ast.TopLevel("b"), Imported: "a"},
		{Kind: js_ast.ImportNamed, Local: js_ast.TopLevel("c")},
	}, first.Specifiers)
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("b"), js_ast.TopLevel("c"), js_ast.TopLevel("def")}, meta.Statements[0].DefinedIdents)

	ns := meta.Statements[1].Import
	require.Len(t, ns.Specifiers, 1)
	assert.Equal(t, js_ast.ImportNamespace, ns.Specifiers[0].Kind)
	assert.Equal(t, js_ast.ExportNamespace, ns.Specifiers[0].ImportedName())

	side := meta.Statements[2].Import
	assert.Equal(t, "./side", side.Source)
	assert.True(t, side.IsSideEffectImport)
	assert.Equal(t, js_ast.ModuleSystemEsModule, meta.ModuleSystem)
}

func TestExports(t *testing.T) {
	source := `const x = 1;
export const y = 2, w = 3;
export function f() { return x; }
export { x as z };
export * from './a';
export * as all from './b';
export { q, default as r } from './c';
export default x + 1;
`
	meta := parse(t, source)
	require.Len(t, meta.Statements, 8)

	decl := meta.Statements[1].Export
	require.NotNil(t, decl)
	assert.Equal(t, "const y = 2, w = 3;", source[decl.DeclStart:meta.Statements[1].End])
	assert.Equal(t, []string{"w", "y"}, []string{decl.Specifiers[0].ExportedName(), decl.Specifiers[1].ExportedName()})

	fn := meta.Statements[2]
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("f")}, fn.DefinedIdents)
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("x")}, fn.UsedIdents)
	assert.Equal(t, js_ast.SideEffectsNone, fn.SideEffects)

	local := meta.Statements[3].Export
	require.Len(t, local.Specifiers, 1)
	assert.Equal(t, js_ast.TopLevel("x"), local.Specifiers[0].Local)
	assert.Equal(t, "z", local.Specifiers[0].ExportedName())
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("x")}, meta.Statements[3].UsedIdents)

	all := meta.Statements[4].Export
	assert.Equal(t, "./a", all.Source)
	require.Len(t, all.Specifiers, 1)
	assert.Equal(t, js_ast.ExportAll, all.Specifiers[0].Kind)

	starAs := meta.Statements[5].Export
	require.Len(t, starAs.Specifiers, 1)
	assert.Equal(t, js_ast.ExportNamespaceSpecifier, starAs.Specifiers[0].Kind)
	assert.Equal(t, "all", starAs.Specifiers[0].Exported)

	from := meta.Statements[6].Export
	assert.Equal(t, "./c", from.Source)
	require.Len(t, from.Specifiers, 2)
	assert.Equal(t, "q", from.Specifiers[0].Local.Name)
	assert.Equal(t, "default", from.Specifiers[1].Local.Name)
	assert.Equal(t, "r", from.Specifiers[1].ExportedName())

	def := meta.Statements[7]
	require.True(t, def.Export.HasDefaultExpr())
	assert.Equal(t, "x + 1", source[def.Export.DefaultExprStart:def.Export.DefaultExprEnd])
	assert.Equal(t, []js_ast.Ident{js_ast.DefaultIdent()}, def.DefinedIdents)
	assert.Equal(t, js_ast.ExportDefault, def.Export.Specifiers[0].Kind)
	assert.True(t, meta.HasExports())
}

func TestNamedDefaultFunction(t *testing.T) {
	meta := parse(t, "export default function main() { return main; }\nmain();\n")
	stmt := meta.Statements[0]
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("main")}, stmt.DefinedIdents)
	assert.Equal(t, js_ast.TopLevel("main"), stmt.Export.Specifiers[0].Local)
	assert.Len(t, refsTo(meta, "main"), 3)
}

func TestScopes(t *testing.T) {
	source := `const used = 1;
function g(used) { return used; }
function h() { const inner = used; { let used = 2; return used + inner; } }
if (used) { var hoisted = used; }
console.log(used, hoisted);
`
	meta := parse(t, source)

	// Declaration, the read in h, the two in the if statement and the final one
	refs := refsTo(meta, "used")
	assert.Len(t, refs, 5)
	for _, ref := range refs {
		assert.Equal(t, "used", source[ref.Start:ref.End])
	}

	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("hoisted")}, meta.Statements[3].DefinedIdents)
	assert.Contains(t, meta.TopLevelIdents, js_ast.TopLevel("hoisted"))
	assert.Contains(t, meta.AllDeeplyDeclaredIdents, "inner")
	assert.Contains(t, meta.AllDeeplyDeclaredIdents, "used")
	assert.Contains(t, meta.UnresolvedIdents, "console")
	assert.NotContains(t, meta.UnresolvedIdents, "used")
}

func TestShorthandProperty(t *testing.T) {
	source := "const a = 1;\nexport const o = { a };\n"
	meta := parse(t, source)
	refs := refsTo(meta, "a")
	require.Len(t, refs, 2)
	assert.False(t, refs[0].Shorthand)
	assert.True(t, refs[1].Shorthand)
}

func TestSideEffects(t *testing.T) {
	meta := parse(t, `const a = 1;
console.log(a);
window.x = 1;
let c;
c = 2;
function h() { foo(); }
const d = a + 1;
const e = () => { bar(); };
`)
	expected := []js_ast.StatementSideEffects{
		js_ast.SideEffectsNone,
		js_ast.SideEffectsUnclassifiedSelfExecuted,
		js_ast.SideEffectsWriteGlobal,
		js_ast.SideEffectsNone,
		js_ast.SideEffectsWriteTopLevel,
		js_ast.SideEffectsNone,
		js_ast.SideEffectsReadTopLevel,
		js_ast.SideEffectsNone,
	}
	require.Len(t, meta.Statements, len(expected))
	for i, stmt := range meta.Statements {
		assert.Equal(t, expected[i], stmt.SideEffects, "statement %d", i)
	}
	assert.Equal(t, []js_ast.Ident{js_ast.TopLevel("c")}, meta.Statements[4].WrittenIdents)
	assert.Equal(t, js_ast.ModuleSystemUnknown, meta.ModuleSystem)
}

func TestModuleSystems(t *testing.T) {
	cjs := parse(t, "const dep = require('./dep');\nmodule.exports = { x: dep };\n")
	assert.Equal(t, js_ast.ModuleSystemCommonJs, cjs.ModuleSystem)
	require.Len(t, cjs.Statements[0].Calls, 1)
	call := cjs.Statements[0].Calls[0]
	assert.Equal(t, js_ast.CallRequire, call.Kind)
	assert.Equal(t, "./dep", call.Source)

	hybrid := parse(t, "import a from 'a';\nexports.b = a;\n")
	assert.Equal(t, js_ast.ModuleSystemHybrid, hybrid.ModuleSystem)

	esm := parse(t, "import a from 'a';\nconst b = require('b');\nexport { a, b };\n")
	assert.Equal(t, js_ast.ModuleSystemEsModule, esm.ModuleSystem)

	shadowed := parse(t, "function require(x) { return x; }\nrequire('./not-a-dep');\n")
	assert.Empty(t, shadowed.Statements[1].Calls)
}

func TestDynamicImportAndHmr(t *testing.T) {
	meta := parse(t, `const load = () => import('./lazy');
import.meta.hot.accept();
`)
	require.Len(t, meta.Statements[0].Calls, 1)
	assert.Equal(t, js_ast.CallDynamicImport, meta.Statements[0].Calls[0].Kind)
	assert.Equal(t, "./lazy", meta.Statements[0].Calls[0].Source)
	assert.True(t, meta.HmrSelfAccepted)

	dep := parse(t, "import.meta.hot.accept('./dep', () => {});\n")
	assert.False(t, dep.HmrSelfAccepted)
}

func TestSyntaxError(t *testing.T) {
	_, err := js_parser.Parse(context.Background(), "const = ;")
	require.Error(t, err)
	var syntaxErr *js_parser.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
