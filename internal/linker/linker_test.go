package linker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/bundler"
	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/partial_bundling"
	"github.com/farm-fe/farm-sub000/internal/plugin"
	"github.com/farm-fe/farm-sub000/internal/plugins"
	"github.com/farm-fe/farm-sub000/internal/resolver"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

type bundled struct {
	files   map[string]string
	entries []bundler.Root
	options func(*config.Options)
}

type linked struct {
	options   config.Options
	graph     *graph.ModuleGraph
	pots      []*resource.ResourcePot
	resources map[string]string
	removed   []graph.ModuleId
	msgs      []logger.Msg
	err       error
}

func (b bundled) link(t *testing.T) linked {
	t.Helper()
	options := config.Default()
	options.Root = "/app"
	options.Workers = 2
	if b.options != nil {
		b.options(&options)
	}

	log := logger.NewDeferLog()
	fsys := fs.MockFS(b.files, "/app")
	r, err := resolver.NewResolver(fsys, &options, log)
	require.NoError(t, err)
	container, err := plugin.NewContainer(plugin.NewContext(&options, fsys, log), plugins.Builtins(r))
	require.NoError(t, err)
	builder := bundler.NewBuilder(container, bundler.Options{Log: log, Metrics: metrics.New()})

	g := graph.NewModuleGraph()
	_, err = builder.Build(context.Background(), g, bundler.BuildRequest{Roots: b.entries})
	require.NoError(t, err)

	out := linked{options: options, graph: g, resources: make(map[string]string)}
	e, err := ResolveExports(g, log, options.AmbiguousExportsPolicy())
	if err != nil {
		out.err = err
		out.msgs = log.Done()
		return out
	}
	var usage *Usage
	if options.TreeShaking {
		usage, out.removed = TreeShake(e)
	}

	gg := graph.BuildModuleGroupGraph(g)
	var modules []*graph.Module
	for _, m := range g.Modules() {
		if !m.External && !m.Placeholder {
			modules = append(modules, m)
		}
	}
	out.pots, err = partial_bundling.GenerateResourcePots(modules, options.PartialBundling, log)
	require.NoError(t, err)
	partial_bundling.AttachResourcePots(g, gg, out.pots)

	l := New(OptionsFromConfig(&options), log)
	resources, err := l.Render(context.Background(), Input{Graph: g, Groups: gg, Pots: out.pots, Exports: e, Usage: usage}, nil)
	out.err = err
	for _, r := range resources {
		out.resources[r.Name] = string(r.Bytes)
	}
	out.msgs = log.Done()
	return out
}

func (l linked) potOf(t *testing.T, id string) *resource.ResourcePot {
	t.Helper()
	for _, pot := range l.pots {
		if pot.HasModule(graph.ModuleId(id)) {
			return pot
		}
	}
	require.Failf(t, "missing module", "no resource pot contains %q", id)
	return nil
}

// The rendered pot that holds a module
func (l linked) code(t *testing.T, id string) string {
	t.Helper()
	pot := l.potOf(t, id)
	code, ok := l.resources[pot.FileName()]
	require.True(t, ok, "pot %q was not rendered", pot.Id)
	return code
}

func (l linked) messages(id logger.MsgID) []logger.Msg {
	var out []logger.Msg
	for _, msg := range l.msgs {
		if msg.ID == id {
			out = append(out, msg)
		}
	}
	return out
}

// Runs an entry's facade with node and returns what it printed. Tests that
// use it are skipped when node is not installed.
func (l linked) run(t *testing.T, name string) string {
	t.Helper()
	node, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not installed")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"type":"module"}`), 0o644))
	for file, code := range l.resources {
		path := filepath.Join(dir, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	}
	out, err := exec.Command(node, filepath.Join(dir, name)).CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func entry(name string, source string) bundler.Root {
	return bundler.Root{Name: name, Source: source}
}

func separatePots(options *config.Options) {
	options.PartialBundling.EnforceTargetMinSize = false
}

func TestTreeShakingDropsUnusedExports(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js":  "import { used } from './lib';\nconsole.log(used);\n",
			"/app/src/lib.js":    "export const used = 1;\nexport const dead = 2;\n",
			"/app/src/unused.js": "export const nothing = 3;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
		options: func(options *config.Options) { options.TreeShaking = true },
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "const used = 1;")
	assert.NotContains(t, code, "dead")
	assert.NotContains(t, code, "export const")
	assert.Contains(t, code, "// src/lib.js\nconst used = 1;\n// src/index.js\nconsole.log(used);\n")
	assert.Less(t, strings.Index(code, "const used = 1;"), strings.Index(code, "console.log(used);"))
}

func TestTreeShakingRemovesEmptyModules(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { a } from './a';\nimport { b } from './b';\nconsole.log(a);\n",
			"/app/src/a.js":     "export const a = 1;\n",
			"/app/src/b.js":     "export const b = 2;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
		options: func(options *config.Options) { options.TreeShaking = true },
	}.link(t)
	require.NoError(t, l.err)

	assert.Equal(t, []graph.ModuleId{"src/b.js"}, l.removed)
	assert.False(t, l.graph.HasModule("src/b.js"))
	assert.NotContains(t, l.code(t, "src/index.js"), "const b")
}

func TestCycle(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { getA } from './b';\nimport { getB } from './a';\nconsole.log(getA(), getB());\n",
			"/app/src/a.js":     "import { b } from './b';\nexport const a = 'a';\nexport function getB() { return b; }\n",
			"/app/src/b.js":     "import { a } from './a';\nexport const b = 'b';\nexport function getA() { return a; }\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	assert.NotEmpty(t, l.graph.CircleRecord)
	assert.Empty(t, l.messages(logger.MsgID_Link_UnresolvedExport))
	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "const a = 'a';")
	assert.Contains(t, code, "const b = 'b';")
	assert.Contains(t, code, "function getB() { return b; }")
	assert.Contains(t, code, "function getA() { return a; }")
	assert.NotContains(t, code, "import ")
	assert.Equal(t, "a b", l.run(t, "index.js"))
}

func TestCycleOfArrowFunctions(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/entry.js": "import { a } from './a';\nconsole.log(a(3));\n",
			"/app/src/a.js":     "import { b } from './b';\nexport const a = (n) => n > 0 ? b(n - 1) : 'done';\n",
			"/app/src/b.js":     "import { a } from './a';\nexport const b = (n) => a(n);\n",
		},
		entries: []bundler.Root{entry("entry", "./src/entry.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/entry.js")
	assert.Equal(t, 1, strings.Count(code, "const a = "))
	assert.Equal(t, 1, strings.Count(code, "const b = "))
	assert.Equal(t, "done", l.run(t, "entry.js"))
}

func TestUnresolvedImportRendersUndefined(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { missing } from './a';\nconsole.log(missing);\n",
			"/app/src/a.js":     "export const x = 1;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	warnings := l.messages(logger.MsgID_Link_UnresolvedExport)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Text, `"missing"`)
	assert.Contains(t, l.code(t, "src/index.js"), "console.log((void 0));")
}

func TestCommonJsInterop(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import cjs from './cjs';\nimport { named } from './cjs';\nconsole.log(cjs, named);\n",
			"/app/src/cjs.js":   "module.exports = { named: 1 };\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "function __commonJs(mod)")
	assert.Contains(t, code, "function _interop_require_default(obj)")
	assert.Contains(t, code, "var cjs_cjs = __commonJs({\n  \"src/cjs.js\": function (module, exports) {\nmodule.exports = { named: 1 };\n")
	assert.Contains(t, code, "console.log((_interop_require_default(cjs_cjs()).default), (cjs_cjs().named));")
	assert.Contains(t, code, "cjs_cjs();")
	assert.Less(t, strings.Index(code, "var cjs_cjs"), strings.Index(code, "console.log"))
	assert.Equal(t, "{ named: 1 } 1", l.run(t, "index.js"))
}

func TestCommonJsDefaultMember(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/entry.js": "import cjs from './cjs';\nconsole.log(cjs.x);\n",
			"/app/src/cjs.js":   "module.exports = { x: 1 };\n",
		},
		entries: []bundler.Root{entry("entry", "./src/entry.js")},
	}.link(t)
	require.NoError(t, l.err)

	assert.Contains(t, l.code(t, "src/entry.js"), "console.log((_interop_require_default(cjs_cjs()).default).x);")
	assert.Equal(t, "1", l.run(t, "entry.js"))
}

func TestRequireOfEsModule(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "const lib = require('./lib');\nmodule.exports = lib.value;\n",
			"/app/src/lib.js":   "export const value = 1;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "var lib_ns = {\n  get value() { return value; },\n  __esModule: true\n};")
	assert.Contains(t, code, "const lib = lib_ns;")
	assert.Contains(t, code, "var index_cjs = __commonJs({")

	// A commonjs entry runs its factory itself
	assert.Contains(t, code, "});\nindex_cjs();\n")

	facade := l.resources["index.js"]
	key := binding{"src/index.js", js_ast.CommonJsIdent()}.exportKey()
	assert.Contains(t, facade, "import { "+key+" as __f_"+key+" } from ")
	assert.Contains(t, facade, "var __v0 = __f_"+key+"();\nexport { __v0 as default };\n")
}

func TestAmbiguousStarExports(t *testing.T) {
	files := map[string]string{
		"/app/src/index.js": "import { x } from './re';\nconsole.log(x);\n",
		"/app/src/re.js":    "export * from './a';\nexport * from './b';\n",
		"/app/src/a.js":     "export const x = 'a';\n",
		"/app/src/b.js":     "export const x = 'b';\n",
	}
	l := bundled{files: files, entries: []bundler.Root{entry("index", "./src/index.js")}}.link(t)
	require.NoError(t, l.err)

	warnings := l.messages(logger.MsgID_Link_AmbiguousExport)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Text, `"x"`)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "function _mergeNamespaces(n, m)")
	assert.Contains(t, code, "var re_x = _mergeNamespaces({}, [{ x: x }, { x: x$1 }]).x;")
	assert.Contains(t, code, "const x = 'a';")
	assert.Contains(t, code, "const x$1 = 'b';")
	assert.Contains(t, code, "console.log(re_x);")
	assert.Contains(t, code, "// src/re.js\nvar re_x = ")

	l = bundled{files: files, entries: []bundler.Root{entry("index", "./src/index.js")}, options: func(options *config.Options) {
		options.AmbiguousExports = "error"
	}}.link(t)
	assert.ErrorIs(t, l.err, ErrAmbiguousExport)
	assert.Contains(t, l.err.Error(), "src/re.js: x")
}

func TestRenamingIsInjective(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { value } from './a';\nimport { bValue } from './b';\nconsole.log(value, bValue);\n",
			"/app/src/a.js":     "export const value = 'a';\n",
			"/app/src/b.js":     "const value = 'b';\nexport { value as bValue };\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "const value = 'a';")
	assert.Contains(t, code, "const value$1 = 'b';")
	assert.Contains(t, code, "console.log(value, value$1);")
	assert.NotContains(t, code, "bValue")
}

func TestNestedNamesAreNotCaptured(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { getA } from './a';\nimport { getB } from './b';\nconsole.log(getA(), getB());\n",
			"/app/src/a.js":     "const name = 'A';\nexport function getA() { return name; }\n",
			"/app/src/b.js":     "const name = 'B';\nexport function getB() {\n  function inner() { const name$1 = 'dup'; return name + name$1; }\n  return inner();\n}\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "const name$1 = 'dup';")
	assert.NotContains(t, code, "name$1 + name$1")
	assert.Equal(t, 1, strings.Count(code, "const name = "))
	assert.Equal(t, "A Bdup", l.run(t, "index.js"))
}

func TestReservedNamesAreAvoided(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import { a } from './a';\nconsole.log(a, window);\n",
			"/app/src/a.js":     "const window = 1;\nconst __commonJs = 2;\nexport const a = window + __commonJs;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "const window$1 = 1;")
	assert.Contains(t, code, "const __commonJs$1 = 2;")
	assert.Contains(t, code, "const a = window$1 + __commonJs$1;")
	assert.Contains(t, code, "console.log(a, window);")
}

func TestCrossPotImports(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/e1.js":     "import { shared } from './shared';\nconsole.log(shared);\n",
			"/app/src/e2.js":     "import { shared as s, other } from './shared';\nconsole.log(s, 2);\n",
			"/app/src/shared.js": "export const shared = 1;\nexport const other = 2;\n",
		},
		entries: []bundler.Root{entry("e1", "./src/e1.js"), entry("e2", "./src/e2.js")},
		options: separatePots,
	}.link(t)
	require.NoError(t, l.err)

	sharedPot := l.potOf(t, "src/shared.js")
	require.NotEqual(t, sharedPot.Id, l.potOf(t, "src/e1.js").Id)
	key := binding{"src/shared.js", js_ast.TopLevel("shared")}.exportKey()
	source := `"./` + sharedPot.FileName() + `"`

	assert.Contains(t, l.code(t, "src/e1.js"), "import { "+key+" as shared } from "+source+";")
	e2 := l.code(t, "src/e2.js")
	assert.Contains(t, e2, "import { "+key+" as s } from "+source+";")
	assert.Contains(t, e2, "console.log(s, 2);")

	// "other" is imported by e2 but never read
	assert.NotContains(t, e2, "other")
	shared := l.code(t, "src/shared.js")
	assert.Contains(t, shared, "export { shared as "+key+" };")
	assert.NotContains(t, shared, "as other_")

	assert.Equal(t, `import "./`+l.potOf(t, "src/e1.js").FileName()+`";`+"\n", l.resources["e1.js"])
}

func TestDynamicImport(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import('./lazy').then((m) => console.log(m.x));\n",
			"/app/src/lazy.js":  "import './lazy.css';\nexport const x = 1;\n",
			"/app/src/lazy.css": ".lazy { color: red; }\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
		options: separatePots,
	}.link(t)
	require.NoError(t, l.err)

	lazyPot := l.potOf(t, "src/lazy.js")
	cssPot := l.potOf(t, "src/lazy.css")
	key := binding{"src/lazy.js", js_ast.NamespaceIdent()}.exportKey()

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, `Promise.all([import("./`+lazyPot.FileName()+`"), __loadCss("/`+cssPot.FileName()+`")]).then((m) => m[0].`+key+`)`)
	assert.Contains(t, code, "function __loadCss(href)")

	lazy := l.code(t, "src/lazy.js")
	assert.Contains(t, lazy, "var lazy_ns = {\n  get x() { return x; },\n  __esModule: true\n};")
	assert.Contains(t, lazy, "export { lazy_ns as "+key+" };")
	assert.Contains(t, l.code(t, "src/lazy.css"), ".lazy { color: red; }")
}

func TestEntryFacade(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "export const a = 1;\nexport default function main() {}\nexport { b as c } from './b';\n",
			"/app/src/b.js":     "export const b = 2;\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)

	pot := l.potOf(t, "src/index.js")
	a := binding{"src/index.js", js_ast.TopLevel("a")}.exportKey()
	c := binding{"src/b.js", js_ast.TopLevel("b")}.exportKey()
	main := binding{"src/index.js", js_ast.TopLevel("main")}.exportKey()

	assert.Equal(t, "import \"./"+pot.FileName()+"\";\n"+
		"export { "+a+" as a, "+c+" as c, "+main+" as default } from \"./"+pot.FileName()+"\";\n", l.resources["index.js"])

	code := l.code(t, "src/index.js")
	assert.Contains(t, code, "function main() {}")
	assert.Contains(t, code, "export { a as "+a+", b as "+c+", main as "+main+" };")
}

func TestDefaultExpression(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/src/index.js": "import value from './value';\nconsole.log(value);\n",
			"/app/src/value.js": "export default 40 + 2\n",
		},
		entries: []bundler.Root{entry("index", "./src/index.js")},
	}.link(t)
	require.NoError(t, l.err)
	assert.Contains(t, l.code(t, "src/index.js"), "var value_default = 40 + 2;")
	assert.Contains(t, l.code(t, "src/index.js"), "console.log(value_default);")
}

func TestCssAndHtml(t *testing.T) {
	l := bundled{
		files: map[string]string{
			"/app/index.html":    `<html><head><script type="module" src="./src/main.js"></script></head><body></body></html>`,
			"/app/src/main.js":   "import './style.css';\nconsole.log(1);\n",
			"/app/src/style.css": "@import './base.css';\n.a { color: blue; }\n",
			"/app/src/base.css":  ".b { color: green; }\n",
		},
		entries: []bundler.Root{entry("index", "./index.html")},
	}.link(t)
	require.NoError(t, l.err)

	css := l.code(t, "src/style.css")
	assert.NotContains(t, css, "@import")
	assert.Contains(t, css, "/* src/base.css */\n.b { color: green; }")
	assert.Less(t, strings.Index(css, ".b {"), strings.Index(css, ".a {"))

	html := l.resources["index.html"]
	assert.Contains(t, html, `<script type="module" src="/`+l.potOf(t, "src/main.js").FileName()+`"></script>`)
	assert.Contains(t, html, `href="/`+l.potOf(t, "src/style.css").FileName()+`"`)
	assert.NotContains(t, html, "./src/main.js")

	// Html entries have no facade
	assert.NotContains(t, l.resources, "index.js")
}
