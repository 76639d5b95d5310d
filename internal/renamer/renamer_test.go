package renamer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
)

func TestCollisionsGetSmallestSuffix(t *testing.T) {
	bv := NewBundleVariables()
	a := bv.Register("a.js", js_ast.TopLevel("x"), "")
	b := bv.Register("b.js", js_ast.TopLevel("x"), "")
	c := bv.Register("c.js", js_ast.TopLevel("x"), "")

	assert.Equal(t, "x", bv.Name(a))
	assert.Equal(t, "x$1", bv.Name(b))
	assert.Equal(t, "x$2", bv.Name(c))

	// Registering again is a no-op
	assert.Equal(t, b, bv.Register("b.js", js_ast.TopLevel("x"), ""))
}

func TestReservedNames(t *testing.T) {
	bv := NewBundleVariables()
	bv.RegisterPlaceholder("__commonJs")
	bv.Reserve("console")

	assert.Equal(t, "__commonJs$1", bv.Name(bv.Register("a.js", js_ast.TopLevel("__commonJs"), "")))
	assert.Equal(t, "console$1", bv.Name(bv.Register("a.js", js_ast.TopLevel("console"), "")))
	assert.Equal(t, "_default", bv.Name(bv.Register("a.js", js_ast.DefaultIdent(), "default")))
}

func TestDeepNamesBlockOtherModules(t *testing.T) {
	bv := NewBundleVariables()
	bv.ReserveDeep("a.js", "tmp")

	assert.Equal(t, "tmp", bv.Name(bv.Register("a.js", js_ast.TopLevel("tmp"), "")))
	assert.Equal(t, "tmp$1", bv.Name(bv.Register("b.js", js_ast.TopLevel("tmp"), "")))
}

func TestSuffixSkipsOwnDeepNames(t *testing.T) {
	bv := NewBundleVariables()
	bv.ReserveDeep("b.js", "name$1")
	bv.ReserveDeep("c.js", "value")

	assert.Equal(t, "name", bv.Name(bv.Register("a.js", js_ast.TopLevel("name"), "")))

	// A nested "name$1" in b.js would capture a renamed top-level "name"
	assert.Equal(t, "name$2", bv.Name(bv.Register("b.js", js_ast.TopLevel("name"), "")))

	// Its own source name is still fine, the nested one shadows it already
	assert.Equal(t, "value", bv.Name(bv.Register("c.js", js_ast.TopLevel("value"), "")))
}

func TestLinks(t *testing.T) {
	bv := NewBundleVariables()
	target := bv.Register("a.js", js_ast.TopLevel("value"), "")
	bv.Register("b.js", js_ast.TopLevel("value"), "")
	bv.Link("c.js", js_ast.TopLevel("v"), target)

	assert.Equal(t, "value", bv.RenderedName("c.js", js_ast.TopLevel("v")))
	i, ok := bv.Lookup("c.js", js_ast.TopLevel("v"))
	assert.True(t, ok)
	assert.Equal(t, target, i)
	assert.Equal(t, "", bv.RenderedName("c.js", js_ast.TopLevel("missing")))

	assert.NotPanics(t, func() { bv.Link("c.js", js_ast.TopLevel("v"), target) })
	assert.Panics(t, func() { bv.Link("b.js", js_ast.TopLevel("value"), target) })
}

func TestRenamesAreInjective(t *testing.T) {
	bv := NewBundleVariables()
	bv.Reserve("x$1")
	seen := map[string]bool{}
	for _, owner := range []string{"a.js", "b.js", "c.js", "d.js"} {
		for _, name := range []string{"x", "x$1", "y"} {
			rename := bv.Name(bv.Register(graph.ModuleId(owner), js_ast.TopLevel(name), ""))
			assert.False(t, seen[rename], "duplicate %s", rename)
			seen[rename] = true
		}
	}
}
