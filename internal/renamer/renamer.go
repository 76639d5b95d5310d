package renamer

// BundleVariables gives every top-level binding of a resource pot a single
// rendered name. Bindings are interned the first time they are seen and are
// addressed by small integer indices afterwards. An import of a binding from
// another module of the same pot is linked to the target's index instead of
// getting a name of its own.

import (
	"fmt"
	"strconv"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/js_ast"
)

type Index uint32

type Variable struct {
	Ident js_ast.Ident
	Owner graph.ModuleId

	// The rendered name
	Rename string

	// Placeholders stand for runtime helpers. Their name is fixed and they
	// have no owner.
	Placeholder bool

	// Set when this entry is an alias of a binding in another module
	link  Index
	alias bool
}

type key struct {
	owner graph.ModuleId
	ident js_ast.Ident
}

type BundleVariables struct {
	vars    []Variable
	byKey   map[key]Index
	helpers map[string]Index

	// name -> last suffix used for it, like esbuild's number renamer
	nameCounts map[string]uint32

	// name -> modules that declare it in a nested scope
	deep map[string]map[graph.ModuleId]struct{}
}

func NewBundleVariables() *BundleVariables {
	return &BundleVariables{
		byKey:      make(map[key]Index),
		helpers:    make(map[string]Index),
		nameCounts: make(map[string]uint32),
		deep:       make(map[string]map[graph.ModuleId]struct{}),
	}
}

// Reserve blocks a name for every binding, such as a global that some
// module reads
func (bv *BundleVariables) Reserve(name string) {
	if _, ok := bv.nameCounts[name]; !ok {
		bv.nameCounts[name] = 0
	}
}

// ReserveDeep blocks a name for the top-level bindings of every module other
// than the owner. A binding of the owner may still keep the name when it is
// its source name, since the nested declaration already shadows it there.
func (bv *BundleVariables) ReserveDeep(owner graph.ModuleId, name string) {
	owners := bv.deep[name]
	if owners == nil {
		owners = make(map[graph.ModuleId]struct{})
		bv.deep[name] = owners
	}
	owners[owner] = struct{}{}
}

// RegisterPlaceholder interns a runtime helper under its exact name. The
// name must have been reserved before any binding was registered.
func (bv *BundleVariables) RegisterPlaceholder(name string) Index {
	if i, ok := bv.helpers[name]; ok {
		return i
	}
	i := Index(len(bv.vars))
	bv.vars = append(bv.vars, Variable{Ident: js_ast.Synthetic(name), Rename: name, Placeholder: true})
	bv.helpers[name] = i
	bv.Reserve(name)
	return i
}

// Register interns a binding. The preferred name is used when it is free,
// otherwise the smallest "$N" suffix that is. Registering the same binding
// twice returns the same index.
func (bv *BundleVariables) Register(owner graph.ModuleId, ident js_ast.Ident, preferred string) Index {
	k := key{owner: owner, ident: ident}
	if i, ok := bv.byKey[k]; ok {
		return bv.resolve(i)
	}
	if preferred == "" {
		preferred = ident.Name
	}
	i := Index(len(bv.vars))
	bv.vars = append(bv.vars, Variable{Ident: ident, Owner: owner, Rename: bv.findUnusedName(owner, preferred, ident.Name)})
	bv.byKey[k] = i
	return i
}

// Link makes a binding render as another one. Linking a binding that
// already has a name of its own is an internal error.
func (bv *BundleVariables) Link(owner graph.ModuleId, ident js_ast.Ident, target Index) {
	k := key{owner: owner, ident: ident}
	if i, ok := bv.byKey[k]; ok {
		if bv.resolve(i) == bv.resolve(target) {
			return
		}
		panic(fmt.Sprintf("Internal error: %s in %q is already bound", ident, owner))
	}
	i := Index(len(bv.vars))
	bv.vars = append(bv.vars, Variable{Ident: ident, Owner: owner, link: target, alias: true})
	bv.byKey[k] = i
}

func (bv *BundleVariables) resolve(i Index) Index {
	for bv.vars[i].alias {
		i = bv.vars[i].link
	}
	return i
}

func (bv *BundleVariables) Lookup(owner graph.ModuleId, ident js_ast.Ident) (Index, bool) {
	i, ok := bv.byKey[key{owner: owner, ident: ident}]
	if !ok {
		return 0, false
	}
	return bv.resolve(i), true
}

func (bv *BundleVariables) Name(i Index) string {
	return bv.vars[bv.resolve(i)].Rename
}

// RenderedName returns the name of a registered binding, or "" if the
// binding is unknown
func (bv *BundleVariables) RenderedName(owner graph.ModuleId, ident js_ast.Ident) string {
	if i, ok := bv.Lookup(owner, ident); ok {
		return bv.Name(i)
	}
	return ""
}

func (bv *BundleVariables) Variable(i Index) Variable {
	return bv.vars[bv.resolve(i)]
}

// Len counts interned entries, links included
func (bv *BundleVariables) Len() int {
	return len(bv.vars)
}

// A nested declaration in the owner only shadows the binding's source name.
// Any other name picked for it would be captured there.
func (bv *BundleVariables) isUsed(owner graph.ModuleId, name string, original bool) bool {
	if _, ok := bv.nameCounts[name]; ok {
		return true
	}
	if helpers.IsReservedWord(name) {
		return true
	}
	for other := range bv.deep[name] {
		if other != owner || !original {
			return true
		}
	}
	return false
}

func (bv *BundleVariables) findUnusedName(owner graph.ModuleId, name string, source string) string {
	if !helpers.IsIdentifier(name) {
		name = helpers.ToIdentifier(name)
	}
	original := name == source
	if bv.isUsed(owner, name, original) {
		// Start from the last suffix handed out for this name so repeated
		// collisions stay linear
		tries := bv.nameCounts[name]
		prefix := name
		for {
			tries++
			name = prefix + "$" + strconv.Itoa(int(tries))
			if !bv.isUsed(owner, name, false) {
				break
			}
		}
		if _, ok := bv.nameCounts[prefix]; ok {
			bv.nameCounts[prefix] = tries
		}
	}
	bv.nameCounts[name] = 0
	return name
}
