package js_ast

import (
	"fmt"
	"sort"
)

// Every binding is identified by its name plus the syntax context it was
// declared in. Only two contexts survive analysis: top-level bindings and
// synthetic bindings that the linker creates. References to names that are
// not declared anywhere in the module use the unresolved context.
type SyntaxContext uint32

const (
	CtxtUnresolved SyntaxContext = iota
	CtxtTopLevel
	CtxtSynthetic
)

type Ident struct {
	Name string        `msgpack:"n"`
	Ctxt SyntaxContext `msgpack:"c"`
}

func TopLevel(name string) Ident {
	return Ident{Name: name, Ctxt: CtxtTopLevel}
}

func Synthetic(name string) Ident {
	return Ident{Name: name, Ctxt: CtxtSynthetic}
}

func (i Ident) String() string {
	return fmt.Sprintf("%s#%d", i.Name, i.Ctxt)
}

func (i Ident) IsZero() bool {
	return i.Name == ""
}

func lessIdent(a Ident, b Ident) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Ctxt < b.Ctxt
}

// SortIdents sorts in place and drops duplicates
func SortIdents(idents []Ident) []Ident {
	if len(idents) < 2 {
		return idents
	}
	sort.Slice(idents, func(i, j int) bool { return lessIdent(idents[i], idents[j]) })
	end := 1
	for _, ident := range idents[1:] {
		if ident != idents[end-1] {
			idents[end] = ident
			end++
		}
	}
	return idents[:end]
}

func ContainsIdent(idents []Ident, ident Ident) bool {
	for _, item := range idents {
		if item == ident {
			return true
		}
	}
	return false
}

type ModuleSystem uint8

const (
	ModuleSystemUnknown ModuleSystem = iota
	ModuleSystemEsModule
	ModuleSystemCommonJs

	// Both "import"/"export" statements and "module.exports" or "require"
	ModuleSystemHybrid
)

func (s ModuleSystem) String() string {
	switch s {
	case ModuleSystemEsModule:
		return "esm"
	case ModuleSystemCommonJs:
		return "cjs"
	case ModuleSystemHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// IsCommonJsLike means the module body must be wrapped in a factory
func (s ModuleSystem) IsCommonJsLike() bool {
	return s == ModuleSystemCommonJs || s == ModuleSystemHybrid
}

// These are ordered from least to most observable. Merging two
// classifications keeps the stronger one.
type StatementSideEffects uint8

const (
	SideEffectsNone StatementSideEffects = iota
	SideEffectsReadTopLevel
	SideEffectsWriteTopLevel
	SideEffectsWriteGlobal
	SideEffectsUnclassifiedSelfExecuted
)

func (s StatementSideEffects) Merge(other StatementSideEffects) StatementSideEffects {
	if other > s {
		return other
	}
	return s
}

// IsPreserved means the statement must survive tree shaking even when
// nothing it defines is used
func (s StatementSideEffects) IsPreserved() bool {
	return s >= SideEffectsWriteGlobal
}

func (s StatementSideEffects) String() string {
	switch s {
	case SideEffectsReadTopLevel:
		return "reads-top-level"
	case SideEffectsWriteTopLevel:
		return "writes-top-level"
	case SideEffectsWriteGlobal:
		return "writes-global"
	case SideEffectsUnclassifiedSelfExecuted:
		return "unclassified-self-executed"
	default:
		return "none"
	}
}

type ImportSpecifierKind uint8

const (
	ImportNamed ImportSpecifierKind = iota
	ImportDefault
	ImportNamespace
)

type ImportSpecifier struct {
	Kind  ImportSpecifierKind `msgpack:"k"`
	Local Ident               `msgpack:"l"`

	// Only set for named imports where the imported name differs from the
	// local name, as in "import { a as b }"
	Imported string `msgpack:"i,omitempty"`
}

// ImportedName is the export name this specifier binds to in the target
func (s ImportSpecifier) ImportedName() string {
	switch s.Kind {
	case ImportDefault:
		return "default"
	case ImportNamespace:
		return ExportNamespace
	}
	if s.Imported != "" {
		return s.Imported
	}
	return s.Local.Name
}

type ImportInfo struct {
	Source             string            `msgpack:"s"`
	Specifiers         []ImportSpecifier `msgpack:"sp"`
	IsSideEffectImport bool              `msgpack:"se"`
}

type ExportSpecifierKind uint8

const (
	ExportNamed ExportSpecifierKind = iota
	ExportDefault
	ExportNamespaceSpecifier
	ExportAll
)

type ExportSpecifier struct {
	Kind ExportSpecifierKind `msgpack:"k"`

	// For named exports this is the local binding (or the imported name when
	// the export has a source). For default exports it is the binding that
	// holds the value.
	Local Ident `msgpack:"l"`

	// The public name. Empty means the same as the local name.
	Exported string `msgpack:"e,omitempty"`
}

func (s ExportSpecifier) ExportedName() string {
	switch s.Kind {
	case ExportDefault:
		return "default"
	case ExportAll:
		return ""
	}
	if s.Exported != "" {
		return s.Exported
	}
	return s.Local.Name
}

type ExportInfo struct {
	Source     string            `msgpack:"s,omitempty"`
	Specifiers []ExportSpecifier `msgpack:"sp"`

	// For "export <declaration>" this is where the declaration starts, so that
	// stripping the keyword keeps [DeclStart, End).
	DeclStart int32 `msgpack:"ds"`

	// For "export default <expression>" this is the expression's range. It is
	// zero-length for every other form.
	DefaultExprStart int32 `msgpack:"des"`
	DefaultExprEnd   int32 `msgpack:"dee"`
}

func (e *ExportInfo) HasDefaultExpr() bool {
	return e.DefaultExprEnd > e.DefaultExprStart
}

// A single occurrence of a top-level binding inside the module source. The
// linker renames bindings by rewriting these ranges.
type IdentRef struct {
	Start int32 `msgpack:"s"`
	End   int32 `msgpack:"e"`
	Ident Ident `msgpack:"i"`

	// "{ a }" in an object literal must become "{ a: a$1 }" when renamed
	Shorthand bool `msgpack:"sh,omitempty"`
}

type CallKind uint8

const (
	CallRequire CallKind = iota
	CallDynamicImport
)

// A "require(...)" or "import(...)" call with a string literal argument
type CallRef struct {
	Start  int32    `msgpack:"s"`
	End    int32    `msgpack:"e"`
	Source string   `msgpack:"src"`
	Kind   CallKind `msgpack:"k"`
}

const (
	// The key used for the namespace object of a module
	ExportNamespace = "*"

	// The key used for a module's commonjs exports object
	ExportCommonJs = "module.exports"
)

type Statement struct {
	Id    int   `msgpack:"id"`
	Start int32 `msgpack:"s"`
	End   int32 `msgpack:"e"`

	DefinedIdents []Ident `msgpack:"d"`
	UsedIdents    []Ident `msgpack:"u"`
	WrittenIdents []Ident `msgpack:"w"`

	Import *ImportInfo `msgpack:"im,omitempty"`
	Export *ExportInfo `msgpack:"ex,omitempty"`

	SideEffects StatementSideEffects `msgpack:"se"`

	Refs  []IdentRef `msgpack:"r"`
	Calls []CallRef  `msgpack:"c"`
}

func (s *Statement) Defines(ident Ident) bool {
	return ContainsIdent(s.DefinedIdents, ident)
}

type ExportIdentType uint8

const (
	ExportIdentDeclaration ExportIdentType = iota
	ExportIdentExternal
	ExportIdentExternalExportAll
	ExportIdentUnresolvedExportAll
	ExportIdentAmbiguousExportAll
	ExportIdentVirtualNamespace
	ExportIdentUnresolved
)

func (t ExportIdentType) String() string {
	switch t {
	case ExportIdentDeclaration:
		return "declaration"
	case ExportIdentExternal:
		return "external"
	case ExportIdentExternalExportAll:
		return "external-export-all"
	case ExportIdentUnresolvedExportAll:
		return "unresolved-export-all"
	case ExportIdentAmbiguousExportAll:
		return "ambiguous-export-all"
	case ExportIdentVirtualNamespace:
		return "virtual-namespace"
	default:
		return "unresolved"
	}
}

// The canonical binding an export name resolves to
type ModuleExportIdent struct {
	ModuleId string
	Ident    Ident
	Type     ExportIdentType

	// Set when the value is a property of a commonjs exports object, in
	// which case Ident is the module's factory
	Property string
}

func (e ModuleExportIdent) IsCommonJsProperty() bool {
	return e.Property != ""
}

type ScriptMeta struct {
	Statements []Statement `msgpack:"stmts"`

	TopLevelIdents          []Ident  `msgpack:"top"`
	UnresolvedIdents        []string `msgpack:"unresolved"`
	AllDeeplyDeclaredIdents []string `msgpack:"deep"`

	ModuleSystem    ModuleSystem `msgpack:"system"`
	HmrSelfAccepted bool         `msgpack:"hmr"`

	// Set by the linker on every link. Never persisted.
	ExportIdentMap          map[string]ModuleExportIdent   `msgpack:"-"`
	ReexportIdentMap        map[string]ModuleExportIdent   `msgpack:"-"`
	AmbiguousExportIdentMap map[string][]ModuleExportIdent `msgpack:"-"`
}

func (m *ScriptMeta) HasExports() bool {
	for i := range m.Statements {
		if m.Statements[i].Export != nil {
			return true
		}
	}
	return false
}

// DefaultIdent is the synthetic binding that holds an anonymous default export
func DefaultIdent() Ident {
	return Synthetic("default")
}

// NamespaceIdent is the synthetic binding for "import * as" of this module
func NamespaceIdent() Ident {
	return Synthetic("ns")
}

// CommonJsIdent is the synthetic binding for the module's factory
func CommonJsIdent() Ident {
	return Synthetic("cjs")
}
