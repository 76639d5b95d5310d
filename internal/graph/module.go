package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/js_ast"
)

// A module id is the resolved path relative to the project root using "/"
// separators, plus the query string if there is one. External modules use
// the bare specifier.
type ModuleId string

func (id ModuleId) String() string {
	return string(id)
}

// Path strips the query string
func (id ModuleId) Path() string {
	if i := strings.IndexByte(string(id), '?'); i != -1 {
		return string(id[:i])
	}
	return string(id)
}

func (id ModuleId) Query() string {
	if i := strings.IndexByte(string(id), '?'); i != -1 {
		return string(id[i:])
	}
	return ""
}

func SortModuleIds(ids []ModuleId) []ModuleId {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type ModuleType uint8

const (
	ModuleTypeScript ModuleType = iota
	ModuleTypeCss
	ModuleTypeHtml
	ModuleTypeAsset
	ModuleTypeRuntime
	ModuleTypeCustom
)

func (t ModuleType) String() string {
	switch t {
	case ModuleTypeScript:
		return "js"
	case ModuleTypeCss:
		return "css"
	case ModuleTypeHtml:
		return "html"
	case ModuleTypeAsset:
		return "asset"
	case ModuleTypeRuntime:
		return "runtime"
	default:
		return "custom"
	}
}

// IsScriptLike is true for every module rendered into a script resource
func (t ModuleType) IsScriptLike() bool {
	return t == ModuleTypeScript || t == ModuleTypeRuntime || t == ModuleTypeAsset
}

type MetaKind uint8

const (
	MetaNone MetaKind = iota
	MetaScript
	MetaCss
	MetaHtml
	MetaCustom
)

// Meta holds the analysis of one module. It is set once by the parse hook.
// The typed accessors panic when the variant does not match.
type Meta struct {
	Kind   MetaKind           `msgpack:"kind"`
	Script *js_ast.ScriptMeta `msgpack:"script,omitempty"`
	Css    *CssMeta           `msgpack:"css,omitempty"`
	Html   *HtmlMeta          `msgpack:"html,omitempty"`
	Custom map[string][]byte  `msgpack:"custom,omitempty"`
}

func ScriptMeta(meta *js_ast.ScriptMeta) Meta {
	return Meta{Kind: MetaScript, Script: meta}
}

func CssMetaOf(meta *CssMeta) Meta {
	return Meta{Kind: MetaCss, Css: meta}
}

func HtmlMetaOf(meta *HtmlMeta) Meta {
	return Meta{Kind: MetaHtml, Html: meta}
}

func CustomMeta(data map[string][]byte) Meta {
	return Meta{Kind: MetaCustom, Custom: data}
}

func (m *Meta) AsScript() *js_ast.ScriptMeta {
	if m.Kind != MetaScript {
		panic(fmt.Sprintf("Internal error: expected script meta, got kind %d", m.Kind))
	}
	return m.Script
}

func (m *Meta) AsCss() *CssMeta {
	if m.Kind != MetaCss {
		panic(fmt.Sprintf("Internal error: expected css meta, got kind %d", m.Kind))
	}
	return m.Css
}

func (m *Meta) AsHtml() *HtmlMeta {
	if m.Kind != MetaHtml {
		panic(fmt.Sprintf("Internal error: expected html meta, got kind %d", m.Kind))
	}
	return m.Html
}

func (m *Meta) AsCustom() map[string][]byte {
	if m.Kind != MetaCustom {
		panic(fmt.Sprintf("Internal error: expected custom meta, got kind %d", m.Kind))
	}
	return m.Custom
}

type CssDep struct {
	Source string      `msgpack:"s"`
	Kind   ResolveKind `msgpack:"k"`

	// For "@import" this covers the whole rule, for "url()" only the URL text
	Start int32 `msgpack:"st"`
	End   int32 `msgpack:"e"`
}

type CssMeta struct {
	Deps []CssDep `msgpack:"deps"`
}

type HtmlDep struct {
	Source string      `msgpack:"s"`
	Kind   ResolveKind `msgpack:"k"`
}

type HtmlMeta struct {
	Deps []HtmlDep `msgpack:"deps"`
}

type Module struct {
	Id         ModuleId   `msgpack:"id"`
	ModuleType ModuleType `msgpack:"type"`

	// The absolute path the content was loaded from
	ResolvedPath string `msgpack:"path"`

	IsEntry        bool `msgpack:"entry"`
	IsDynamicEntry bool `msgpack:"dynamic"`
	External       bool `msgpack:"external"`
	Immutable      bool `msgpack:"immutable"`
	SideEffects    bool `msgpack:"side_effects"`

	Size        int64  `msgpack:"size"`
	ContentHash string `msgpack:"hash"`

	// The transformed source
	Content string `msgpack:"content"`

	Meta Meta `msgpack:"meta"`

	// These are derived from the graph and are never persisted
	ResourcePots   []string       `msgpack:"-"`
	ModuleGroups   ModuleGroupSet `msgpack:"-"`
	ExecutionOrder int            `msgpack:"-"`

	// Placeholders are inserted before a module is built so that concurrent
	// tasks discovering the same id do not build it twice
	Placeholder bool `msgpack:"-"`
}

func NewModule(id ModuleId) *Module {
	return &Module{Id: id, ModuleGroups: ModuleGroupSet{}, SideEffects: true}
}

func NewPlaceholder(id ModuleId) *Module {
	m := NewModule(id)
	m.Placeholder = true
	return m
}

func NewExternalModule(id ModuleId) *Module {
	m := NewModule(id)
	m.External = true
	return m
}

// Clone returns a shallow copy with fresh derived state. Meta is shared:
// after parse only the linker writes to it and it rebuilds the export maps
// on every link.
func (m *Module) Clone() *Module {
	clone := *m
	clone.ResourcePots = append([]string{}, m.ResourcePots...)
	clone.ModuleGroups = m.ModuleGroups.Clone()
	return &clone
}

func (m *Module) IsScript() bool {
	return !m.External && m.Meta.Kind == MetaScript
}

type ModuleGroupId string

type ModuleGroupSet map[ModuleGroupId]struct{}

func NewModuleGroupSet(ids ...ModuleGroupId) ModuleGroupSet {
	set := make(ModuleGroupSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s ModuleGroupSet) Has(id ModuleGroupId) bool {
	_, ok := s[id]
	return ok
}

func (s ModuleGroupSet) Add(id ModuleGroupId) {
	s[id] = struct{}{}
}

func (s ModuleGroupSet) Remove(id ModuleGroupId) {
	delete(s, id)
}

func (s ModuleGroupSet) Clone() ModuleGroupSet {
	clone := make(ModuleGroupSet, len(s))
	for id := range s {
		clone[id] = struct{}{}
	}
	return clone
}

func (s ModuleGroupSet) Sorted() []ModuleGroupId {
	ids := make([]ModuleGroupId, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s ModuleGroupSet) Equal(other ModuleGroupSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

func (s ModuleGroupSet) Intersects(other ModuleGroupSet) bool {
	for id := range s {
		if other.Has(id) {
			return true
		}
	}
	return false
}

// Key is a canonical string for use as a map key
func (s ModuleGroupSet) Key() string {
	sorted := s.Sorted()
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = string(id)
	}
	return strings.Join(parts, "\x00")
}
