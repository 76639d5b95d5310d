package resource

import (
	"sort"

	"github.com/farm-fe/farm-sub000/internal/graph"
)

type PotType uint8

const (
	PotJs PotType = iota
	PotCss
	PotHtml
	PotCustom
)

func (t PotType) String() string {
	switch t {
	case PotJs:
		return "js"
	case PotCss:
		return "css"
	case PotHtml:
		return "html"
	default:
		return "custom"
	}
}

// Ext is the file extension of the resource rendered from a pot
func (t PotType) Ext() string {
	switch t {
	case PotCss:
		return ".css"
	case PotHtml:
		return ".html"
	default:
		return ".js"
	}
}

// PotTypeOf maps a module to the pot type it is rendered into. Assets are
// loaded as scripts that export their URL, so they share script pots.
func PotTypeOf(t graph.ModuleType) PotType {
	switch t {
	case graph.ModuleTypeCss:
		return PotCss
	case graph.ModuleTypeHtml:
		return PotHtml
	case graph.ModuleTypeCustom:
		return PotCustom
	default:
		return PotJs
	}
}

// A resource pot is the unit partial bundling produces. Every module is in
// exactly one pot, and each pot renders to one resource.
type ResourcePot struct {
	Id   string
	Name string
	Type PotType

	// In execution order once the pot has been finalized
	Modules []graph.ModuleId

	// Set when the pot holds a compilation entry or an html entry
	EntryModule graph.ModuleId

	Immutable    bool
	ModuleGroups graph.ModuleGroupSet

	// Name of the resource this pot rendered to
	Resource string
}

func (p *ResourcePot) HasModule(id graph.ModuleId) bool {
	for _, m := range p.Modules {
		if m == id {
			return true
		}
	}
	return false
}

func (p *ResourcePot) FileName() string {
	return p.Id + p.Type.Ext()
}

type ResourceType uint8

const (
	ResourceJs ResourceType = iota
	ResourceCss
	ResourceHtml
	ResourceAsset
	ResourceSourceMap
)

func (t ResourceType) String() string {
	switch t {
	case ResourceJs:
		return "js"
	case ResourceCss:
		return "css"
	case ResourceHtml:
		return "html"
	case ResourceSourceMap:
		return "map"
	default:
		return "asset"
	}
}

func ResourceTypeOf(t PotType) ResourceType {
	switch t {
	case PotCss:
		return ResourceCss
	case PotHtml:
		return ResourceHtml
	case PotJs:
		return ResourceJs
	default:
		return ResourceAsset
	}
}

type Origin struct {
	// Exactly one of these is set
	Pot    string
	Module graph.ModuleId
}

// A resource is one output file
type Resource struct {
	Name   string
	Bytes  []byte
	Type   ResourceType
	Origin Origin

	// Emitted is false for resources that only exist in memory, such as
	// the inputs of an incremental update payload
	Emitted bool
}

// Map is the resource set of a compilation, keyed by name
type Map map[string]*Resource

func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m Map) Add(r *Resource) {
	m[r.Name] = r
}

func SortPots(pots []*ResourcePot) []*ResourcePot {
	sort.Slice(pots, func(i, j int) bool { return pots[i].Id < pots[j].Id })
	return pots
}
