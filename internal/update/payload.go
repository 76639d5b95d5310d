package update

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// Reload is sent in place of resources when an update cannot be applied to
// a running page
const Reload = "window.location.reload()"

// ClientGlobal is the object the HMR client installs on the page. Resource
// snippets call into it.
const ClientGlobal = "__farm_hmr__"

// Payload is sent to HMR clients as JSON. The resource fields are script
// expressions the client evaluates: each returns a promise that settles once
// the new resources are loaded.
type Payload struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`

	ImmutableResources string `json:"immutableResources"`
	MutableResources   string `json:"mutableResources"`

	// Updated module -> chains of importers ending at a module that accepts
	// its own updates, or at an entry
	Boundaries map[string][][]string `json:"boundaries"`

	// Dynamic group entry -> [resource name, resource type] of every
	// resource the group loads
	DynamicResourcesMap map[string][][2]string `json:"dynamicResourcesMap"`
}

func newPayload() *Payload {
	return &Payload{
		Added:               []string{},
		Removed:             []string{},
		Updated:             []string{},
		Boundaries:          map[string][][]string{},
		DynamicResourcesMap: map[string][][2]string{},
	}
}

func (p *Payload) Empty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0 && len(p.Updated) == 0 &&
		p.ImmutableResources == "" && p.MutableResources == ""
}

func (p *Payload) IsReload() bool {
	return p.ImmutableResources == Reload
}

func (p *Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

func idStrings(ids []graph.ModuleId) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return strs
}

// loadSnippet loads every resource again under a fresh query so the browser
// does not return the copy it already has
func loadSnippet(publicPath string, version int, resources []*resource.Resource) string {
	if len(resources) == 0 {
		return ""
	}
	query := "?t=" + strconv.Itoa(version)
	var loads []string
	for _, r := range resources {
		url := helpers.QuoteForJS(publicPath + r.Name + query)
		switch r.Type {
		case resource.ResourceJs:
			loads = append(loads, "import("+url+")")
		case resource.ResourceCss:
			loads = append(loads, ClientGlobal+".css("+url+")")
		}
	}
	if len(loads) == 0 {
		return ""
	}
	return "Promise.all([" + strings.Join(loads, ", ") + "])"
}

// boundaries walks importers from an updated module. A chain ends at the
// first module that accepts its own updates or at an entry. Importers that
// are already on the chain are skipped, so cycles end the walk.
func boundaries(g *graph.ModuleGraph, id graph.ModuleId) [][]string {
	var chains [][]string
	var walk func(chain []graph.ModuleId, onChain map[graph.ModuleId]bool)
	walk = func(chain []graph.ModuleId, onChain map[graph.ModuleId]bool) {
		last := g.Module(chain[len(chain)-1])
		if last == nil {
			return
		}
		if selfAccepting(last) || last.IsEntry {
			chains = append(chains, idStrings(chain))
			return
		}
		for _, importer := range g.Dependents(last.Id) {
			if onChain[importer] {
				continue
			}
			onChain[importer] = true
			walk(append(append([]graph.ModuleId{}, chain...), importer), onChain)
			delete(onChain, importer)
		}
	}
	walk([]graph.ModuleId{id}, map[graph.ModuleId]bool{id: true})
	if chains == nil {
		chains = [][]string{}
	}
	return chains
}

func selfAccepting(m *graph.Module) bool {
	return m.IsScript() && m.Meta.AsScript().HmrSelfAccepted
}
