package partial_bundling

import (
	"fmt"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// verify panics unless every module is in exactly one pot and every pot
// holds a single pot type and mutability
func verify(modules []*graph.Module, pots []*resource.ResourcePot) {
	expected := make(map[graph.ModuleId]*graph.Module, len(modules))
	for _, m := range modules {
		expected[m.Id] = m
	}

	owner := make(map[graph.ModuleId]string, len(modules))
	ids := make(map[string]bool, len(pots))
	for _, pot := range pots {
		if ids[pot.Id] {
			panic(fmt.Sprintf("Internal error: duplicate resource pot id %q", pot.Id))
		}
		ids[pot.Id] = true
		if len(pot.Modules) == 0 {
			panic(fmt.Sprintf("Internal error: resource pot %q is empty", pot.Id))
		}

		for _, id := range pot.Modules {
			m := expected[id]
			if m == nil {
				panic(fmt.Sprintf("Internal error: resource pot %q contains unknown module %q", pot.Id, id))
			}
			if other, ok := owner[id]; ok {
				panic(fmt.Sprintf("Internal error: module %q is in both %q and %q", id, other, pot.Id))
			}
			owner[id] = pot.Id
			if resource.PotTypeOf(m.ModuleType) != pot.Type {
				panic(fmt.Sprintf("Internal error: %s module %q is in %s resource pot %q", m.ModuleType, id, pot.Type, pot.Id))
			}
			if m.Immutable && !pot.Immutable {
				panic(fmt.Sprintf("Internal error: immutable module %q is in mutable resource pot %q", id, pot.Id))
			}
		}
	}

	for _, m := range modules {
		if _, ok := owner[m.Id]; !ok {
			panic(fmt.Sprintf("Internal error: module %q is not in any resource pot", m.Id))
		}
	}
}

// AttachResourcePots records the pots on the modules and module groups they
// belong to. The caller holds both write locks.
func AttachResourcePots(g *graph.ModuleGraph, gg *graph.ModuleGroupGraph, pots []*resource.ResourcePot) {
	for _, pot := range pots {
		for _, id := range pot.Modules {
			if m := g.Module(id); m != nil {
				m.ResourcePots = []string{pot.Id}
			}
		}
	}
	for _, group := range gg.Groups() {
		group.ResourcePots = group.ResourcePots[:0]
		for _, pot := range pots {
			if pot.ModuleGroups.Has(group.Id) {
				group.ResourcePots = append(group.ResourcePots, pot.Id)
			}
		}
	}
}
