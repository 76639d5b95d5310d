package linker

// This package implements the second half of a build: it turns the resource
// pots that partial bundling produced into resources. Every script pot is
// one ES module. Its modules are concatenated in execution order into a
// single top-level scope, with imports between them rewritten into plain
// references. Bindings that one pot reads from another become real imports
// and exports under stable keys, so pots can be loaded in any combination.
// Each compilation entry also gets a small facade module that re-exports the
// entry's names from wherever they ended up.

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

type Options struct {
	PublicPath    string
	EntryFilename string
	Platform      config.Platform

	// Inline code injected into html entries, such as the HMR client
	HtmlInlineScript string
}

func OptionsFromConfig(o *config.Options) Options {
	return Options{
		PublicPath:    o.Output.PublicPath,
		EntryFilename: o.Output.EntryFilename,
		Platform:      o.Platform(),
	}
}

// Input is everything a render reads. The caller holds the read locks of
// both graphs for the duration of the call.
type Input struct {
	Graph   *graph.ModuleGraph
	Groups  *graph.ModuleGroupGraph
	Pots    []*resource.ResourcePot
	Exports *Exports

	// Nil keeps every statement
	Usage *Usage
}

type Linker struct {
	options Options
	log     logger.Log

	// The export keys of every pot as of its last render. A pot
	// whose keys change must be rendered again even if none of its modules
	// did.
	exported map[string]string
}

func New(options Options, log logger.Log) *Linker {
	if options.EntryFilename == "" {
		options.EntryFilename = "[entryName].js"
	}
	return &Linker{options: options, log: log, exported: make(map[string]string)}
}

type linkContext struct {
	options Options
	in      Input
	potOf   map[graph.ModuleId]*resource.ResourcePot
	pots    map[string]*resource.ResourcePot
}

func newLinkContext(options Options, in Input) *linkContext {
	c := &linkContext{
		options: options,
		in:      in,
		potOf:   make(map[graph.ModuleId]*resource.ResourcePot),
		pots:    make(map[string]*resource.ResourcePot, len(in.Pots)),
	}
	for _, pot := range in.Pots {
		c.pots[pot.Id] = pot
		for _, id := range pot.Modules {
			c.potOf[id] = pot
		}
	}
	return c
}

// Render renders every pot "dirty" accepts, every pot whose exports changed
// since the last render, and every entry facade. A nil "dirty" renders all
// pots. Resources are returned sorted by name.
func (l *Linker) Render(ctx context.Context, in Input, dirty func(pot *resource.ResourcePot) bool) ([]*resource.Resource, error) {
	c := newLinkContext(l.options, in)

	var scriptPots []*resource.ResourcePot
	for _, pot := range in.Pots {
		if pot.Type == resource.PotJs {
			scriptPots = append(scriptPots, pot)
		}
	}

	// Planning decides every name and edit but not the pot's own exports,
	// which depend on what the other pots read from it
	plans := make([]*scriptPlan, len(scriptPots))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, pot := range scriptPots {
		i, pot := i, pot
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			plans[i] = c.planScriptPot(pot)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	exports := make(map[string]map[string]binding)
	addNeeds := func(needs []neededBinding) {
		for _, need := range needs {
			keys := exports[need.pot]
			if keys == nil {
				keys = make(map[string]binding)
				exports[need.pot] = keys
			}
			keys[need.b.exportKey()] = need.b
		}
	}
	for _, plan := range plans {
		addNeeds(plan.needs)
	}
	var facades []*resource.Resource
	for _, entry := range in.Graph.Entries() {
		facade, needs := c.renderFacade(entry)
		if facade != nil {
			facades = append(facades, facade)
			addNeeds(needs)
		}
	}

	planOf := make(map[string]*scriptPlan, len(plans))
	for _, plan := range plans {
		planOf[plan.pot.Id] = plan
	}

	// A pot that loads a pot which did not exist at the last render refers
	// to it by a file name that is new too
	loadsNewPot := func(pot *resource.ResourcePot) bool {
		var loaded []string
		switch pot.Type {
		case resource.PotJs:
			loaded = planOf[pot.Id].crossOrder
		case resource.PotHtml:
			for _, id := range pot.Modules {
				for _, groupPot := range c.groupPots(graph.ModuleGroupId(id)) {
					loaded = append(loaded, groupPot.Id)
				}
			}
		}
		for _, id := range loaded {
			if _, ok := l.exported[id]; !ok {
				return true
			}
		}
		return false
	}

	selected := make(map[string]bool, len(in.Pots))
	exported := make(map[string]string, len(in.Pots))
	for _, pot := range in.Pots {
		signature := strings.Join(sortedKeys(exports[pot.Id]), ",")
		exported[pot.Id] = signature
		previous, seen := l.exported[pot.Id]
		if dirty == nil || dirty(pot) || !seen || previous != signature || loadsNewPot(pot) {
			selected[pot.Id] = true
		}
	}
	l.exported = exported

	results := make([]*resource.Resource, len(in.Pots))
	group, groupCtx = errgroup.WithContext(ctx)
	for i, pot := range in.Pots {
		if !selected[pot.Id] {
			continue
		}
		i, pot := i, pot
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			var bytes []byte
			var err error
			switch pot.Type {
			case resource.PotJs:
				bytes = planOf[pot.Id].finish(exports[pot.Id])
			case resource.PotCss:
				bytes = c.renderCssPot(pot)
			case resource.PotHtml:
				bytes, err = c.renderHtmlPot(pot)
			default:
				bytes = c.renderCustomPot(pot)
			}
			if err != nil {
				return err
			}
			results[i] = &resource.Resource{
				Name:    c.resourceName(pot),
				Bytes:   bytes,
				Type:    resource.ResourceTypeOf(pot.Type),
				Origin:  resource.Origin{Pot: pot.Id},
				Emitted: true,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var out []*resource.Resource
	for i, r := range results {
		if r != nil {
			in.Pots[i].Resource = r.Name
			out = append(out, r)
		}
	}
	out = append(out, facades...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// The pots a group loads in the order they should be loaded: by the
// earliest module each one executes
func (c *linkContext) groupPots(id graph.ModuleGroupId) []*resource.ResourcePot {
	if c.in.Groups == nil {
		return nil
	}
	group := c.in.Groups.Group(id)
	if group == nil {
		return nil
	}
	pots := make([]*resource.ResourcePot, 0, len(group.ResourcePots))
	for _, potId := range group.ResourcePots {
		if pot := c.pots[potId]; pot != nil {
			pots = append(pots, pot)
		}
	}
	first := func(pot *resource.ResourcePot) int {
		order := int(^uint(0) >> 1)
		for _, id := range pot.Modules {
			if m := c.in.Graph.Module(id); m != nil && m.ExecutionOrder < order {
				order = m.ExecutionOrder
			}
		}
		return order
	}
	sort.SliceStable(pots, func(i, j int) bool {
		a, b := first(pots[i]), first(pots[j])
		if a != b {
			return a < b
		}
		return pots[i].Id < pots[j].Id
	})
	return pots
}

// Html entries keep the name of their entry, so the page is served from a
// predictable path
func (c *linkContext) resourceName(pot *resource.ResourcePot) string {
	if pot.Type == resource.PotHtml && pot.EntryModule != "" {
		for _, entry := range c.in.Graph.Entries() {
			if entry.Id == pot.EntryModule {
				return entry.Name + pot.Type.Ext()
			}
		}
	}
	return pot.FileName()
}

func (c *linkContext) url(fileName string) string {
	return c.options.PublicPath + fileName
}

func (c *linkContext) entryFileName(name string) string {
	return strings.ReplaceAll(c.options.EntryFilename, "[entryName]", name)
}
