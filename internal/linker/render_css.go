package linker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/html_parser"
	"github.com/farm-fe/farm-sub000/internal/js_printer"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// Stylesheets are concatenated in pot order. Imports of bundled stylesheets
// are dropped since their rules are already in a pot of the same group, and
// urls of assets are rewritten to the emitted file.
func (c *linkContext) renderCssPot(pot *resource.ResourcePot) []byte {
	g := c.in.Graph
	j := helpers.Joiner{}
	for _, id := range pot.Modules {
		m := g.Module(id)
		if m == nil {
			continue
		}
		edits := js_printer.Edits{}
		if m.Meta.Kind == graph.MetaCss {
			for _, dep := range m.Meta.AsCss().Deps {
				target, ok := g.DependencyBySource(id, dep.Source)
				if !ok {
					continue
				}
				tm := g.Module(target)
				if tm == nil || tm.External {
					continue
				}
				switch dep.Kind {
				case graph.ResolveCssAtImport:
					if tm.ModuleType == graph.ModuleTypeCss {
						edits.Remove(dep.Start, dep.End)
					}
				case graph.ResolveCssUrl:
					if url, ok := assetURL(tm); ok {
						edits.Replace(dep.Start, dep.End, url)
					}
				}
			}
		}
		j.AddLine("/* " + string(id) + " */")
		j.AddString(edits.Apply(m.Content, 0, int32(len(m.Content))))
		j.EnsureNewlineAtEnd()
	}
	return j.Done()
}

// The public url an asset module was emitted under
func assetURL(m *graph.Module) (string, bool) {
	if m.ModuleType != graph.ModuleTypeAsset {
		return "", false
	}
	text := strings.TrimSpace(m.Content)
	text = strings.TrimPrefix(text, "export default ")
	text = strings.TrimSuffix(text, ";")
	url, err := strconv.Unquote(text)
	if err != nil {
		return "", false
	}
	return url, true
}

// Html entries keep their markup. Tags of bundled dependencies are replaced
// by ones that load the pots of the entry's group.
func (c *linkContext) renderHtmlPot(pot *resource.ResourcePot) ([]byte, error) {
	g := c.in.Graph
	j := helpers.Joiner{}
	for _, id := range pot.Modules {
		m := g.Module(id)
		if m == nil || m.Meta.Kind != graph.MetaHtml {
			continue
		}
		bundled := func(dep graph.HtmlDep) bool {
			target, ok := g.DependencyBySource(id, dep.Source)
			if !ok {
				return false
			}
			tm := g.Module(target)
			return tm != nil && !tm.External
		}
		tags := html_parser.Tags{InlineScript: c.options.HtmlInlineScript}
		for _, groupPot := range c.groupPots(graph.ModuleGroupId(id)) {
			switch groupPot.Type {
			case resource.PotJs:
				tags.Scripts = append(tags.Scripts, c.url(groupPot.FileName()))
			case resource.PotCss:
				tags.Styles = append(tags.Styles, c.url(groupPot.FileName()))
			}
		}
		html, err := html_parser.Rewrite(m.Content, bundled, tags)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		j.AddString(html)
	}
	return j.Done(), nil
}

func (c *linkContext) renderCustomPot(pot *resource.ResourcePot) []byte {
	j := helpers.Joiner{}
	for _, id := range pot.Modules {
		if m := c.in.Graph.Module(id); m != nil {
			j.AddString(m.Content)
			j.EnsureNewlineAtEnd()
		}
	}
	return j.Done()
}
