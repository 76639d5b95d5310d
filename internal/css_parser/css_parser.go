package css_parser

// Only dependencies are extracted from stylesheets. The rules themselves are
// copied through verbatim when a resource pot is rendered, so nothing else in
// the tree is kept.

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"

	"github.com/farm-fe/farm-sub000/internal/graph"
)

// The grammar cannot express every unquoted URL, so error nodes are scanned
// with this instead
var urlInErrorRegexp = regexp.MustCompile(`url\(\s*([^)\s]+)\s*\)`)

func Parse(ctx context.Context, source string) (*graph.CssMeta, error) {
	contents := []byte(source)

	tsParser := sitter.NewParser()
	tsParser.SetLanguage(css.GetLanguage())
	tree, err := tsParser.ParseCtx(ctx, nil, contents)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	meta := &graph.CssMeta{}
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Type() {
		case "import_statement":
			if dep, ok := importDep(node, contents); ok {
				meta.Deps = append(meta.Deps, dep)
			}
			continue

		case "call_expression":
			if dep, ok := urlDep(node, contents); ok {
				meta.Deps = append(meta.Deps, dep)
				continue
			}

		case "ERROR":
			meta.Deps = append(meta.Deps, scanErrorNode(node, contents)...)
			continue
		}

		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return meta, nil
}

func importDep(node *sitter.Node, contents []byte) (graph.CssDep, bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		var source string
		switch child.Type() {
		case "string_value":
			source = unquote(child.Content(contents))
		case "call_expression":
			if _, value, ok := urlArgument(child, contents); ok {
				source = value
			}
		default:
			continue
		}
		if source == "" || !IsBundledURL(source) {
			return graph.CssDep{}, false
		}
		return graph.CssDep{
			Source: source,
			Kind:   graph.ResolveCssAtImport,
			Start:  int32(node.StartByte()),
			End:    int32(node.EndByte()),
		}, true
	}
	return graph.CssDep{}, false
}

func urlDep(node *sitter.Node, contents []byte) (graph.CssDep, bool) {
	arg, value, ok := urlArgument(node, contents)
	if !ok || !IsBundledURL(value) {
		return graph.CssDep{}, false
	}
	return graph.CssDep{
		Source: value,
		Kind:   graph.ResolveCssUrl,
		Start:  int32(arg.StartByte()),
		End:    int32(arg.EndByte()),
	}, true
}

// Returns the node holding the URL text and its unquoted value
func urlArgument(node *sitter.Node, contents []byte) (*sitter.Node, string, bool) {
	if node.NamedChildCount() < 2 {
		return nil, "", false
	}
	name := node.NamedChild(0)
	if name.Type() != "function_name" || !strings.EqualFold(name.Content(contents), "url") {
		return nil, "", false
	}
	args := node.NamedChild(1)
	if args.Type() != "arguments" || args.NamedChildCount() != 1 {
		return nil, "", false
	}
	arg := args.NamedChild(0)
	value := unquote(strings.TrimSpace(arg.Content(contents)))
	if value == "" {
		return nil, "", false
	}
	return arg, value, true
}

func scanErrorNode(node *sitter.Node, contents []byte) (deps []graph.CssDep) {
	start := int(node.StartByte())
	text := contents[start:node.EndByte()]
	for _, match := range urlInErrorRegexp.FindAllSubmatchIndex(text, -1) {
		value := unquote(string(text[match[2]:match[3]]))
		if !IsBundledURL(value) {
			continue
		}
		deps = append(deps, graph.CssDep{
			Source: value,
			Kind:   graph.ResolveCssUrl,
			Start:  int32(start + match[2]),
			End:    int32(start + match[3]),
		})
	}
	return
}

func unquote(text string) string {
	if len(text) >= 2 {
		if q := text[0]; (q == '"' || q == '\'') && text[len(text)-1] == q {
			return text[1 : len(text)-1]
		}
	}
	return text
}

// IsBundledURL reports whether a URL refers to a file the bundler should load.
// Remote URLs, data URLs and fragment references are left alone.
func IsBundledURL(url string) bool {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "http:"),
		strings.HasPrefix(lower, "https:"),
		strings.HasPrefix(lower, "//"),
		strings.HasPrefix(lower, "#"):
		return false
	}
	return true
}
