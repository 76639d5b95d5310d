package html_parser

// HTML entries are streamed through the tokenizer instead of being parsed
// into a tree. That keeps everything the bundler does not touch byte for
// byte identical in the output.

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/farm-fe/farm-sub000/internal/css_parser"
	"github.com/farm-fe/farm-sub000/internal/graph"
)

func Parse(source string) (*graph.HtmlMeta, error) {
	meta := &graph.HtmlMeta{}
	tokenizer := html.NewTokenizer(strings.NewReader(source))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			if err := tokenizer.Err(); err != io.EOF {
				return nil, fmt.Errorf("invalid html: %w", err)
			}
			return meta, nil
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		if dep, ok := tagDep(tokenizer); ok {
			meta.Deps = append(meta.Deps, dep)
		}
	}
}

func tagDep(tokenizer *html.Tokenizer) (graph.HtmlDep, bool) {
	name, hasAttr := tokenizer.TagName()
	attrs := readAttrs(tokenizer, hasAttr)
	switch string(name) {
	case "script":
		if src := attrs["src"]; src != "" && css_parser.IsBundledURL(src) {
			return graph.HtmlDep{Source: src, Kind: graph.ResolveHtmlScript}, true
		}
	case "link":
		if strings.EqualFold(attrs["rel"], "stylesheet") {
			if href := attrs["href"]; href != "" && css_parser.IsBundledURL(href) {
				return graph.HtmlDep{Source: href, Kind: graph.ResolveHtmlLink}, true
			}
		}
	}
	return graph.HtmlDep{}, false
}

func readAttrs(tokenizer *html.Tokenizer, more bool) map[string]string {
	attrs := make(map[string]string)
	for more {
		var key, val []byte
		key, val, more = tokenizer.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

type Tags struct {
	Styles  []string
	Scripts []string

	// Inline code placed before the scripts, such as the HMR client
	InlineScript string
}

// Rewrite drops every tag whose dependency is bundled and injects the tags
// for the entry's resources. Styles go before "</head>" and scripts before
// "</body>". Missing head or body tags mean the tags are appended at the end.
func Rewrite(source string, bundled func(dep graph.HtmlDep) bool, tags Tags) (string, error) {
	var out bytes.Buffer
	tokenizer := html.NewTokenizer(strings.NewReader(source))
	wroteStyles := false
	wroteScripts := false
	skipScriptBody := false

	writeStyles := func() {
		for _, href := range tags.Styles {
			fmt.Fprintf(&out, "<link rel=\"stylesheet\" href=\"%s\">", html.EscapeString(href))
		}
		wroteStyles = true
	}
	writeScripts := func() {
		if tags.InlineScript != "" {
			fmt.Fprintf(&out, "<script type=\"module\">%s</script>", tags.InlineScript)
		}
		for _, src := range tags.Scripts {
			fmt.Fprintf(&out, "<script type=\"module\" src=\"%s\"></script>", html.EscapeString(src))
		}
		wroteScripts = true
	}

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			if err := tokenizer.Err(); err != io.EOF {
				return "", fmt.Errorf("invalid html: %w", err)
			}
			break
		}
		raw := tokenizer.Raw()

		if skipScriptBody {
			if tt == html.EndTagToken {
				if name, _ := tokenizer.TagName(); string(name) == "script" {
					skipScriptBody = false
				}
			}
			continue
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			// The tokenizer reuses its buffer so the raw bytes are copied first
			raw = append([]byte{}, raw...)
			if dep, ok := tagDep(tokenizer); ok && bundled(dep) {
				if dep.Kind == graph.ResolveHtmlScript && tt == html.StartTagToken {
					skipScriptBody = true
				}
				continue
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "head":
				if !wroteStyles {
					writeStyles()
				}
			case "body":
				if !wroteStyles {
					writeStyles()
				}
				if !wroteScripts {
					writeScripts()
				}
			}
		}
		out.Write(raw)
	}

	if !wroteStyles {
		writeStyles()
	}
	if !wroteScripts {
		writeScripts()
	}
	return out.String(), nil
}
