package html_parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/html_parser"
)

const page = `<!doctype html>
<html>
<head>
<title>App</title>
<link rel="stylesheet" href="./main.css">
<link rel="icon" href="./favicon.ico">
<script src="https://cdn.example.com/analytics.js"></script>
</head>
<body>
<div id="root"></div>
<script type="module" src="./main.ts"></script>
</body>
</html>
`

func TestParse(t *testing.T) {
	meta, err := html_parser.Parse(page)
	require.NoError(t, err)
	assert.Equal(t, []graph.HtmlDep{
		{Source: "./main.css", Kind: graph.ResolveHtmlLink},
		{Source: "./main.ts", Kind: graph.ResolveHtmlScript},
	}, meta.Deps)
}

func TestRewrite(t *testing.T) {
	out, err := html_parser.Rewrite(page, func(graph.HtmlDep) bool { return true }, html_parser.Tags{
		Styles:  []string{"/index_1a2b3c4d.css"},
		Scripts: []string{"/index_5e6f7a8b.js"},
	})
	require.NoError(t, err)

	assert.NotContains(t, out, "./main.css")
	assert.NotContains(t, out, "./main.ts")
	assert.Contains(t, out, `<link rel="icon" href="./favicon.ico">`)
	assert.Contains(t, out, `<script src="https://cdn.example.com/analytics.js"></script>`)
	assert.Contains(t, out, `<link rel="stylesheet" href="/index_1a2b3c4d.css"></head>`)
	assert.Contains(t, out, `<script type="module" src="/index_5e6f7a8b.js"></script></body>`)
	assert.Contains(t, out, `<div id="root"></div>`)
}

func TestRewriteWithoutBody(t *testing.T) {
	out, err := html_parser.Rewrite(`<div>hi</div>`, func(graph.HtmlDep) bool { return false }, html_parser.Tags{
		Scripts:      []string{"/a.js"},
		InlineScript: "window.x = 1",
	})
	require.NoError(t, err)
	assert.Equal(t, `<div>hi</div><script type="module">window.x = 1</script><script type="module" src="/a.js"></script>`, out)
}
