package css_parser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/css_parser"
	"github.com/farm-fe/farm-sub000/internal/graph"
)

func TestDependencies(t *testing.T) {
	source := `@import "./reset.css";
@import url("./theme.css");
@import "https://fonts.example.com/font.css";
.logo { background: url("./logo.png") no-repeat; }
.icon { background-image: url(icon.svg); }
.inline { background: url("data:image/png;base64,AAAA"); }
`
	meta, err := css_parser.Parse(context.Background(), source)
	require.NoError(t, err)

	var sources []string
	for _, dep := range meta.Deps {
		sources = append(sources, dep.Source)
	}
	assert.ElementsMatch(t, []string{"./reset.css", "./theme.css", "./logo.png", "icon.svg"}, sources)

	for _, dep := range meta.Deps {
		text := source[dep.Start:dep.End]
		switch dep.Kind {
		case graph.ResolveCssAtImport:
			assert.Contains(t, text, "@import")
			assert.Contains(t, text, dep.Source)
		case graph.ResolveCssUrl:
			assert.Contains(t, text, dep.Source)
			assert.NotContains(t, text, "url(")
		default:
			t.Fatalf("unexpected kind %s", dep.Kind)
		}
	}
}

func TestIsBundledURL(t *testing.T) {
	assert.True(t, css_parser.IsBundledURL("./a.png"))
	assert.True(t, css_parser.IsBundledURL("/abs/a.png"))
	assert.False(t, css_parser.IsBundledURL("HTTPS://cdn/a.png"))
	assert.False(t, css_parser.IsBundledURL("//cdn/a.png"))
	assert.False(t, css_parser.IsBundledURL("#gradient"))
}
