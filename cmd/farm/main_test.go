package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/compiler"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

func TestWriteReport(t *testing.T) {
	color.NoColor = true
	resources := resource.Map{}
	resources.Add(&resource.Resource{Name: "index.html", Type: resource.ResourceHtml, Bytes: []byte("<html></html>"), Emitted: true})
	resources.Add(&resource.Resource{Name: "index_1a2b.js", Type: resource.ResourceJs, Bytes: bytes.Repeat([]byte("x"), 2048), Emitted: true})
	resources.Add(&resource.Resource{Name: "internal.js", Type: resource.ResourceJs, Bytes: []byte("x")})

	var out bytes.Buffer
	writeReport(&out, report{
		outputDir: "/app/dist",
		resources: resources,
		written:   []string{"/app/dist/index.html", "/app/dist/index_1a2b.js"},
		stats: &compiler.Stats{
			Modules:   3,
			Pots:      2,
			Cached:    1,
			Durations: map[string]time.Duration{"render": time.Millisecond, "build": 2 * time.Millisecond},
		},
		cache:   cache.Stats{Hits: 1, Misses: 2, Writes: 2},
		store:   "disk",
		elapsed: 3 * time.Millisecond,
	})

	text := out.String()
	assert.Contains(t, text, "index.html")
	assert.Contains(t, text, "index_1a2b.js")
	assert.NotContains(t, text, "internal.js")
	assert.Contains(t, text, "2.0 kB")
	assert.Contains(t, text, "2 files")
	assert.Contains(t, text, "built 3 modules in 2 pots, written to /app/dist")
	assert.Contains(t, text, "disk store: 1 hits, 2 misses, 2 writes")
	assert.Less(t, strings.Index(text, "phase build"), strings.Index(text, "phase render"))
}

func TestClearStore(t *testing.T) {
	store := cache.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, clearStore(context.Background(), store))
	assert.Equal(t, 0, store.Len())
}
