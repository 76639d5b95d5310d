package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/farm-fe/farm-sub000/internal/cache"
	"github.com/farm-fe/farm-sub000/internal/compiler"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// Resources above this size are highlighted in the report
const largeResource = 500 * 1024

type report struct {
	outputDir string
	resources resource.Map
	written   []string
	stats     *compiler.Stats
	cache     cache.Stats
	store     string
	elapsed   time.Duration
}

func writeReport(w io.Writer, r report) {
	emitted := make(map[string]bool, len(r.written))
	for _, path := range r.written {
		if rel, err := filepath.Rel(r.outputDir, path); err == nil {
			emitted[filepath.ToSlash(rel)] = true
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Resource", "Type", "Size"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)

	yellow := color.New(color.FgYellow)
	var total uint64
	for _, name := range r.resources.Names() {
		if !emitted[name] {
			continue
		}
		res := r.resources[name]
		size := uint64(len(res.Bytes))
		total += size
		sizeText := humanize.Bytes(size)
		if size > largeResource {
			sizeText = yellow.Sprint(sizeText)
		}
		table.Append([]string{name, res.Type.String(), sizeText})
	}
	table.SetFooter([]string{strconv.Itoa(len(emitted)) + " files", "", humanize.Bytes(total)})
	table.Render()

	fmt.Fprintln(w)
	green := color.New(color.FgGreen, color.Bold)
	gray := color.New(color.FgHiBlack)
	fmt.Fprintf(w, "%s %d modules in %d pots, written to %s in %s\n",
		green.Sprint("built"),
		r.stats.Modules, r.stats.Pots, r.outputDir, r.elapsed.Round(time.Millisecond))
	if r.stats.Cached > 0 || r.cache.Writes > 0 {
		fmt.Fprintf(w, "%s %s store: %d hits, %d misses, %d writes\n",
			gray.Sprint("cache"), r.store, r.cache.Hits, r.cache.Misses, r.cache.Writes)
	}
	if len(r.stats.Removed) > 0 {
		fmt.Fprintf(w, "%s %d unused modules removed\n", gray.Sprint("tree shaking"), len(r.stats.Removed))
	}

	phases := make([]string, 0, len(r.stats.Durations))
	for phase := range r.stats.Durations {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		fmt.Fprintf(w, "%s %-10s %s\n", gray.Sprint("phase"), phase, r.stats.Durations[phase].Round(time.Microsecond))
	}
}
