package js_printer

// Modules are never re-printed from an AST. The linker describes its changes
// as edits to byte ranges of the original source and this package applies
// them. Anything not covered by an edit is copied through as-is.

import (
	"sort"
	"strings"
)

type Edit struct {
	Start int32
	End   int32
	Text  string

	// Insertion order, used to keep edits at the same offset stable
	seq int
}

type Edits struct {
	list []Edit
}

func (e *Edits) Replace(start int32, end int32, text string) {
	e.list = append(e.list, Edit{Start: start, End: end, Text: text, seq: len(e.list)})
}

func (e *Edits) Remove(start int32, end int32) {
	e.Replace(start, end, "")
}

func (e *Edits) Insert(at int32, text string) {
	e.Replace(at, at, text)
}

func (e *Edits) Len() int {
	return len(e.list)
}

// Apply renders source[start:end] with every edit inside that range applied.
// An edit that overlaps one applied before it is dropped, which is how a
// removed range swallows the renames inside it.
func (e *Edits) Apply(source string, start int32, end int32) string {
	edits := make([]Edit, 0, len(e.list))
	for _, edit := range e.list {
		if edit.Start >= start && edit.End <= end {
			edits = append(edits, edit)
		}
	}

	sort.Slice(edits, func(i, j int) bool {
		a, b := edits[i], edits[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if (a.End > a.Start) != (b.End > b.Start) {
			// Insertions at an offset go before a replacement starting there
			return a.End == a.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.seq < b.seq
	})

	var sb strings.Builder
	sb.Grow(int(end-start) + 16*len(edits))
	cursor := start
	for _, edit := range edits {
		if edit.Start < cursor {
			continue
		}
		sb.WriteString(source[cursor:edit.Start])
		sb.WriteString(edit.Text)
		cursor = edit.End
	}
	sb.WriteString(source[cursor:end])
	return sb.String()
}
