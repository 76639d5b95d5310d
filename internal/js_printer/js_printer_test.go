package js_printer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/farm-fe/farm-sub000/internal/js_printer"
)

func TestApply(t *testing.T) {
	source := "export const a = b + b;"
	var edits js_printer.Edits
	edits.Remove(0, 7)
	edits.Replace(17, 18, "b$1")
	edits.Replace(21, 22, "b$1")
	assert.Equal(t, "const a = b$1 + b$1;", edits.Apply(source, 0, int32(len(source))))
}

func TestApplyDropsEditsInsideRemovals(t *testing.T) {
	source := "import { x } from './x'; use(x);"
	var edits js_printer.Edits
	edits.Replace(9, 10, "renamed")
	edits.Remove(0, 24)
	edits.Replace(29, 30, "renamed")
	assert.Equal(t, " use(renamed);", edits.Apply(source, 0, int32(len(source))))
}

func TestApplyInsertions(t *testing.T) {
	source := "a;b;"
	var edits js_printer.Edits
	edits.Insert(2, "/* 1 */")
	edits.Replace(2, 3, "c")
	edits.Insert(2, "/* 2 */")
	edits.Insert(4, "\n")
	assert.Equal(t, "a;/* 1 *//* 2 */c;\n", edits.Apply(source, 0, 4))
}

func TestApplySubrange(t *testing.T) {
	source := "first; second;"
	var edits js_printer.Edits
	edits.Replace(0, 5, "ignored")
	edits.Replace(7, 13, "third")
	assert.Equal(t, "third;", edits.Apply(source, 7, 14))
}
