package cmd

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const maxCellWidth = 60

// writeTable prints rows as aligned columns. Widths are measured in terminal
// cells so that CJK and emoji content lines up.
func writeTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	measure := func(row []string) {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], min(runewidth.StringWidth(cell), maxCellWidth))
			}
		}
	}
	measure(header)
	for _, r := range rows {
		measure(r)
	}

	line := func(row []string) {
		cells := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(row) {
				cell = strings.ReplaceAll(row[i], "\n", " ")
			}
			cell = runewidth.Truncate(cell, widths[i], "...")
			if i < len(widths)-1 {
				cell = runewidth.FillRight(cell, widths[i])
			}
			cells[i] = cell
		}
		io.WriteString(w, strings.TrimRight(strings.Join(cells, "  "), " ")+"\n")
	}

	line(header)
	sep := make([]string, len(widths))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}
	line(sep)
	for _, r := range rows {
		line(r)
	}
}
