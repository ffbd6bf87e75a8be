// ABOUTME: Plain-text table rendering and byte/percent formatting for
// ABOUTME: console output.

package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var headerColor = color.New(color.FgCyan, color.Bold)

// renderTable prints a bordered table with a title row. Column widths
// fit the widest cell.
func renderTable(w io.Writer, headers []string, rows [][]string, title string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	total := 1
	for _, width := range widths {
		total += width + 3
	}
	sep := strings.Repeat("-", total)

	if title != "" {
		fmt.Fprintln(w, title)
	}
	fmt.Fprintln(w, sep)
	fmt.Fprint(w, "|")
	for i, h := range headers {
		fmt.Fprintf(w, " %s |", headerColor.Sprintf("%-*s", widths[i], h))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, sep)
	for _, row := range rows {
		fmt.Fprint(w, "|")
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprintf(w, " %-*s |", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, sep)
}

// humanBytes renders a byte count with a binary unit, one decimal
// under 10.
func humanBytes(b uint64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}
	v := float64(b)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if v >= 10 || i == 0 {
		return fmt.Sprintf("%.0f%s", v, units[i])
	}
	return fmt.Sprintf("%.1f%s", v, units[i])
}

// pct guards the zero-total case.
func pct(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
