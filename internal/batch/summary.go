package batch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const maxCell = 40

// WriteSummary prints one aligned row per outcome followed by totals.
func WriteSummary(w io.Writer, outcomes []Outcome) {
	header := []string{"PAPER", "RNA", "STATUS", "ANNOTATION", "TOKENS", "TIME"}
	rows := [][]string{header}

	var done, skipped, failed, tokens int
	for _, o := range outcomes {
		annotation, used := "-", "-"
		switch o.Status {
		case StatusDone:
			done++
			if o.Result != nil {
				if o.Result.Annotation != nil {
					annotation = *o.Result.Annotation
				}
				total := o.Result.Usage.Total()
				tokens += total
				used = fmt.Sprint(total)
			}
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
			annotation = oneLine(o.Err)
		}

		elapsed := "-"
		if o.Duration > 0 {
			elapsed = o.Duration.Round(100 * time.Millisecond).String()
		}
		rows = append(rows, []string{
			truncateCell(o.PaperID), truncateCell(o.RNAID), string(o.Status),
			truncateCell(annotation), used, elapsed,
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				fmt.Fprintln(w, cell) //nolint:errcheck
				continue
			}
			fmt.Fprint(w, padRight(cell, widths[i]+2)) //nolint:errcheck
		}
	}
	fmt.Fprintf(w, "\n%d done, %d skipped, %d failed, %d tokens\n", done, skipped, failed, tokens) //nolint:errcheck
}

func oneLine(err error) string {
	if err == nil {
		return "-"
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}

// truncateCell shortens s to maxCell display columns, ending in "…".
func truncateCell(s string) string {
	if runewidth.StringWidth(s) <= maxCell {
		return s
	}
	return runewidth.Truncate(s, maxCell, "…")
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
