package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	columnGap = 2
	ellipsis  = "..."
)

// column describes one table column. Widths are display cells, so wide
// runes in channel names do not break alignment.
type column struct {
	header   string
	right    bool
	maxWidth int
}

type table struct {
	columns []column
	rows    [][]string
}

func newTable(columns ...column) *table {
	return &table{columns: columns}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	value := strings.ReplaceAll(row[idx], "\n", " ")
	if limit := t.columns[idx].maxWidth; limit > 0 && runewidth.StringWidth(value) > limit {
		value = runewidth.Truncate(value, limit, ellipsis)
	}
	return value
}

func (t *table) write(out io.Writer) error {
	if len(t.columns) == 0 {
		return nil
	}
	widths := make([]int, len(t.columns))
	for idx, col := range t.columns {
		widths[idx] = runewidth.StringWidth(col.header)
	}
	for _, row := range t.rows {
		for idx := range t.columns {
			if w := runewidth.StringWidth(t.cell(row, idx)); w > widths[idx] {
				widths[idx] = w
			}
		}
	}

	w := bufio.NewWriter(out)
	line := func(cells func(idx int) string) {
		var b strings.Builder
		for idx, col := range t.columns {
			value := cells(idx)
			last := idx == len(t.columns)-1
			switch {
			case col.right:
				b.WriteString(runewidth.FillLeft(value, widths[idx]))
			case last:
				b.WriteString(value)
			default:
				b.WriteString(runewidth.FillRight(value, widths[idx]))
			}
			if !last {
				b.WriteString(strings.Repeat(" ", columnGap))
			}
		}
		w.WriteString(strings.TrimRight(b.String(), " "))
		w.WriteByte('\n')
	}

	line(func(idx int) string { return t.columns[idx].header })
	for _, row := range t.rows {
		line(func(idx int) string { return t.cell(row, idx) })
	}
	return w.Flush()
}
