package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table renders rows under muted headers without vertical borders.
type Table struct {
	display *DisplayContext
	headers []string
	rows    [][]string

	// Flex is the column that absorbs truncation when rows are wider than
	// the terminal. -1 means the last column.
	Flex int
}

// NewTable creates a table with the given headers.
func NewTable(display *DisplayContext, headers ...string) *Table {
	if display == nil {
		display = NewDisplayContextWithWidth(DefaultTermWidth)
	}
	return &Table{display: display, headers: headers, Flex: -1}
}

// AddRow adds a row. Missing cells are blank; extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table, or "" when it has no rows.
func (t *Table) Render() string {
	if len(t.rows) == 0 {
		return ""
	}

	t.fit()

	header := Muted.Bold(true)
	tbl := table.New().
		Border(lipgloss.Border{Top: "─", Bottom: "─", Middle: "─"}).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderRow(false).
		BorderColumn(false).
		BorderHeader(true).
		BorderStyle(Muted).
		Headers(t.headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle()
			if row == table.HeaderRow {
				style = header
			}
			if col < len(t.headers)-1 {
				style = style.PaddingRight(2)
			}
			return style
		}).
		Rows(t.rows...)

	return tbl.Render() + "\n"
}

// fit truncates the flex column so rows fit the terminal width.
func (t *Table) fit() {
	cols := len(t.headers)
	if cols == 0 {
		return
	}
	flex := t.Flex
	if flex < 0 || flex >= cols {
		flex = cols - 1
	}

	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := 2 * (cols - 1)
	for i, w := range widths {
		if i != flex {
			total += w
		}
	}
	room := t.display.AvailableWidth(total)
	if widths[flex] <= room {
		return
	}
	for _, row := range t.rows {
		row[flex] = Truncate(row[flex], room)
	}
}

// Truncate shortens s to maxLen runes, ending with an ellipsis.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return "…"
	}
	return strings.TrimRight(string(r[:maxLen-1]), " ") + "…"
}
