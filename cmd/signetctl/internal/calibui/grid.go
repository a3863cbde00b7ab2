package calibui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"signet/internal/keyboard"
)

var (
	cellStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Bold(true)
	gridBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// quadrant names the four grids, indexed by [shift][rightAlt].
var quadrant = [2][2]string{{"plain", "right-alt"}, {"shift", "shift+right-alt"}}

// grid is the layout placed on the GridRows x GridColumns canvas.
type grid struct {
	cells [keyboard.GridRows][keyboard.GridColumns]rune
	used  [keyboard.GridRows][keyboard.GridColumns]bool
	// bounds of the unmodified block
	rows, cols int
}

func newGrid(l keyboard.Layout) *grid {
	g := &grid{}
	for _, s := range keyboard.Table("linux") {
		if int(s.Row) > g.rows {
			g.rows = int(s.Row)
		}
		if int(s.Column) > g.cols {
			g.cols = int(s.Column)
		}
	}
	for _, e := range l {
		if e.Composed() {
			continue
		}
		row, col, ok := keyboard.GridPosition(e.Keys[0])
		if !ok || row >= keyboard.GridRows || col >= keyboard.GridColumns || g.used[row][col] {
			continue
		}
		g.cells[row][col] = e.Char
		g.used[row][col] = true
	}
	return g
}

// block renders one quadrant. cur is highlighted when it falls inside.
func (g *grid) block(shift, ralt int, cur keyboard.PhysicalKey, hasCur bool) string {
	curRow, curCol := -1, -1
	if hasCur {
		curRow, curCol, _ = keyboard.GridPosition(cur)
	}

	var b strings.Builder
	for r := 1; r <= g.rows; r++ {
		row := r + shift*keyboard.ShiftRowOffset
		for c := 1; c <= g.cols; c++ {
			col := c + ralt*keyboard.RightAltColOffset
			text := " · "
			style := emptyStyle
			if g.used[row][col] {
				text = " " + printable(g.cells[row][col]) + " "
				style = cellStyle
			}
			if row == curRow && col == curCol {
				if !g.used[row][col] {
					text = " ? "
				}
				style = currentStyle
			}
			b.WriteString(style.Render(text))
		}
		if r < g.rows {
			b.WriteByte('\n')
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render(quadrant[shift][ralt]),
		gridBorder.Render(b.String()))
}

func printable(r rune) string {
	switch {
	case r == ' ':
		return "␣"
	case r < ' ':
		return "·"
	}
	return string(r)
}

// RenderLayout draws l as the four modifier grids. When hasCur is set the
// key being probed is highlighted.
func RenderLayout(l keyboard.Layout, cur keyboard.PhysicalKey, hasCur bool) string {
	g := newGrid(l)
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		g.block(0, 0, cur, hasCur), "  ", g.block(0, 1, cur, hasCur))
	bottom := lipgloss.JoinHorizontal(lipgloss.Top,
		g.block(1, 0, cur, hasCur), "  ", g.block(1, 1, cur, hasCur))
	return lipgloss.JoinVertical(lipgloss.Left, top, bottom)
}

// ComposedEntries lists the characters that need two key presses.
func ComposedEntries(l keyboard.Layout) []string {
	var out []string
	for _, e := range l {
		if e.Composed() {
			out = append(out, e.String())
		}
	}
	return out
}
