// Package textview renders a transclusion view as an indented text tree
// for terminals and tool output.
package textview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/starford/arbor/internal/graph"
)

// Markers prefixed to each line.
const (
	MarkerExpanded  = "▾"
	MarkerCollapsed = "▸"
	MarkerLeaf      = "·"
	MarkerCycle     = "↺"
	MarkerPinned    = "★"
	MarkerSelected  = "▶"
)

const indent = "  "

var (
	colorCyan  = lipgloss.Color("36")
	colorAmber = lipgloss.Color("220")
	colorRed   = lipgloss.Color("167")
	colorDim   = lipgloss.Color("240")
	colorWhite = lipgloss.Color("255")
)

// Styles holds the lipgloss styles used for each part of a line.
type Styles struct {
	Marker   lipgloss.Style
	Title    lipgloss.Style
	ID       lipgloss.Style
	Pinned   lipgloss.Style
	Selected lipgloss.Style
	Cycle    lipgloss.Style
}

// DefaultStyles returns the colored terminal styles.
func DefaultStyles() Styles {
	return Styles{
		Marker:   lipgloss.NewStyle().Foreground(colorDim),
		Title:    lipgloss.NewStyle().Foreground(colorWhite),
		ID:       lipgloss.NewStyle().Foreground(colorDim),
		Pinned:   lipgloss.NewStyle().Foreground(colorAmber),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(colorCyan),
		Cycle:    lipgloss.NewStyle().Foreground(colorRed),
	}
}

// PlainStyles returns styles that add no escape sequences.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Marker: plain, Title: plain, ID: plain, Pinned: plain, Selected: plain, Cycle: plain}
}

// Render writes one line per view node, children indented under their
// parent. An empty view renders as "(empty forest)".
func Render(v graph.View, st Styles) string {
	if len(v.Roots) == 0 {
		return "(empty forest)\n"
	}
	var b strings.Builder
	for _, root := range v.Roots {
		writeNode(&b, root, st)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n graph.ViewNode, st Styles) {
	b.WriteString(strings.Repeat(indent, n.Depth))
	b.WriteString(marker(n, st))
	b.WriteByte(' ')
	if n.Pinned {
		b.WriteString(st.Pinned.Render(MarkerPinned))
		b.WriteByte(' ')
	}
	title := st.Title.Render(n.Title)
	if n.Selected {
		b.WriteString(st.Selected.Render(MarkerSelected))
		b.WriteByte(' ')
		title = st.Selected.Render(n.Title)
	}
	b.WriteString(title)
	b.WriteByte(' ')
	b.WriteString(st.ID.Render("[" + n.ID + "]"))
	b.WriteByte('\n')

	for _, child := range n.Children {
		writeNode(b, child, st)
	}
}

func marker(n graph.ViewNode, st Styles) string {
	switch {
	case n.Cycle:
		return st.Cycle.Render(MarkerCycle)
	case !n.HasChildren:
		return st.Marker.Render(MarkerLeaf)
	case n.Expanded:
		return st.Marker.Render(MarkerExpanded)
	default:
		return st.Marker.Render(MarkerCollapsed)
	}
}
