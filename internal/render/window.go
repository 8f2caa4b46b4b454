// Package render draws plugin windows for a terminal.
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/runnit/runnit/internal/plugin"
	"github.com/runnit/runnit/internal/plugin/ui"
)

// MinWidth is the narrowest window drawn.
const MinWidth = 24

var (
	okBorder    = lipgloss.Color("86")
	errorBorder = lipgloss.Color("196")
	dimText     = lipgloss.Color("240")

	titleStyle = lipgloss.NewStyle().Bold(true)
	metaStyle  = lipgloss.NewStyle().Foreground(dimText)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(errorBorder)
)

// Window draws v as a bordered box width columns wide. The title bar is the
// header's text on one line; error stand-ins and windows whose render threw
// get a red border.
func Window(v plugin.View, width int) string {
	if width < MinWidth {
		width = MinWidth
	}
	inner := width - 4 // border + padding

	border := okBorder
	if v.StandIn || v.RenderError != "" {
		border = errorBorder
	}

	title := HeaderLine(v.Header)
	if title == "" {
		title = v.Metadata.Name
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(truncate(title, inner)),
	)
	meta := metaStyle.Render(truncate(v.Path, inner))

	body := ui.PlainText(v.Body)
	if v.StandIn && body == "" {
		body = v.Diagnostic
	}
	bodyBlock := lipgloss.NewStyle().Width(inner).Render(body)
	if v.RenderError != "" && !strings.Contains(body, plugin.RenderErrorTitle) {
		bodyBlock = lipgloss.JoinVertical(lipgloss.Left,
			errorStyle.Render(plugin.RenderErrorTitle),
			bodyBlock,
		)
	}

	divider := metaStyle.Render(strings.Repeat("─", inner))
	content := lipgloss.JoinVertical(lipgloss.Left, bar, meta, divider, bodyBlock)

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(width - 2).
		Render(content)
}

// HeaderLine flattens a header tree onto one line.
func HeaderLine(header ui.Node) string {
	lines := strings.Split(ui.PlainText(header), "\n")
	parts := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "  ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
