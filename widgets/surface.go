package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderLED renders a single LED, lit in color or dark in muted
func RenderLED(on bool, color, muted lipgloss.Color, sym LEDSymbols) string {
	if on {
		return lipgloss.NewStyle().Foreground(color).Render(string(sym.On))
	}
	return lipgloss.NewStyle().Foreground(muted).Render(string(sym.Off))
}

// LEDSymbols are the glyphs for lit and dark LEDs
type LEDSymbols struct {
	On  rune
	Off rune
}

// RenderLEDRow renders a row of LEDs with spacing, labelled like the
// surface row (S, M or R)
func RenderLEDRow(label string, states []bool, color, muted lipgloss.Color, sym LEDSymbols) string {
	var out strings.Builder
	out.WriteString(label)
	for _, on := range states {
		out.WriteString(" ")
		out.WriteString(RenderLED(on, color, muted, sym))
	}
	return out.String()
}

// RenderSpeedBar renders value/limit as a bar width cells wide
func RenderSpeedBar(value, limit, width int, full, empty rune) string {
	if limit <= 0 || width <= 0 {
		return ""
	}
	value = min(max(value, 0), limit)
	filled := value * width / limit
	return strings.Repeat(string(full), filled) + strings.Repeat(string(empty), width-filled)
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}
