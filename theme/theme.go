package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	LEDOn  rune // ● lit
	LEDOff rune // ○ dark

	Forward rune // ▶
	Reverse rune // ◀

	BarFull  rune // █ speed bar
	BarEmpty rune // ░
}

func New(palette *Palette) *Theme {
	if palette == nil {
		palette = Default()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			LEDOn:  '●',
			LEDOff: '○',

			Forward: '▶',
			Reverse: '◀',

			BarFull:  '█',
			BarEmpty: '░',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleSelect  = 0.6 // S row LEDs
	RoleLoco    = 0.7 // M row LEDs
	RoleReverse = 0.8 // R row LEDs
	RoleWarning = 0.9
	RoleAlert   = 1.0
)

func (t *Theme) BG() lipgloss.Color {
	return t.Color(RoleBG)
}

func (t *Theme) FG() lipgloss.Color {
	return t.Color(RoleFG)
}

func (t *Theme) Accent() lipgloss.Color {
	return t.Color(RoleAccent)
}

func (t *Theme) Muted() lipgloss.Color {
	return t.Color(RoleMuted)
}

func (t *Theme) Warning() lipgloss.Color {
	return t.Color(RoleWarning)
}

func (t *Theme) Alert() lipgloss.Color {
	return t.Color(RoleAlert)
}

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
