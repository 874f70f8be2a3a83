package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"korg-throttle/midi"
	"korg-throttle/theme"
	"korg-throttle/throttle"
	"korg-throttle/widgets"
	"korg-throttle/withrottle"
)

const barWidth = 16

// Feed hands session snapshots from the control loop to the view. Only the
// newest snapshot is kept, so Observe never blocks.
type Feed struct {
	ch chan throttle.Snapshot
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan throttle.Snapshot, 1)}
}

// Observe implements throttle.Observer. Single producer only.
func (f *Feed) Observe(s throttle.Snapshot) {
	select {
	case f.ch <- s:
		return
	default:
	}
	select {
	case <-f.ch:
	default:
	}
	select {
	case f.ch <- s:
	default:
	}
}

type SnapshotMsg throttle.Snapshot

// DoneMsg tells the view the session has ended
type DoneMsg struct {
	Err error
}

type Model struct {
	Theme    *theme.Theme
	Title    string
	feed     *Feed
	cancel   func()
	snap     throttle.Snapshot
	hasSnap  bool
	quitting bool
	err      error
}

// NewModel builds the status view. cancel is called when the user quits.
func NewModel(title string, feed *Feed, th *theme.Theme, cancel func()) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return Model{
		Theme:  th,
		Title:  title,
		feed:   feed,
		cancel: cancel,
	}
}

func ListenForSnapshots(feed *Feed) tea.Cmd {
	return func() tea.Msg {
		return SnapshotMsg(<-feed.ch)
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForSnapshots(m.feed)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case SnapshotMsg:
		m.snap = throttle.Snapshot(msg)
		m.hasSnap = true
		return m, ListenForSnapshots(m.feed)

	case DoneMsg:
		m.err = msg.Err
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	var out strings.Builder
	out.WriteString("\n")

	if !m.hasSnap {
		out.WriteString(headerStyle.Render(m.Title))
		out.WriteString("\n\n")
		out.WriteString(dimStyle.Render("waiting for the session..."))
		return out.String()
	}

	s := m.snap
	power := "POWER OFF"
	if s.Powered {
		power = "POWER ON"
	}
	header := fmt.Sprintf("%s  %s", m.Title, power)
	if s.ServerPort != "" {
		header += "  port:" + s.ServerPort
	}
	if s.HeartbeatInterval > 0 {
		header += fmt.Sprintf("  heartbeat:%v", s.HeartbeatInterval)
	}
	out.WriteString(headerStyle.Render(header))
	if s.Locked {
		out.WriteString("  ")
		out.WriteString(warnStyle.Render("LOCKED"))
	}
	out.WriteString("\n\n")

	for i, l := range s.Lanes {
		out.WriteString(m.renderLane(i, l))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(m.renderLEDs())
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render("marker </>: lock  cycle: power  stop: e-stop  track </>: shift  q: quit"))

	return out.String()
}

func (m Model) renderLane(i int, l throttle.Lane) string {
	sym := m.Theme.Symbols
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())

	if l.Inert {
		return dimStyle.Render(fmt.Sprintf("%d  %-8s", i+1, "-"))
	}

	dir := sym.Forward
	if l.Reversed {
		dir = sym.Reverse
	}
	marker := " "
	if l.Selected {
		marker = ">"
	}
	line := fmt.Sprintf("%d%s %-8s %c %s %3d", i+1, marker, l.Address, dir,
		widgets.RenderSpeedBar(l.Speed, withrottle.MaxSpeed, barWidth, sym.BarFull, sym.BarEmpty), l.Speed)
	if l.Loco == "" {
		return dimStyle.Render(line)
	}
	return lipgloss.NewStyle().Foreground(m.Theme.FG()).Render(line)
}

// renderLEDs mirrors the three button rows of the surface
func (m Model) renderLEDs() string {
	var sel, loco, rev [midi.Lanes]bool
	for i, l := range m.snap.Lanes {
		sel[i] = l.Selected
		loco[i] = l.Loco != ""
		rev[i] = l.Loco != "" && l.Reversed
	}

	leds := widgets.LEDSymbols{On: m.Theme.Symbols.LEDOn, Off: m.Theme.Symbols.LEDOff}
	muted := m.Theme.Muted()
	rows := []string{
		widgets.RenderLEDRow("S", sel[:], m.Theme.Color(theme.RoleSelect), muted, leds),
		widgets.RenderLEDRow("M", loco[:], m.Theme.Color(theme.RoleLoco), muted, leds),
		widgets.RenderLEDRow("R", rev[:], m.Theme.Color(theme.RoleReverse), muted, leds),
	}
	return strings.Join(rows, "\n")
}

// Err returns the error the session ended with, if any
func (m Model) Err() error {
	return m.err
}
