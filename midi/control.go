package midi

import "fmt"

// Control identifies a single button, slider or LED on the surface by its
// control-change number (0-127). The low nibble is the lane (channel) and the
// high nibble is the row, so a lane button is channel + role*16.
type Control uint8

// Rows of per-lane buttons on the nanoKONTROL2
const (
	RoleSelect     = 2 // S buttons
	RoleAddRelease = 3 // M buttons
	RoleReverse    = 4 // R buttons
)

// Lanes is the number of slider lanes on the surface
const Lanes = 8

// Transport and navigation buttons outside the lane grid
const (
	Play        Control = 0x29
	Stop        Control = 0x2A
	Rewind      Control = 0x2B
	FastForward Control = 0x2C
	Record      Control = 0x2D
	Cycle       Control = 0x2E
	TrackLeft   Control = 0x3A
	TrackRight  Control = 0x3B
	Set         Control = 0x3C
	MarkerLeft  Control = 0x3D
	MarkerRight Control = 0x3E
)

// NewControl builds the control for a lane and role
func NewControl(channel, role int) Control {
	return Control(channel + role*16)
}

// Channel returns the lane index (0-15, only 0-7 carry sliders)
func (c Control) Channel() int {
	return int(c) % 16
}

// Role returns the row the control sits on
func (c Control) Role() int {
	return int(c) / 16
}

// IsLane reports whether the control belongs to one of the 8 slider lanes
func (c Control) IsLane() bool {
	return c.Channel() < Lanes
}

func (c Control) String() string {
	switch c {
	case Play:
		return "play"
	case Stop:
		return "stop"
	case Rewind:
		return "rw"
	case FastForward:
		return "ff"
	case Record:
		return "rec"
	case Cycle:
		return "cycle"
	case TrackLeft:
		return "track-left"
	case TrackRight:
		return "track-right"
	case Set:
		return "set"
	case MarkerLeft:
		return "marker-left"
	case MarkerRight:
		return "marker-right"
	}
	return fmtLane(c)
}

func fmtLane(c Control) string {
	var role string
	switch c.Role() {
	case 0:
		role = "slider"
	case 1:
		role = "knob"
	case RoleSelect:
		role = "select"
	case RoleAddRelease:
		role = "add"
	case RoleReverse:
		role = "reverse"
	default:
		role = "cc"
	}
	return fmt.Sprintf("%s/%d", role, c.Channel())
}

// PressedSet records which buttons are held, one bit per control number.
type PressedSet [2]uint64

// Has reports whether c is held
func (p PressedSet) Has(c Control) bool {
	c &= 0x7F
	return p[c/64]&(1<<(c%64)) != 0
}

// With returns a copy of the set with c held or released
func (p PressedSet) With(c Control, held bool) PressedSet {
	c &= 0x7F
	if held {
		p[c/64] |= 1 << (c % 64)
	} else {
		p[c/64] &^= 1 << (c % 64)
	}
	return p
}
